package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/YlovexLN/Pallas-Bot/logger"
)

// Config 应用配置，从 yaml 加载
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Nats     NatsConfig     `mapstructure:"nats"`
	Mail     MailConfig     `mapstructure:"mail"`
	Repeater RepeaterConfig `mapstructure:"repeater"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`       // OneBot 网关 + 管理接口端口
	Mode      string `mapstructure:"mode"`       // gin mode: debug / release
	JwtSecret string `mapstructure:"jwt_secret"` // 管理接口的签名密钥
}

type MongoConfig struct {
	Uri         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type NatsConfig struct {
	Servers []string `mapstructure:"servers"`
	Name    string   `mapstructure:"name"`
}

// MailConfig 牛牛掉线邮件通知
type MailConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	SmtpServer  string `mapstructure:"smtp_server"`
	SmtpPort    int    `mapstructure:"smtp_port"`
	SmtpUser    string `mapstructure:"smtp_user"`
	SmtpPass    string `mapstructure:"smtp_pass"`
	NoticeEmail string `mapstructure:"notice_email"`
}

// RepeaterConfig 复读核心的阈值参数
type RepeaterConfig struct {
	// answer 相关阈值，值越大，牛牛废话越少；越小，牛牛废话越多
	AnswerThreshold int `mapstructure:"answer_threshold"`
	// answer 阈值权重
	AnswerThresholdWeights []int `mapstructure:"answer_threshold_weights"`
	// 上下文联想，记录多少个关键词（每个群）
	TopicsSize int `mapstructure:"topics_size"`
	// 上下文命中后，额外的权重系数
	TopicsImportance int `mapstructure:"topics_importance"`
	// N 个群有相同的回复，就跨群作为全局回复
	CrossGroupThreshold int `mapstructure:"cross_group_threshold"`
	// 复读的阈值，群里连续多少次有相同的发言，就复读
	RepeatThreshold int `mapstructure:"repeat_threshold"`
	// 主动发言的阈值，越小废话越多
	SpeakThreshold int `mapstructure:"speak_threshold"`
	// 说过的话，接下来多少次不再说
	DuplicateReply int `mapstructure:"duplicate_reply"`
	// 按逗号分割回复语的概率
	SplitProbability float64 `mapstructure:"split_probability"`
	// 连续主动说话的概率
	SpeakContinuouslyProbability float64 `mapstructure:"speak_continuously_probability"`
	// 主动说话加上随机戳一戳群友的概率
	SpeakPokeProbability float64 `mapstructure:"speak_poke_probability"`
	// 连续主动说话最多几句话
	SpeakContinuouslyMaxLen int `mapstructure:"speak_continuously_max_len"`
	// 每隔多久进行一次持久化 ( 秒 )
	SaveTimeThreshold int `mapstructure:"save_time_threshold"`
	// 单个群超过多少条聊天记录就进行一次持久化，与时间是或的关系
	SaveCountThreshold int `mapstructure:"save_count_threshold"`
	// 保存时，给内存中保留的大小
	SaveReservedSize int `mapstructure:"save_reserved_size"`
	// 牛牛的名字，消息以它开头视为对牛牛说话
	CallName string `mapstructure:"call_name"`
}

var Global *Config

// Load 加载配置文件，缺省值与原始部署保持一致
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("pallas")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件可选，全部走默认值 + 环境变量
		logger.Warnf("read config failed, fallback to defaults: %v", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	Global = cfg
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "PallasBot")
	v.SetDefault("mongo.max_pool_size", 20)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.name", "pallas-bot")

	v.SetDefault("repeater.answer_threshold", 3)
	v.SetDefault("repeater.answer_threshold_weights", []int{7, 23, 70})
	v.SetDefault("repeater.topics_size", 16)
	v.SetDefault("repeater.topics_importance", 10000)
	v.SetDefault("repeater.cross_group_threshold", 2)
	v.SetDefault("repeater.repeat_threshold", 3)
	v.SetDefault("repeater.speak_threshold", 5)
	v.SetDefault("repeater.duplicate_reply", 10)
	v.SetDefault("repeater.split_probability", 0.5)
	v.SetDefault("repeater.speak_continuously_probability", 0.5)
	v.SetDefault("repeater.speak_poke_probability", 0.6)
	v.SetDefault("repeater.speak_continuously_max_len", 2)
	v.SetDefault("repeater.save_time_threshold", 3600)
	v.SetDefault("repeater.save_count_threshold", 1000)
	v.SetDefault("repeater.save_reserved_size", 100)
	v.SetDefault("repeater.call_name", "牛牛")
}

// Cooldown 同一群内回复类动作的最短间隔
const Cooldown = 5 * time.Second
