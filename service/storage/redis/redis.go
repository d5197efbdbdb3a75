package redis

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/YlovexLN/Pallas-Bot/logger"
)

// Config Redis 连接参数，牛牛的易变状态（醉酒、睡觉、冷却）都存在这里
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

var (
	mu     sync.Mutex
	client *goredis.Client
)

// InitRedis 建立连接并确认可达，已初始化时直接返回
func InitRedis(c Config) error {
	mu.Lock()
	defer mu.Unlock()
	if client != nil {
		return nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return err
	}

	logger.Infof("[redis] connected to %s db %d, pool size %d", c.Addr, c.DB, c.PoolSize)
	client = rdb
	return nil
}

// GetRedis 取连接，未初始化时 panic
func GetRedis() *goredis.Client {
	mu.Lock()
	defer mu.Unlock()
	if client == nil {
		panic("redis not initialized, call InitRedis first")
	}
	return client
}

// CloseRedis 关闭连接，之后允许重新 InitRedis
func CloseRedis() error {
	mu.Lock()
	defer mu.Unlock()
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}
