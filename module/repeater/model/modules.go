package model

import "time"

// ===== 集合名 =====

const (
	MessageCollection     = "message"
	ContextCollection     = "context"
	BlackListCollection   = "blacklist"
	BotConfigCollection   = "config"
	GroupConfigCollection = "group_config"
)

// BlackListGlobalGroup 全局黑名单使用的哨兵群号
const BlackListGlobalGroup int64 = 114514

// ===== 存储结构 =====

// Message 入库的群消息快照
type Message struct {
	GroupID     int64  `bson:"group_id"`
	UserID      int64  `bson:"user_id"`
	BotID       int64  `bson:"bot_id"`
	RawMessage  string `bson:"raw_message"`
	IsPlainText bool   `bson:"is_plain_text"`
	PlainText   string `bson:"plain_text"`
	Keywords    string `bson:"keywords"`
	Time        int64  `bson:"time"`
}

// Ban 针对单个 context 的禁用记录
type Ban struct {
	Keywords string `bson:"keywords"`
	GroupID  int64  `bson:"group_id"`
	Reason   string `bson:"reason"`
	Time     int64  `bson:"time"`
}

// Answer 某个 context 下学到的一条回复
// (group_id, keywords) 在同一个 context 内唯一
type Answer struct {
	Keywords string   `bson:"keywords"`
	GroupID  int64    `bson:"group_id"`
	Count    int      `bson:"count"`
	Time     int64    `bson:"time"`
	Messages []string `bson:"messages"`
}

// AnswerMessagesCap 每条 Answer 保留的消息样例上限，超出丢最旧的
const AnswerMessagesCap = 10

// AppendMessage 追加一条消息样例，保持上限
func (a *Answer) AppendMessage(raw string) {
	a.Messages = append(a.Messages, raw)
	if len(a.Messages) > AnswerMessagesCap {
		a.Messages = a.Messages[len(a.Messages)-AnswerMessagesCap:]
	}
}

// Context 一个触发关键词对应的全部学习结果
type Context struct {
	Keywords     string   `bson:"keywords"`
	Time         int64    `bson:"time"`
	TriggerCount int      `bson:"count"`
	Answers      []Answer `bson:"answers"`
	Ban          []Ban    `bson:"ban"`
	ClearTime    int64    `bson:"clear_time"`
}

// BlackList 某个群（或全局哨兵群）的回复黑名单
// answers_reserve 是候补：第二次 ban 才会转正
type BlackList struct {
	GroupID        int64    `bson:"group_id"`
	Answers        []string `bson:"answers"`
	AnswersReserve []string `bson:"answers_reserve"`
}

// BotConfigDoc 机器人账号的持久化配置
type BotConfigDoc struct {
	Account  int64   `bson:"account"`
	Admins   []int64 `bson:"admins"`
	Security bool    `bson:"security"`
	// group_id -> 夺舍的 user_id。bson 的 map key 只能是字符串
	TakenName map[string]int64 `bson:"taken_name"`
}

// GroupConfigDoc 群配置
type GroupConfigDoc struct {
	GroupID int64 `bson:"group_id"`
	Banned  bool  `bson:"banned"`
}

func Now() int64 { return time.Now().Unix() }
