package natsx

import "encoding/json"

// 入站事件类型
const (
	EventMessage = "message" // 群消息
	EventRecall  = "recall"  // 管理员撤回了牛牛的消息
	EventBan     = "ban"     // 网关侧触发的拉黑（如消息发送失败）
)

// 出站消息类型
const (
	OutAnswer = "answer" // 对某条消息的回复，按随机间隔逐条发送
	OutSpeak  = "speak"  // 主动发言，可能附带戳一戳
	OutNotice = "notice" // 即时提示语，立刻发送
)

// InboundEvent 网关发往核心的事件
type InboundEvent struct {
	Type       string `json:"type"`
	BotID      int64  `json:"bot_id"`
	GroupID    int64  `json:"group_id"`
	UserID     int64  `json:"user_id,omitempty"`
	OperatorID int64  `json:"operator_id,omitempty"`
	MessageID  int64  `json:"message_id,omitempty"`
	Time       int64  `json:"time"`

	RawMessage string `json:"raw_message,omitempty"`
	PlainText  string `json:"plain_text,omitempty"`
	ToMe       bool   `json:"to_me,omitempty"`
	// SenderRole 发送者在群里的角色：owner / admin / member
	SenderRole string `json:"sender_role,omitempty"`
	// ToLearn 多账号在同一群时只有第一个收到的事件需要学习
	ToLearn bool `json:"to_learn,omitempty"`

	// RepliedRaw 引用回复或撤回事件对应的原消息内容
	RepliedRaw string `json:"replied_raw,omitempty"`
	// BanRaw / BanReason 仅 EventBan 使用
	BanRaw    string `json:"ban_raw,omitempty"`
	BanReason string `json:"ban_reason,omitempty"`
}

// OutboundMessage 核心发往网关的待发送消息
type OutboundMessage struct {
	Type       string   `json:"type"`
	BotID      int64    `json:"bot_id"`
	GroupID    int64    `json:"group_id"`
	Messages   []string `json:"messages"`
	PokeUserID int64    `json:"poke_user_id,omitempty"`
}

// PostProcEvent 网关发送前改写了消息原文，核心同步回复缓存用
type PostProcEvent struct {
	BotID      int64  `json:"bot_id"`
	GroupID    int64  `json:"group_id"`
	RawMessage string `json:"raw_message"`
	NewMessage string `json:"new_message"`
}

func Encode(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
