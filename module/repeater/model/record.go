package model

import (
	"regexp"
	"strings"
)

// KeywordsSize 关键词提取的 topK
const KeywordsSize = 2

// 同一张图不同来源 subType 经常不一样，缓存判断前把子类型字段抹掉
var imageSubTypeRe = regexp.MustCompile(`\.image,.+?\]`)

// NormalizeRaw 抹掉图片子类型等与内容无关的字段
func NormalizeRaw(raw string) string {
	return imageSubTypeRe.ReplaceAllString(raw, ".image]")
}

// Tokenizer 关键词/拼音投影的来源，由 keyword 包实现
type Tokenizer interface {
	Extract(text string) []string
	Pinyin(text string) string
}

// ChatRecord 一条待处理的群消息，派生字段构造时一次算好
type ChatRecord struct {
	GroupID    int64
	UserID     int64
	BotID      int64
	RawMessage string
	PlainText  string
	Time       int64

	IsPlainText bool
	IsImage     bool
	ToMe        bool

	KeywordList    []string
	Keywords       string
	KeywordsPinyin string // 暂时只存不用，留给以后做模糊匹配
}

// NewChatRecord 构造消息记录并计算全部投影
// callName 是牛牛的称呼，PlainText 以它开头视为对牛牛说话
func NewChatRecord(groupID, userID, botID int64, raw, plain string, t int64, tk Tokenizer, callName string) *ChatRecord {
	r := &ChatRecord{
		GroupID:    groupID,
		UserID:     userID,
		BotID:      botID,
		RawMessage: NormalizeRaw(raw),
		PlainText:  plain,
		Time:       t,
	}

	r.IsPlainText = !strings.Contains(r.RawMessage, "[CQ:") && len(r.PlainText) != 0
	r.IsImage = strings.Contains(r.RawMessage, "[CQ:image,") || strings.Contains(r.RawMessage, "[CQ:face,")
	r.ToMe = strings.HasPrefix(r.PlainText, callName)

	if r.IsPlainText || len(r.PlainText) != 0 {
		r.KeywordList = tk.Extract(r.PlainText)
	}

	switch {
	case !r.IsPlainText && len(r.PlainText) == 0:
		r.Keywords = r.RawMessage
	case len(r.KeywordList) == 0:
		r.Keywords = r.PlainText
	default:
		r.Keywords = strings.Join(r.KeywordList, " ")
	}

	r.KeywordsPinyin = tk.Pinyin(r.Keywords)
	return r
}

// KeywordsLen 提取出的关键词个数
func (r *ChatRecord) KeywordsLen() int { return len(r.KeywordList) }

// AsMessage 转为入库结构
func (r *ChatRecord) AsMessage() Message {
	return Message{
		GroupID:     r.GroupID,
		UserID:      r.UserID,
		BotID:       r.BotID,
		RawMessage:  r.RawMessage,
		IsPlainText: r.IsPlainText,
		PlainText:   r.PlainText,
		Keywords:    r.Keywords,
		Time:        r.Time,
	}
}
