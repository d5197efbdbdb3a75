package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTokenizer struct{}

func (stubTokenizer) Extract(text string) []string {
	words := strings.Fields(text)
	if len(words) > KeywordsSize {
		words = words[:KeywordsSize]
	}
	return words
}

func (stubTokenizer) Pinyin(text string) string { return strings.ToLower(text) }

func TestNormalizeRaw(t *testing.T) {
	raw := "[CQ:image,file=abc.image,subType=1,url=https://example.com/x]"
	assert.Equal(t, "[CQ:image,file=abc.image]", NormalizeRaw(raw))

	// 没有图片字段时原样返回
	assert.Equal(t, "你好", NormalizeRaw("你好"))
}

func TestNewChatRecordPlainText(t *testing.T) {
	r := NewChatRecord(1, 2, 3, "今天 天气", "今天 天气", 100, stubTokenizer{}, "牛牛")

	assert.True(t, r.IsPlainText)
	assert.False(t, r.IsImage)
	assert.False(t, r.ToMe)
	assert.Equal(t, []string{"今天", "天气"}, r.KeywordList)
	assert.Equal(t, "今天 天气", r.Keywords)
	assert.Equal(t, 2, r.KeywordsLen())
}

func TestNewChatRecordImage(t *testing.T) {
	raw := "[CQ:image,file=x.image,subType=0]"
	r := NewChatRecord(1, 2, 3, raw, "", 100, stubTokenizer{}, "牛牛")

	assert.False(t, r.IsPlainText)
	assert.True(t, r.IsImage)
	// 没有纯文本时，原始消息就是关键词
	assert.Equal(t, "[CQ:image,file=x.image]", r.Keywords)
	assert.Equal(t, 0, r.KeywordsLen())
}

func TestNewChatRecordToMe(t *testing.T) {
	r := NewChatRecord(1, 2, 3, "牛牛早上好", "牛牛早上好", 100, stubTokenizer{}, "牛牛")
	assert.True(t, r.ToMe)
}

func TestNewChatRecordKeywordFallback(t *testing.T) {
	// 分词结果为空时退回纯文本
	r := NewChatRecord(1, 2, 3, "[CQ:at,qq=42]  ", " ", 100, stubTokenizer{}, "牛牛")
	assert.Equal(t, " ", r.Keywords)
}

func TestAsMessage(t *testing.T) {
	r := NewChatRecord(7, 8, 9, "今天 天气", "今天 天气", 123, stubTokenizer{}, "牛牛")
	m := r.AsMessage()

	assert.Equal(t, int64(7), m.GroupID)
	assert.Equal(t, int64(8), m.UserID)
	assert.Equal(t, int64(9), m.BotID)
	assert.Equal(t, r.Keywords, m.Keywords)
	assert.Equal(t, int64(123), m.Time)
	assert.True(t, m.IsPlainText)
}

func TestAnswerAppendMessageCap(t *testing.T) {
	a := &Answer{}
	for i := 0; i < AnswerMessagesCap+5; i++ {
		a.AppendMessage(strings.Repeat("a", i+1))
	}
	require.Len(t, a.Messages, AnswerMessagesCap)
	// 留下的是最新的
	assert.Equal(t, strings.Repeat("a", AnswerMessagesCap+5), a.Messages[len(a.Messages)-1])
}
