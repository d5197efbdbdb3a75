package onebot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainText(t *testing.T) {
	assert.Equal(t, "你好", plainText("[CQ:at,qq=42] 你好 [CQ:face,id=1]"))
	assert.Equal(t, "[表情]", plainText("&#91;表情&#93;"))
	assert.Equal(t, "", plainText("[CQ:image,file=x.image]"))
}

func TestReplyID(t *testing.T) {
	assert.Equal(t, int64(123456), replyID("[CQ:reply,id=123456]不可以"))
	assert.Equal(t, int64(-42), replyID("[CQ:reply,id=-42]不可以"))
	assert.Zero(t, replyID("没有引用"))
}

func TestIsToMe(t *testing.T) {
	assert.True(t, isToMe("[CQ:at,qq=9999] 早", "早", 9999, "牛牛"))
	assert.True(t, isToMe("牛牛早上好", "牛牛早上好", 9999, "牛牛"))
	assert.False(t, isToMe("[CQ:at,qq=1234] 早", "早", 9999, "牛牛"))
	assert.False(t, isToMe("早上好", "早上好", 9999, "牛牛"))
}

func TestStripURL(t *testing.T) {
	raw := "[CQ:image,file=x.image,url=https://example.com/a,b]"
	assert.Equal(t, "[CQ:image,file=x.image]", stripURL(raw))
}

func TestSegmentsToCQ(t *testing.T) {
	segs := []segment{
		{Type: "text", Data: map[string]any{"text": "你好["}},
		{Type: "at", Data: map[string]any{"qq": "42"}},
	}
	assert.Equal(t, "你好&#91;[CQ:at,qq=42]", segmentsToCQ(segs))
}

func TestDecodeMessageField(t *testing.T) {
	// 字符串形式
	assert.Equal(t, "你好", decodeMessageField(json.RawMessage(`"你好"`)))

	// 段数组形式
	raw := json.RawMessage(`[{"type":"text","data":{"text":"早"}},{"type":"face","data":{"id":"1"}}]`)
	assert.Equal(t, "早[CQ:face,id=1]", decodeMessageField(raw))
}

func TestMarkSeen(t *testing.T) {
	g := &Gateway{seen: map[int64][]int64{}}

	assert.True(t, g.markSeen(1, 100))
	// 多账号重复上报同一条消息
	assert.False(t, g.markSeen(1, 100))
	// 不同群互不影响
	assert.True(t, g.markSeen(2, 100))

	// 超过上限后批量淘汰最老的
	for i := int64(101); i <= 100+dedupCap; i++ {
		g.markSeen(1, i)
	}
	require.LessOrEqual(t, len(g.seen[1]), dedupCap)
	assert.True(t, g.markSeen(1, 100))
}
