package onebot

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// frame 一条 WebSocket 帧，可能是事件上报，也可能是 API 调用的响应
type frame struct {
	// 事件字段
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type"`
	NoticeType  string `json:"notice_type"`
	Time        int64  `json:"time"`
	SelfID      int64  `json:"self_id"`
	GroupID     int64  `json:"group_id"`
	UserID      int64  `json:"user_id"`
	OperatorID  int64  `json:"operator_id"`
	MessageID   int64  `json:"message_id"`
	RawMessage  string `json:"raw_message"`
	Sender      struct {
		Role string `json:"role"`
	} `json:"sender"`

	// API 响应字段
	Echo    *int64          `json:"echo,omitempty"`
	Status  string          `json:"status,omitempty"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// apiRequest OneBot v11 API 调用帧
type apiRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
	Echo   int64          `json:"echo"`
}

var (
	cqCodeRe  = regexp.MustCompile(`\[CQ:[^\]]*\]`)
	replyIDRe = regexp.MustCompile(`\[CQ:reply,id=(-?\d+)\]`)
	atQQRe    = regexp.MustCompile(`\[CQ:at,qq=(\d+)[^\]]*\]`)
	// 图片等 CQ 码里的 url 每次都不一样，拉黑比对前去掉
	cqURLRe = regexp.MustCompile(`,url=[^\]]*`)
)

// unescapeCQ 还原 CQ 码转义的文本
func unescapeCQ(s string) string {
	s = strings.ReplaceAll(s, "&#91;", "[")
	s = strings.ReplaceAll(s, "&#93;", "]")
	s = strings.ReplaceAll(s, "&#44;", ",")
	return strings.ReplaceAll(s, "&amp;", "&")
}

// escapeCQ CQ 码文本转义
func escapeCQ(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "[", "&#91;")
	return strings.ReplaceAll(s, "]", "&#93;")
}

// plainText 去掉全部 CQ 码后的纯文本
func plainText(raw string) string {
	return strings.TrimSpace(unescapeCQ(cqCodeRe.ReplaceAllString(raw, "")))
}

// replyID 提取引用回复的 message_id，没有返回 0
func replyID(raw string) int64 {
	m := replyIDRe.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	var id int64
	fmt.Sscan(m[1], &id)
	return id
}

// isToMe 是否在对牛牛说话：@了牛牛，或以牛牛的称呼开头
func isToMe(raw, plain string, selfID int64, callName string) bool {
	if strings.Contains(raw, fmt.Sprintf("[CQ:at,qq=%d]", selfID)) {
		return true
	}
	return callName != "" && strings.HasPrefix(plain, callName)
}

// stripURL 去掉 CQ 码里的 url 字段
func stripURL(raw string) string {
	return cqURLRe.ReplaceAllString(raw, "")
}

// segment OneBot 消息段，get_msg 返回的是段数组而不是 CQ 字符串
type segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// segmentsToCQ 消息段数组转回 CQ 码字符串
func segmentsToCQ(segs []segment) string {
	var b strings.Builder
	for _, seg := range segs {
		if seg.Type == "text" {
			if t, ok := seg.Data["text"].(string); ok {
				b.WriteString(escapeCQ(t))
			}
			continue
		}

		b.WriteString("[CQ:")
		b.WriteString(seg.Type)
		keys := make([]string, 0, len(seg.Data))
		for k := range seg.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(",")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(escapeCQ(fmt.Sprint(seg.Data[k])))
		}
		b.WriteString("]")
	}
	return b.String()
}

// decodeMessageField get_msg 的 message 字段，可能是段数组也可能是字符串
func decodeMessageField(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var segs []segment
	if err := json.Unmarshal(data, &segs); err == nil {
		return segmentsToCQ(segs)
	}
	return ""
}
