package chat

import (
	"context"
	"regexp"
	"strings"

	"github.com/YlovexLN/Pallas-Bot/logger"
	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

var cqTypeRe = regexp.MustCompile(`(\[CQ:[a-zA-Z0-9-_.]+)`)

// Ban 禁止以后回复这句话，仅对该群有效果。
// banRaw 为空时直接 ban 最后一条回复；找不到对应回复返回 false。
func (e *Engine) Ban(ctx context.Context, groupID, botID int64, banRaw, reason string) (bool, error) {
	e.replyMu.Lock()
	groupReplies, hasGroup := e.replies[groupID]
	var records []replyRecord
	if hasGroup {
		records = append([]replyRecord(nil), groupReplies[botID]...)
	}
	e.replyMu.Unlock()

	if !hasGroup {
		return false, nil
	}

	var target *replyRecord
	for i := len(records) - 1; i >= 0; i-- {
		if banRaw == "" || strings.Contains(records[i].Reply, banRaw) {
			target = &records[i]
			break
		}
	}

	// 有些 CQ 码发送时和被回复时内容不一样（比如图片重传后 url 变了），
	// 退一步按类型标记匹配
	if target == nil {
		if m := cqTypeRe.FindStringSubmatch(banRaw); m != nil {
			marker := m[1]
			for i := len(records) - 1; i >= 0; i-- {
				if strings.Contains(records[i].Reply, marker) {
					target = &records[i]
					break
				}
			}
		}
	}

	if target == nil {
		return false, nil
	}

	preKeywords := target.PreKeywords
	keywords := target.ReplyKeywords

	c, err := e.contexts.FindByKeywords(ctx, preKeywords)
	if err != nil {
		return false, err
	}
	if c != nil {
		c.Ban = append(c.Ban, model.Ban{
			Keywords: keywords,
			GroupID:  groupID,
			Reason:   reason,
			Time:     model.Now(),
		})
		if err := e.contexts.Save(ctx, c); err != nil {
			return false, err
		}
	}

	// 候补里已经有了就转正，第一次先进候补
	e.blMu.Lock()
	if _, reserved := e.blacklistReserve[groupID][keywords]; reserved {
		setAdd(e.blacklistAnswers, groupID, keywords)
		if _, globalReserved := e.blacklistReserve[model.BlackListGlobalGroup][keywords]; globalReserved {
			setAdd(e.blacklistAnswers, model.BlackListGlobalGroup, keywords)
		}
	} else {
		setAdd(e.blacklistReserve, groupID, keywords)
	}
	e.blMu.Unlock()

	logger.Infof("ban [%s] in group [%d], reason: %s", keywords, groupID, reason)
	return true, nil
}

// ReplyPostProc 对发出去的消息做了后处理时，同步替换回复缓存里的原文
func (e *Engine) ReplyPostProc(rawMessage, newMessage string, botID, groupID int64) bool {
	if rawMessage == newMessage {
		return true
	}

	e.replyMu.Lock()
	defer e.replyMu.Unlock()
	records := e.replies[groupID][botID]
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Reply == rawMessage {
			records[i].Reply = newMessage
			return true
		}
	}
	return false
}
