package chat

import (
	"context"
	"strings"

	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// Learn 学习这句话，空消息返回 false
func (e *Engine) Learn(ctx context.Context, r *model.ChatRecord) (bool, error) {
	if strings.TrimSpace(r.RawMessage) == "" {
		return false, nil
	}

	groupMsgs := e.snapshotMessages(r.GroupID)
	if len(groupMsgs) > 0 {
		// 群里的上一条发言
		pre := groupMsgs[len(groupMsgs)-1]
		if err := e.contextInsert(ctx, &pre, r); err != nil {
			return false, err
		}

		if pre.UserID != r.UserID {
			// 该用户在群里的上一条发言（倒序三句之内）
			for i := len(groupMsgs) - 2; i >= 0 && i >= len(groupMsgs)-3; i-- {
				if groupMsgs[i].UserID == r.UserID {
					if err := e.contextInsert(ctx, &groupMsgs[i], r); err != nil {
						return false, err
					}
					break
				}
			}
		}
	}

	return true, e.messageInsert(ctx, r)
}

// contextInsert 把 pre -> 当前消息 作为一条问答学进 context
func (e *Engine) contextInsert(ctx context.Context, pre *model.Message, r *model.ChatRecord) error {
	if pre == nil {
		return nil
	}

	// 在复读，不学
	if pre.RawMessage == r.RawMessage {
		return nil
	}
	// 回复别人的，不学
	if strings.Contains(r.RawMessage, "[CQ:reply,") {
		return nil
	}

	keywords := r.Keywords
	groupID := r.GroupID
	preKeywords := pre.Keywords
	curTime := r.Time

	c, err := e.contexts.FindByKeywords(ctx, preKeywords)
	if err != nil {
		return err
	}

	if c == nil {
		c = &model.Context{
			Keywords:     preKeywords,
			Time:         curTime,
			TriggerCount: 1,
			Answers: []model.Answer{{
				Keywords: keywords,
				GroupID:  groupID,
				Count:    1,
				Time:     curTime,
				Messages: []string{r.RawMessage},
			}},
		}
		return e.contexts.Insert(ctx, c)
	}

	found := false
	for i := range c.Answers {
		ans := &c.Answers[i]
		if ans.GroupID == groupID && ans.Keywords == keywords {
			ans.Count++
			ans.Time = curTime
			if r.IsPlainText {
				ans.AppendMessage(r.RawMessage)
			}
			found = true
			break
		}
	}
	if !found {
		c.Answers = append(c.Answers, model.Answer{
			Keywords: keywords,
			GroupID:  groupID,
			Count:    1,
			Time:     curTime,
			Messages: []string{r.RawMessage},
		})
	}
	c.Time = curTime
	c.TriggerCount++
	return e.contexts.Save(ctx, c)
}

// messageInsert 消息进缓存，攒够了或到点了就落库
func (e *Engine) messageInsert(ctx context.Context, r *model.ChatRecord) error {
	groupID := r.GroupID

	e.msgMu.Lock()
	e.msgBuf[groupID] = append(e.msgBuf[groupID], r.AsMessage())
	bufLen := len(e.msgBuf[groupID])
	first := e.lateSaveTime == 0
	if first {
		e.lateSaveTime = r.Time - 1
	}
	lateSave := e.lateSaveTime
	e.msgMu.Unlock()

	if r.IsPlainText {
		e.appendTopics(groupID, r.KeywordList)
	}

	if first {
		return nil
	}

	if bufLen > e.cfg.SaveCountThreshold || r.Time-lateSave > int64(e.cfg.SaveTimeThreshold) {
		return e.syncMessages(ctx, r.Time)
	}
	return nil
}
