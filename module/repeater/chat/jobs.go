package chat

import (
	"context"
	"time"

	"github.com/YlovexLN/Pallas-Bot/logger"
	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// 没人说满 15 天的 context 就过期了
const contextExpiration = 15 * 24 * 3600

// Sync 持久化消息缓存和黑名单
func (e *Engine) Sync(ctx context.Context) error {
	if err := e.syncMessages(ctx, time.Now().Unix()); err != nil {
		return err
	}
	return e.syncBlacklist(ctx)
}

// syncMessages 把上次保存之后的消息落库，缓存修剪到保留大小
func (e *Engine) syncMessages(ctx context.Context, curTime int64) error {
	e.msgMu.Lock()
	var saveList []model.Message
	for _, msgs := range e.msgBuf {
		for _, m := range msgs {
			if m.Time > e.lateSaveTime {
				saveList = append(saveList, m)
			}
		}
	}
	if len(saveList) == 0 {
		e.msgMu.Unlock()
		return nil
	}

	for gid, msgs := range e.msgBuf {
		if len(msgs) > e.cfg.SaveReservedSize {
			e.msgBuf[gid] = append([]model.Message(nil), msgs[len(msgs)-e.cfg.SaveReservedSize:]...)
		}
	}
	e.lateSaveTime = curTime
	e.msgMu.Unlock()

	logger.Infof("sync %d messages", len(saveList))
	return e.messages.InsertMany(ctx, saveList)
}

// selectBlacklist 从库里加载黑名单并入内存
func (e *Engine) selectBlacklist(ctx context.Context) error {
	all, err := e.blacklists.FindAll(ctx)
	if err != nil {
		return err
	}

	e.blMu.Lock()
	defer e.blMu.Unlock()
	for _, item := range all {
		for _, kw := range item.Answers {
			setAdd(e.blacklistAnswers, item.GroupID, kw)
		}
		for _, kw := range item.AnswersReserve {
			setAdd(e.blacklistReserve, item.GroupID, kw)
		}
	}
	return nil
}

// syncBlacklist 黑名单写回。已转正的不必在候补里占位子
func (e *Engine) syncBlacklist(ctx context.Context) error {
	if err := e.selectBlacklist(ctx); err != nil {
		return err
	}

	type pending struct {
		groupID int64
		answers []string
	}
	var confirmed, reserves []pending

	e.blMu.Lock()
	for gid, set := range e.blacklistAnswers {
		if len(set) == 0 {
			continue
		}
		confirmed = append(confirmed, pending{gid, setToList(set)})
	}
	for gid, set := range e.blacklistReserve {
		if len(set) == 0 {
			continue
		}
		filtered := make([]string, 0, len(set))
		for kw := range set {
			if _, ok := e.blacklistAnswers[gid][kw]; ok {
				continue
			}
			filtered = append(filtered, kw)
		}
		reserves = append(reserves, pending{gid, filtered})
	}
	e.blMu.Unlock()

	for _, p := range confirmed {
		if err := e.blacklists.UpsertAnswers(ctx, p.groupID, p.answers); err != nil {
			return err
		}
	}
	for _, p := range reserves {
		if err := e.blacklists.UpsertReserve(ctx, p.groupID, p.answers); err != nil {
			return err
		}
	}
	return nil
}

// UpdateGlobalBlacklist 重新统计跨群共识：被足够多的群 ban 掉的词全局 ban。
// 启动时也用它做黑名单预热。
func (e *Engine) UpdateGlobalBlacklist(ctx context.Context) error {
	if err := e.selectBlacklist(ctx); err != nil {
		return err
	}

	e.blMu.Lock()
	defer e.blMu.Unlock()

	counts := map[string]int{}
	for gid, set := range e.blacklistAnswers {
		if gid == model.BlackListGlobalGroup {
			continue
		}
		for kw := range set {
			counts[kw]++
		}
	}
	for kw, n := range counts {
		if n >= e.cfg.CrossGroupThreshold {
			setAdd(e.blacklistAnswers, model.BlackListGlobalGroup, kw)
		}
	}
	return nil
}

// ClearUpContext 清理所有超过 15 天没人说、且没学会的话；
// 高频或太久没清理过的 context 修剪掉长尾 answer
func (e *Engine) ClearUpContext(ctx context.Context) error {
	curTime := time.Now().Unix()
	expiration := curTime - contextExpiration

	if err := e.contexts.DeleteStale(ctx, expiration, e.cfg.AnswerThreshold); err != nil {
		return err
	}

	list, err := e.contexts.FindHotOrStale(ctx, 100, expiration)
	if err != nil {
		return err
	}
	for _, c := range list {
		kept := make([]model.Answer, 0, len(c.Answers))
		for _, ans := range c.Answers {
			if ans.Count > 1 || ans.Time > expiration {
				kept = append(kept, ans)
			}
		}
		c.Answers = kept
		c.ClearTime = curTime
		if err := e.contexts.Save(ctx, c); err != nil {
			return err
		}
	}

	logger.Infof("clearup context done, pruned %d contexts", len(list))
	return nil
}

// Stats 运行状态快照，管理接口用
type Stats struct {
	Groups           int   `json:"groups"`
	BufferedMessages int   `json:"buffered_messages"`
	LateSaveTime     int64 `json:"late_save_time"`
}

func (e *Engine) Stats() Stats {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()

	total := 0
	for _, msgs := range e.msgBuf {
		total += len(msgs)
	}
	return Stats{
		Groups:           len(e.msgBuf),
		BufferedMessages: total,
		LateSaveTime:     e.lateSaveTime,
	}
}

// BlacklistSnapshot 某个群当前的黑名单（含候补），管理接口用
func (e *Engine) BlacklistSnapshot(groupID int64) (answers, reserve []string) {
	e.blMu.Lock()
	defer e.blMu.Unlock()
	return setToList(e.blacklistAnswers[groupID]), setToList(e.blacklistReserve[groupID])
}

func setToList(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
