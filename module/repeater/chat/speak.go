package chat

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// SpeakResult 主动发言的结果
type SpeakResult struct {
	BotID    int64
	GroupID  int64
	Messages []string
	// PokeUserID 戳一戳目标，0 表示不戳
	PokeUserID int64
}

type groupBuffer struct {
	id   int64
	msgs []model.Message
}

// popularityLess 群聊热度比较：消息太少按条数比，否则按单位时间消息数比
func popularityLess(lhs, rhs groupBuffer, basicMsgsLen int) bool {
	lhsLen, rhsLen := len(lhs.msgs), len(rhs.msgs)
	if lhsLen < basicMsgsLen || rhsLen < basicMsgsLen {
		return lhsLen < rhsLen
	}

	lhsDuration := lhs.msgs[lhsLen-1].Time - lhs.msgs[0].Time
	rhsDuration := rhs.msgs[rhsLen-1].Time - rhs.msgs[0].Time
	if lhsDuration == 0 || rhsDuration == 0 {
		return lhsLen < rhsLen
	}

	return float64(lhsLen)/float64(lhsDuration) < float64(rhsLen)/float64(rhsDuration)
}

// Speak 主动发言，返回当前最希望发言的 bot 账号、群号、发言消息、戳一戳目标，
// 也有可能这轮不发言（返回 nil）
func (e *Engine) Speak(ctx context.Context) (*SpeakResult, error) {
	const (
		basicMsgsLen = 10
		basicDelay   = 600
	)

	e.msgMu.Lock()
	groups := make([]groupBuffer, 0, len(e.msgBuf))
	for gid, msgs := range e.msgBuf {
		groups = append(groups, groupBuffer{id: gid, msgs: append([]model.Message(nil), msgs...)})
	}
	e.msgMu.Unlock()

	sort.SliceStable(groups, func(i, j int) bool {
		return popularityLess(groups[i], groups[j], basicMsgsLen)
	})

	curTime := time.Now().Unix()
	for _, g := range groups {
		if len(g.msgs) < basicMsgsLen {
			continue
		}

		e.replyMu.Lock()
		groupReplies := e.replies[g.id]
		botIDs := make([]int64, 0, len(groupReplies))
		for bid := range groupReplies {
			botIDs = append(botIDs, bid)
		}
		sort.Slice(botIDs, func(i, j int) bool { return botIDs[i] < botIDs[j] })

		var front []replyRecord
		if len(botIDs) > 0 {
			// 所有牛牛基本是一起回复的，看任意一个账号的记录就够了
			front = groupReplies[botIDs[0]]
		}
		frontEmpty := len(front) == 0
		var frontLastTime int64
		if !frontEmpty {
			frontLastTime = front[len(front)-1].Time
		}
		e.replyMu.Unlock()

		if len(botIDs) == 0 || frontEmpty || frontLastTime > g.msgs[len(g.msgs)-1].Time {
			continue
		}

		msgsLen := len(g.msgs)
		latestTime := g.msgs[msgsLen-1].Time
		duration := latestTime - g.msgs[0].Time
		avgInterval := float64(duration) / float64(msgsLen)

		// 已经超过平均发言间隔 N 倍的时间没人说话了，才主动发言
		if float64(curTime-latestTime) < avgInterval*float64(e.cfg.SpeakThreshold)+basicDelay {
			continue
		}

		// 先打个 flag，防止这个群热度特别高但没有可用内容时，每轮都查它
		e.appendReply(g.id, botIDs[0], replyRecord{
			Time:          curTime,
			PreRawMessage: SpeakFlag,
			PreKeywords:   SpeakFlag,
			Reply:         SpeakFlag,
			ReplyKeywords: SpeakFlag,
		})

		// speak 链里合成消息的 bot_id 是 0，不能选它发言
		realBots := botIDs[:0:0]
		for _, bid := range botIDs {
			if bid != 0 {
				realBots = append(realBots, bid)
			}
		}
		if len(realBots) == 0 {
			continue
		}
		botID := realBots[rand.Intn(len(realBots))]

		banKeywords := e.findBanKeywords(nil, g.id)
		recently := e.recentSpeakSnapshot(g.id)

		available := make([]model.Message, 0, len(g.msgs))
		for _, m := range g.msgs {
			if _, banned := banKeywords[m.Keywords]; banned {
				continue
			}
			if containsString(recently, m.RawMessage) ||
				strings.HasPrefix(m.RawMessage, e.callName) ||
				strings.HasPrefix(m.RawMessage, "[CQ:xml") ||
				strings.Contains(m.RawMessage, "\n") {
				continue
			}
			available = append(available, m)
		}
		if len(available) == 0 {
			continue
		}

		// 夺舍中优先模仿被夺舍的人
		speak := available[0].RawMessage
		if taken := e.bots.TakenName(ctx, botID, g.id); taken != 0 {
			for _, m := range available {
				if m.UserID == taken {
					speak = m.RawMessage
					break
				}
			}
		}

		e.appendRecentSpeak(g.id, speak)
		e.appendReply(g.id, botID, replyRecord{
			Time:          curTime,
			PreRawMessage: SpeakFlag,
			PreKeywords:   SpeakFlag,
			Reply:         speak,
			ReplyKeywords: SpeakFlag,
		})

		speakList := []string{speak}
		for rand.Float64() < e.cfg.SpeakContinuouslyProbability &&
			len(speakList) < e.cfg.SpeakContinuouslyMaxLen {
			preMsg := speakList[len(speakList)-1]
			rec := e.NewRecord(g.id, 0, 0, preMsg, preMsg, curTime)
			it, err := e.Answer(ctx, rec)
			if err != nil || it == nil {
				break
			}
			more := it.Collect()
			if len(more) == 0 {
				break
			}
			speakList = append(speakList, more...)
		}

		var pokeTarget int64
		if rand.Float64() < e.cfg.SpeakPokeProbability {
			pokeTarget = g.msgs[rand.Intn(len(g.msgs))].UserID
		}

		return &SpeakResult{
			BotID:      botID,
			GroupID:    g.id,
			Messages:   speakList,
			PokeUserID: pokeTarget,
		}, nil
	}

	return nil, nil
}

// RandomMessageFromEachGroup 获取每个群近期一条随机发言
func (e *Engine) RandomMessageFromEachGroup() map[int64]model.Message {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()

	out := map[int64]model.Message{}
	for gid, msgs := range e.msgBuf {
		if len(msgs) == 0 {
			continue
		}
		out[gid] = msgs[rand.Intn(len(msgs))]
	}
	return out
}
