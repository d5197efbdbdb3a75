package chat

import (
	"context"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// ReplyIterator 逐条产出回复。每取出一条都会先写回复缓存，
// 再折进话题缓存，全部取完后把缓存修剪到保留大小。
type ReplyIterator struct {
	engine    *Engine
	record    *model.ChatRecord
	fragments []string
	keywords  string
	idx       int
	done      bool
}

// Next 取下一条回复，没有了返回 ("", false)
func (it *ReplyIterator) Next() (string, bool) {
	if it.idx >= len(it.fragments) {
		if !it.done {
			it.done = true
			it.engine.trimReplies(it.record.GroupID, it.record.BotID)
		}
		return "", false
	}

	frag := it.fragments[it.idx]
	it.idx++

	e := it.engine
	r := it.record
	e.appendReply(r.GroupID, r.BotID, replyRecord{
		Time:          time.Now().Unix(),
		PreRawMessage: r.RawMessage,
		PreKeywords:   r.Keywords,
		Reply:         frag,
		ReplyKeywords: it.keywords,
	})

	if !strings.Contains(frag, "[CQ:") {
		e.appendTopics(r.GroupID, strings.Split(it.keywords, " "))
	}
	e.appendTopics(r.GroupID, r.KeywordList)

	return frag, true
}

// Collect 一次性取完剩余回复
func (it *ReplyIterator) Collect() []string {
	var out []string
	for {
		frag, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, frag)
	}
}

// Answer 回复这句话，可能分多次回复，也可能不回复（返回 nil）
func (e *Engine) Answer(ctx context.Context, r *model.ChatRecord) (*ReplyIterator, error) {
	// 不回复太短的对话，大部分是“？”、“草”
	if r.IsPlainText && utf8.RuneCountInString(r.PlainText) < 2 {
		return nil, nil
	}

	fragments, answerKeywords, err := e.contextFind(ctx, r)
	if err != nil || len(fragments) == 0 {
		return nil, err
	}

	// 占位，防止产出期间把自己的回复又学进去
	e.appendReply(r.GroupID, r.BotID, replyRecord{
		Time:          time.Now().Unix(),
		PreRawMessage: r.RawMessage,
		PreKeywords:   r.Keywords,
		Reply:         ReplyFlag,
		ReplyKeywords: ReplyFlag,
	})

	return &ReplyIterator{
		engine:    e,
		record:    r,
		fragments: fragments,
		keywords:  answerKeywords,
	}, nil
}

// candidate 候选回复，count / messages 跨群合并，topical 只算首次
type candidate struct {
	answer  model.Answer
	topical int
}

type candidateSet struct {
	order []string
	items map[string]*candidate
}

func newCandidateSet() *candidateSet {
	return &candidateSet{items: map[string]*candidate{}}
}

func (cs *candidateSet) add(ans model.Answer, topics []string) {
	key := ans.Keywords
	if prev, ok := cs.items[key]; ok {
		prev.answer.Count += ans.Count
		prev.answer.Messages = append(prev.answer.Messages, ans.Messages...)
		return
	}

	topical := 0
	if !strings.Contains(key, "[CQ:") {
		for _, word := range strings.Split(key, " ") {
			for _, t := range topics {
				if t == word {
					topical++
				}
			}
		}
	}

	cp := ans
	cp.Messages = append([]string(nil), ans.Messages...)
	cs.order = append(cs.order, key)
	cs.items[key] = &candidate{answer: cp, topical: topical}
}

func (cs *candidateSet) addMerged(c *candidate) {
	key := c.answer.Keywords
	if prev, ok := cs.items[key]; ok {
		prev.answer.Count += c.answer.Count
		prev.answer.Messages = append(prev.answer.Messages, c.answer.Messages...)
		return
	}
	cs.order = append(cs.order, key)
	cs.items[key] = c
}

func (cs *candidateSet) get(key string) (*candidate, bool) {
	c, ok := cs.items[key]
	return c, ok
}

func (cs *candidateSet) empty() bool { return len(cs.order) == 0 }

// contextFind 找出这句话的回复内容，返回 (分段回复, 回复关键词)
func (e *Engine) contextFind(ctx context.Context, r *model.ChatRecord) ([]string, string, error) {
	groupID := r.GroupID
	botID := r.BotID
	raw := r.RawMessage
	keywords := r.Keywords

	// 复读！
	groupMsgs := e.snapshotMessages(groupID)
	if n := e.cfg.RepeatThreshold; len(groupMsgs) >= n {
		repeating := true
		for _, m := range groupMsgs[len(groupMsgs)-n:] {
			if m.RawMessage != raw {
				repeating = false
				break
			}
		}
		if repeating {
			// 复读过一次就不再回复这句话了
			if last, ok := e.lastReply(groupID, botID); ok && last.Reply == raw {
				return nil, "", nil
			}
			return []string{raw}, keywords, nil
		}
	}

	c, err := e.contexts.FindByKeywords(ctx, keywords)
	if err != nil || c == nil {
		return nil, "", err
	}

	isDrunk := e.bots.Drunkenness(ctx, botID, groupID) > 0

	answerCountThreshold := 1
	if !isDrunk {
		answerCountThreshold = weightedChoice(e.thresholdChoices, e.cfg.AnswerThresholdWeights)
		// 提取满了关键词的触发，适当放宽
		if r.KeywordsLen() == model.KeywordsSize {
			answerCountThreshold--
		}
	}

	crossGroupThreshold := e.cfg.CrossGroupThreshold
	if r.ToMe {
		crossGroupThreshold = 1
	}

	banKeywords := e.findBanKeywords(c, groupID)
	topics := e.topicsSnapshot(groupID)
	recentReplies := e.recentReplyKeywords(groupID, botID, e.cfg.DuplicateReply)

	recentMessages := groupMsgs
	if len(recentMessages) > e.cfg.DuplicateReply {
		recentMessages = recentMessages[len(recentMessages)-e.cfg.DuplicateReply:]
	}
	recentRaw := make([]string, 0, len(recentMessages))
	for _, m := range recentMessages {
		recentRaw = append(recentRaw, m.RawMessage)
	}

	candidates := newCandidateSet()
	otherGroupCache := newCandidateSet()
	answersCount := map[string]int{}

	for _, ans := range c.Answers {
		count := ans.Count
		if !isDrunk && count < answerCountThreshold {
			continue
		}

		key := ans.Keywords
		if _, banned := banKeywords[key]; banned {
			continue
		}
		if containsString(recentReplies, key) || key == keywords {
			continue
		}
		if len(ans.Messages) == 0 {
			continue
		}

		sample := ans.Messages[0]
		// 图片消息不回复纯文本。图片经常是表情包，后面的纯文本啥都有，很乱
		if r.IsImage && !strings.Contains(sample, "[CQ:") {
			continue
		}
		if strings.HasPrefix(sample, e.callName) {
			// 这种一般是学反过来的，比如有人教“牛牛你好”——“你好”
			if !r.ToMe || utf8.RuneCountInString(sample) <= 6 {
				continue
			}
		}
		if strings.HasPrefix(sample, "[CQ:xml") {
			continue
		}
		if strings.Contains(sample, "\n") {
			continue
		}
		// 别人刚发的就重复，显得很笨
		if count < 3 && containsString(recentRaw, sample) {
			continue
		}

		switch {
		case ans.GroupID == groupID:
			candidates.add(ans, topics)
		case strings.Contains(sample, "[CQ:at,qq="):
			// 别的群的 at，忽略
			continue
		case isDrunk && count > answerCountThreshold:
			candidates.add(ans, topics)
		default:
			// 有这么 N 个群都有相同的回复，就作为全局回复
			answersCount[key]++
			cur := answersCount[key]
			switch {
			case cur < crossGroupThreshold:
				otherGroupCache.add(ans, topics)
			case cur == crossGroupThreshold:
				if cur > 1 {
					if cached, ok := otherGroupCache.get(key); ok {
						candidates.addMerged(cached)
					}
				}
				candidates.add(ans, topics)
			default:
				candidates.add(ans, topics)
			}
		}
	}

	if candidates.empty() {
		return nil, "", nil
	}

	weights := make([]int, 0, len(candidates.order))
	for _, key := range candidates.order {
		cand := candidates.items[key]
		w := cand.answer.Count
		if w > 10 {
			w = 10
		}
		weights = append(weights, w+cand.topical*e.cfg.TopicsImportance)
	}

	finalKey := candidates.order[weightedIndex(weights)]
	final := candidates.items[finalKey]
	answerStr := final.answer.Messages[rand.Intn(len(final.answer.Messages))]
	answerKeywords := final.answer.Keywords
	answerStr = strings.TrimPrefix(answerStr, e.callName)

	if n := strings.Count(answerStr, "，"); n > 0 && n <= 3 &&
		!strings.Contains(answerStr, "[CQ:") &&
		rand.Float64() < e.cfg.SplitProbability {
		return strings.Split(answerStr, "，"), answerKeywords, nil
	}
	return []string{answerStr}, answerKeywords, nil
}

// findBanKeywords 找到在 groupID 群中对应 context 不能回复的关键词
func (e *Engine) findBanKeywords(c *model.Context, groupID int64) map[string]struct{} {
	ban := map[string]struct{}{}

	e.blMu.Lock()
	for k := range e.blacklistAnswers[model.BlackListGlobalGroup] {
		ban[k] = struct{}{}
	}
	for k := range e.blacklistAnswers[groupID] {
		ban[k] = struct{}{}
	}
	e.blMu.Unlock()

	if c == nil || len(c.Ban) == 0 {
		return ban
	}

	// 超过 N 个群都把这句话 ban 了，那就全局 ban 掉
	banGroups := map[string]map[int64]struct{}{}
	for _, b := range c.Ban {
		if b.GroupID == groupID || b.GroupID == model.BlackListGlobalGroup {
			ban[b.Keywords] = struct{}{}
			continue
		}
		set, ok := banGroups[b.Keywords]
		if !ok {
			set = map[int64]struct{}{}
			banGroups[b.Keywords] = set
		}
		set[b.GroupID] = struct{}{}
		if len(set) >= e.cfg.CrossGroupThreshold {
			ban[b.Keywords] = struct{}{}
		}
	}
	return ban
}

// weightedChoice 按权重随机取一个值
func weightedChoice(values []int, weights []int) int {
	return values[weightedIndex(weights)]
}

// weightedIndex 累积权重随机，全零权重时均匀随机
func weightedIndex(weights []int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return rand.Intn(len(weights))
	}
	n := rand.Intn(total)
	for i, w := range weights {
		if n < w {
			return i
		}
		n -= w
	}
	return len(weights) - 1
}
