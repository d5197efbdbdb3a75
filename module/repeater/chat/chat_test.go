package chat

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YlovexLN/Pallas-Bot/global/config"
	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// ===== 内存假实现 =====

type fakeTokenizer struct{}

func (fakeTokenizer) Extract(text string) []string {
	words := strings.Fields(text)
	if len(words) > model.KeywordsSize {
		words = words[:model.KeywordsSize]
	}
	return words
}

func (fakeTokenizer) Pinyin(text string) string { return strings.ToLower(text) }

type memContexts struct {
	mu sync.Mutex
	m  map[string]*model.Context
}

func newMemContexts() *memContexts { return &memContexts{m: map[string]*model.Context{}} }

func (r *memContexts) FindByKeywords(_ context.Context, keywords string) (*model.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[keywords]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.Answers = append([]model.Answer(nil), c.Answers...)
	cp.Ban = append([]model.Ban(nil), c.Ban...)
	return &cp, nil
}

func (r *memContexts) Insert(_ context.Context, c *model.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[c.Keywords] = c
	return nil
}

func (r *memContexts) Save(_ context.Context, c *model.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[c.Keywords] = c
	return nil
}

func (r *memContexts) DeleteStale(_ context.Context, expiration int64, triggerBelow int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, c := range r.m {
		if c.Time < expiration && c.TriggerCount < triggerBelow {
			delete(r.m, k)
		}
	}
	return nil
}

func (r *memContexts) FindHotOrStale(_ context.Context, triggerAbove int, clearBefore int64) ([]*model.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Context
	for _, c := range r.m {
		if c.TriggerCount > triggerAbove || c.ClearTime < clearBefore {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memMessages struct {
	mu    sync.Mutex
	saved []model.Message
}

func (r *memMessages) InsertMany(_ context.Context, msgs []model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, msgs...)
	return nil
}

func (r *memMessages) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

type memBlacklists struct {
	mu      sync.Mutex
	answers map[int64][]string
	reserve map[int64][]string
}

func newMemBlacklists() *memBlacklists {
	return &memBlacklists{answers: map[int64][]string{}, reserve: map[int64][]string{}}
}

func (r *memBlacklists) FindAll(_ context.Context) ([]model.BlackList, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.BlackList
	for gid, answers := range r.answers {
		out = append(out, model.BlackList{GroupID: gid, Answers: answers, AnswersReserve: r.reserve[gid]})
	}
	return out, nil
}

func (r *memBlacklists) UpsertAnswers(_ context.Context, groupID int64, answers []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[groupID] = answers
	return nil
}

func (r *memBlacklists) UpsertReserve(_ context.Context, groupID int64, answers []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserve[groupID] = answers
	return nil
}

type fakeBots struct {
	drunk map[int64]int
	taken map[int64]int64
}

func (b *fakeBots) Drunkenness(_ context.Context, botID, groupID int64) int {
	if b.drunk == nil {
		return 0
	}
	return b.drunk[groupID]
}

func (b *fakeBots) TakenName(_ context.Context, botID, groupID int64) int64 {
	if b.taken == nil {
		return 0
	}
	return b.taken[groupID]
}

// ===== 测试装置 =====

func testConfig() config.RepeaterConfig {
	return config.RepeaterConfig{
		AnswerThreshold:              1,
		AnswerThresholdWeights:       []int{1},
		TopicsSize:                   16,
		TopicsImportance:             10000,
		CrossGroupThreshold:          2,
		RepeatThreshold:              3,
		SpeakThreshold:               5,
		DuplicateReply:               10,
		SplitProbability:             0,
		SpeakContinuouslyProbability: 0,
		SpeakPokeProbability:         0,
		SpeakContinuouslyMaxLen:      2,
		SaveTimeThreshold:            3600,
		SaveCountThreshold:           1000,
		SaveReservedSize:             100,
		CallName:                     "牛牛",
	}
}

type fixture struct {
	engine     *Engine
	contexts   *memContexts
	messages   *memMessages
	blacklists *memBlacklists
	bots       *fakeBots
}

func newFixture(cfg config.RepeaterConfig) *fixture {
	f := &fixture{
		contexts:   newMemContexts(),
		messages:   &memMessages{},
		blacklists: newMemBlacklists(),
		bots:       &fakeBots{},
	}
	f.engine = NewEngine(cfg, f.contexts, f.messages, f.blacklists, f.bots, fakeTokenizer{})
	return f
}

const (
	testGroup int64 = 10001
	testBot   int64 = 9999
)

func (f *fixture) learn(t *testing.T, userID int64, text string, at int64) {
	t.Helper()
	r := f.engine.NewRecord(testGroup, userID, testBot, text, text, at)
	ok, err := f.engine.Learn(context.Background(), r)
	require.NoError(t, err)
	require.True(t, ok)
}

func (f *fixture) answer(t *testing.T, userID int64, text string, at int64) []string {
	t.Helper()
	r := f.engine.NewRecord(testGroup, userID, testBot, text, text, at)
	it, err := f.engine.Answer(context.Background(), r)
	require.NoError(t, err)
	if it == nil {
		return nil
	}
	return it.Collect()
}

// ===== 用例 =====

func TestAnswerTooShort(t *testing.T) {
	f := newFixture(testConfig())
	got := f.answer(t, 1, "草", 100)
	assert.Nil(t, got)
}

func TestLearnEmptyMessage(t *testing.T) {
	f := newFixture(testConfig())
	r := f.engine.NewRecord(testGroup, 1, testBot, "   ", "", 100)
	ok, err := f.engine.Learn(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLearnAndAnswer(t *testing.T) {
	f := newFixture(testConfig())

	// 同一问答重复三遍，让回复的权重攒够
	at := int64(100)
	for i := 0; i < 3; i++ {
		f.learn(t, 1, "天气 真好", at)
		f.learn(t, 2, "确实 不错", at+1)
		at += 10
	}

	c, err := f.contexts.FindByKeywords(context.Background(), "天气 真好")
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Len(t, c.Answers, 1)
	assert.Equal(t, 3, c.Answers[0].Count)

	got := f.answer(t, 3, "天气 真好", at)
	require.Len(t, got, 1)
	assert.Equal(t, "确实 不错", got[0])
}

func TestLearnSkipsExactRepeatAndReplies(t *testing.T) {
	f := newFixture(testConfig())

	f.learn(t, 1, "复读 一句", 100)
	f.learn(t, 2, "复读 一句", 101)
	c, err := f.contexts.FindByKeywords(context.Background(), "复读 一句")
	require.NoError(t, err)
	assert.Nil(t, c)

	r := f.engine.NewRecord(testGroup, 3, testBot, "[CQ:reply,id=1]引用 回应", "引用 回应", 102)
	_, err = f.engine.Learn(context.Background(), r)
	require.NoError(t, err)
	c, err = f.contexts.FindByKeywords(context.Background(), "复读 一句")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestRepeatDetection(t *testing.T) {
	f := newFixture(testConfig())

	at := int64(100)
	for i, uid := range []int64{1, 2, 3} {
		f.learn(t, uid, "人类 的本质", at+int64(i))
	}

	got := f.answer(t, 4, "人类 的本质", at+10)
	require.Len(t, got, 1)
	assert.Equal(t, "人类 的本质", got[0])

	// 复读过一次就不再跟
	f.learn(t, 4, "人类 的本质", at+11)
	got = f.answer(t, 5, "人类 的本质", at+12)
	assert.Nil(t, got)
}

func TestBanReserveThenConfirm(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	at := int64(100)
	for i := 0; i < 3; i++ {
		f.learn(t, 1, "天气 真好", at)
		f.learn(t, 2, "确实 不错", at+1)
		at += 10
	}
	got := f.answer(t, 3, "天气 真好", at)
	require.NotEmpty(t, got)

	// 第一次 ban：进 context 的禁用记录和候补名单
	ok, err := f.engine.Ban(ctx, testGroup, testBot, "", "test")
	require.NoError(t, err)
	require.True(t, ok)

	answers, reserve := f.engine.BlacklistSnapshot(testGroup)
	assert.Empty(t, answers)
	assert.Contains(t, reserve, "确实 不错")

	// context 级的禁用立即生效
	got = f.answer(t, 4, "天气 真好", at+1)
	assert.Nil(t, got)

	// 第二次 ban：候补转正
	ok, err = f.engine.Ban(ctx, testGroup, testBot, "", "test again")
	require.NoError(t, err)
	require.True(t, ok)
	answers, _ = f.engine.BlacklistSnapshot(testGroup)
	assert.Contains(t, answers, "确实 不错")
}

func TestBanNoMatchingReply(t *testing.T) {
	f := newFixture(testConfig())
	ok, err := f.engine.Ban(context.Background(), testGroup, testBot, "没发过的话", "test")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCrossGroupPromotion(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	seed := func(groups ...int64) {
		answers := make([]model.Answer, 0, len(groups))
		for _, gid := range groups {
			answers = append(answers, model.Answer{
				Keywords: "跨群 回应",
				GroupID:  gid,
				Count:    3,
				Time:     100,
				Messages: []string{"跨群 回应"},
			})
		}
		require.NoError(t, f.contexts.Insert(ctx, &model.Context{
			Keywords:     "触发 词条",
			Time:         100,
			TriggerCount: 5,
			Answers:      answers,
		}))
	}

	// 只有一个外群学过：不够共识，不回复
	seed(20001)
	got := f.answer(t, 1, "触发 词条", 200)
	assert.Nil(t, got)

	// 两个外群学过：达到共识，作为全局回复
	seed(20001, 20002)
	got = f.answer(t, 1, "触发 词条", 201)
	require.Len(t, got, 1)
	assert.Equal(t, "跨群 回应", got[0])
}

func TestToMeLowersCrossGroupThreshold(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	require.NoError(t, f.contexts.Insert(ctx, &model.Context{
		Keywords:     "牛牛你好",
		Time:         100,
		TriggerCount: 5,
		Answers: []model.Answer{{
			Keywords: "外群 招呼",
			GroupID:  20001,
			Count:    3,
			Time:     100,
			Messages: []string{"外群 招呼"},
		}},
	}))

	r := f.engine.NewRecord(testGroup, 1, testBot, "牛牛你好", "牛牛你好", 200)
	require.True(t, r.ToMe)
	it, err := f.engine.Answer(ctx, r)
	require.NoError(t, err)
	require.NotNil(t, it)
	got := it.Collect()
	require.Len(t, got, 1)
	assert.Equal(t, "外群 招呼", got[0])
}

func TestDrunkAnswersImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.AnswerThreshold = 3
	cfg.AnswerThresholdWeights = []int{7, 23, 70}
	f := newFixture(cfg)
	f.bots.drunk = map[int64]int{testGroup: 1}

	// 只学一次
	f.learn(t, 1, "天气 真好", 100)
	f.learn(t, 2, "确实 不错", 101)

	// 灌水把学到的回复挤出近期窗口
	at := int64(102)
	for i := 0; i < 10; i++ {
		f.learn(t, 5, "灌水 第"+strings.Repeat("一", i+1)+"句", at)
		at++
	}

	// 醉酒时阈值固定为 1，学一次的回复也会说出口
	got := f.answer(t, 3, "天气 真好", at)
	require.Len(t, got, 1)
	assert.Equal(t, "确实 不错", got[0])
}

func TestAnswerSkipsRecentlySaid(t *testing.T) {
	cfg := testConfig()
	f := newFixture(cfg)

	// 只学一次，count=1 < 3，且回复语还躺在近期消息里
	f.learn(t, 1, "天气 真好", 100)
	f.learn(t, 2, "确实 不错", 101)
	got := f.answer(t, 3, "天气 真好", 102)
	assert.Nil(t, got)
}

func TestSyncMessagesTrimsBuffer(t *testing.T) {
	cfg := testConfig()
	cfg.SaveReservedSize = 2
	f := newFixture(cfg)
	ctx := context.Background()

	for i := int64(0); i < 5; i++ {
		f.learn(t, i+1, "第几句 话呢", 100+i)
	}
	require.Equal(t, 0, f.messages.count())

	require.NoError(t, f.engine.Sync(ctx))
	assert.Equal(t, 5, f.messages.count())
	assert.Len(t, f.engine.snapshotMessages(testGroup), 2)

	// 没有新消息就不再写库
	require.NoError(t, f.engine.Sync(ctx))
	assert.Equal(t, 5, f.messages.count())
}

func TestUpdateGlobalBlacklist(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	require.NoError(t, f.blacklists.UpsertAnswers(ctx, 20001, []string{"坏话 词条"}))
	require.NoError(t, f.blacklists.UpsertAnswers(ctx, 20002, []string{"坏话 词条"}))
	require.NoError(t, f.blacklists.UpsertAnswers(ctx, 20003, []string{"只有 一个群"}))

	require.NoError(t, f.engine.UpdateGlobalBlacklist(ctx))

	global, _ := f.engine.BlacklistSnapshot(model.BlackListGlobalGroup)
	assert.Contains(t, global, "坏话 词条")
	assert.NotContains(t, global, "只有 一个群")
}

func TestClearUpContext(t *testing.T) {
	cfg := testConfig()
	cfg.AnswerThreshold = 3
	f := newFixture(cfg)
	ctx := context.Background()

	old := int64(1) // 远早于过期线
	require.NoError(t, f.contexts.Insert(ctx, &model.Context{
		Keywords:     "冷门 词条",
		Time:         old,
		TriggerCount: 1,
	}))
	require.NoError(t, f.contexts.Insert(ctx, &model.Context{
		Keywords:     "热门 词条",
		Time:         model.Now(),
		TriggerCount: 500,
		Answers: []model.Answer{
			{Keywords: "孤证 回应", GroupID: testGroup, Count: 1, Time: old, Messages: []string{"x"}},
			{Keywords: "常见 回应", GroupID: testGroup, Count: 5, Time: old, Messages: []string{"y"}},
			{Keywords: "新鲜 回应", GroupID: testGroup, Count: 1, Time: model.Now(), Messages: []string{"z"}},
		},
	}))

	require.NoError(t, f.engine.ClearUpContext(ctx))

	gone, err := f.contexts.FindByKeywords(ctx, "冷门 词条")
	require.NoError(t, err)
	assert.Nil(t, gone)

	hot, err := f.contexts.FindByKeywords(ctx, "热门 词条")
	require.NoError(t, err)
	require.NotNil(t, hot)
	keys := make([]string, 0, len(hot.Answers))
	for _, a := range hot.Answers {
		keys = append(keys, a.Keywords)
	}
	assert.ElementsMatch(t, []string{"常见 回应", "新鲜 回应"}, keys)
	assert.NotZero(t, hot.ClearTime)
}

func TestReplyPostProc(t *testing.T) {
	f := newFixture(testConfig())

	f.engine.appendReply(testGroup, testBot, replyRecord{
		Time:  100,
		Reply: "[CQ:at,qq=42] 在吗",
	})

	assert.True(t, f.engine.ReplyPostProc("[CQ:at,qq=42] 在吗", "@张三 在吗", testBot, testGroup))
	last, ok := f.engine.lastReply(testGroup, testBot)
	require.True(t, ok)
	assert.Equal(t, "@张三 在吗", last.Reply)

	assert.False(t, f.engine.ReplyPostProc("没有这条", "改写", testBot, testGroup))
	// 原文和改写一致时直接成功
	assert.True(t, f.engine.ReplyPostProc("同一句", "同一句", testBot, testGroup))
}

func TestWeightedChoiceDistribution(t *testing.T) {
	values := []int{1, 2, 3}
	weights := []int{7, 23, 70}

	counts := map[int]int{}
	for i := 0; i < 1000; i++ {
		counts[weightedChoice(values, weights)]++
	}
	assert.Greater(t, counts[3], 600)
	assert.Greater(t, counts[2], counts[1])
}

// 候选按 min(次数, 10) 加权，次数多的回复应占绝大多数
func TestAnswerWeightedSelection(t *testing.T) {
	ctx := context.Background()
	contexts := newMemContexts()
	require.NoError(t, contexts.Insert(ctx, &model.Context{
		Keywords:     "苹果 好吃",
		Time:         model.Now(),
		TriggerCount: 20,
		Answers: []model.Answer{
			{Keywords: "一般 般", GroupID: testGroup, Count: 1, Time: model.Now(), Messages: []string{"一般般"}},
			{Keywords: "超级 好吃", GroupID: testGroup, Count: 10, Time: model.Now(), Messages: []string{"超级好吃"}},
		},
	}))

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		// 每轮换一个干净的引擎，绕开“说过的话短期不再说”的去重
		e := NewEngine(testConfig(), contexts, &memMessages{}, newMemBlacklists(), &fakeBots{}, fakeTokenizer{})
		r := e.NewRecord(testGroup, 1, testBot, "苹果 好吃", "苹果 好吃", 100)
		it, err := e.Answer(ctx, r)
		require.NoError(t, err)
		require.NotNil(t, it)
		got := it.Collect()
		require.Len(t, got, 1)
		counts[got[0]]++
	}

	// 权重 10 比 1，期望约九成，留出随机波动的余量
	assert.Greater(t, counts["超级好吃"], 700)
	assert.Positive(t, counts["一般般"])
}

// 足够多的群都 ban 掉同一句话后，对所有群生效
func TestAnswerCrossGroupBanConsensus(t *testing.T) {
	ctx := context.Background()
	seed := func(bans []model.Ban) *memContexts {
		contexts := newMemContexts()
		require.NoError(t, contexts.Insert(ctx, &model.Context{
			Keywords:     "苦茶 难喝",
			Time:         model.Now(),
			TriggerCount: 10,
			Answers: []model.Answer{
				{Keywords: "确实 难喝", GroupID: testGroup, Count: 5, Time: model.Now(), Messages: []string{"确实难喝"}},
			},
			Ban: bans,
		}))
		return contexts
	}

	ask := func(contexts *memContexts) []string {
		e := NewEngine(testConfig(), contexts, &memMessages{}, newMemBlacklists(), &fakeBots{}, fakeTokenizer{})
		r := e.NewRecord(testGroup, 1, testBot, "苦茶 难喝", "苦茶 难喝", 100)
		it, err := e.Answer(ctx, r)
		require.NoError(t, err)
		if it == nil {
			return nil
		}
		return it.Collect()
	}

	// 只有一个别的群 ban 过，不影响本群
	one := seed([]model.Ban{
		{Keywords: "确实 难喝", GroupID: 20001, Reason: "r", Time: 100},
	})
	assert.Equal(t, []string{"确实难喝"}, ask(one))

	// 两个不同的群都 ban 了，达到 CrossGroupThreshold，全局生效
	two := seed([]model.Ban{
		{Keywords: "确实 难喝", GroupID: 20001, Reason: "r", Time: 100},
		{Keywords: "确实 难喝", GroupID: 20002, Reason: "r", Time: 101},
	})
	assert.Nil(t, ask(two))

	// 同一个群 ban 两次，不算跨群共识
	dup := seed([]model.Ban{
		{Keywords: "确实 难喝", GroupID: 20001, Reason: "r", Time: 100},
		{Keywords: "确实 难喝", GroupID: 20001, Reason: "r", Time: 101},
	})
	assert.Equal(t, []string{"确实难喝"}, ask(dup))
}

func TestWeightedIndexZeroWeights(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		idx := weightedIndex([]int{0, 0, 0})
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, 3)
		seen[idx] = true
	}
	assert.Len(t, seen, 3)
}

func TestSpeak(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	// 攒够基础消息量，最后一条消息远在沉默阈值之前
	at := int64(100)
	for i := 0; i < 10; i++ {
		f.learn(t, int64(i%3+1), "闲聊 第"+strings.Repeat("多", i+1)+"句", at)
		at++
	}
	// 有过回复记录的群才会主动发言
	f.engine.appendReply(testGroup, testBot, replyRecord{Time: at - 5, Reply: "旧回复"})

	ret, err := f.engine.Speak(ctx)
	require.NoError(t, err)
	require.NotNil(t, ret)
	assert.Equal(t, testBot, ret.BotID)
	assert.Equal(t, testGroup, ret.GroupID)
	require.Len(t, ret.Messages, 1)
	assert.Zero(t, ret.PokeUserID)

	// 刚说过的话不会立刻再说
	recent := f.engine.recentSpeakSnapshot(testGroup)
	assert.Contains(t, recent, ret.Messages[0])
}

func TestSpeakSkipsQuietGroup(t *testing.T) {
	f := newFixture(testConfig())

	// 消息太少，不主动发言
	f.learn(t, 1, "只有 一句", 100)
	f.engine.appendReply(testGroup, testBot, replyRecord{Time: 99, Reply: "旧回复"})

	ret, err := f.engine.Speak(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ret)
}

func TestSpeakPrefersTakenName(t *testing.T) {
	f := newFixture(testConfig())
	f.bots.taken = map[int64]int64{testGroup: 7}

	at := int64(100)
	for i := 0; i < 10; i++ {
		uid := int64(i%3 + 1)
		if i == 4 {
			uid = 7
		}
		f.learn(t, uid, "闲聊 第"+strings.Repeat("多", i+1)+"句", at)
		at++
	}
	f.engine.appendReply(testGroup, testBot, replyRecord{Time: at - 5, Reply: "旧回复"})

	ret, err := f.engine.Speak(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ret)
	require.Len(t, ret.Messages, 1)
	assert.Equal(t, "闲聊 第"+strings.Repeat("多", 5)+"句", ret.Messages[0])
}

func TestPopularityLess(t *testing.T) {
	mk := func(times ...int64) groupBuffer {
		msgs := make([]model.Message, 0, len(times))
		for _, ts := range times {
			msgs = append(msgs, model.Message{Time: ts})
		}
		return groupBuffer{msgs: msgs}
	}

	// 消息不足基准线，按条数比
	assert.True(t, popularityLess(mk(1, 2), mk(1, 2, 3), 10))

	// 都够基准线，按单位时间消息数比
	slow := mk(0, 10, 20, 30, 40, 50, 60, 70, 80, 900)
	fast := mk(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	assert.True(t, popularityLess(slow, fast, 10))
	assert.False(t, popularityLess(fast, slow, 10))
}
