package chat

import (
	"context"
	"sync"

	"github.com/YlovexLN/Pallas-Bot/global/config"
	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// 日志占位，不会作为真实回复出现
const (
	SpeakFlag = "[PallasBot: Speak]"
	ReplyFlag = "[PallasBot: Reply]"
)

// ===== 依赖接口 =====

// ContextRepo 触发词 -> 学习结果 的持久化
type ContextRepo interface {
	FindByKeywords(ctx context.Context, keywords string) (*model.Context, error)
	Insert(ctx context.Context, c *model.Context) error
	Save(ctx context.Context, c *model.Context) error
	DeleteStale(ctx context.Context, expiration int64, triggerBelow int) error
	FindHotOrStale(ctx context.Context, triggerAbove int, clearBefore int64) ([]*model.Context, error)
}

// MessageRepo 群消息流水的持久化
type MessageRepo interface {
	InsertMany(ctx context.Context, msgs []model.Message) error
}

// BlacklistRepo 黑名单的持久化
type BlacklistRepo interface {
	FindAll(ctx context.Context) ([]model.BlackList, error)
	UpsertAnswers(ctx context.Context, groupID int64, answers []string) error
	UpsertReserve(ctx context.Context, groupID int64, answers []string) error
}

// BotState 运行态配置，引擎只读这两项
type BotState interface {
	Drunkenness(ctx context.Context, botID, groupID int64) int
	TakenName(ctx context.Context, botID, groupID int64) int64
}

// ===== 引擎 =====

// replyRecord 牛牛发过的一条回复（含占位 flag）
type replyRecord struct {
	Time          int64
	PreRawMessage string
	PreKeywords   string
	Reply         string
	ReplyKeywords string
}

// Engine 复读核心。长生命周期单例，缓存都挂在它身上，
// 锁只保护内存修改，不跨任何存储访问持有。
type Engine struct {
	cfg      config.RepeaterConfig
	callName string
	// ANSWER_THRESHOLD 往下数 len(weights) 个备选阈值
	thresholdChoices []int

	contexts   ContextRepo
	messages   MessageRepo
	blacklists BlacklistRepo
	bots       BotState
	tokenizer  model.Tokenizer

	replyMu sync.Mutex
	replies map[int64]map[int64][]replyRecord // group -> bot -> 回复缓存

	msgMu        sync.Mutex
	msgBuf       map[int64][]model.Message // group -> 消息缓存
	lateSaveTime int64                     // 上次持久化的时刻（秒）

	topicMu sync.Mutex
	topics  map[int64][]string // group -> 近期话题关键词

	speakMu     sync.Mutex
	recentSpeak map[int64][]string // group -> 主动发言记录，避免重复

	blMu             sync.Mutex
	blacklistAnswers map[int64]map[string]struct{}
	blacklistReserve map[int64]map[string]struct{}
}

func NewEngine(
	cfg config.RepeaterConfig,
	contexts ContextRepo,
	messages MessageRepo,
	blacklists BlacklistRepo,
	bots BotState,
	tokenizer model.Tokenizer,
) *Engine {
	choices := make([]int, 0, len(cfg.AnswerThresholdWeights))
	for v := cfg.AnswerThreshold - len(cfg.AnswerThresholdWeights) + 1; v <= cfg.AnswerThreshold; v++ {
		choices = append(choices, v)
	}

	return &Engine{
		cfg:              cfg,
		callName:         cfg.CallName,
		thresholdChoices: choices,
		contexts:         contexts,
		messages:         messages,
		blacklists:       blacklists,
		bots:             bots,
		tokenizer:        tokenizer,
		replies:          map[int64]map[int64][]replyRecord{},
		msgBuf:           map[int64][]model.Message{},
		topics:           map[int64][]string{},
		recentSpeak:      map[int64][]string{},
		blacklistAnswers: map[int64]map[string]struct{}{},
		blacklistReserve: map[int64]map[string]struct{}{},
	}
}

// NewRecord 按引擎配置构造消息记录
func (e *Engine) NewRecord(groupID, userID, botID int64, raw, plain string, t int64) *model.ChatRecord {
	return model.NewChatRecord(groupID, userID, botID, raw, plain, t, e.tokenizer, e.callName)
}

// ===== 缓存操作 =====

func (e *Engine) appendReply(groupID, botID int64, r replyRecord) {
	e.replyMu.Lock()
	defer e.replyMu.Unlock()
	g, ok := e.replies[groupID]
	if !ok {
		g = map[int64][]replyRecord{}
		e.replies[groupID] = g
	}
	g[botID] = append(g[botID], r)
}

func (e *Engine) lastReply(groupID, botID int64) (replyRecord, bool) {
	e.replyMu.Lock()
	defer e.replyMu.Unlock()
	rs := e.replies[groupID][botID]
	if len(rs) == 0 {
		return replyRecord{}, false
	}
	return rs[len(rs)-1], true
}

func (e *Engine) recentReplyKeywords(groupID, botID int64, n int) []string {
	e.replyMu.Lock()
	defer e.replyMu.Unlock()
	rs := e.replies[groupID][botID]
	if len(rs) > n {
		rs = rs[len(rs)-n:]
	}
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ReplyKeywords)
	}
	return out
}

func (e *Engine) trimReplies(groupID, botID int64) {
	e.replyMu.Lock()
	defer e.replyMu.Unlock()
	rs := e.replies[groupID][botID]
	if len(rs) > e.cfg.SaveReservedSize {
		e.replies[groupID][botID] = append([]replyRecord(nil), rs[len(rs)-e.cfg.SaveReservedSize:]...)
	}
}

func (e *Engine) snapshotMessages(groupID int64) []model.Message {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()
	return append([]model.Message(nil), e.msgBuf[groupID]...)
}

// appendTopics 记录话题关键词，跳过以牛牛称呼开头的
func (e *Engine) appendTopics(groupID int64, words []string) {
	filtered := words[:0:0]
	for _, w := range words {
		if w == "" || hasPrefix(w, e.callName) {
			continue
		}
		filtered = append(filtered, w)
	}
	if len(filtered) == 0 {
		return
	}

	e.topicMu.Lock()
	defer e.topicMu.Unlock()
	ts := append(e.topics[groupID], filtered...)
	if len(ts) > e.cfg.TopicsSize {
		ts = append([]string(nil), ts[len(ts)-e.cfg.TopicsSize:]...)
	}
	e.topics[groupID] = ts
}

func (e *Engine) topicsSnapshot(groupID int64) []string {
	e.topicMu.Lock()
	defer e.topicMu.Unlock()
	return append([]string(nil), e.topics[groupID]...)
}

func (e *Engine) appendRecentSpeak(groupID int64, text string) {
	e.speakMu.Lock()
	defer e.speakMu.Unlock()
	rs := append(e.recentSpeak[groupID], text)
	if len(rs) > e.cfg.DuplicateReply {
		rs = append([]string(nil), rs[len(rs)-e.cfg.DuplicateReply:]...)
	}
	e.recentSpeak[groupID] = rs
}

func (e *Engine) recentSpeakSnapshot(groupID int64) []string {
	e.speakMu.Lock()
	defer e.speakMu.Unlock()
	return append([]string(nil), e.recentSpeak[groupID]...)
}

// ===== 小工具 =====

func hasPrefix(s, prefix string) bool {
	return prefix != "" && len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func setAdd(m map[int64]map[string]struct{}, key int64, value string) {
	set, ok := m[key]
	if !ok {
		set = map[string]struct{}{}
		m[key] = set
	}
	set[value] = struct{}{}
}
