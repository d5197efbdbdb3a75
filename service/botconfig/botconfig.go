package botconfig

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/YlovexLN/Pallas-Bot/logger"
	"github.com/YlovexLN/Pallas-Bot/module/repeater/store"
)

// Handler 喝酒 / 醒酒事件回调，启动时注册，按注册顺序同步调用
type Handler func(botID, groupID int64, value int)

// Service 机器人运行态配置
// 易变状态（醉酒、睡觉、冷却）放 redis，多进程部署时一致；
// 持久字段（管理员、夺舍账号等）放 mongo 的 config 集合。
type Service struct {
	rdb    *goredis.Client
	repo   *store.BotConfigRepo
	groups *store.GroupConfigRepo

	mu       sync.Mutex
	onDrink  []Handler
	onSober  []Handler
	cooldown time.Duration
}

func NewService(rdb *goredis.Client, repo *store.BotConfigRepo, groups *store.GroupConfigRepo, cooldown time.Duration) *Service {
	return &Service{rdb: rdb, repo: repo, groups: groups, cooldown: cooldown}
}

func drunkKey(botID, groupID int64) string {
	return fmt.Sprintf("pallas:drunk:%d:%d", botID, groupID)
}

func sleepKey(botID, groupID int64) string {
	return fmt.Sprintf("pallas:sleep:%d:%d", botID, groupID)
}

func cooldownKey(action string, botID, groupID int64) string {
	return fmt.Sprintf("pallas:cooldown:%s:%d:%d", action, botID, groupID)
}

// ===== 醉酒 =====

// Drunkenness 醉酒程度，0 为清醒；redis 不可用时按清醒处理
func (s *Service) Drunkenness(ctx context.Context, botID, groupID int64) int {
	v, err := s.rdb.Get(ctx, drunkKey(botID, groupID)).Int()
	if err != nil {
		return 0
	}
	return v
}

// Drink 喝一杯，醉酒程度 +1
func (s *Service) Drink(ctx context.Context, botID, groupID int64) int {
	v, err := s.rdb.Incr(ctx, drunkKey(botID, groupID)).Result()
	if err != nil {
		logger.Warnf("[botconfig] drink failed: %v", err)
		return 0
	}
	s.mu.Lock()
	handlers := append([]Handler(nil), s.onDrink...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(botID, groupID, int(v))
	}
	return int(v)
}

// SoberUp 醒一点，返回是否完全清醒
func (s *Service) SoberUp(ctx context.Context, botID, groupID int64) bool {
	v, err := s.rdb.Decr(ctx, drunkKey(botID, groupID)).Result()
	if err != nil {
		logger.Warnf("[botconfig] sober up failed: %v", err)
		return true
	}
	if v > 0 {
		return false
	}
	_ = s.rdb.Del(ctx, drunkKey(botID, groupID)).Err()
	s.mu.Lock()
	handlers := append([]Handler(nil), s.onSober...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(botID, groupID, int(v))
	}
	return true
}

// FullySoberUp 全部群一次性清醒（定时任务用）
func (s *Service) FullySoberUp(ctx context.Context) {
	iter := s.rdb.Scan(ctx, 0, "pallas:drunk:*", 0).Iterator()
	for iter.Next(ctx) {
		_ = s.rdb.Del(ctx, iter.Val()).Err()
	}
}

// OnDrink / OnSoberUp 注册回调，启动时调用
func (s *Service) OnDrink(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrink = append(s.onDrink, h)
}

func (s *Service) OnSoberUp(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSober = append(s.onSober, h)
}

// ===== 睡觉 =====

func (s *Service) Sleep(ctx context.Context, botID, groupID int64, d time.Duration) {
	_ = s.rdb.Set(ctx, sleepKey(botID, groupID), time.Now().Add(d).Unix(), d).Err()
}

func (s *Service) IsSleep(ctx context.Context, botID, groupID int64) bool {
	until, err := s.rdb.Get(ctx, sleepKey(botID, groupID)).Int64()
	if err != nil {
		return false
	}
	return until > time.Now().Unix()
}

// ===== 冷却 =====

// IsCooldown 是否冷却完成
func (s *Service) IsCooldown(ctx context.Context, action string, botID, groupID int64) bool {
	last, err := s.rdb.Get(ctx, cooldownKey(action, botID, groupID)).Int64()
	if err != nil {
		return true
	}
	return time.Unix(last, 0).Add(s.cooldown).Before(time.Now())
}

// RefreshCooldown 刷新冷却时间
func (s *Service) RefreshCooldown(ctx context.Context, action string, botID, groupID int64) {
	_ = s.rdb.Set(ctx, cooldownKey(action, botID, groupID), time.Now().Unix(), 24*time.Hour).Err()
}

// ===== 持久字段 =====

// TakenName 在该群夺舍的账号，0 表示没有
func (s *Service) TakenName(ctx context.Context, botID, groupID int64) int64 {
	doc, err := s.repo.FindByAccount(ctx, botID)
	if err != nil {
		logger.Warnf("[botconfig] taken_name lookup failed: %v", err)
		return 0
	}
	if doc == nil || doc.TakenName == nil {
		return 0
	}
	return doc.TakenName[strconv.FormatInt(groupID, 10)]
}

// UpdateTakenName 更新夺舍的账号
func (s *Service) UpdateTakenName(ctx context.Context, botID, groupID, userID int64) error {
	doc, err := s.repo.FindByAccount(ctx, botID)
	if err != nil {
		return err
	}
	taken := map[string]int64{}
	if doc != nil && doc.TakenName != nil {
		taken = doc.TakenName
	}
	taken[strconv.FormatInt(groupID, 10)] = userID
	return s.repo.SetField(ctx, botID, "taken_name", taken)
}

// IsAdminOfBot 是否是该账号的管理员
func (s *Service) IsAdminOfBot(ctx context.Context, botID, userID int64) bool {
	doc, err := s.repo.FindByAccount(ctx, botID)
	if err != nil || doc == nil {
		return false
	}
	for _, id := range doc.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// Admins 管理员列表，掉线邮件通知用
func (s *Service) Admins(ctx context.Context, botID int64) []int64 {
	doc, err := s.repo.FindByAccount(ctx, botID)
	if err != nil || doc == nil {
		return nil
	}
	return doc.Admins
}

// Security 账号是否安全（不处于风控等异常状态）
func (s *Service) Security(ctx context.Context, botID int64) bool {
	doc, err := s.repo.FindByAccount(ctx, botID)
	if err != nil || doc == nil {
		return false
	}
	return doc.Security
}

// ===== 群级开关 =====

// IsGroupBanned 群被屏蔽时牛牛既不学也不回
func (s *Service) IsGroupBanned(ctx context.Context, groupID int64) bool {
	doc, err := s.groups.FindByGroup(ctx, groupID)
	if err != nil {
		logger.Warnf("[botconfig] group config lookup failed: %v", err)
		return false
	}
	return doc != nil && doc.Banned
}

// SetGroupBanned 屏蔽 / 解除屏蔽某个群
func (s *Service) SetGroupBanned(ctx context.Context, groupID int64, banned bool) error {
	return s.groups.SetBanned(ctx, groupID, banned)
}
