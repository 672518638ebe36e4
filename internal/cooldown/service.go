// Package cooldown 玩家操作冷却：按玩家、按动作记录上次成功操作时间，阻止刷单与频繁上下架
package cooldown

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Action 受冷却约束的动作
type Action string

const (
	ActionSellCreate Action = "SELL_CREATE"
	ActionSellToggle Action = "SELL_TOGGLE"
	ActionBuyCreate  Action = "BUY_CREATE"
	ActionBuyToggle  Action = "BUY_TOGGLE"
)

// Actions 全部动作
var Actions = []Action{ActionSellCreate, ActionSellToggle, ActionBuyCreate, ActionBuyToggle}

// IdleWindow 超过该时长未操作的记录会被 Cleanup 清除
const IdleWindow = 10 * time.Minute

// Config 各动作冷却时长，0 表示不限制
type Config struct {
	SellCreate time.Duration
	SellToggle time.Duration
	BuyCreate  time.Duration
	BuyToggle  time.Duration
}

func (c Config) cooldown(a Action) time.Duration {
	switch a {
	case ActionSellCreate:
		return c.SellCreate
	case ActionSellToggle:
		return c.SellToggle
	case ActionBuyCreate:
		return c.BuyCreate
	case ActionBuyToggle:
		return c.BuyToggle
	}
	return 0
}

// Status 统一的冷却状态视图
type Status struct {
	Action           Action        `json:"action"`
	Player           int64         `json:"player"`
	Allowed          bool          `json:"allowed"`
	Cooldown         time.Duration `json:"cooldown"`
	Remaining        time.Duration `json:"remaining"`
	RemainingSeconds int64         `json:"remaining_seconds"`
	LastAction       time.Time     `json:"last_action,omitempty"`
}

// ErrOnCooldown 冷却未结束，*DeniedError 与之匹配
var ErrOnCooldown = errors.New("on cooldown")

// DeniedError 冷却未结束
type DeniedError struct {
	Action    Action
	Player    int64
	Remaining time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s on cooldown for player %d: %ds remaining", e.Action, e.Player, ceilSeconds(e.Remaining))
}

func (e *DeniedError) Is(target error) bool { return target == ErrOnCooldown }

// Stats 计数器快照
type Stats struct {
	Attempts       int64   `json:"attempts"`
	Denied         int64   `json:"denied"`
	Succeeded      int64   `json:"succeeded"`
	TrackedPlayers int     `json:"tracked_players"`
	DenialRate     float64 `json:"denial_rate"`
}

// Option 可选配置
type Option func(*Service)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service 冷却服务
type Service struct {
	mu     sync.Mutex
	cfg    Config
	last   map[Action]map[int64]time.Time
	now    func() time.Time
	logger *slog.Logger

	attempts  atomic.Int64
	denied    atomic.Int64
	succeeded atomic.Int64
}

// NewService 创建冷却服务
func NewService(cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:    cfg,
		last:   make(map[Action]map[int64]time.Time, len(Actions)),
		now:    time.Now,
		logger: logger.With("module", "cooldown"),
	}
	for _, a := range Actions {
		s.last[a] = make(map[int64]time.Time)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow 判断动作是否可执行，计入尝试与拒绝次数
func (s *Service) Allow(a Action, player int64) bool {
	s.attempts.Add(1)
	if s.Remaining(a, player) > 0 {
		s.denied.Add(1)
		return false
	}
	return true
}

// Check 与 Allow 相同，拒绝时返回 *DeniedError
func (s *Service) Check(a Action, player int64) error {
	s.attempts.Add(1)
	if rem := s.Remaining(a, player); rem > 0 {
		s.denied.Add(1)
		return &DeniedError{Action: a, Player: player, Remaining: rem}
	}
	return nil
}

// Record 记录一次成功操作
func (s *Service) Record(a Action, player int64) {
	s.mu.Lock()
	if m, ok := s.last[a]; ok {
		m[player] = s.now()
	}
	s.mu.Unlock()
	s.succeeded.Add(1)
}

// Remaining 剩余冷却时长，未配置或无记录时为 0
func (s *Service) Remaining(a Action, player int64) time.Duration {
	cd := s.cfg.cooldown(a)
	if cd <= 0 {
		return 0
	}
	s.mu.Lock()
	last, ok := s.last[a][player]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	elapsed := s.now().Sub(last)
	if elapsed >= cd {
		return 0
	}
	return cd - elapsed
}

// Snapshot 某玩家某动作的冷却状态，不计入尝试次数
func (s *Service) Snapshot(a Action, player int64) Status {
	rem := s.Remaining(a, player)
	s.mu.Lock()
	last := s.last[a][player]
	s.mu.Unlock()
	return Status{
		Action:           a,
		Player:           player,
		Allowed:          rem == 0,
		Cooldown:         s.cfg.cooldown(a),
		Remaining:        rem,
		RemainingSeconds: ceilSeconds(rem),
		LastAction:       last,
	}
}

// SnapshotAll 某玩家全部动作的冷却状态
func (s *Service) SnapshotAll(player int64) []Status {
	out := make([]Status, 0, len(Actions))
	for _, a := range Actions {
		out = append(out, s.Snapshot(a, player))
	}
	return out
}

func (s *Service) CanCreateSellOffer(player int64) bool { return s.Allow(ActionSellCreate, player) }
func (s *Service) CanToggleSellOffer(player int64) bool { return s.Allow(ActionSellToggle, player) }
func (s *Service) CanCreateBuyOrder(player int64) bool { return s.Allow(ActionBuyCreate, player) }
func (s *Service) CanToggleBuyOrder(player int64) bool { return s.Allow(ActionBuyToggle, player) }

func (s *Service) RecordSellOfferCreation(player int64) { s.Record(ActionSellCreate, player) }
func (s *Service) RecordSellToggle(player int64) { s.Record(ActionSellToggle, player) }
func (s *Service) RecordBuyOrderCreation(player int64) { s.Record(ActionBuyCreate, player) }
func (s *Service) RecordBuyToggle(player int64) { s.Record(ActionBuyToggle, player) }

// RemainingCooldownForSellOffer 剩余秒数（向上取整）
func (s *Service) RemainingCooldownForSellOffer(player int64) int64 {
	return ceilSeconds(s.Remaining(ActionSellCreate, player))
}

func (s *Service) RemainingCooldownForSellToggle(player int64) int64 {
	return ceilSeconds(s.Remaining(ActionSellToggle, player))
}

func (s *Service) RemainingCooldownForBuyOrder(player int64) int64 {
	return ceilSeconds(s.Remaining(ActionBuyCreate, player))
}

func (s *Service) RemainingCooldownForBuyToggle(player int64) int64 {
	return ceilSeconds(s.Remaining(ActionBuyToggle, player))
}

// ClearCooldown 清除玩家的冷却记录，未指定动作时清除全部
func (s *Service) ClearCooldown(player int64, actions ...Action) {
	if len(actions) == 0 {
		actions = Actions
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range actions {
		delete(s.last[a], player)
	}
}

// Cleanup 清除空闲超过 IdleWindow（或该动作冷却时长，取较大者）的记录
func (s *Service) Cleanup() int {
	now := s.now()
	removed := 0

	s.mu.Lock()
	for a, m := range s.last {
		window := max(IdleWindow, s.cfg.cooldown(a))
		for player, at := range m {
			if now.Sub(at) > window {
				delete(m, player)
				removed++
			}
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("cooldown cleanup", "removed", removed)
	}
	return removed
}

// Stats 计数器与跟踪玩家数
func (s *Service) Stats() Stats {
	st := Stats{
		Attempts:  s.attempts.Load(),
		Denied:    s.denied.Load(),
		Succeeded: s.succeeded.Load(),
	}
	players := make(map[int64]struct{})
	s.mu.Lock()
	for _, m := range s.last {
		for p := range m {
			players[p] = struct{}{}
		}
	}
	s.mu.Unlock()
	st.TrackedPlayers = len(players)
	if st.Attempts > 0 {
		st.DenialRate = float64(st.Denied) / float64(st.Attempts)
	}
	return st
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
