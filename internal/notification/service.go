// Package notification 玩家站内通知：成交、部分成交、过期与价格提醒
package notification

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/pkg/algos"
)

const (
	// DefaultMaxPerPlayer 每个玩家的待读通知上限
	DefaultMaxPerPlayer = 100
	// Retention 通知保留时长
	Retention = 24 * time.Hour
)

// Type 通知类型
type Type string

const (
	TypeOfferFilled     Type = "OFFER_FILLED"      // 卖单全部成交
	TypeOfferPartial    Type = "OFFER_PARTIAL"     // 卖单部分成交
	TypeOfferExpired    Type = "OFFER_EXPIRED"     // 卖单过期
	TypeBuyOrderFilled  Type = "BUY_ORDER_FILLED"  // 买单全部成交
	TypeBuyOrderPartial Type = "BUY_ORDER_PARTIAL" // 买单部分成交
	TypeBuyOrderExpired Type = "BUY_ORDER_EXPIRED" // 买单过期
	TypePriceAlert      Type = "PRICE_ALERT"       // 价格提醒
	TypeSystem          Type = "SYSTEM"            // 系统通知
)

// Notification 通知
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	ItemID    string    `json:"item_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (n Notification) String() string { return fmt.Sprintf("[%s] %s", n.Type, n.Message) }

// Stats 通知统计
type Stats struct {
	Queued  int64 `json:"queued"`
	Sent    int64 `json:"sent"`
	Pending int   `json:"pending"`
	Players int   `json:"players"`
}

// Option 可选配置
type Option func(*Service)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service 通知服务
type Service struct {
	mu      sync.Mutex
	max     int
	pending map[int64]*algos.RingBuffer[Notification]
	now     func() time.Time
	logger  *slog.Logger

	queued atomic.Int64
	sent   atomic.Int64
}

// NewService 创建通知服务
func NewService(maxPerPlayer int, logger *slog.Logger, opts ...Option) *Service {
	if maxPerPlayer <= 0 {
		maxPerPlayer = DefaultMaxPerPlayer
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		max:     maxPerPlayer,
		pending: make(map[int64]*algos.RingBuffer[Notification]),
		now:     time.Now,
		logger:  logger.With("module", "notification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NotifyOfferFilled 卖单全部成交
func (s *Service) NotifyOfferFilled(offer *domain.GEOffer, filled, coinsReceived int64) {
	s.queue(offer.PlayerAuth, TypeOfferFilled, offer.ItemID, fmt.Sprintf(
		"Your sell offer for %s x%d was filled! Received %d coins.",
		offer.ItemID, filled, coinsReceived))
}

// NotifyOfferPartiallyFilled 卖单部分成交
func (s *Service) NotifyOfferPartiallyFilled(offer *domain.GEOffer, filled, remaining, coinsReceived int64) {
	s.queue(offer.PlayerAuth, TypeOfferPartial, offer.ItemID, fmt.Sprintf(
		"Your sell offer for %s was partially filled: %d/%d sold for %d coins. %d remaining.",
		offer.ItemID, filled, offer.QuantityTotal, coinsReceived, remaining))
}

// NotifyBuyOrderFilled 买单全部成交
func (s *Service) NotifyBuyOrderFilled(order *domain.BuyOrder, filled, coinsSpent int64) {
	s.queue(order.PlayerAuth, TypeBuyOrderFilled, order.ItemID, fmt.Sprintf(
		"Your buy order for %s x%d was filled! Spent %d coins. Check collection box.",
		order.ItemID, filled, coinsSpent))
}

// NotifyBuyOrderPartiallyFilled 买单部分成交
func (s *Service) NotifyBuyOrderPartiallyFilled(order *domain.BuyOrder, filled, remaining, coinsSpent int64) {
	s.queue(order.PlayerAuth, TypeBuyOrderPartial, order.ItemID, fmt.Sprintf(
		"Your buy order for %s was partially filled: %d/%d bought for %d coins. %d remaining.",
		order.ItemID, filled, order.QuantityTotal, coinsSpent, remaining))
}

// NotifyOfferExpired 卖单过期，quantity 为退回的数量
func (s *Service) NotifyOfferExpired(offer *domain.GEOffer, quantity int64) {
	s.queue(offer.PlayerAuth, TypeOfferExpired, offer.ItemID, fmt.Sprintf(
		"Your sell offer for %s x%d has expired. Items returned to collection box.",
		offer.ItemID, quantity))
}

// NotifyBuyOrderExpired 买单过期，quantity 为未成交数量
func (s *Service) NotifyBuyOrderExpired(order *domain.BuyOrder, quantity int64) {
	s.queue(order.PlayerAuth, TypeBuyOrderExpired, order.ItemID, fmt.Sprintf(
		"Your buy order for %s x%d has expired. Coins refunded to bank.",
		order.ItemID, quantity))
}

// AlertFavorablePrice 价格提醒
func (s *Service) AlertFavorablePrice(player int64, itemID string, current, target int64) {
	s.queue(player, TypePriceAlert, itemID, fmt.Sprintf(
		"Price alert: %s is now %d coins (target: %d)!", itemID, current, target))
}

// NotifySystem 系统通知
func (s *Service) NotifySystem(player int64, message string) {
	s.queue(player, TypeSystem, "", message)
}

func (s *Service) queue(player int64, typ Type, itemID, message string) {
	n := Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		ItemID:    itemID,
		Message:   message,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	q, ok := s.pending[player]
	if !ok {
		q = algos.NewRingBuffer[Notification](s.max)
		s.pending[player] = q
	}
	_, dropped := q.Push(n)
	s.mu.Unlock()

	s.queued.Add(1)
	if dropped {
		s.logger.Warn("notification queue full, oldest dropped", "player", player)
	}
	s.logger.Debug("notification queued", "player", player, "type", typ, "message", message)
}

// Notifications 待读通知（从旧到新），clear 为 true 时同时清空
func (s *Service) Notifications(player int64, clear bool) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.pending[player]
	if !ok {
		return nil
	}
	out := q.Slice()
	if clear {
		delete(s.pending, player)
		s.sent.Add(int64(len(out)))
	}
	return out
}

// Count 待读通知数
func (s *Service) Count(player int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.pending[player]; ok {
		return q.Len()
	}
	return 0
}

// Clear 清空玩家的全部通知
func (s *Service) Clear(player int64) {
	s.mu.Lock()
	q, ok := s.pending[player]
	delete(s.pending, player)
	s.mu.Unlock()
	if ok {
		s.sent.Add(int64(q.Len()))
		s.logger.Debug("notifications cleared", "player", player, "count", q.Len())
	}
}

// Cleanup 删除超过保留时长的通知，并移除空队列
func (s *Service) Cleanup() int {
	cutoff := s.now().Add(-Retention)
	removed := 0
	s.mu.Lock()
	for player, q := range s.pending {
		removed += q.Retain(func(n Notification) bool { return !n.CreatedAt.Before(cutoff) })
		if q.Len() == 0 {
			delete(s.pending, player)
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		s.logger.Debug("old notifications removed", "count", removed)
	}
	return removed
}

// Stats 通知统计
func (s *Service) Stats() Stats {
	s.mu.Lock()
	pending := 0
	for _, q := range s.pending {
		pending += q.Len()
	}
	players := len(s.pending)
	s.mu.Unlock()
	return Stats{
		Queued:  s.queued.Load(),
		Sent:    s.sent.Load(),
		Pending: pending,
		Players: players,
	}
}
