// Package application 交易所用例编排：挂单指令、撮合结算、成交扇出、维护与快照
package application

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wyfcoding/grandexchange/internal/analytics"
	"github.com/wyfcoding/grandexchange/internal/audit"
	"github.com/wyfcoding/grandexchange/internal/cooldown"
	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/internal/exchange/infrastructure/account"
	"github.com/wyfcoding/grandexchange/internal/monitoring"
	"github.com/wyfcoding/grandexchange/internal/notification"
	"github.com/wyfcoding/grandexchange/pkg/config"
	"github.com/wyfcoding/grandexchange/pkg/metrics"
	"github.com/wyfcoding/grandexchange/pkg/utils"
)

var (
	ErrUnknownItem        = errors.New("unknown item")
	ErrPriceOutOfRange    = errors.New("price out of range")
	ErrQuantityOutOfRange = errors.New("quantity out of range")
	ErrDurationOutOfRange = errors.New("duration out of range")
	ErrOrderLive          = errors.New("order is live, disable or cancel it first")
	ErrSlotChanged        = errors.New("slot changed concurrently")
	ErrOrderExpired       = errors.New("order has expired")
	ErrWatchLimit         = errors.New("too many price watches")
	ErrOfferNotFound      = errors.New("offer not found")
	ErrOwnOffer           = errors.New("cannot buy own offer")
	ErrPurchaseFailed     = errors.New("purchase failed")
)

// Options 业务参数
type Options struct {
	MinPrice            int64
	MaxPrice            int64
	MaxQuantity         int64
	DefaultBuyOrderDays int
	MaxBuyOrderDays     int
	OfferTTL            time.Duration
	SnapshotInterval    time.Duration // 0 表示每轮维护都保存
	MaxWatchesPerPlayer int
	WatchTTL            time.Duration
	NodeID              int64
}

// OptionsFromConfig 由配置构造业务参数
func OptionsFromConfig(cfg config.ExchangeConfig) Options {
	return Options{
		MinPrice:            cfg.MinPricePerItem,
		MaxPrice:            cfg.MaxPricePerItem,
		MaxQuantity:         cfg.MaxQuantity,
		DefaultBuyOrderDays: cfg.DefaultBuyOrderDays,
		MaxBuyOrderDays:     cfg.MaxBuyOrderDays,
		OfferTTL:            cfg.OfferTTL(),
		SnapshotInterval:    cfg.Snapshot.Interval(),
		MaxWatchesPerPlayer: cfg.MaxWatchesPerPlayer,
		WatchTTL:            cfg.WatchTTL(),
	}
}

// Deps 交易所协作者，Accounts、Items、Cooldowns 必填，其余为空时使用空实现或默认值
type Deps struct {
	Accounts      *account.Store
	Items         domain.ItemRegistry
	Tax           domain.TaxFunc
	Cooldowns     *cooldown.Service
	Audit         *audit.Log
	Analytics     *analytics.Service
	Performance   *monitoring.PerformanceMetrics
	Notifications *notification.Service
	Metrics       metrics.MetricsCollector
	Publisher     domain.TradePublisher
	Snapshots     domain.SnapshotStore
	Clock         func() time.Time
	Logger        *slog.Logger
}

// market 单个物品的订单簿，mu 覆盖撮合发现与结算全过程
type market struct {
	mu   sync.Mutex
	book *domain.OrderBook
}

// Exchange 交易所句柄
// 加锁顺序：物品锁（多个时按物品 ID 升序）→ 玩家账户锁（按玩家 ID 升序）
type Exchange struct {
	opts       Options
	accounts   *account.Store
	items      domain.ItemRegistry
	cooldowns  *cooldown.Service
	audit      *audit.Log
	analytics  *analytics.Service
	perf       *monitoring.PerformanceMetrics
	notifier   *notification.Service
	metrics    metrics.MetricsCollector
	publisher  domain.TradePublisher
	snapshots  domain.SnapshotStore
	settlement domain.Settlement
	ids        *utils.SnowflakeID
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.RWMutex
	markets map[string]*market

	watchMu    sync.Mutex
	watchers   map[string][]PriceWatch
	watchCount map[int64]int

	lastSnapshot atomic.Int64
}

// NewExchange 创建交易所
func NewExchange(opts Options, deps Deps) *Exchange {
	if opts.MinPrice < 1 {
		opts.MinPrice = 1
	}
	if opts.MaxPrice < opts.MinPrice {
		opts.MaxPrice = 1_000_000
	}
	if opts.MaxQuantity < 1 {
		opts.MaxQuantity = 1_000_000
	}
	if opts.DefaultBuyOrderDays < 1 {
		opts.DefaultBuyOrderDays = 7
	}
	if opts.MaxBuyOrderDays < opts.DefaultBuyOrderDays {
		opts.MaxBuyOrderDays = max(30, opts.DefaultBuyOrderDays)
	}
	if opts.MaxWatchesPerPlayer < 1 {
		opts.MaxWatchesPerPlayer = 20
	}
	if opts.WatchTTL <= 0 {
		opts.WatchTTL = 7 * 24 * time.Hour
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NopCollector{}
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewLog(audit.DefaultLogSize, deps.Logger)
	}
	if deps.Analytics == nil {
		deps.Analytics = analytics.NewService(analytics.DefaultHistorySize, deps.Logger, analytics.WithClock(deps.Clock))
	}
	if deps.Notifications == nil {
		deps.Notifications = notification.NewService(notification.DefaultMaxPerPlayer, deps.Logger, notification.WithClock(deps.Clock))
	}

	e := &Exchange{
		opts:       opts,
		accounts:   deps.Accounts,
		items:      deps.Items,
		cooldowns:  deps.Cooldowns,
		audit:      deps.Audit,
		analytics:  deps.Analytics,
		perf:       deps.Performance,
		notifier:   deps.Notifications,
		metrics:    deps.Metrics,
		publisher:  deps.Publisher,
		snapshots:  deps.Snapshots,
		ids:        utils.NewSnowflakeID(opts.NodeID),
		now:        deps.Clock,
		logger:     deps.Logger.With("module", "exchange"),
		markets:    make(map[string]*market),
		watchers:   make(map[string][]PriceWatch),
		watchCount: make(map[int64]int),
	}
	e.settlement = domain.Settlement{
		Escrow:     deps.Accounts,
		Bank:       deps.Accounts,
		Collection: deps.Accounts,
		Items:      deps.Items,
		Stats:      deps.Accounts,
		Tax:        deps.Tax,
		Clock:      deps.Clock,
	}
	return e
}

type nopPublisher struct{}

func (nopPublisher) PublishTrade(_ context.Context, _ domain.TradeResult) {}

func (e *Exchange) market(itemID string) *market {
	e.mu.RLock()
	m, ok := e.markets[itemID]
	e.mu.RUnlock()
	if ok {
		return m
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok = e.markets[itemID]; !ok {
		m = &market{book: domain.NewOrderBook(itemID)}
		e.markets[itemID] = m
	}
	return m
}

func (e *Exchange) existingMarket(itemID string) (*market, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[itemID]
	return m, ok
}

// lockAllMarkets 按物品 ID 升序锁住全部订单簿
func (e *Exchange) lockAllMarkets() (unlock func()) {
	e.mu.RLock()
	ids := slices.Sorted(maps.Keys(e.markets))
	ms := make([]*market, len(ids))
	for i, id := range ids {
		ms[i] = e.markets[id]
	}
	e.mu.RUnlock()

	for _, m := range ms {
		m.mu.Lock()
	}
	return func() {
		for i := len(ms) - 1; i >= 0; i-- {
			ms[i].mu.Unlock()
		}
	}
}

// Items 已有订单簿的物品
func (e *Exchange) Items() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.markets))
}
