// Package monitoring 交易所运行指标：成交速率、执行耗时、资金流速与市场健康度
package monitoring

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/grandexchange/pkg/algos"
)

const (
	MaxTradeEvents     = 1000
	MaxDurationSamples = 100
	EventRetention     = 24 * time.Hour
)

type tradeEvent struct {
	at       time.Time
	itemID   string
	quantity int64
	price    int64
}

// ItemMetrics 单个物品的累计指标
type ItemMetrics struct {
	ItemID           string `json:"item_id"`
	TradeCount       int64  `json:"trade_count"`
	TotalVolume      int64  `json:"total_volume"`
	TotalValue       int64  `json:"total_value"`
	ActiveBuyOrders  int    `json:"active_buy_orders"`
	ActiveSellOffers int    `json:"active_sell_offers"`
}

// AveragePrice 累计成交均价
func (m ItemMetrics) AveragePrice() float64 {
	if m.TotalVolume == 0 {
		return 0
	}
	return float64(m.TotalValue) / float64(m.TotalVolume)
}

// MarketReport 市场运行报告
type MarketReport struct {
	TotalTrades      int64         `json:"total_trades"`
	TotalCoins       int64         `json:"total_coins"`
	TradesPerMinute  float64       `json:"trades_per_minute"`
	TradesPerHour    float64       `json:"trades_per_hour"`
	AvgExecutionTime time.Duration `json:"avg_execution_time"`
	CoinVelocity     float64       `json:"coin_velocity"`
	MarketHealth     int           `json:"market_health"`
	ActiveItems      int           `json:"active_items"`
	Uptime           time.Duration `json:"uptime"`
}

func (r MarketReport) String() string {
	return fmt.Sprintf("Market Report: trades=%d coins=%d trades/min=%.2f trades/hour=%.2f avg_exec=%s velocity=%.0f/hr health=%d/100 items=%d uptime=%dh",
		r.TotalTrades, r.TotalCoins, r.TradesPerMinute, r.TradesPerHour, r.AvgExecutionTime,
		r.CoinVelocity, r.MarketHealth, r.ActiveItems, int64(r.Uptime/time.Hour))
}

// Option 可选配置
type Option func(*PerformanceMetrics)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(p *PerformanceMetrics) { p.now = now }
}

// PerformanceMetrics 性能指标
type PerformanceMetrics struct {
	mu        sync.RWMutex
	events    *algos.RingBuffer[tradeEvent]
	durations *algos.RingBuffer[time.Duration]
	items     map[string]*ItemMetrics

	totalTrades int64
	totalCoins  int64
	startedAt   time.Time
	now         func() time.Time
	logger      *slog.Logger
}

// NewPerformanceMetrics 创建性能指标
func NewPerformanceMetrics(logger *slog.Logger, opts ...Option) *PerformanceMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	p := &PerformanceMetrics{
		events:    algos.NewRingBuffer[tradeEvent](MaxTradeEvents),
		durations: algos.NewRingBuffer[time.Duration](MaxDurationSamples),
		items:     make(map[string]*ItemMetrics),
		now:       time.Now,
		logger:    logger.With("module", "monitoring"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.startedAt = p.now()
	return p
}

func (p *PerformanceMetrics) item(itemID string) *ItemMetrics {
	m, ok := p.items[itemID]
	if !ok {
		m = &ItemMetrics{ItemID: itemID}
		p.items[itemID] = m
	}
	return m
}

// RecordTrade 记录一笔成交及其结算耗时
func (p *PerformanceMetrics) RecordTrade(itemID string, quantity, price int64, exec time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events.Push(tradeEvent{at: p.now(), itemID: itemID, quantity: quantity, price: price})
	m := p.item(itemID)
	m.TradeCount++
	m.TotalVolume += quantity
	m.TotalValue += quantity * price
	p.totalTrades++
	p.totalCoins += quantity * price
	p.durations.Push(exec)
}

// RecordActiveOffers 更新物品当前挂单数
func (p *PerformanceMetrics) RecordActiveOffers(itemID string, buyOrders, sellOffers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.item(itemID)
	m.ActiveBuyOrders = buyOrders
	m.ActiveSellOffers = sellOffers
}

func (p *PerformanceMetrics) since(d time.Duration) (count int64, coins int64) {
	cutoff := p.now().Add(-d)
	for _, e := range p.events.Slice() {
		if !e.at.Before(cutoff) {
			count++
			coins += e.quantity * e.price
		}
	}
	return count, coins
}

// TradesPerMinute 最近一小时的平均每分钟成交数
func (p *PerformanceMetrics) TradesPerMinute() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, _ := p.since(time.Hour)
	return float64(n) / 60
}

// TradesPerHour 最近一天的平均每小时成交数
func (p *PerformanceMetrics) TradesPerHour() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, _ := p.since(24 * time.Hour)
	return float64(n) / 24
}

// CoinVelocity 最近一小时的成交金额
func (p *PerformanceMetrics) CoinVelocity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, coins := p.since(time.Hour)
	return float64(coins)
}

// AverageExecutionTime 最近样本的平均结算耗时
func (p *PerformanceMetrics) AverageExecutionTime() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := p.durations.Len()
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range p.durations.Slice() {
		sum += d
	}
	return sum / time.Duration(n)
}

// MedianExecutionTime 最近样本排序后下标 n/2 处的耗时
func (p *PerformanceMetrics) MedianExecutionTime() time.Duration {
	p.mu.RLock()
	sorted := p.durations.Slice()
	p.mu.RUnlock()
	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}

// MarketHealthScore 0-100 的健康度：成交速率最多 40 分，资金流速最多 30 分，物品多样性最多 30 分
func (p *PerformanceMetrics) MarketHealthScore() int {
	tpm := p.TradesPerMinute()
	velocity := p.CoinVelocity()
	p.mu.RLock()
	items := len(p.items)
	p.mu.RUnlock()
	return healthScore(tpm, velocity, items)
}

func healthScore(tpm, velocity float64, items int) int {
	trade := min(tpm*10, 40)
	vel := min(velocity/10000, 30)
	diversity := min(float64(items*2), 30)
	return int(trade + vel + diversity)
}

// ItemMetrics 物品指标副本
func (p *PerformanceMetrics) ItemMetrics(itemID string) (ItemMetrics, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.items[itemID]
	if !ok {
		return ItemMetrics{}, false
	}
	return *m, true
}

// TopTradedItems 按累计成交量降序的前 limit 个物品
func (p *PerformanceMetrics) TopTradedItems(limit int) []string {
	p.mu.RLock()
	all := make([]ItemMetrics, 0, len(p.items))
	for _, m := range p.items {
		all = append(all, *m)
	}
	p.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].TotalVolume != all[j].TotalVolume {
			return all[i].TotalVolume > all[j].TotalVolume
		}
		return all[i].ItemID < all[j].ItemID
	})
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]string, len(all))
	for i, m := range all {
		out[i] = m.ItemID
	}
	return out
}

// MarketReport 汇总报告
func (p *PerformanceMetrics) MarketReport() MarketReport {
	r := MarketReport{
		TradesPerMinute:  p.TradesPerMinute(),
		TradesPerHour:    p.TradesPerHour(),
		AvgExecutionTime: p.AverageExecutionTime(),
		CoinVelocity:     p.CoinVelocity(),
	}
	p.mu.RLock()
	r.TotalTrades = p.totalTrades
	r.TotalCoins = p.totalCoins
	r.ActiveItems = len(p.items)
	r.Uptime = p.now().Sub(p.startedAt)
	p.mu.RUnlock()
	r.MarketHealth = healthScore(r.TradesPerMinute, r.CoinVelocity, r.ActiveItems)
	return r
}

// Cleanup 删除 24 小时前的成交事件
func (p *PerformanceMetrics) Cleanup() int {
	p.mu.Lock()
	cutoff := p.now().Add(-EventRetention)
	removed := p.events.Retain(func(e tradeEvent) bool { return !e.at.Before(cutoff) })
	p.mu.Unlock()
	if removed > 0 {
		p.logger.Debug("old trade events removed", "count", removed)
	}
	return removed
}
