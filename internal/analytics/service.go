// Package analytics 市场分析：指导价、成交量加权均价、24 小时高低价与波动率
package analytics

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/pkg/algos"
)

// DefaultHistorySize 每个物品保留的成交记录数
const DefaultHistorySize = 100

// RangeWindow 24 小时价格区间窗口
const RangeWindow = 24 * time.Hour

// TradeRecord 一条成交记录
type TradeRecord struct {
	Price     int64     `json:"price"`
	Quantity  int64     `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceRange 滚动 24 小时高低价
type PriceRange struct {
	High       int64     `json:"high"`
	Low        int64     `json:"low"`
	LastUpdate time.Time `json:"last_update"`
}

// Spread 高低价差
func (r PriceRange) Spread() int64 { return r.High - r.Low }

// Valid 是否已有成交
func (r PriceRange) Valid() bool { return !r.LastUpdate.IsZero() }

func (r *PriceRange) update(price int64, at, now time.Time) {
	if !r.Valid() || now.Sub(r.LastUpdate) > RangeWindow {
		r.High, r.Low = price, price
	} else {
		r.High = max(r.High, price)
		r.Low = min(r.Low, price)
	}
	r.LastUpdate = at
}

// MarketSummary 物品市场概要
type MarketSummary struct {
	ItemID       string  `json:"item_id"`
	GuidePrice   int64   `json:"guide_price"`
	VWAP         int64   `json:"vwap"`
	AveragePrice int64   `json:"average_price"`
	High24h      int64   `json:"high_24h"`
	Low24h       int64   `json:"low_24h"`
	TradeVolume  int64   `json:"trade_volume"`
	TradeCount   int     `json:"trade_count"`
	Volatility   float64 `json:"volatility"`
}

// Spread24h 24 小时价差
func (s MarketSummary) Spread24h() int64 { return s.High24h - s.Low24h }

// HasTradeHistory 是否有成交记录
func (s MarketSummary) HasTradeHistory() bool { return s.TradeCount > 0 }

func (s MarketSummary) String() string {
	return fmt.Sprintf("Market[%s: guide=%d, vwap=%d, 24h=%d-%d, vol=%d, trades=%d]",
		s.ItemID, s.GuidePrice, s.VWAP, s.Low24h, s.High24h, s.TradeVolume, s.TradeCount)
}

// Stats 全局统计
type Stats struct {
	TotalTrades  int64 `json:"total_trades"`
	TotalValue   int64 `json:"total_value"`
	TrackedItems int   `json:"tracked_items"`
}

// Option 可选配置
type Option func(*Service)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service 市场分析服务
type Service struct {
	mu          sync.RWMutex
	historySize int
	history     map[string]*algos.RingBuffer[TradeRecord]
	ranges      map[string]*PriceRange
	totalTrades int64
	totalValue  int64
	now         func() time.Time
	logger      *slog.Logger
}

// NewService 创建分析服务
func NewService(historySize int, logger *slog.Logger, opts ...Option) *Service {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		historySize: historySize,
		history:     make(map[string]*algos.RingBuffer[TradeRecord]),
		ranges:      make(map[string]*PriceRange),
		now:         time.Now,
		logger:      logger.With("module", "analytics"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordTrade 记录一笔成交
func (s *Service) RecordTrade(t *domain.TradeResult) {
	if t == nil {
		return
	}
	s.mu.Lock()
	h, ok := s.history[t.ItemID]
	if !ok {
		h = algos.NewRingBuffer[TradeRecord](s.historySize)
		s.history[t.ItemID] = h
	}
	h.Push(TradeRecord{Price: t.PricePerItem, Quantity: t.Quantity, Timestamp: t.ExecutedAt})

	r, ok := s.ranges[t.ItemID]
	if !ok {
		r = &PriceRange{}
		s.ranges[t.ItemID] = r
	}
	r.update(t.PricePerItem, t.ExecutedAt, s.now())

	s.totalTrades++
	s.totalValue += t.PricePerItem * t.Quantity
	total := s.totalTrades
	s.mu.Unlock()

	s.logger.Debug("trade recorded", "item_id", t.ItemID, "quantity", t.Quantity, "price", t.PricePerItem, "total_trades", total)
}

func (s *Service) records(itemID string) []TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.history[itemID]; ok {
		return h.Slice()
	}
	return nil
}

// TradeHistory 成交记录副本，从旧到新
func (s *Service) TradeHistory(itemID string) []TradeRecord { return s.records(itemID) }

// GuidePrice 最近成交价中位数，偶数个时取中间两个的整数平均
func (s *Service) GuidePrice(itemID string) int64 { return guidePrice(s.records(itemID)) }

func guidePrice(recs []TradeRecord) int64 {
	n := len(recs)
	if n == 0 {
		return 0
	}
	prices := make([]int64, n)
	for i, r := range recs {
		prices[i] = r.Price
	}
	slices.Sort(prices)
	if n%2 == 0 {
		return (prices[n/2-1] + prices[n/2]) / 2
	}
	return prices[n/2]
}

// VWAP 成交量加权均价 Σ(p·q)/Σq，向下取整
func (s *Service) VWAP(itemID string) int64 { return vwap(s.records(itemID)) }

func vwap(recs []TradeRecord) int64 {
	value, volume := decimal.Zero, decimal.Zero
	for _, r := range recs {
		q := decimal.NewFromInt(r.Quantity)
		value = value.Add(decimal.NewFromInt(r.Price).Mul(q))
		volume = volume.Add(q)
	}
	if !volume.IsPositive() {
		return 0
	}
	return value.Div(volume).Floor().IntPart()
}

// AveragePrice 成交价算术平均
func (s *Service) AveragePrice(itemID string) int64 { return averagePrice(s.records(itemID)) }

func averagePrice(recs []TradeRecord) int64 {
	if len(recs) == 0 {
		return 0
	}
	var sum int64
	for _, r := range recs {
		sum += r.Price
	}
	return sum / int64(len(recs))
}

// PriceVolatility 成交价总体标准差，少于两笔时为 0
func (s *Service) PriceVolatility(itemID string) float64 { return volatility(s.records(itemID)) }

func volatility(recs []TradeRecord) float64 {
	n := len(recs)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, r := range recs {
		mean += float64(r.Price)
	}
	mean /= float64(n)
	var variance float64
	for _, r := range recs {
		d := float64(r.Price) - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(n))
}

// TradeVolume 历史窗口内的成交数量
func (s *Service) TradeVolume(itemID string) int64 {
	var v int64
	for _, r := range s.records(itemID) {
		v += r.Quantity
	}
	return v
}

// TradeCount 历史窗口内的成交笔数
func (s *Service) TradeCount(itemID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.history[itemID]; ok {
		return h.Len()
	}
	return 0
}

// Range24h 24 小时价格区间，无记录时为零值
func (s *Service) Range24h(itemID string) PriceRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.ranges[itemID]; ok {
		return *r
	}
	return PriceRange{}
}

func (s *Service) High24h(itemID string) int64 { return s.Range24h(itemID).High }
func (s *Service) Low24h(itemID string) int64 { return s.Range24h(itemID).Low }
func (s *Service) Spread24h(itemID string) int64 { return s.Range24h(itemID).Spread() }

// MarketSummary 汇总物品的各项指标
func (s *Service) MarketSummary(itemID string) MarketSummary {
	recs := s.records(itemID)
	rng := s.Range24h(itemID)
	var volume int64
	for _, r := range recs {
		volume += r.Quantity
	}
	return MarketSummary{
		ItemID:       itemID,
		GuidePrice:   guidePrice(recs),
		VWAP:         vwap(recs),
		AveragePrice: averagePrice(recs),
		High24h:      rng.High,
		Low24h:       rng.Low,
		TradeVolume:  volume,
		TradeCount:   len(recs),
		Volatility:   volatility(recs),
	}
}

// Cleanup 清除 24 小时内无更新的价格区间
func (s *Service) Cleanup() int {
	cutoff := s.now().Add(-RangeWindow)
	removed := 0
	s.mu.Lock()
	for item, r := range s.ranges {
		if r.LastUpdate.Before(cutoff) {
			delete(s.ranges, item)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		s.logger.Debug("expired 24h price ranges removed", "count", removed)
	}
	return removed
}

// Stats 全局统计
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{TotalTrades: s.totalTrades, TotalValue: s.totalValue, TrackedItems: len(s.history)}
}
