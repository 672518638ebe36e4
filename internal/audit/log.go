// Package audit 成交审计日志：全局、按物品、按玩家三份有界日志，以及异常成交识别
package audit

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/pkg/algos"
)

const (
	DefaultLogSize = 1000
	MinLogSize     = 100
	MaxLogSize     = 10000

	// outlierMinTrades 触发价格异常检测所需的最少成交笔数
	outlierMinTrades = 5
	// outlierFactor 价格超过其余成交均价的倍数即视为异常
	outlierFactor = 10
)

// Entry 审计条目，成交结果的不可变副本
type Entry struct {
	domain.TradeResult
	LoggedAt time.Time `json:"logged_at"`
}

// Reason 异常类型
type Reason string

const (
	ReasonSelfTrade    Reason = "SELF_TRADE"
	ReasonPriceOutlier Reason = "PRICE_OUTLIER"
)

// SuspiciousTrade 可疑成交
type SuspiciousTrade struct {
	Entry       Entry  `json:"entry"`
	Reason      Reason `json:"reason"`
	ReferencePx int64  `json:"reference_price,omitempty"`
}

// PlayerTradingStats 玩家交易统计
type PlayerTradingStats struct {
	PlayerAuth    int64 `json:"player_auth"`
	BuyCount      int   `json:"buy_count"`
	SellCount     int   `json:"sell_count"`
	CoinsSpent    int64 `json:"coins_spent"`
	CoinsReceived int64 `json:"coins_received"`
	ItemsBought   int64 `json:"items_bought"`
	ItemsSold     int64 `json:"items_sold"`
}

// NetCoins 净收入
func (s PlayerTradingStats) NetCoins() int64 { return s.CoinsReceived - s.CoinsSpent }

// MarketStats 市场统计
type MarketStats struct {
	TotalTrades      int64  `json:"total_trades"`
	TotalCoins       int64  `json:"total_coins"`
	UniqueItems      int    `json:"unique_items"`
	UniquePlayers    int    `json:"unique_players"`
	MostTradedItem   string `json:"most_traded_item"`
	MostActivePlayer int64  `json:"most_active_player"`
}

// Log 审计日志
type Log struct {
	mu       sync.RWMutex
	size     int
	global   *algos.RingBuffer[Entry]
	byItem   map[string]*algos.RingBuffer[Entry]
	byPlayer map[int64]*algos.RingBuffer[Entry]
	now      func() time.Time
	logger   *slog.Logger

	totalTrades atomic.Int64
	totalCoins  atomic.Int64
}

// NewLog 创建审计日志，size 限定在 [MinLogSize, MaxLogSize]
func NewLog(size int, logger *slog.Logger) *Log {
	if size <= 0 {
		size = DefaultLogSize
	}
	size = min(max(size, MinLogSize), MaxLogSize)
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		size:     size,
		global:   algos.NewRingBuffer[Entry](size),
		byItem:   make(map[string]*algos.RingBuffer[Entry]),
		byPlayer: make(map[int64]*algos.RingBuffer[Entry]),
		now:      time.Now,
		logger:   logger.With("module", "audit"),
	}
}

// Size 每份日志的容量
func (l *Log) Size() int { return l.size }

// LogTrade 同一条目写入全局、物品、买方与卖方日志
func (l *Log) LogTrade(result *domain.TradeResult) {
	if result == nil {
		return
	}
	l.append(Entry{TradeResult: *result, LoggedAt: l.now()})
}

func (l *Log) append(e Entry) {
	l.mu.Lock()
	l.global.Push(e)
	l.itemLog(e.ItemID).Push(e)
	l.playerLog(e.BuyerAuth).Push(e)
	if e.SellerAuth != e.BuyerAuth {
		l.playerLog(e.SellerAuth).Push(e)
	}
	l.mu.Unlock()

	l.totalTrades.Add(1)
	l.totalCoins.Add(e.TotalCoins)
}

func (l *Log) itemLog(itemID string) *algos.RingBuffer[Entry] {
	r, ok := l.byItem[itemID]
	if !ok {
		r = algos.NewRingBuffer[Entry](l.size)
		l.byItem[itemID] = r
	}
	return r
}

func (l *Log) playerLog(player int64) *algos.RingBuffer[Entry] {
	r, ok := l.byPlayer[player]
	if !ok {
		r = algos.NewRingBuffer[Entry](l.size)
		l.byPlayer[player] = r
	}
	return r
}

// RecentGlobal 最近 limit 条，从新到旧；limit<=0 返回全部
func (l *Log) RecentGlobal(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.global.Latest(limit)
}

// RecentForItem 物品最近成交
func (l *Log) RecentForItem(itemID string, limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if r, ok := l.byItem[itemID]; ok {
		return r.Latest(limit)
	}
	return nil
}

// RecentForPlayer 玩家最近成交（买或卖）
func (l *Log) RecentForPlayer(player int64, limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if r, ok := l.byPlayer[player]; ok {
		return r.Latest(limit)
	}
	return nil
}

// FindSuspiciousTrades 扫描全局日志：自成交，以及成交数不少于 5 的物品中
// 价格超过该物品其余成交均价 10 倍的成交
func (l *Log) FindSuspiciousTrades() []SuspiciousTrade {
	l.mu.RLock()
	entries := l.global.Slice()
	l.mu.RUnlock()

	var out []SuspiciousTrade
	type agg struct {
		sum   int64
		count int64
	}
	perItem := make(map[string]*agg)
	for _, e := range entries {
		if e.IsSelfTrade() {
			out = append(out, SuspiciousTrade{Entry: e, Reason: ReasonSelfTrade})
		}
		a, ok := perItem[e.ItemID]
		if !ok {
			a = &agg{}
			perItem[e.ItemID] = a
		}
		a.sum += e.PricePerItem
		a.count++
	}

	for _, e := range entries {
		a := perItem[e.ItemID]
		if a.count < outlierMinTrades {
			continue
		}
		others := float64(a.sum-e.PricePerItem) / float64(a.count-1)
		if float64(e.PricePerItem) > others*outlierFactor {
			out = append(out, SuspiciousTrade{Entry: e, Reason: ReasonPriceOutlier, ReferencePx: int64(others)})
		}
	}

	if len(out) > 0 {
		l.logger.Warn("suspicious trades detected", "count", len(out))
	}
	return out
}

// PlayerStats 基于玩家日志聚合
func (l *Log) PlayerStats(player int64) PlayerTradingStats {
	l.mu.RLock()
	var entries []Entry
	if r, ok := l.byPlayer[player]; ok {
		entries = r.Slice()
	}
	l.mu.RUnlock()

	st := PlayerTradingStats{PlayerAuth: player}
	for _, e := range entries {
		if e.BuyerAuth == player {
			st.BuyCount++
			st.CoinsSpent += e.TotalCoins
			st.ItemsBought += e.Quantity
		}
		if e.SellerAuth == player {
			st.SellCount++
			st.CoinsReceived += e.SellerProceeds
			st.ItemsSold += e.Quantity
		}
	}
	return st
}

// MarketStats 全市场统计，排名基于全局日志
func (l *Log) MarketStats() MarketStats {
	l.mu.RLock()
	entries := l.global.Slice()
	items := len(l.byItem)
	players := len(l.byPlayer)
	l.mu.RUnlock()

	st := MarketStats{
		TotalTrades:    l.totalTrades.Load(),
		TotalCoins:     l.totalCoins.Load(),
		UniqueItems:    items,
		UniquePlayers:  players,
		MostTradedItem: "none",
	}

	itemVolume := make(map[string]int64)
	playerTrades := make(map[int64]int)
	for _, e := range entries {
		itemVolume[e.ItemID] += e.Quantity
		playerTrades[e.BuyerAuth]++
		if e.SellerAuth != e.BuyerAuth {
			playerTrades[e.SellerAuth]++
		}
	}
	st.MostTradedItem = topKey(itemVolume, st.MostTradedItem)
	st.MostActivePlayer = topKey(playerTrades, 0)
	return st
}

// topKey 取最大值对应的键，并列时取较小的键以保证结果稳定
func topKey[K int64 | string, V int | int64](m map[K]V, fallback K) K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	best, bestV := fallback, V(0)
	for _, k := range keys {
		if m[k] > bestV {
			best, bestV = k, m[k]
		}
	}
	return best
}

// ClearAll 清空全部日志与计数
func (l *Log) ClearAll() {
	l.mu.Lock()
	l.global.Clear()
	l.byItem = make(map[string]*algos.RingBuffer[Entry])
	l.byPlayer = make(map[int64]*algos.RingBuffer[Entry])
	l.mu.Unlock()

	l.totalTrades.Store(0)
	l.totalCoins.Store(0)
}
