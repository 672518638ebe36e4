package application

import (
	"context"
	"fmt"

	"github.com/wyfcoding/grandexchange/internal/analytics"
	"github.com/wyfcoding/grandexchange/internal/audit"
	"github.com/wyfcoding/grandexchange/internal/cooldown"
	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/internal/exchange/infrastructure/account"
	"github.com/wyfcoding/grandexchange/internal/monitoring"
	"github.com/wyfcoding/grandexchange/internal/notification"
)

// MarketDepth 物品买卖盘深度，没有订单簿时返回空深度
func (e *Exchange) MarketDepth(itemID string) domain.MarketDepth {
	m, ok := e.existingMarket(itemID)
	if !ok {
		return domain.MarketDepth{ItemID: itemID}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.MarketDepth()
}

// MarketSummary 物品行情摘要
func (e *Exchange) MarketSummary(itemID string) (analytics.MarketSummary, error) {
	if e.items != nil && !e.items.ItemExists(itemID) {
		return analytics.MarketSummary{}, fmt.Errorf("%w: %q", ErrUnknownItem, itemID)
	}
	return e.analytics.MarketSummary(itemID), nil
}

// RecentTrades 最近成交，itemID 为空时查询全局
func (e *Exchange) RecentTrades(itemID string, limit int) []audit.Entry {
	if itemID == "" {
		return e.audit.RecentGlobal(limit)
	}
	return e.audit.RecentForItem(itemID, limit)
}

// PlayerTrades 玩家最近成交
func (e *Exchange) PlayerTrades(player int64, limit int) []audit.Entry {
	return e.audit.RecentForPlayer(player, limit)
}

// PlayerStats 玩家交易统计
func (e *Exchange) PlayerStats(player int64) audit.PlayerTradingStats {
	return e.audit.PlayerStats(player)
}

// MarketStats 全市场统计
func (e *Exchange) MarketStats() audit.MarketStats {
	return e.audit.MarketStats()
}

// SuspiciousTrades 可疑成交扫描
func (e *Exchange) SuspiciousTrades() []audit.SuspiciousTrade {
	return e.audit.FindSuspiciousTrades()
}

// Notifications 玩家通知，clear 为 true 时读取后清空
func (e *Exchange) Notifications(player int64, clear bool) []notification.Notification {
	return e.notifier.Notifications(player, clear)
}

// Cooldowns 玩家各动作冷却状态
func (e *Exchange) Cooldowns(player int64) []cooldown.Status {
	return e.cooldowns.SnapshotAll(player)
}

// MarketReport 市场运行报告，未启用性能监控时返回 false
func (e *Exchange) MarketReport() (monitoring.MarketReport, bool) {
	if e.perf == nil {
		return monitoring.MarketReport{}, false
	}
	return e.perf.MarketReport(), true
}

// Account 玩家账户视图
func (e *Exchange) Account(_ context.Context, player int64) account.View {
	unlock := e.accounts.LockPlayers(player)
	defer unlock()
	return e.accounts.View(player)
}

// Watches 玩家登记中的价格提醒
func (e *Exchange) Watches(player int64) []PriceWatch {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	var out []PriceWatch
	for _, ws := range e.watchers {
		for _, w := range ws {
			if w.PlayerAuth == player {
				out = append(out, w)
			}
		}
	}
	return out
}
