package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/grandexchange/internal/audit"
	"github.com/wyfcoding/grandexchange/internal/cooldown"
	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/internal/exchange/infrastructure/account"
)

// 快照键
const (
	SnapshotKeyAccounts  = "accounts"
	SnapshotKeyCooldowns = "cooldowns"
	SnapshotKeyAudit     = "audit"
)

// 过期方向，对应 orders_expired_total 的 side 标签
const (
	sideLabelBuy  = "buy"
	sideLabelSell = "sell"
)

// ExpireOrders 处理所有超期挂单：买单退还托管，卖单未售物品进入领取箱
func (e *Exchange) ExpireOrders(ctx context.Context) ExpiryReport {
	var report ExpiryReport
	now := e.now()

	for _, o := range e.accounts.AllBuyOrders() {
		if refunded, ok := e.expireBuyOrder(ctx, o); ok {
			report.BuyOrders++
			report.CoinsRefunded += refunded
		}
	}
	for _, o := range e.accounts.AllOffers() {
		if returned, ok := e.expireSellOffer(ctx, o); ok {
			report.SellOffers++
			report.ItemsReturned += returned
		}
	}

	e.metrics.RecordExpired(sideLabelBuy, report.BuyOrders)
	e.metrics.RecordExpired(sideLabelSell, report.SellOffers)
	if report.BuyOrders+report.SellOffers > 0 {
		e.logger.InfoContext(ctx, "orders expired",
			"buy_orders", report.BuyOrders,
			"sell_offers", report.SellOffers,
			"coins_refunded", report.CoinsRefunded,
			"items_returned", report.ItemsReturned,
			"as_of", now,
		)
	}
	return report
}

func (e *Exchange) expireBuyOrder(ctx context.Context, o *domain.BuyOrder) (int64, bool) {
	m := e.market(o.ItemID)
	m.mu.Lock()
	defer m.mu.Unlock()
	unlock := e.accounts.LockPlayers(o.PlayerAuth)
	defer unlock()

	if cur, err := e.accounts.BuyOrder(o.PlayerAuth, o.SlotIndex); err != nil || cur != o {
		return 0, false
	}
	now := e.now()
	if !o.IsExpiredAt(now) {
		return 0, false
	}
	wasLive := o.State.IsLive()
	escrow := o.EscrowRequired()
	remaining := o.QuantityRemaining
	o.Expire(now)

	var refunded int64
	if wasLive {
		m.book.RemoveBuyOrder(o.OrderID)
		r, err := e.accounts.RefundEscrow(o.PlayerAuth, escrow)
		if err != nil {
			e.logger.ErrorContext(ctx, "refund expired escrow failed", "order_id", o.OrderID, "error", err)
		}
		refunded = r
		e.refreshBook(m)
	}
	e.notifier.NotifyBuyOrderExpired(o, remaining)
	return refunded, true
}

func (e *Exchange) expireSellOffer(ctx context.Context, o *domain.GEOffer) (int64, bool) {
	m := e.market(o.ItemID)
	m.mu.Lock()
	defer m.mu.Unlock()
	unlock := e.accounts.LockPlayers(o.PlayerAuth)
	defer unlock()

	if cur, err := e.accounts.Offer(o.PlayerAuth, o.SlotIndex); err != nil || cur != o {
		return 0, false
	}
	now := e.now()
	if !o.IsExpiredAt(now, e.opts.OfferTTL) {
		return 0, false
	}
	wasLive := o.State.IsLive()
	remaining := o.QuantityRemaining
	o.Expire(now)

	if wasLive {
		m.book.RemoveSellOffer(o.OfferID)
		e.refreshBook(m)
	}
	if remaining > 0 {
		if err := e.accounts.DepositItems(o.PlayerAuth, o.ItemID, remaining, sourceExpired); err != nil {
			e.logger.ErrorContext(ctx, "return expired items failed", "offer_id", o.OfferID, "error", err)
			return 0, true
		}
	}
	e.notifier.NotifyOfferExpired(o, remaining)
	return remaining, true
}

// RunMaintenance 一轮维护：过期处理、订单簿整理、各模块清理，配置了快照存储时保存快照
func (e *Exchange) RunMaintenance(ctx context.Context) MaintenanceReport {
	start := e.now()
	report := MaintenanceReport{Expired: e.ExpireOrders(ctx)}

	e.mu.RLock()
	markets := make([]*market, 0, len(e.markets))
	for _, m := range e.markets {
		markets = append(markets, m)
	}
	e.mu.RUnlock()
	for _, m := range markets {
		m.mu.Lock()
		report.BookEntriesPurged += m.book.Rebuild()
		e.refreshBook(m)
		m.mu.Unlock()
	}

	report.CooldownsEvicted = e.cooldowns.Cleanup()
	report.PriceRangesEvicted = e.analytics.Cleanup()
	report.NotificationsEvicted = e.notifier.Cleanup()
	report.WatchesExpired = e.pruneWatches(start)
	if e.perf != nil {
		report.TradeEventsEvicted = e.perf.Cleanup()
	}

	if e.snapshotDue(start) {
		if err := e.SaveSnapshot(ctx); err != nil {
			e.logger.ErrorContext(ctx, "snapshot save failed", "error", err)
		} else {
			report.SnapshotSaved = true
		}
	}

	report.Duration = e.now().Sub(start)
	e.logger.DebugContext(ctx, "maintenance finished",
		"expired", report.Expired.BuyOrders+report.Expired.SellOffers,
		"purged", report.BookEntriesPurged,
		"cooldowns", report.CooldownsEvicted,
		"price_ranges", report.PriceRangesEvicted,
		"notifications", report.NotificationsEvicted,
		"watches", report.WatchesExpired,
		"duration", report.Duration,
	)
	return report
}

func (e *Exchange) snapshotDue(now time.Time) bool {
	if e.snapshots == nil {
		return false
	}
	last := e.lastSnapshot.Load()
	return last == 0 || now.Sub(time.Unix(0, last)) >= e.opts.SnapshotInterval
}

// SaveSnapshot 持久化账户、冷却与审计状态
// 导出期间持有全部物品锁，保证没有进行中的撮合
func (e *Exchange) SaveSnapshot(ctx context.Context) error {
	if e.snapshots == nil {
		return errors.New("snapshot store not configured")
	}

	unlock := e.lockAllMarkets()
	accounts := e.accounts.Export()
	unlock()

	blobs := map[string]any{
		SnapshotKeyAccounts:  accounts,
		SnapshotKeyCooldowns: e.cooldowns.Export(),
		SnapshotKeyAudit:     e.audit.Export(),
	}
	for _, key := range []string{SnapshotKeyAccounts, SnapshotKeyCooldowns, SnapshotKeyAudit} {
		data, err := json.Marshal(blobs[key])
		if err != nil {
			return fmt.Errorf("marshal %s snapshot: %w", key, err)
		}
		if err := e.snapshots.Save(ctx, key, data); err != nil {
			return fmt.Errorf("save %s snapshot: %w", key, err)
		}
	}
	e.lastSnapshot.Store(e.now().UnixNano())
	e.logger.InfoContext(ctx, "snapshot saved", "accounts", len(accounts.Accounts))
	return nil
}

// RestoreSnapshot 从快照恢复状态并重建订单簿，快照不存在时保持空状态
// 须在对外提供服务之前调用
func (e *Exchange) RestoreSnapshot(ctx context.Context) error {
	if e.snapshots == nil {
		return errors.New("snapshot store not configured")
	}

	var accounts account.State
	found, err := e.loadBlob(ctx, SnapshotKeyAccounts, &accounts)
	if err != nil {
		return err
	}
	var cooldowns cooldown.State
	if _, err := e.loadBlob(ctx, SnapshotKeyCooldowns, &cooldowns); err != nil {
		return err
	}
	var trades audit.State
	if _, err := e.loadBlob(ctx, SnapshotKeyAudit, &trades); err != nil {
		return err
	}

	if found {
		e.accounts.Restore(accounts)
		e.rebuildMarkets()
	}
	e.cooldowns.Restore(cooldowns)
	e.audit.Restore(trades)
	for _, entry := range trades.Entries {
		e.analytics.RecordTrade(&entry.TradeResult)
	}

	e.logger.InfoContext(ctx, "snapshot restored", "accounts", len(accounts.Accounts), "trades", len(trades.Entries))
	return nil
}

func (e *Exchange) loadBlob(ctx context.Context, key string, dst any) (bool, error) {
	data, err := e.snapshots.Load(ctx, key)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s snapshot: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s snapshot: %w", key, err)
	}
	return true, nil
}

// rebuildMarkets 丢弃现有订单簿，按账户槽位中的可撮合挂单重建
func (e *Exchange) rebuildMarkets() {
	markets := make(map[string]*market)
	get := func(itemID string) *market {
		m, ok := markets[itemID]
		if !ok {
			m = &market{book: domain.NewOrderBook(itemID)}
			markets[itemID] = m
		}
		return m
	}
	for _, o := range e.accounts.AllBuyOrders() {
		if o.CanMatch() {
			_ = get(o.ItemID).book.AddBuyOrder(o)
		}
	}
	for _, o := range e.accounts.AllOffers() {
		if o.CanMatch() {
			_ = get(o.ItemID).book.AddSellOffer(o)
		}
	}

	e.mu.Lock()
	e.markets = markets
	e.mu.Unlock()
	for _, m := range markets {
		e.refreshBook(m)
	}
}
