package application

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/grandexchange/internal/cooldown"
	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
)

// 领取箱入账来源
const (
	sourceCancelled = "cancelled"
	sourceCleared   = "cleared"
	sourceExpired   = "expired"
)

func (e *Exchange) checkCooldown(a cooldown.Action, player int64) error {
	if err := e.cooldowns.Check(a, player); err != nil {
		e.metrics.RecordCooldownDenial(string(a))
		return err
	}
	return nil
}

func (e *Exchange) validateListing(itemID string, quantity, price int64) error {
	if e.items != nil && !e.items.ItemExists(itemID) {
		return fmt.Errorf("%w: %q", ErrUnknownItem, itemID)
	}
	if quantity < 1 || quantity > e.opts.MaxQuantity {
		return fmt.Errorf("%w: %d (1-%d)", ErrQuantityOutOfRange, quantity, e.opts.MaxQuantity)
	}
	if price < e.opts.MinPrice || price > e.opts.MaxPrice {
		return fmt.Errorf("%w: %d (%d-%d)", ErrPriceOutOfRange, price, e.opts.MinPrice, e.opts.MaxPrice)
	}
	return nil
}

// CreateBuyOrder 在空槽位创建草稿买单，激活前不托管金币
func (e *Exchange) CreateBuyOrder(ctx context.Context, cmd CreateBuyOrderCommand) (*domain.BuyOrder, error) {
	if err := e.checkCooldown(cooldown.ActionBuyCreate, cmd.PlayerAuth); err != nil {
		return nil, err
	}
	if err := e.validateListing(cmd.ItemID, cmd.Quantity, cmd.PricePerItem); err != nil {
		return nil, err
	}
	days := cmd.Days
	if days == 0 {
		days = e.opts.DefaultBuyOrderDays
	}
	if days < 1 || days > e.opts.MaxBuyOrderDays {
		return nil, fmt.Errorf("%w: %d days (1-%d)", ErrDurationOutOfRange, days, e.opts.MaxBuyOrderDays)
	}

	order, err := domain.NewBuyOrder(e.ids.Generate(), cmd.PlayerAuth, cmd.Slot, cmd.ItemID, cmd.Quantity, cmd.PricePerItem, days, e.now())
	if err != nil {
		return nil, err
	}

	unlock := e.accounts.LockPlayers(cmd.PlayerAuth)
	err = e.accounts.PlaceBuyOrder(order)
	out := *order
	unlock()
	if err != nil {
		return nil, err
	}

	e.cooldowns.Record(cooldown.ActionBuyCreate, cmd.PlayerAuth)
	e.logger.InfoContext(ctx, "buy order created",
		"order_id", out.OrderID,
		"player", out.PlayerAuth,
		"slot", out.SlotIndex,
		"item_id", out.ItemID,
		"quantity", out.QuantityTotal,
		"price", out.PricePerItem,
		"days", out.ExpirationDays,
	)
	return &out, nil
}

// CreateSellOffer 从库存取出物品放入空槽位，创建草稿卖单
func (e *Exchange) CreateSellOffer(ctx context.Context, cmd CreateSellOfferCommand) (*domain.GEOffer, error) {
	if err := e.checkCooldown(cooldown.ActionSellCreate, cmd.PlayerAuth); err != nil {
		return nil, err
	}
	if err := e.validateListing(cmd.ItemID, cmd.Quantity, cmd.PricePerItem); err != nil {
		return nil, err
	}

	offer, err := domain.NewGEOffer(e.ids.Generate(), cmd.PlayerAuth, cmd.Slot, cmd.ItemID, cmd.Quantity, cmd.PricePerItem, e.now())
	if err != nil {
		return nil, err
	}

	unlock := e.accounts.LockPlayers(cmd.PlayerAuth)
	err = e.accounts.PlaceOffer(offer)
	if err == nil {
		if err = e.accounts.TakeInventory(cmd.PlayerAuth, cmd.ItemID, cmd.Quantity); err != nil {
			_, _ = e.accounts.ClearOfferSlot(cmd.PlayerAuth, cmd.Slot)
		}
	}
	out := *offer
	unlock()
	if err != nil {
		return nil, err
	}

	e.cooldowns.Record(cooldown.ActionSellCreate, cmd.PlayerAuth)
	e.logger.InfoContext(ctx, "sell offer created",
		"offer_id", out.OfferID,
		"player", out.PlayerAuth,
		"slot", out.SlotIndex,
		"item_id", out.ItemID,
		"quantity", out.QuantityTotal,
		"price", out.PricePerItem,
	)
	return &out, nil
}

// EnableBuyOrder 托管 剩余数量×单价 的金币，买单入簿并立即撮合
func (e *Exchange) EnableBuyOrder(ctx context.Context, player int64, slot int) (MatchReport, error) {
	if err := e.checkCooldown(cooldown.ActionBuyToggle, player); err != nil {
		return MatchReport{}, err
	}
	order, err := e.accounts.BuyOrder(player, slot)
	if err != nil {
		return MatchReport{}, err
	}

	m := e.market(order.ItemID)
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := e.activateBuyOrder(m, order); err != nil {
		return MatchReport{}, err
	}
	e.cooldowns.Record(cooldown.ActionBuyToggle, player)
	e.logger.InfoContext(ctx, "buy order enabled", "order_id", order.OrderID, "item_id", order.ItemID, "escrow", order.EscrowRequired())

	var report MatchReport
	for _, match := range m.book.FindMatchesForBuyOrder(order) {
		e.settle(ctx, m, match, &report)
	}
	out := *order
	report.BuyOrder = &out
	e.refreshBook(m)
	return report, nil
}

func (e *Exchange) activateBuyOrder(m *market, order *domain.BuyOrder) error {
	unlock := e.accounts.LockPlayers(order.PlayerAuth)
	defer unlock()

	if cur, err := e.accounts.BuyOrder(order.PlayerAuth, order.SlotIndex); err != nil || cur != order {
		return ErrSlotChanged
	}
	now := e.now()
	if order.IsExpiredAt(now) {
		return ErrOrderExpired
	}
	if order.State != domain.StateDraft {
		return fmt.Errorf("%w: cannot enable from %s", domain.ErrInvalidState, order.State)
	}
	escrow := order.EscrowRequired()
	if err := e.accounts.FreezeToEscrow(order.PlayerAuth, escrow); err != nil {
		return err
	}
	if err := order.Enable(now); err != nil {
		_, _ = e.accounts.RefundEscrow(order.PlayerAuth, escrow)
		return err
	}
	if err := m.book.AddBuyOrder(order); err != nil {
		_ = order.Disable(now)
		_, _ = e.accounts.RefundEscrow(order.PlayerAuth, escrow)
		return err
	}
	return nil
}

// DisableBuyOrder 买单出簿回到草稿，退还剩余托管金币
func (e *Exchange) DisableBuyOrder(ctx context.Context, player int64, slot int) (MatchReport, error) {
	if err := e.checkCooldown(cooldown.ActionBuyToggle, player); err != nil {
		return MatchReport{}, err
	}
	report, err := e.withdrawBuyOrder(ctx, player, slot, func(o *domain.BuyOrder) error {
		return o.Disable(e.now())
	})
	if err != nil {
		return report, err
	}
	e.cooldowns.Record(cooldown.ActionBuyToggle, player)
	return report, nil
}

// CancelBuyOrder 买单终止为 CANCELLED，退还剩余托管金币
func (e *Exchange) CancelBuyOrder(ctx context.Context, player int64, slot int) (MatchReport, error) {
	if err := e.checkCooldown(cooldown.ActionBuyToggle, player); err != nil {
		return MatchReport{}, err
	}
	report, err := e.withdrawBuyOrder(ctx, player, slot, func(o *domain.BuyOrder) error {
		if !o.Cancel(e.now()) {
			return fmt.Errorf("%w: cannot cancel from %s", domain.ErrInvalidState, o.State)
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	e.cooldowns.Record(cooldown.ActionBuyToggle, player)
	return report, nil
}

// withdrawBuyOrder 在物品锁与玩家锁内执行状态变更，原为活跃状态时出簿并退还托管
func (e *Exchange) withdrawBuyOrder(ctx context.Context, player int64, slot int, transition func(*domain.BuyOrder) error) (MatchReport, error) {
	order, err := e.accounts.BuyOrder(player, slot)
	if err != nil {
		return MatchReport{}, err
	}

	m := e.market(order.ItemID)
	m.mu.Lock()
	defer m.mu.Unlock()
	unlock := e.accounts.LockPlayers(player)
	defer unlock()

	if cur, err := e.accounts.BuyOrder(player, slot); err != nil || cur != order {
		return MatchReport{}, ErrSlotChanged
	}
	wasLive := order.State.IsLive()
	escrow := order.EscrowRequired()
	if err := transition(order); err != nil {
		return MatchReport{}, err
	}

	var report MatchReport
	if wasLive {
		m.book.RemoveBuyOrder(order.OrderID)
		refunded, err := e.accounts.RefundEscrow(player, escrow)
		if err != nil {
			return MatchReport{}, err
		}
		report.Refunded = refunded
		if refunded < escrow {
			e.logger.WarnContext(ctx, "escrow shortfall on refund", "order_id", order.OrderID, "expected", escrow, "refunded", refunded)
		}
	}
	out := *order
	report.BuyOrder = &out
	e.refreshBook(m)
	e.logger.InfoContext(ctx, "buy order withdrawn", "order_id", order.OrderID, "state", order.State, "refunded", report.Refunded)
	return report, nil
}

// EnableSellOffer 卖单上架并立即撮合
func (e *Exchange) EnableSellOffer(ctx context.Context, player int64, slot int) (MatchReport, error) {
	if err := e.checkCooldown(cooldown.ActionSellToggle, player); err != nil {
		return MatchReport{}, err
	}
	offer, err := e.accounts.Offer(player, slot)
	if err != nil {
		return MatchReport{}, err
	}

	m := e.market(offer.ItemID)
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := e.activateSellOffer(m, offer); err != nil {
		return MatchReport{}, err
	}
	e.cooldowns.Record(cooldown.ActionSellToggle, player)
	e.logger.InfoContext(ctx, "sell offer enabled", "offer_id", offer.OfferID, "item_id", offer.ItemID)

	var report MatchReport
	for _, match := range m.book.FindMatchesForSellOffer(offer) {
		e.settle(ctx, m, match, &report)
	}
	out := *offer
	report.SellOffer = &out
	e.refreshBook(m)
	return report, nil
}

func (e *Exchange) activateSellOffer(m *market, offer *domain.GEOffer) error {
	unlock := e.accounts.LockPlayers(offer.PlayerAuth)
	defer unlock()

	if cur, err := e.accounts.Offer(offer.PlayerAuth, offer.SlotIndex); err != nil || cur != offer {
		return ErrSlotChanged
	}
	now := e.now()
	if offer.IsExpiredAt(now, e.opts.OfferTTL) {
		return ErrOrderExpired
	}
	if err := offer.Enable(now); err != nil {
		return err
	}
	if err := m.book.AddSellOffer(offer); err != nil {
		_ = offer.Disable(now)
		return err
	}
	return nil
}

// DisableSellOffer 卖单下架回到草稿，物品仍留在挂单中
func (e *Exchange) DisableSellOffer(ctx context.Context, player int64, slot int) (MatchReport, error) {
	if err := e.checkCooldown(cooldown.ActionSellToggle, player); err != nil {
		return MatchReport{}, err
	}
	report, err := e.withdrawSellOffer(ctx, player, slot, func(o *domain.GEOffer) error {
		return o.Disable(e.now())
	})
	if err != nil {
		return report, err
	}
	e.cooldowns.Record(cooldown.ActionSellToggle, player)
	return report, nil
}

// CancelSellOffer 卖单终止为 CANCELLED，未售出的物品放入领取箱
func (e *Exchange) CancelSellOffer(ctx context.Context, player int64, slot int) (MatchReport, error) {
	if err := e.checkCooldown(cooldown.ActionSellToggle, player); err != nil {
		return MatchReport{}, err
	}
	report, err := e.withdrawSellOffer(ctx, player, slot, func(o *domain.GEOffer) error {
		remaining := o.QuantityRemaining
		if !o.Cancel(e.now()) {
			return fmt.Errorf("%w: cannot cancel from %s", domain.ErrInvalidState, o.State)
		}
		if remaining > 0 {
			return e.accounts.DepositItems(o.PlayerAuth, o.ItemID, remaining, sourceCancelled)
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	e.cooldowns.Record(cooldown.ActionSellToggle, player)
	return report, nil
}

func (e *Exchange) withdrawSellOffer(ctx context.Context, player int64, slot int, transition func(*domain.GEOffer) error) (MatchReport, error) {
	offer, err := e.accounts.Offer(player, slot)
	if err != nil {
		return MatchReport{}, err
	}

	m := e.market(offer.ItemID)
	m.mu.Lock()
	defer m.mu.Unlock()
	unlock := e.accounts.LockPlayers(player)
	defer unlock()

	if cur, err := e.accounts.Offer(player, slot); err != nil || cur != offer {
		return MatchReport{}, ErrSlotChanged
	}
	wasLive := offer.State.IsLive()
	if err := transition(offer); err != nil {
		return MatchReport{}, err
	}
	if wasLive {
		m.book.RemoveSellOffer(offer.OfferID)
	}
	out := *offer
	e.refreshBook(m)
	e.logger.InfoContext(ctx, "sell offer withdrawn", "offer_id", offer.OfferID, "state", offer.State)
	return MatchReport{SellOffer: &out}, nil
}

// ClearSlot 释放槽位；活跃挂单须先停用或取消，草稿卖单的物品放回领取箱
func (e *Exchange) ClearSlot(ctx context.Context, player int64, side Side, slot int) (MatchReport, error) {
	unlock := e.accounts.LockPlayers(player)
	defer unlock()

	switch side {
	case SideBuy:
		order, err := e.accounts.BuyOrder(player, slot)
		if err != nil {
			return MatchReport{}, err
		}
		if order.State.IsLive() {
			return MatchReport{}, ErrOrderLive
		}
		if _, err := e.accounts.ClearBuySlot(player, slot); err != nil {
			return MatchReport{}, err
		}
		out := *order
		e.logger.InfoContext(ctx, "buy slot cleared", "player", player, "slot", slot, "state", out.State)
		return MatchReport{BuyOrder: &out}, nil

	case SideSell:
		offer, err := e.accounts.Offer(player, slot)
		if err != nil {
			return MatchReport{}, err
		}
		if offer.State.IsLive() {
			return MatchReport{}, ErrOrderLive
		}
		if offer.State == domain.StateDraft && offer.QuantityRemaining > 0 {
			if err := e.accounts.DepositItems(player, offer.ItemID, offer.QuantityRemaining, sourceCleared); err != nil {
				return MatchReport{}, err
			}
		}
		if _, err := e.accounts.ClearOfferSlot(player, slot); err != nil {
			return MatchReport{}, err
		}
		out := *offer
		e.logger.InfoContext(ctx, "offer slot cleared", "player", player, "slot", slot, "state", out.State)
		return MatchReport{SellOffer: &out}, nil
	}
	return MatchReport{}, fmt.Errorf("unknown side %q", side)
}

// CollectItems 领取箱 → 库存，itemID 为空时领取全部
func (e *Exchange) CollectItems(ctx context.Context, player int64, itemID string) map[string]int64 {
	unlock := e.accounts.LockPlayers(player)
	defer unlock()
	out := e.accounts.Collect(player, itemID)
	if len(out) > 0 {
		e.logger.DebugContext(ctx, "items collected", "player", player, "items", out)
	}
	return out
}

// Deposit 向玩家银行与库存注资，用于管理与测试；任一项失败时整体撤销
func (e *Exchange) Deposit(ctx context.Context, cmd DepositCommand) error {
	if cmd.Coins < 0 {
		return fmt.Errorf("%w: coins %d", ErrQuantityOutOfRange, cmd.Coins)
	}
	for item, qty := range cmd.Items {
		if qty <= 0 {
			return fmt.Errorf("%w: %s x%d", ErrQuantityOutOfRange, item, qty)
		}
		if e.items != nil && !e.items.ItemExists(item) {
			return fmt.Errorf("%w: %q", ErrUnknownItem, item)
		}
	}

	unlock := e.accounts.LockPlayers(cmd.PlayerAuth)
	defer unlock()
	if cmd.Coins > 0 {
		if err := e.accounts.DepositBank(cmd.PlayerAuth, cmd.Coins); err != nil {
			return err
		}
	}
	added := make(map[string]int64, len(cmd.Items))
	for item, qty := range cmd.Items {
		if err := e.accounts.AddInventory(cmd.PlayerAuth, item, qty); err != nil {
			for it, q := range added {
				_ = e.accounts.TakeInventory(cmd.PlayerAuth, it, q)
			}
			if cmd.Coins > 0 {
				_ = e.accounts.WithdrawBank(cmd.PlayerAuth, cmd.Coins)
			}
			return err
		}
		added[item] = qty
	}
	e.logger.InfoContext(ctx, "deposit", "player", cmd.PlayerAuth, "coins", cmd.Coins, "items", len(cmd.Items))
	return nil
}

// WatchPrice 登记价格提醒
func (e *Exchange) WatchPrice(ctx context.Context, cmd WatchPriceCommand) (PriceWatch, error) {
	if e.items != nil && !e.items.ItemExists(cmd.ItemID) {
		return PriceWatch{}, fmt.Errorf("%w: %q", ErrUnknownItem, cmd.ItemID)
	}
	if cmd.TargetPrice < 1 {
		return PriceWatch{}, fmt.Errorf("%w: %d", ErrPriceOutOfRange, cmd.TargetPrice)
	}
	if cmd.Side == "" {
		cmd.Side = SideBuy
	}
	if !cmd.Side.Valid() {
		return PriceWatch{}, fmt.Errorf("unknown side %q", cmd.Side)
	}

	w := PriceWatch{
		PlayerAuth:  cmd.PlayerAuth,
		ItemID:      cmd.ItemID,
		TargetPrice: cmd.TargetPrice,
		Side:        cmd.Side,
		CreatedAt:   e.now(),
	}
	e.watchMu.Lock()
	if e.watchCount[w.PlayerAuth] >= e.opts.MaxWatchesPerPlayer {
		e.watchMu.Unlock()
		return PriceWatch{}, fmt.Errorf("%w: limit %d", ErrWatchLimit, e.opts.MaxWatchesPerPlayer)
	}
	e.watchers[cmd.ItemID] = append(e.watchers[cmd.ItemID], w)
	e.watchCount[w.PlayerAuth]++
	e.watchMu.Unlock()
	e.logger.DebugContext(ctx, "price watch registered", "player", w.PlayerAuth, "item_id", w.ItemID, "target", w.TargetPrice, "side", w.Side)
	return w, nil
}

// checkWatchers 触发并移除满足条件的价格提醒
func (e *Exchange) checkWatchers(itemID string, price int64) {
	e.watchMu.Lock()
	var fired []PriceWatch
	ws := e.watchers[itemID]
	kept := ws[:0]
	for _, w := range ws {
		if w.triggered(price) {
			fired = append(fired, w)
			e.dropWatchCount(w.PlayerAuth)
		} else {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		delete(e.watchers, itemID)
	} else {
		e.watchers[itemID] = kept
	}
	e.watchMu.Unlock()

	for _, w := range fired {
		e.notifier.AlertFavorablePrice(w.PlayerAuth, itemID, price, w.TargetPrice)
	}
}

// dropWatchCount 调用方持有 watchMu
func (e *Exchange) dropWatchCount(player int64) {
	if e.watchCount[player] <= 1 {
		delete(e.watchCount, player)
		return
	}
	e.watchCount[player]--
}

// pruneWatches 移除超过有效期的价格提醒
func (e *Exchange) pruneWatches(now time.Time) int {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	removed := 0
	for itemID, ws := range e.watchers {
		kept := ws[:0]
		for _, w := range ws {
			if now.Sub(w.CreatedAt) > e.opts.WatchTTL {
				e.dropWatchCount(w.PlayerAuth)
				removed++
				continue
			}
			kept = append(kept, w)
		}
		if len(kept) == 0 {
			delete(e.watchers, itemID)
		} else {
			e.watchers[itemID] = kept
		}
	}
	return removed
}
