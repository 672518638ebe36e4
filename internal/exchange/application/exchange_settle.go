package application

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
)

// 结算失败类别，对应 settlement_failures_total 的 outcome 标签
const (
	outcomeRejected   = "rejected"
	outcomeRolledBack = "rolled_back"
	outcomeFailed     = "failed"
)

// settle 在双方账户锁内执行一笔撮合的两阶段提交，调用方持有物品锁
func (e *Exchange) settle(ctx context.Context, m *market, match domain.Match, report *MatchReport) {
	start := e.now()
	unlock := e.accounts.LockPlayers(match.BuyOrder.PlayerAuth, match.SellOffer.PlayerAuth)
	tx := domain.NewTradeTransaction(match, e.settlement, e.logger)

	var (
		result *domain.TradeResult
		err    error
	)
	if err = tx.Prepare(ctx); err == nil {
		result, err = tx.Commit(ctx)
	}

	var buy domain.BuyOrder
	var sell domain.GEOffer
	if err == nil {
		buy, sell = *match.BuyOrder, *match.SellOffer
	}
	unlock()

	if !match.BuyOrder.CanMatch() {
		m.book.RemoveBuyOrder(match.BuyOrder.OrderID)
	}
	if !match.SellOffer.CanMatch() {
		m.book.RemoveSellOffer(match.SellOffer.OfferID)
	}

	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			report.Rejected++
			e.metrics.RecordSettlementFailure(outcomeRejected)
		case tx.State() == domain.TxFailed || errors.Is(err, domain.ErrRollbackFailed):
			report.Failed++
			e.metrics.RecordSettlementFailure(outcomeFailed)
			e.logger.ErrorContext(ctx, "trade left in failed state", "tx_id", tx.ID(), "reason", tx.FailureReason(), "error", err)
		default:
			report.Failed++
			e.metrics.RecordSettlementFailure(outcomeRolledBack)
		}
		return
	}

	report.Trades = append(report.Trades, *result)
	e.afterTrade(ctx, *result, &buy, &sell, e.now().Sub(start))
}

// afterTrade 成交后扇出：审计、行情、监控、通知、价格提醒、事件
func (e *Exchange) afterTrade(ctx context.Context, r domain.TradeResult, buy *domain.BuyOrder, sell *domain.GEOffer, took time.Duration) {
	e.audit.LogTrade(&r)
	e.analytics.RecordTrade(&r)
	if e.perf != nil {
		e.perf.RecordTrade(r.ItemID, r.Quantity, r.PricePerItem, took)
	}
	e.metrics.RecordTrade(r.ItemID, r.TotalCoins, r.Tax, took)

	if buy.QuantityRemaining == 0 {
		e.notifier.NotifyBuyOrderFilled(buy, r.Quantity, r.TotalCoins)
	} else {
		e.notifier.NotifyBuyOrderPartiallyFilled(buy, buy.QuantityFilled(), buy.QuantityRemaining, r.TotalCoins)
	}
	if sell.QuantityRemaining == 0 {
		e.notifier.NotifyOfferFilled(sell, r.Quantity, r.SellerProceeds)
	} else {
		e.notifier.NotifyOfferPartiallyFilled(sell, sell.QuantityFilled(), sell.QuantityRemaining, r.SellerProceeds)
	}

	e.checkWatchers(r.ItemID, r.PricePerItem)
	e.publisher.PublishTrade(ctx, r)
}

// refreshBook 同步订单簿规模到监控，调用方持有物品锁
func (e *Exchange) refreshBook(m *market) {
	buys, sells := m.book.BuyOrderCount(), m.book.SellOfferCount()
	e.metrics.UpdateActiveOrders(m.book.ItemID(), buys, sells)
	if e.perf != nil {
		e.perf.RecordActiveOffers(m.book.ItemID(), buys, sells)
	}
}
