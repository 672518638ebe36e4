package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// TransactionState 成交事务状态
type TransactionState string

const (
	TxInitial    TransactionState = "INITIAL"
	TxPrepared   TransactionState = "PREPARED"
	TxCommitted  TransactionState = "COMMITTED"
	TxRolledBack TransactionState = "ROLLED_BACK"
	TxFailed     TransactionState = "FAILED"
)

var (
	ErrValidation        = errors.New("trade validation failed")
	ErrTransactionFailed = errors.New("trade commit failed")
	ErrRollbackFailed    = errors.New("trade rollback failed")
	ErrTxState           = errors.New("invalid transaction state")
)

// undoLog prepare 阶段捕获的变更前快照
type undoLog struct {
	buy         lifecycleMemo
	sell        lifecycleMemo
	buyerEscrow int64
	sellerBank  int64
}

type commitStep uint8

const (
	stepBuyFilled commitStep = 1 << iota
	stepSellReduced
	stepEscrowWithdrawn
	stepBankDeposited
	stepItemsDelivered
)

// TradeTransaction 单笔撮合的两阶段提交执行器
// 一个实例只结算一笔撮合，不可复用，也不可跨 goroutine 共享；
// 调用方需在 Prepare+Commit 期间独占买单、卖单及双方账户。
type TradeTransaction struct {
	id       string
	buy      *BuyOrder
	sell     *GEOffer
	quantity int64
	price    int64
	deps     Settlement
	logger   *slog.Logger

	state    TransactionState
	reason   string
	total    int64
	tax      int64
	undo     undoLog
	progress commitStep
	result   *TradeResult
}

// NewTradeTransaction 为一条撮合建议创建事务
func NewTradeTransaction(m Match, deps Settlement, logger *slog.Logger) *TradeTransaction {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &TradeTransaction{
		id:       id,
		buy:      m.BuyOrder,
		sell:     m.SellOffer,
		quantity: m.Quantity,
		price:    m.ExecutionPrice,
		deps:     deps,
		logger:   logger.With("tx_id", id),
		state:    TxInitial,
	}
}

func (t *TradeTransaction) ID() string { return t.id }
func (t *TradeTransaction) State() TransactionState { return t.state }
func (t *TradeTransaction) FailureReason() string { return t.reason }
func (t *TradeTransaction) Result() *TradeResult { return t.result }
func (t *TradeTransaction) Quantity() int64 { return t.quantity }
func (t *TradeTransaction) ExecutionPrice() int64 { return t.price }
func (t *TradeTransaction) TotalCoins() int64 { return t.total }
func (t *TradeTransaction) Tax() int64 { return t.tax }
func (t *TradeTransaction) BuyOrder() *BuyOrder { return t.buy }
func (t *TradeTransaction) SellOffer() *GEOffer { return t.sell }

// Prepare 校验并捕获回滚快照，失败时不产生任何变更，状态保持 INITIAL
func (t *TradeTransaction) Prepare(ctx context.Context) error {
	if t.state != TxInitial {
		return fmt.Errorf("%w: prepare from %s", ErrTxState, t.state)
	}
	if reason := t.validate(); reason != "" {
		return t.reject(ctx, reason)
	}

	total := t.price * t.quantity
	var tax int64
	if t.deps.Tax != nil {
		tax = t.deps.Tax(total)
	}
	if tax < 0 || tax > total {
		return t.reject(ctx, fmt.Sprintf("Tax %d out of range for total %d", tax, total))
	}

	escrow, err := t.deps.Escrow.EscrowBalance(t.buy.PlayerAuth)
	if err != nil {
		return t.reject(ctx, fmt.Sprintf("Buyer %d escrow unavailable: %v", t.buy.PlayerAuth, err))
	}
	if escrow < total {
		return t.reject(ctx, fmt.Sprintf("Buyer %d escrow insufficient: has %d, need %d", t.buy.PlayerAuth, escrow, total))
	}
	bank, err := t.deps.Bank.BankBalance(t.sell.PlayerAuth)
	if err != nil {
		return t.reject(ctx, fmt.Sprintf("Seller %d bank unavailable: %v", t.sell.PlayerAuth, err))
	}

	t.undo = undoLog{
		buy:         t.buy.memo(),
		sell:        t.sell.memo(),
		buyerEscrow: escrow,
		sellerBank:  bank,
	}
	t.total = total
	t.tax = tax
	t.reason = ""
	t.state = TxPrepared

	t.logger.DebugContext(ctx, "trade prepared",
		"buy_order_id", t.buy.OrderID,
		"sell_offer_id", t.sell.OfferID,
		"quantity", t.quantity,
		"price", t.price,
		"tax", tax,
	)
	return nil
}

func (t *TradeTransaction) validate() string {
	if t.buy == nil || t.sell == nil {
		return "Missing buy order or sell offer"
	}
	if t.deps.Escrow == nil || t.deps.Bank == nil || t.deps.Collection == nil {
		return "Settlement collaborators not configured"
	}
	if t.quantity <= 0 {
		return fmt.Sprintf("Invalid trade quantity %d", t.quantity)
	}
	if t.buy.QuantityRemaining < t.quantity {
		return fmt.Sprintf("Buy order ID=%d insufficient quantity: has %d, need %d",
			t.buy.OrderID, t.buy.QuantityRemaining, t.quantity)
	}
	if t.sell.QuantityRemaining < t.quantity {
		return fmt.Sprintf("Sell offer ID=%d insufficient quantity: has %d, need %d",
			t.sell.OfferID, t.sell.QuantityRemaining, t.quantity)
	}
	if t.price <= 0 {
		return fmt.Sprintf("Invalid execution price %d", t.price)
	}
	if t.price > t.buy.PricePerItem {
		return fmt.Sprintf("Execution price %d exceeds buy order limit %d", t.price, t.buy.PricePerItem)
	}
	if t.price < t.sell.PricePerItem {
		return fmt.Sprintf("Execution price %d below sell offer ask %d", t.price, t.sell.PricePerItem)
	}
	if !t.buy.CanMatch() {
		return fmt.Sprintf("Buy order ID=%d not active (state=%s)", t.buy.OrderID, t.buy.State)
	}
	if !t.sell.CanMatch() {
		return fmt.Sprintf("Sell offer ID=%d not active (state=%s)", t.sell.OfferID, t.sell.State)
	}
	if t.buy.ItemID != t.sell.ItemID {
		return fmt.Sprintf("Item mismatch: buy=%s sell=%s", t.buy.ItemID, t.sell.ItemID)
	}
	if t.deps.Items != nil && !t.deps.Items.ItemExists(t.buy.ItemID) {
		return fmt.Sprintf("Unknown item %s", t.buy.ItemID)
	}
	return ""
}

func (t *TradeTransaction) reject(ctx context.Context, reason string) error {
	t.reason = reason
	t.logger.WarnContext(ctx, "trade validation failed", "reason", reason)
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// Commit 依次扣减买卖数量、划转金币、发放物品、更新统计；任一步失败自动回滚
func (t *TradeTransaction) Commit(ctx context.Context) (*TradeResult, error) {
	if t.state != TxPrepared {
		return nil, fmt.Errorf("%w: commit from %s", ErrTxState, t.state)
	}

	now := t.deps.now()
	buyer, seller := t.buy.PlayerAuth, t.sell.PlayerAuth
	itemID := t.buy.ItemID

	if err := t.buy.fill(t.quantity, now); err != nil {
		return nil, t.abort(ctx, "fill buy order", err)
	}
	t.progress |= stepBuyFilled

	if err := t.sell.fill(t.quantity, now); err != nil {
		return nil, t.abort(ctx, "reduce sell offer", err)
	}
	t.progress |= stepSellReduced

	if err := t.deps.Escrow.WithdrawEscrow(buyer, t.total); err != nil {
		return nil, t.abort(ctx, "withdraw buyer escrow", err)
	}
	t.progress |= stepEscrowWithdrawn

	proceeds := t.total - t.tax
	if err := t.deps.Bank.DepositBank(seller, proceeds); err != nil {
		return nil, t.abort(ctx, "deposit seller proceeds", err)
	}
	t.progress |= stepBankDeposited

	if err := t.deps.Collection.DepositItems(buyer, itemID, t.quantity, CollectionSourcePurchase); err != nil {
		return nil, t.abort(ctx, "deliver items to collection box", err)
	}
	t.progress |= stepItemsDelivered

	if t.deps.Stats != nil {
		if err := t.deps.Stats.RecordTrade(buyer, seller, itemID, t.quantity); err != nil {
			return nil, t.abort(ctx, "record trade statistics", err)
		}
	}

	t.result = &TradeResult{
		TradeID:        t.id,
		BuyOrderID:     t.buy.OrderID,
		SellOfferID:    t.sell.OfferID,
		BuyerAuth:      buyer,
		SellerAuth:     seller,
		ItemID:         itemID,
		Quantity:       t.quantity,
		PricePerItem:   t.price,
		TotalCoins:     t.total,
		Tax:            t.tax,
		SellerProceeds: proceeds,
		ExecutedAt:     now,
	}
	t.state = TxCommitted

	t.logger.InfoContext(ctx, "trade committed",
		"item_id", itemID,
		"buyer", buyer,
		"seller", seller,
		"quantity", t.quantity,
		"price", t.price,
		"total", t.total,
		"tax", t.tax,
	)
	return t.result, nil
}

func (t *TradeTransaction) abort(ctx context.Context, step string, cause error) error {
	t.reason = fmt.Sprintf("Commit step %q failed: %v", step, cause)
	t.logger.ErrorContext(ctx, "trade commit failed, rolling back", "step", step, "error", cause)

	failure := fmt.Errorf("%w: %s: %w", ErrTransactionFailed, step, cause)
	if err := t.rollback(ctx); err != nil {
		return errors.Join(failure, err)
	}
	return failure
}

// Rollback 恢复 prepare 时的快照；重复调用为空操作
func (t *TradeTransaction) Rollback(ctx context.Context) error {
	switch t.state {
	case TxRolledBack:
		t.logger.WarnContext(ctx, "rollback called on already rolled back trade")
		return nil
	case TxPrepared:
		return t.rollback(ctx)
	default:
		return fmt.Errorf("%w: rollback from %s", ErrTxState, t.state)
	}
}

func (t *TradeTransaction) rollback(ctx context.Context) error {
	now := t.deps.now()
	t.buy.restore(t.undo.buy, now)
	t.sell.restore(t.undo.sell, now)

	var errs []error
	if t.progress&stepItemsDelivered != 0 {
		if err := t.deps.Collection.WithdrawItems(t.buy.PlayerAuth, t.buy.ItemID, t.quantity); err != nil {
			errs = append(errs, fmt.Errorf("reclaim delivered items: %w", err))
		}
	}
	if err := t.deps.Escrow.SetEscrowBalance(t.buy.PlayerAuth, t.undo.buyerEscrow); err != nil {
		errs = append(errs, fmt.Errorf("restore buyer escrow: %w", err))
	}
	if err := t.deps.Bank.SetBankBalance(t.sell.PlayerAuth, t.undo.sellerBank); err != nil {
		errs = append(errs, fmt.Errorf("restore seller bank: %w", err))
	}

	if len(errs) > 0 {
		t.state = TxFailed
		err := errors.Join(errs...)
		t.logger.ErrorContext(ctx, "CRITICAL: trade rollback failed",
			"buy_order_id", t.buy.OrderID,
			"sell_offer_id", t.sell.OfferID,
			"buyer", t.buy.PlayerAuth,
			"seller", t.sell.PlayerAuth,
			"buyer_escrow_before", t.undo.buyerEscrow,
			"seller_bank_before", t.undo.sellerBank,
			"manual_intervention", true,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrRollbackFailed, err)
	}

	t.progress = 0
	t.state = TxRolledBack
	t.logger.InfoContext(ctx, "trade rolled back",
		"buy_order_id", t.buy.OrderID,
		"sell_offer_id", t.sell.OfferID,
	)
	return nil
}
