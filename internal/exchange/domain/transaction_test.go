package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger 内存版协作者，可按步骤注入失败
type fakeLedger struct {
	escrow     map[int64]int64
	bank       map[int64]int64
	collection map[int64]map[string]int64
	bought     map[int64]int64
	sold       map[int64]int64
	unknown    map[string]bool

	failDeposit   error
	failCollect   error
	failStats     error
	failSetEscrow error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		escrow:     map[int64]int64{},
		bank:       map[int64]int64{},
		collection: map[int64]map[string]int64{},
		bought:     map[int64]int64{},
		sold:       map[int64]int64{},
		unknown:    map[string]bool{},
	}
}

func (l *fakeLedger) EscrowBalance(p int64) (int64, error) { return l.escrow[p], nil }

func (l *fakeLedger) WithdrawEscrow(p, amount int64) error {
	if l.escrow[p] < amount {
		return fmt.Errorf("escrow %d < %d", l.escrow[p], amount)
	}
	l.escrow[p] -= amount
	return nil
}

func (l *fakeLedger) SetEscrowBalance(p, amount int64) error {
	if l.failSetEscrow != nil {
		return l.failSetEscrow
	}
	l.escrow[p] = amount
	return nil
}

func (l *fakeLedger) BankBalance(p int64) (int64, error) { return l.bank[p], nil }

func (l *fakeLedger) DepositBank(p, amount int64) error {
	if l.failDeposit != nil {
		return l.failDeposit
	}
	l.bank[p] += amount
	return nil
}

func (l *fakeLedger) SetBankBalance(p, amount int64) error {
	l.bank[p] = amount
	return nil
}

func (l *fakeLedger) DepositItems(p int64, item string, qty int64, _ string) error {
	if l.failCollect != nil {
		return l.failCollect
	}
	if l.collection[p] == nil {
		l.collection[p] = map[string]int64{}
	}
	l.collection[p][item] += qty
	return nil
}

func (l *fakeLedger) WithdrawItems(p int64, item string, qty int64) error {
	l.collection[p][item] -= qty
	return nil
}

func (l *fakeLedger) ItemExists(item string) bool { return !l.unknown[item] }

func (l *fakeLedger) RecordTrade(buyer, seller int64, _ string, qty int64) error {
	if l.failStats != nil {
		return l.failStats
	}
	l.bought[buyer] += qty
	l.sold[seller] += qty
	return nil
}

func (l *fakeLedger) settlement() Settlement {
	return Settlement{
		Escrow:     l,
		Bank:       l,
		Collection: l,
		Items:      l,
		Stats:      l,
		Tax:        NewSalesTax(decimal.NewFromFloat(0.05)),
		Clock:      func() time.Time { return epoch },
	}
}

func TestTradeTransaction_CommitBuyDriven(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	buy := activeBuy(t, 1, 10, 150, 60, epoch)
	sell := activeOffer(t, 2, 20, 120, 55, epoch)
	ledger.escrow[10] = buy.EscrowRequired()
	ledger.bank[20] = 1000

	tx := NewTradeTransaction(Match{BuyOrder: buy, SellOffer: sell, Quantity: 120, ExecutionPrice: 60}, ledger.settlement(), nil)
	require.NoError(t, tx.Prepare(ctx))
	assert.Equal(t, TxPrepared, tx.State())

	res, err := tx.Commit(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, TxCommitted, tx.State())
	assert.Equal(t, int64(7200), res.TotalCoins)
	assert.Equal(t, int64(360), res.Tax)
	assert.Equal(t, int64(6840), res.SellerProceeds)
	assert.Same(t, res, tx.Result())

	assert.Equal(t, StatePartial, buy.State)
	assert.Equal(t, int64(30), buy.QuantityRemaining)
	assert.Equal(t, StateCompleted, sell.State)
	assert.Zero(t, sell.QuantityRemaining)

	assert.Equal(t, int64(1800), ledger.escrow[10])
	assert.Equal(t, int64(1000+6840), ledger.bank[20])
	assert.Equal(t, int64(120), ledger.collection[10]["iron_bar"])
	assert.Equal(t, int64(120), ledger.bought[10])
	assert.Equal(t, int64(120), ledger.sold[20])
}

func TestTradeTransaction_PrepareValidation(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(m *Match, l *fakeLedger)
		reason string
	}{
		{"zero quantity", func(m *Match, _ *fakeLedger) { m.Quantity = 0 }, "Invalid trade quantity"},
		{"overfill buy", func(m *Match, _ *fakeLedger) { m.Quantity = 500 }, "insufficient quantity"},
		{"price above limit", func(m *Match, _ *fakeLedger) { m.ExecutionPrice = 61 }, "exceeds buy order limit"},
		{"price below ask", func(m *Match, _ *fakeLedger) { m.ExecutionPrice = 54 }, "below sell offer ask"},
		{"cancelled offer", func(m *Match, _ *fakeLedger) { m.SellOffer.Cancel(epoch) }, "not active"},
		{"unknown item", func(_ *Match, l *fakeLedger) { l.unknown["iron_bar"] = true }, "Unknown item"},
		{"escrow short", func(_ *Match, l *fakeLedger) { l.escrow[10] = 10 }, "escrow insufficient"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := newFakeLedger()
			buy := activeBuy(t, 1, 10, 150, 60, epoch)
			sell := activeOffer(t, 2, 20, 120, 55, epoch)
			ledger.escrow[10] = buy.EscrowRequired()
			m := Match{BuyOrder: buy, SellOffer: sell, Quantity: 100, ExecutionPrice: 60}
			tc.mutate(&m, ledger)

			tx := NewTradeTransaction(m, ledger.settlement(), nil)
			err := tx.Prepare(ctx)
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, tx.FailureReason(), tc.reason)
			assert.Equal(t, TxInitial, tx.State())
			assert.Equal(t, int64(150), buy.QuantityRemaining)
		})
	}
}

func TestTradeTransaction_NoDoublePrepare(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	buy := activeBuy(t, 1, 10, 10, 60, epoch)
	sell := activeOffer(t, 2, 20, 10, 55, epoch)
	ledger.escrow[10] = buy.EscrowRequired()

	tx := NewTradeTransaction(Match{BuyOrder: buy, SellOffer: sell, Quantity: 10, ExecutionPrice: 60}, ledger.settlement(), nil)
	require.NoError(t, tx.Prepare(ctx))
	assert.ErrorIs(t, tx.Prepare(ctx), ErrTxState)
	assert.Equal(t, TxPrepared, tx.State())
}

func TestTradeTransaction_CommitRequiresPrepare(t *testing.T) {
	ledger := newFakeLedger()
	tx := NewTradeTransaction(Match{
		BuyOrder:       activeBuy(t, 1, 10, 10, 60, epoch),
		SellOffer:      activeOffer(t, 2, 20, 10, 55, epoch),
		Quantity:       10,
		ExecutionPrice: 60,
	}, ledger.settlement(), nil)

	res, err := tx.Commit(context.Background())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrTxState)
	assert.Equal(t, TxInitial, tx.State())
}

func TestTradeTransaction_AtomicRollback(t *testing.T) {
	steps := map[string]func(l *fakeLedger){
		"bank deposit":   func(l *fakeLedger) { l.failDeposit = errors.New("bank locked") },
		"collection box": func(l *fakeLedger) { l.failCollect = errors.New("box full") },
		"statistics":     func(l *fakeLedger) { l.failStats = errors.New("stats down") },
	}

	for name, inject := range steps {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ledger := newFakeLedger()
			buy := activeBuy(t, 1, 10, 50, 60, epoch)
			sell := activeOffer(t, 2, 20, 40, 55, epoch)
			ledger.escrow[10] = buy.EscrowRequired()
			ledger.bank[20] = 777
			inject(ledger)

			tx := NewTradeTransaction(Match{BuyOrder: buy, SellOffer: sell, Quantity: 40, ExecutionPrice: 60}, ledger.settlement(), nil)
			require.NoError(t, tx.Prepare(ctx))

			res, err := tx.Commit(ctx)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrTransactionFailed)
			assert.Equal(t, TxRolledBack, tx.State())
			assert.NotEmpty(t, tx.FailureReason())

			assert.Equal(t, int64(50), buy.QuantityRemaining)
			assert.Equal(t, StateActive, buy.State)
			assert.Equal(t, int64(40), sell.QuantityRemaining)
			assert.Equal(t, StateActive, sell.State)
			assert.True(t, sell.Enabled)
			assert.Equal(t, int64(3000), ledger.escrow[10])
			assert.Equal(t, int64(777), ledger.bank[20])
			assert.Zero(t, ledger.collection[10]["iron_bar"])

			assert.NoError(t, tx.Rollback(ctx), "second rollback is a no-op")
			assert.Equal(t, TxRolledBack, tx.State())
		})
	}
}

func TestTradeTransaction_RollbackFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	buy := activeBuy(t, 1, 10, 10, 60, epoch)
	sell := activeOffer(t, 2, 20, 10, 55, epoch)
	ledger.escrow[10] = buy.EscrowRequired()
	ledger.failDeposit = errors.New("bank locked")
	ledger.failSetEscrow = errors.New("escrow store offline")

	tx := NewTradeTransaction(Match{BuyOrder: buy, SellOffer: sell, Quantity: 10, ExecutionPrice: 60}, ledger.settlement(), nil)
	require.NoError(t, tx.Prepare(ctx))

	_, err := tx.Commit(ctx)
	assert.ErrorIs(t, err, ErrTransactionFailed)
	assert.ErrorIs(t, err, ErrRollbackFailed)
	assert.Equal(t, TxFailed, tx.State())
	assert.ErrorIs(t, tx.Rollback(ctx), ErrTxState)
}

func TestTradeTransaction_ExplicitRollbackAfterPrepare(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	buy := activeBuy(t, 1, 10, 10, 60, epoch)
	sell := activeOffer(t, 2, 20, 10, 55, epoch)
	ledger.escrow[10] = buy.EscrowRequired()

	tx := NewTradeTransaction(Match{BuyOrder: buy, SellOffer: sell, Quantity: 10, ExecutionPrice: 60}, ledger.settlement(), nil)
	require.NoError(t, tx.Prepare(ctx))
	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, TxRolledBack, tx.State())

	_, err := tx.Commit(ctx)
	assert.ErrorIs(t, err, ErrTxState)
}

func TestSalesTax(t *testing.T) {
	tax := NewSalesTax(decimal.NewFromFloat(0.05))
	assert.Equal(t, int64(0), tax(19))
	assert.Equal(t, int64(1), tax(20))
	assert.Equal(t, int64(360), tax(7200))
	assert.Equal(t, int64(0), tax(-5))

	capped := NewSalesTax(decimal.NewFromFloat(0.9))
	assert.Equal(t, int64(25), capped(100))
}

func TestTradeTransaction_RollbackRefusedAfterCommit(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	buy := activeBuy(t, 1, 10, 10, 60, epoch)
	sell := activeOffer(t, 2, 20, 10, 55, epoch)
	ledger.escrow[10] = buy.EscrowRequired()
	ledger.bank[20] = 100

	tx := NewTradeTransaction(Match{BuyOrder: buy, SellOffer: sell, Quantity: 10, ExecutionPrice: 60}, ledger.settlement(), nil)
	require.NoError(t, tx.Prepare(ctx))
	_, err := tx.Commit(ctx)
	require.NoError(t, err)
	bank, escrow := ledger.bank[20], ledger.escrow[10]

	assert.ErrorIs(t, tx.Rollback(ctx), ErrTxState)
	assert.Equal(t, TxCommitted, tx.State())
	assert.Equal(t, StateCompleted, buy.State)
	assert.Equal(t, bank, ledger.bank[20])
	assert.Equal(t, escrow, ledger.escrow[10])
	assert.Equal(t, int64(10), ledger.collection[10]["iron_bar"])
}
