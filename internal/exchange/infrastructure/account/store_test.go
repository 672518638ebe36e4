package account

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
)

var now = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

func TestStore_Balances(t *testing.T) {
	s := NewStore(3, 10)
	require.NoError(t, s.DepositBank(1, 1000))
	require.NoError(t, s.FreezeToEscrow(1, 600))
	assert.ErrorIs(t, s.FreezeToEscrow(1, 500), ErrInsufficientFunds)

	bank, _ := s.BankBalance(1)
	escrow, _ := s.EscrowBalance(1)
	assert.Equal(t, int64(400), bank)
	assert.Equal(t, int64(600), escrow)

	require.NoError(t, s.WithdrawEscrow(1, 100))
	assert.ErrorIs(t, s.WithdrawEscrow(1, 1000), ErrInsufficientFunds)

	refunded, err := s.RefundEscrow(1, 800)
	require.NoError(t, err)
	assert.Equal(t, int64(500), refunded)
	assert.Equal(t, int64(900), s.TotalCoins())

	assert.ErrorIs(t, s.DepositBank(1, -1), ErrInvalidAmount)
	require.NoError(t, s.SetBankBalance(1, 5))
	require.NoError(t, s.SetEscrowBalance(1, 7))
	assert.Equal(t, int64(12), s.TotalCoins())
}

func TestStore_Overflow(t *testing.T) {
	s := NewStore(3, 10)
	require.NoError(t, s.DepositBank(7, math.MaxInt64))
	assert.ErrorIs(t, s.DepositBank(7, 1), ErrOverflow)
	bank, _ := s.BankBalance(7)
	assert.Equal(t, int64(math.MaxInt64), bank)

	require.NoError(t, s.SetEscrowBalance(7, 10))
	_, err := s.RefundEscrow(7, 10)
	assert.ErrorIs(t, err, ErrOverflow)
	escrow, _ := s.EscrowBalance(7)
	assert.Equal(t, int64(10), escrow)

	require.NoError(t, s.AddInventory(7, "iron_bar", math.MaxInt64))
	assert.ErrorIs(t, s.AddInventory(7, "iron_bar", 1), ErrOverflow)

	require.NoError(t, s.DepositItems(7, "iron_bar", 5, "returned"))
	assert.Empty(t, s.Collect(7, "iron_bar"))
	assert.Equal(t, int64(5), s.View(7).Collection["iron_bar"])

	require.NoError(t, s.DepositItems(8, "coal", math.MaxInt64, "returned"))
	assert.ErrorIs(t, s.DepositItems(8, "coal", 1, "returned"), ErrOverflow)
}

func TestStore_ItemsFlow(t *testing.T) {
	s := NewStore(3, 10)
	require.NoError(t, s.AddInventory(2, "iron_bar", 50))
	require.NoError(t, s.TakeInventory(2, "iron_bar", 20))
	assert.ErrorIs(t, s.TakeInventory(2, "iron_bar", 40), ErrInsufficientItems)

	require.NoError(t, s.DepositItems(2, "gold_bar", 3, domain.CollectionSourcePurchase))
	require.NoError(t, s.DepositItems(2, "iron_bar", 5, "returned"))
	require.NoError(t, s.WithdrawItems(2, "gold_bar", 1))

	got := s.Collect(2, "gold_bar")
	assert.Equal(t, map[string]int64{"gold_bar": 2}, got)
	got = s.Collect(2, "")
	assert.Equal(t, map[string]int64{"iron_bar": 5}, got)

	v := s.View(2)
	assert.Equal(t, int64(35), v.Inventory["iron_bar"])
	assert.Equal(t, int64(2), v.Inventory["gold_bar"])
	assert.Empty(t, v.Collection)
}

func TestStore_Slots(t *testing.T) {
	s := NewStore(2, 2)
	o, err := domain.NewBuyOrder(1, 9, 1, "iron_bar", 10, 5, 7, now)
	require.NoError(t, err)
	require.NoError(t, s.PlaceBuyOrder(o))

	dup, _ := domain.NewBuyOrder(2, 9, 1, "iron_bar", 10, 5, 7, now)
	assert.ErrorIs(t, s.PlaceBuyOrder(dup), ErrSlotOccupied)
	bad, _ := domain.NewBuyOrder(3, 9, 2, "iron_bar", 10, 5, 7, now)
	assert.ErrorIs(t, s.PlaceBuyOrder(bad), ErrInvalidSlot)

	got, err := s.BuyOrder(9, 1)
	require.NoError(t, err)
	assert.Same(t, o, got)
	_, err = s.BuyOrder(9, 0)
	assert.ErrorIs(t, err, ErrSlotEmpty)

	offer, _ := domain.NewGEOffer(4, 9, 0, "iron_bar", 3, 5, now)
	require.NoError(t, s.PlaceOffer(offer))
	assert.Len(t, s.AllBuyOrders(), 1)
	assert.Len(t, s.AllOffers(), 1)

	cleared, err := s.ClearBuySlot(9, 1)
	require.NoError(t, err)
	assert.Same(t, o, cleared)
	_, err = s.ClearOfferSlot(9, 1)
	assert.ErrorIs(t, err, ErrSlotEmpty)
	assert.Empty(t, s.AllBuyOrders())
}

func TestStore_RecordTrade(t *testing.T) {
	s := NewStore(3, 10)
	require.NoError(t, s.RecordTrade(1, 2, "iron_bar", 10))
	require.NoError(t, s.RecordTrade(1, 1, "iron_bar", 4))
	assert.Equal(t, int64(14), s.View(1).ItemsBought)
	assert.Equal(t, int64(4), s.View(1).ItemsSold)
	assert.Equal(t, int64(2), s.View(1).TradeCount)
	assert.Equal(t, int64(1), s.View(2).TradeCount)
}

func TestStore_LockPlayersOrdering(t *testing.T) {
	s := NewStore(1, 1)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := s.LockPlayers(1, 2)
			_ = s.DepositBank(1, 1)
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := s.LockPlayers(2, 1, 2)
			_ = s.DepositBank(2, 1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), s.TotalCoins())
}

func TestStore_ExportRestore(t *testing.T) {
	s := NewStore(3, 10)
	require.NoError(t, s.DepositBank(1, 100))
	require.NoError(t, s.AddInventory(1, "iron_bar", 5))
	o, _ := domain.NewBuyOrder(1, 1, 2, "iron_bar", 10, 5, 7, now)
	require.NoError(t, s.PlaceBuyOrder(o))

	st := s.Export()
	require.Len(t, st.Accounts, 1)
	o.QuantityRemaining = 1

	restored := NewStore(3, 10)
	restored.Restore(st)
	got, err := restored.BuyOrder(1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.QuantityRemaining)
	assert.Equal(t, int64(100), restored.View(1).Bank)
	assert.Equal(t, int64(5), restored.View(1).Inventory["iron_bar"])
}
