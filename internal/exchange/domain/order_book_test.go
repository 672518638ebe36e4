package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func activeBuy(t *testing.T, id, player int64, qty, price int64, at time.Time) *BuyOrder {
	t.Helper()
	o, err := NewBuyOrder(id, player, 0, "iron_bar", qty, price, 7, at)
	require.NoError(t, err)
	require.NoError(t, o.Enable(at))
	return o
}

func activeOffer(t *testing.T, id, player int64, qty, price int64, at time.Time) *GEOffer {
	t.Helper()
	o, err := NewGEOffer(id, player, 0, "iron_bar", qty, price, at)
	require.NoError(t, err)
	require.NoError(t, o.Enable(at))
	return o
}

func TestOrderBook_AddRejects(t *testing.T) {
	book := NewOrderBook("iron_bar")

	t.Run("wrong item", func(t *testing.T) {
		o, err := NewBuyOrder(1, 10, 0, "gold_bar", 5, 10, 7, epoch)
		require.NoError(t, err)
		require.NoError(t, o.Enable(epoch))
		assert.ErrorIs(t, book.AddBuyOrder(o), ErrWrongItem)
	})

	t.Run("draft is not matchable", func(t *testing.T) {
		o, err := NewGEOffer(2, 10, 0, "iron_bar", 5, 10, epoch)
		require.NoError(t, err)
		assert.ErrorIs(t, book.AddSellOffer(o), ErrNotMatchable)
	})

	t.Run("duplicate id", func(t *testing.T) {
		o := activeBuy(t, 3, 10, 5, 10, epoch)
		require.NoError(t, book.AddBuyOrder(o))
		assert.ErrorIs(t, book.AddBuyOrder(o), ErrDuplicateOrder)
		assert.Equal(t, 1, book.BuyOrderCount())
	})
}

func TestOrderBook_PriorityOrdering(t *testing.T) {
	book := NewOrderBook("iron_bar")

	require.NoError(t, book.AddBuyOrder(activeBuy(t, 1, 10, 5, 50, epoch)))
	require.NoError(t, book.AddBuyOrder(activeBuy(t, 2, 11, 5, 70, epoch.Add(time.Second))))
	require.NoError(t, book.AddBuyOrder(activeBuy(t, 3, 12, 5, 70, epoch.Add(2*time.Second))))

	require.NoError(t, book.AddSellOffer(activeOffer(t, 4, 20, 5, 90, epoch)))
	require.NoError(t, book.AddSellOffer(activeOffer(t, 5, 21, 5, 60, epoch.Add(time.Second))))
	require.NoError(t, book.AddSellOffer(activeOffer(t, 6, 22, 5, 60, epoch)))

	best, ok := book.BestBuyOrder()
	require.True(t, ok)
	assert.Equal(t, int64(2), best.OrderID, "highest price, earliest time")

	ask, ok := book.BestSellOffer()
	require.True(t, ok)
	assert.Equal(t, int64(6), ask.OfferID, "lowest price, earliest time")

	removed, ok := book.RemoveBuyOrder(2)
	require.True(t, ok)
	assert.Equal(t, int64(2), removed.OrderID)
	best, _ = book.BestBuyOrder()
	assert.Equal(t, int64(3), best.OrderID)

	_, ok = book.RemoveBuyOrder(2)
	assert.False(t, ok)
}

func TestOrderBook_BuyDrivenScenario(t *testing.T) {
	book := NewOrderBook("iron_bar")
	offer := activeOffer(t, 1, 20, 120, 55, epoch)
	require.NoError(t, book.AddSellOffer(offer))

	order := activeBuy(t, 2, 10, 150, 60, epoch.Add(time.Second))
	matches := book.FindMatchesForBuyOrder(order)

	require.Len(t, matches, 1)
	assert.Equal(t, int64(120), matches[0].Quantity)
	assert.Equal(t, int64(60), matches[0].ExecutionPrice)
	assert.Same(t, offer, matches[0].SellOffer)
	assert.Equal(t, int64(1), book.TotalMatches())
}

func TestOrderBook_SellDrivenScenario(t *testing.T) {
	book := NewOrderBook("iron_bar")
	order := activeBuy(t, 1, 10, 120, 55, epoch)
	require.NoError(t, book.AddBuyOrder(order))

	offer := activeOffer(t, 2, 20, 200, 50, epoch.Add(time.Second))
	matches := book.FindMatchesForSellOffer(offer)

	require.Len(t, matches, 1)
	assert.Equal(t, int64(120), matches[0].Quantity)
	assert.Equal(t, int64(55), matches[0].ExecutionPrice)
}

func TestOrderBook_FindMatchesStopsAtIncompatiblePrice(t *testing.T) {
	book := NewOrderBook("iron_bar")
	require.NoError(t, book.AddSellOffer(activeOffer(t, 1, 20, 10, 40, epoch)))
	require.NoError(t, book.AddSellOffer(activeOffer(t, 2, 21, 10, 45, epoch)))
	require.NoError(t, book.AddSellOffer(activeOffer(t, 3, 22, 10, 80, epoch)))

	order := activeBuy(t, 9, 10, 100, 50, epoch)
	matches := book.FindMatchesForBuyOrder(order)

	require.Len(t, matches, 2)
	assert.Equal(t, int64(1), matches[0].SellOffer.OfferID)
	assert.Equal(t, int64(2), matches[1].SellOffer.OfferID)
	for _, m := range matches {
		assert.Equal(t, int64(50), m.ExecutionPrice)
	}
}

func TestOrderBook_SkipsOwnOffers(t *testing.T) {
	book := NewOrderBook("iron_bar")
	require.NoError(t, book.AddSellOffer(activeOffer(t, 1, 10, 10, 40, epoch)))
	require.NoError(t, book.AddSellOffer(activeOffer(t, 2, 20, 10, 45, epoch)))

	matches := book.FindMatchesForBuyOrder(activeBuy(t, 3, 10, 10, 50, epoch))
	require.Len(t, matches, 1)
	assert.Equal(t, int64(20), matches[0].SellOffer.PlayerAuth)
}

func TestOrderBook_Rebuild(t *testing.T) {
	book := NewOrderBook("iron_bar")
	live := activeBuy(t, 1, 10, 10, 40, epoch)
	stale := activeBuy(t, 2, 11, 10, 45, epoch)
	require.NoError(t, book.AddBuyOrder(live))
	require.NoError(t, book.AddBuyOrder(stale))

	stale.Cancel(epoch)
	assert.Equal(t, 1, book.Rebuild())
	assert.Equal(t, 1, book.BuyOrderCount())

	best, ok := book.BestBuyOrder()
	require.True(t, ok)
	assert.Same(t, live, best)

	_, ok = book.RemoveBuyOrder(2)
	assert.False(t, ok, "lookup map rebuilt alongside the tree")
}

func TestOrderBook_MarketDepth(t *testing.T) {
	book := NewOrderBook("iron_bar")

	t.Run("empty", func(t *testing.T) {
		d := book.MarketDepth()
		assert.Zero(t, d.BestBid)
		assert.Zero(t, d.BestAsk)
		assert.Zero(t, d.Spread)
		assert.True(t, book.IsEmpty())
	})

	require.NoError(t, book.AddBuyOrder(activeBuy(t, 1, 10, 5, 50, epoch)))
	require.NoError(t, book.AddBuyOrder(activeBuy(t, 2, 11, 7, 50, epoch)))
	require.NoError(t, book.AddBuyOrder(activeBuy(t, 3, 12, 3, 48, epoch)))
	require.NoError(t, book.AddSellOffer(activeOffer(t, 4, 20, 4, 55, epoch)))
	require.NoError(t, book.AddSellOffer(activeOffer(t, 5, 21, 6, 58, epoch)))

	d := book.MarketDepth()
	assert.Equal(t, []PriceLevel{{Price: 50, Quantity: 12, Orders: 2}, {Price: 48, Quantity: 3, Orders: 1}}, d.Bids)
	assert.Equal(t, []PriceLevel{{Price: 55, Quantity: 4, Orders: 1}, {Price: 58, Quantity: 6, Orders: 1}}, d.Asks)
	assert.Equal(t, int64(50), d.BestBid)
	assert.Equal(t, int64(55), d.BestAsk)
	assert.Equal(t, int64(5), d.Spread)
	assert.Equal(t, int64(15), d.TotalBuyVolume())
	assert.Equal(t, int64(10), d.TotalSellVolume())
}

func TestOrderBook_SellOfferLookup(t *testing.T) {
	book := NewOrderBook("iron_bar")
	require.NoError(t, book.AddSellOffer(activeOffer(t, 1, 20, 5, 90, epoch)))
	require.NoError(t, book.AddSellOffer(activeOffer(t, 2, 21, 5, 60, epoch.Add(time.Second))))

	o, ok := book.SellOffer(2)
	require.True(t, ok)
	assert.Equal(t, int64(60), o.PricePerItem)
	_, ok = book.SellOffer(3)
	assert.False(t, ok)

	offers := book.SellOffers()
	require.Len(t, offers, 2)
	assert.Equal(t, int64(2), offers[0].OfferID)
	assert.Equal(t, int64(1), offers[1].OfferID)

	offers[0].QuantityRemaining = 0
	o, _ = book.SellOffer(2)
	assert.Equal(t, int64(5), o.QuantityRemaining)
}
