package domain

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func drawOffers(t *rapid.T, n int) []*GEOffer {
	offers := make([]*GEOffer, 0, n)
	for i := 0; i < n; i++ {
		price := rapid.Int64Range(1, 100).Draw(t, "ask")
		qty := rapid.Int64Range(1, 50).Draw(t, "ask_qty")
		at := epoch.Add(time.Duration(rapid.IntRange(0, 60).Draw(t, "ask_at")) * time.Second)
		o, err := NewGEOffer(int64(1000+i), int64(500+i), 0, "iron_bar", qty, price, at)
		if err != nil {
			t.Fatalf("new offer: %v", err)
		}
		if err := o.Enable(at); err != nil {
			t.Fatalf("enable offer: %v", err)
		}
		offers = append(offers, o)
	}
	return offers
}

func drawBuys(t *rapid.T, n int) []*BuyOrder {
	orders := make([]*BuyOrder, 0, n)
	for i := 0; i < n; i++ {
		price := rapid.Int64Range(1, 100).Draw(t, "bid")
		qty := rapid.Int64Range(1, 50).Draw(t, "bid_qty")
		at := epoch.Add(time.Duration(rapid.IntRange(0, 60).Draw(t, "bid_at")) * time.Second)
		o, err := NewBuyOrder(int64(2000+i), int64(100+i), 0, "iron_bar", qty, price, 7, at)
		if err != nil {
			t.Fatalf("new order: %v", err)
		}
		if err := o.Enable(at); err != nil {
			t.Fatalf("enable order: %v", err)
		}
		orders = append(orders, o)
	}
	return orders
}

func TestFindMatchesForBuyOrder_PricePriority(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book := NewOrderBook("iron_bar")
		for _, o := range drawOffers(t, rapid.IntRange(0, 30).Draw(t, "offers")) {
			if err := book.AddSellOffer(o); err != nil {
				t.Fatalf("add offer: %v", err)
			}
		}
		order := drawBuys(t, 1)[0]

		var filled int64
		lastAsk := int64(0)
		for _, m := range book.FindMatchesForBuyOrder(order) {
			if m.ExecutionPrice != order.PricePerItem {
				t.Fatalf("exec %d != buyer limit %d", m.ExecutionPrice, order.PricePerItem)
			}
			if m.SellOffer.PricePerItem > m.ExecutionPrice {
				t.Fatalf("ask %d above exec %d", m.SellOffer.PricePerItem, m.ExecutionPrice)
			}
			if m.SellOffer.PricePerItem < lastAsk {
				t.Fatalf("asks out of order: %d after %d", m.SellOffer.PricePerItem, lastAsk)
			}
			if m.Quantity <= 0 || m.Quantity > m.SellOffer.QuantityRemaining {
				t.Fatalf("bad quantity %d", m.Quantity)
			}
			lastAsk = m.SellOffer.PricePerItem
			filled += m.Quantity
		}
		if filled > order.QuantityRemaining {
			t.Fatalf("matched %d > remaining %d", filled, order.QuantityRemaining)
		}
	})
}

func TestFindMatchesForSellOffer_PricePriority(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book := NewOrderBook("iron_bar")
		for _, o := range drawBuys(t, rapid.IntRange(0, 30).Draw(t, "buys")) {
			if err := book.AddBuyOrder(o); err != nil {
				t.Fatalf("add order: %v", err)
			}
		}
		offer := drawOffers(t, 1)[0]

		var filled int64
		lastExec := int64(1 << 62)
		for _, m := range book.FindMatchesForSellOffer(offer) {
			if m.ExecutionPrice != m.BuyOrder.PricePerItem {
				t.Fatalf("exec %d != matched buyer limit %d", m.ExecutionPrice, m.BuyOrder.PricePerItem)
			}
			if m.ExecutionPrice < offer.PricePerItem {
				t.Fatalf("exec %d below ask %d", m.ExecutionPrice, offer.PricePerItem)
			}
			if m.ExecutionPrice > lastExec {
				t.Fatalf("exec prices increased: %d after %d", m.ExecutionPrice, lastExec)
			}
			lastExec = m.ExecutionPrice
			filled += m.Quantity
		}
		if filled > offer.QuantityRemaining {
			t.Fatalf("matched %d > remaining %d", filled, offer.QuantityRemaining)
		}
	})
}

func TestMarketDepth_AggregatesRemaining(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book := NewOrderBook("iron_bar")
		var buyVolume, sellVolume int64
		for _, o := range drawBuys(t, rapid.IntRange(0, 20).Draw(t, "buys")) {
			if err := book.AddBuyOrder(o); err != nil {
				t.Fatalf("add order: %v", err)
			}
			buyVolume += o.QuantityRemaining
		}
		for _, o := range drawOffers(t, rapid.IntRange(0, 20).Draw(t, "offers")) {
			if err := book.AddSellOffer(o); err != nil {
				t.Fatalf("add offer: %v", err)
			}
			sellVolume += o.QuantityRemaining
		}

		d := book.MarketDepth()
		if d.TotalBuyVolume() != buyVolume || d.TotalSellVolume() != sellVolume {
			t.Fatalf("depth %d/%d, want %d/%d", d.TotalBuyVolume(), d.TotalSellVolume(), buyVolume, sellVolume)
		}
		for i := 1; i < len(d.Bids); i++ {
			if d.Bids[i].Price >= d.Bids[i-1].Price {
				t.Fatalf("bids not strictly descending")
			}
		}
		for i := 1; i < len(d.Asks); i++ {
			if d.Asks[i].Price <= d.Asks[i-1].Price {
				t.Fatalf("asks not strictly ascending")
			}
		}
	})
}

// 依次让每笔买单与订单簿撮合并结算，校验金币与数量守恒
func TestSettlement_Conservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		ledger := newFakeLedger()
		deps := ledger.settlement()
		book := NewOrderBook("iron_bar")

		offers := drawOffers(t, rapid.IntRange(1, 15).Draw(t, "offers"))
		for _, o := range offers {
			if err := book.AddSellOffer(o); err != nil {
				t.Fatalf("add offer: %v", err)
			}
		}

		committed := map[int64]int64{}
		var debited, credited, taxed int64
		buys := drawBuys(t, rapid.IntRange(1, 15).Draw(t, "buys"))
		for _, order := range buys {
			ledger.escrow[order.PlayerAuth] += order.EscrowRequired()
			for _, m := range book.FindMatchesForBuyOrder(order) {
				tx := NewTradeTransaction(m, deps, nil)
				if err := tx.Prepare(ctx); err != nil {
					t.Fatalf("prepare: %v", err)
				}
				res, err := tx.Commit(ctx)
				if err != nil {
					t.Fatalf("commit: %v", err)
				}
				debited += res.TotalCoins
				credited += res.SellerProceeds
				taxed += res.Tax
				committed[res.BuyOrderID] += res.Quantity
				committed[res.SellOfferID] += res.Quantity
				if !m.SellOffer.CanMatch() {
					book.RemoveSellOffer(m.SellOffer.OfferID)
				}
			}
		}

		if debited != credited+taxed {
			t.Fatalf("coins: debited %d != credited %d + tax %d", debited, credited, taxed)
		}
		var bankTotal int64
		for _, v := range ledger.bank {
			bankTotal += v
		}
		if bankTotal != credited {
			t.Fatalf("bank total %d != credited %d", bankTotal, credited)
		}
		for _, o := range buys {
			if o.QuantityRemaining != o.QuantityTotal-committed[o.OrderID] || o.QuantityRemaining < 0 {
				t.Fatalf("buy %d remaining %d, total %d, committed %d", o.OrderID, o.QuantityRemaining, o.QuantityTotal, committed[o.OrderID])
			}
			if ledger.escrow[o.PlayerAuth] != o.EscrowRequired() {
				t.Fatalf("buyer %d escrow %d, want %d", o.PlayerAuth, ledger.escrow[o.PlayerAuth], o.EscrowRequired())
			}
		}
		for _, o := range offers {
			if o.QuantityRemaining != o.QuantityTotal-committed[o.OfferID] || o.QuantityRemaining < 0 {
				t.Fatalf("offer %d remaining %d, total %d, committed %d", o.OfferID, o.QuantityRemaining, o.QuantityTotal, committed[o.OfferID])
			}
		}
	})
}
