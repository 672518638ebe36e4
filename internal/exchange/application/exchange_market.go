package application

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
)

const (
	DefaultListingPageSize = 20
	MaxListingPageSize     = 100
)

// BuyFromOffer 按卖单标价直接购买，quantity<=0 表示买下全部剩余
// 临时买单不占用槽位：托管 → 两阶段结算 → 失败时退还托管
func (e *Exchange) BuyFromOffer(ctx context.Context, player, offerID, quantity int64) (MatchReport, error) {
	m, offer, ok := e.lockOfferMarket(offerID)
	if !ok {
		return MatchReport{}, fmt.Errorf("%w: %d", ErrOfferNotFound, offerID)
	}
	defer m.mu.Unlock()

	now := e.now()
	if offer.PlayerAuth == player {
		return MatchReport{}, fmt.Errorf("%w: offer %d belongs to player %d", ErrOwnOffer, offerID, player)
	}
	if !offer.CanMatch() {
		return MatchReport{}, fmt.Errorf("%w: offer %d is %s", domain.ErrInvalidState, offerID, offer.State)
	}
	if offer.IsExpiredAt(now, e.opts.OfferTTL) {
		return MatchReport{}, ErrOrderExpired
	}

	qty := offer.QuantityRemaining
	if quantity > 0 {
		qty = min(quantity, qty)
	}
	order, err := domain.NewBuyOrder(e.ids.Generate(), player, -1, offer.ItemID, qty, offer.PricePerItem, 1, now)
	if err != nil {
		return MatchReport{}, err
	}
	escrow := order.EscrowRequired()
	if err := e.reserveInstantOrder(order, escrow, now); err != nil {
		return MatchReport{}, err
	}

	var report MatchReport
	e.settle(ctx, m, domain.Match{
		BuyOrder:       order,
		SellOffer:      offer,
		Quantity:       qty,
		ExecutionPrice: offer.PricePerItem,
	}, &report)
	e.refreshBook(m)

	if len(report.Trades) == 0 {
		unlock := e.accounts.LockPlayers(player)
		refunded, rerr := e.accounts.RefundEscrow(player, escrow)
		unlock()
		if rerr != nil {
			e.logger.ErrorContext(ctx, "instant purchase refund failed", "player", player, "escrow", escrow, "error", rerr)
		}
		report.Refunded = refunded
		return report, fmt.Errorf("%w: offer %d", ErrPurchaseFailed, offerID)
	}

	buy, sell := *order, *offer
	report.BuyOrder, report.SellOffer = &buy, &sell
	e.logger.InfoContext(ctx, "instant purchase",
		"player", player,
		"offer_id", offerID,
		"item_id", offer.ItemID,
		"quantity", qty,
		"price", offer.PricePerItem,
	)
	return report, nil
}

// reserveInstantOrder 在买方锁内托管金币并激活临时买单
func (e *Exchange) reserveInstantOrder(order *domain.BuyOrder, escrow int64, now time.Time) error {
	unlock := e.accounts.LockPlayers(order.PlayerAuth)
	defer unlock()
	if err := e.accounts.FreezeToEscrow(order.PlayerAuth, escrow); err != nil {
		return err
	}
	if err := order.Enable(now); err != nil {
		_, _ = e.accounts.RefundEscrow(order.PlayerAuth, escrow)
		return err
	}
	return nil
}

// lockOfferMarket 找到挂着该卖单的订单簿并持有其锁返回
func (e *Exchange) lockOfferMarket(offerID int64) (*market, *domain.GEOffer, bool) {
	e.mu.RLock()
	ids := slices.Sorted(maps.Keys(e.markets))
	ms := make([]*market, len(ids))
	for i, id := range ids {
		ms[i] = e.markets[id]
	}
	e.mu.RUnlock()

	for _, m := range ms {
		m.mu.Lock()
		if offer, ok := m.book.SellOffer(offerID); ok {
			return m, offer, true
		}
		m.mu.Unlock()
	}
	return nil, nil, false
}

// MarketListings 在售卖单浏览：物品名过滤、排序与分页，页码越界时落在最后一页
func (e *Exchange) MarketListings(q ListingQuery) ListingPage {
	if !q.Sort.Valid() {
		q.Sort = SortPriceAsc
	}
	size := q.PageSize
	if size <= 0 {
		size = DefaultListingPageSize
	}
	size = min(size, MaxListingPageSize)
	filter := strings.ToLower(strings.TrimSpace(q.Filter))

	e.mu.RLock()
	ms := make([]*market, 0, len(e.markets))
	for id, m := range e.markets {
		if filter == "" || strings.Contains(strings.ToLower(id), filter) {
			ms = append(ms, m)
		}
	}
	e.mu.RUnlock()

	var listings []Listing
	for _, m := range ms {
		m.mu.Lock()
		for _, o := range m.book.SellOffers() {
			listings = append(listings, e.listing(o))
		}
		m.mu.Unlock()
	}
	slices.SortFunc(listings, listingOrder(q.Sort))

	total := len(listings)
	pages := max(1, (total+size-1)/size)
	page := min(max(q.Page, 0), pages-1)
	start := min(total, page*size)
	end := min(total, start+size)

	return ListingPage{
		Page:       page,
		PageSize:   size,
		TotalPages: pages,
		Total:      total,
		Filter:     filter,
		Sort:       q.Sort,
		Listings:   append([]Listing{}, listings[start:end]...),
	}
}

func (e *Exchange) listing(o domain.GEOffer) Listing {
	l := Listing{
		OfferID:           o.OfferID,
		ItemID:            o.ItemID,
		SellerAuth:        o.PlayerAuth,
		PricePerItem:      o.PricePerItem,
		QuantityTotal:     o.QuantityTotal,
		QuantityRemaining: o.QuantityRemaining,
		State:             o.State,
		CreatedAt:         o.CreatedAt,
	}
	if e.opts.OfferTTL > 0 {
		l.ExpiresAt = o.CreatedAt.Add(e.opts.OfferTTL)
	}
	return l
}

// listingOrder 排序键相同时按卖单 ID 升序，保证分页稳定
func listingOrder(mode ListingSort) func(a, b Listing) int {
	var primary func(a, b Listing) int
	switch mode {
	case SortPriceDesc:
		primary = func(a, b Listing) int { return cmp.Compare(b.PricePerItem, a.PricePerItem) }
	case SortQuantityDesc:
		primary = func(a, b Listing) int { return cmp.Compare(b.QuantityRemaining, a.QuantityRemaining) }
	case SortExpiry:
		primary = func(a, b Listing) int { return expiryKey(a).Compare(expiryKey(b)) }
	default:
		primary = func(a, b Listing) int { return cmp.Compare(a.PricePerItem, b.PricePerItem) }
	}
	return func(a, b Listing) int {
		if c := primary(a, b); c != 0 {
			return c
		}
		return cmp.Compare(a.OfferID, b.OfferID)
	}
}

// 不过期的挂单排在最后
var neverExpires = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

func expiryKey(l Listing) time.Time {
	if l.ExpiresAt.IsZero() {
		return neverExpires
	}
	return l.ExpiresAt
}
