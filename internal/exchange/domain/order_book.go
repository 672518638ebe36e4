package domain

import (
	"errors"
	"sync"
	"time"

	"github.com/google/btree"
)

var (
	ErrWrongItem      = errors.New("order belongs to a different item")
	ErrNotMatchable   = errors.New("order is not matchable")
	ErrDuplicateOrder = errors.New("order already in book")
)

const bookDegree = 16

// bookEntry 订单簿条目，排序键在入簿时固定
type bookEntry[T any] struct {
	price   int64
	created int64
	id      int64
	ref     T
}

// bookSide 单侧订单簿：有序 B 树 + ID 索引
type bookSide[T any] struct {
	tree  *btree.BTreeG[*bookEntry[T]]
	index map[int64]*bookEntry[T]
}

func newBookSide[T any](priceDescending bool) *bookSide[T] {
	less := func(a, b *bookEntry[T]) bool {
		if a.price != b.price {
			if priceDescending {
				return a.price > b.price
			}
			return a.price < b.price
		}
		if a.created != b.created {
			return a.created < b.created
		}
		return a.id < b.id
	}
	return &bookSide[T]{
		tree:  btree.NewG[*bookEntry[T]](bookDegree, less),
		index: make(map[int64]*bookEntry[T]),
	}
}

func (s *bookSide[T]) insert(e *bookEntry[T]) bool {
	if _, ok := s.index[e.id]; ok {
		return false
	}
	s.tree.ReplaceOrInsert(e)
	s.index[e.id] = e
	return true
}

func (s *bookSide[T]) remove(id int64) (T, bool) {
	e, ok := s.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	s.tree.Delete(e)
	delete(s.index, id)
	return e.ref, true
}

func (s *bookSide[T]) best() (T, bool) {
	e, ok := s.tree.Min()
	if !ok {
		var zero T
		return zero, false
	}
	return e.ref, true
}

// walk 按优先级顺序遍历，fn 返回 false 时停止
func (s *bookSide[T]) walk(fn func(e *bookEntry[T]) bool) {
	s.tree.Ascend(fn)
}

func (s *bookSide[T]) len() int { return len(s.index) }

// Match 撮合建议：一笔买单、一笔卖单、成交数量与成交价
type Match struct {
	BuyOrder       *BuyOrder
	SellOffer      *GEOffer
	Quantity       int64
	ExecutionPrice int64
}

// OrderBook 单个物品的限价订单簿
// 买方：价格降序，时间升序；卖方：价格升序，时间升序。
// 所有公开方法持有本订单簿的互斥锁。
type OrderBook struct {
	mu           sync.Mutex
	itemID       string
	buys         *bookSide[*BuyOrder]
	sells        *bookSide[*GEOffer]
	totalMatches int64
	lastMatchAt  time.Time
}

// NewOrderBook 创建订单簿
func NewOrderBook(itemID string) *OrderBook {
	return &OrderBook{
		itemID: itemID,
		buys:   newBookSide[*BuyOrder](true),
		sells:  newBookSide[*GEOffer](false),
	}
}

// ItemID 物品 ID
func (b *OrderBook) ItemID() string { return b.itemID }

// AddBuyOrder 买单入簿
func (b *OrderBook) AddBuyOrder(o *BuyOrder) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o.ItemID != b.itemID {
		return ErrWrongItem
	}
	if !o.CanMatch() {
		return ErrNotMatchable
	}
	if !b.buys.insert(&bookEntry[*BuyOrder]{
		price:   o.PricePerItem,
		created: o.CreatedAt.UnixNano(),
		id:      o.OrderID,
		ref:     o,
	}) {
		return ErrDuplicateOrder
	}
	return nil
}

// AddSellOffer 卖单入簿
func (b *OrderBook) AddSellOffer(o *GEOffer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o.ItemID != b.itemID {
		return ErrWrongItem
	}
	if !o.CanMatch() {
		return ErrNotMatchable
	}
	if !b.sells.insert(&bookEntry[*GEOffer]{
		price:   o.PricePerItem,
		created: o.CreatedAt.UnixNano(),
		id:      o.OfferID,
		ref:     o,
	}) {
		return ErrDuplicateOrder
	}
	return nil
}

// RemoveBuyOrder 按 ID 移除买单
func (b *OrderBook) RemoveBuyOrder(orderID int64) (*BuyOrder, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buys.remove(orderID)
}

// RemoveSellOffer 按 ID 移除卖单
func (b *OrderBook) RemoveSellOffer(offerID int64) (*GEOffer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sells.remove(offerID)
}

// SellOffer 按 ID 查找簿内卖单
func (b *OrderBook) SellOffer(offerID int64) (*GEOffer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.sells.index[offerID]
	if !ok {
		return nil, false
	}
	return e.ref, true
}

// SellOffers 按优先级返回簿内可撮合卖单的副本
func (b *OrderBook) SellOffers() []GEOffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]GEOffer, 0, b.sells.len())
	b.sells.walk(func(e *bookEntry[*GEOffer]) bool {
		if e.ref.CanMatch() {
			out = append(out, *e.ref)
		}
		return true
	})
	return out
}

// BestBuyOrder 最高买价
func (b *OrderBook) BestBuyOrder() (*BuyOrder, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buys.best()
}

// BestSellOffer 最低卖价
func (b *OrderBook) BestSellOffer() (*GEOffer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sells.best()
}

// FindMatchesForBuyOrder 以买单驱动撮合，成交价为该买单限价
func (b *OrderBook) FindMatchesForBuyOrder(order *BuyOrder) []Match {
	b.mu.Lock()
	defer b.mu.Unlock()

	if order == nil || order.ItemID != b.itemID || !order.CanMatch() {
		return nil
	}

	var matches []Match
	remaining := order.QuantityRemaining
	b.sells.walk(func(e *bookEntry[*GEOffer]) bool {
		if remaining <= 0 {
			return false
		}
		offer := e.ref
		if !offer.CanMatch() || offer.PlayerAuth == order.PlayerAuth {
			return true
		}
		if order.PricePerItem < offer.PricePerItem {
			return false
		}
		qty := min(remaining, offer.QuantityRemaining)
		matches = append(matches, Match{
			BuyOrder:       order,
			SellOffer:      offer,
			Quantity:       qty,
			ExecutionPrice: order.PricePerItem,
		})
		remaining -= qty
		return true
	})
	b.noteMatches(len(matches))
	return matches
}

// FindMatchesForSellOffer 以卖单驱动撮合，成交价为各买单限价
func (b *OrderBook) FindMatchesForSellOffer(offer *GEOffer) []Match {
	b.mu.Lock()
	defer b.mu.Unlock()

	if offer == nil || offer.ItemID != b.itemID || !offer.CanMatch() {
		return nil
	}

	var matches []Match
	remaining := offer.QuantityRemaining
	b.buys.walk(func(e *bookEntry[*BuyOrder]) bool {
		if remaining <= 0 {
			return false
		}
		order := e.ref
		if !order.CanMatch() || order.PlayerAuth == offer.PlayerAuth {
			return true
		}
		if order.PricePerItem < offer.PricePerItem {
			return false
		}
		qty := min(remaining, order.QuantityRemaining)
		matches = append(matches, Match{
			BuyOrder:       order,
			SellOffer:      offer,
			Quantity:       qty,
			ExecutionPrice: order.PricePerItem,
		})
		remaining -= qty
		return true
	})
	b.noteMatches(len(matches))
	return matches
}

func (b *OrderBook) noteMatches(n int) {
	if n == 0 {
		return
	}
	b.totalMatches += int64(n)
	b.lastMatchAt = time.Now()
}

// Rebuild 清除不可撮合条目并重建索引，返回清除数量
func (b *OrderBook) Rebuild() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	buys := newBookSide[*BuyOrder](true)
	b.buys.walk(func(e *bookEntry[*BuyOrder]) bool {
		if e.ref.CanMatch() {
			buys.insert(e)
		} else {
			removed++
		}
		return true
	})
	sells := newBookSide[*GEOffer](false)
	b.sells.walk(func(e *bookEntry[*GEOffer]) bool {
		if e.ref.CanMatch() {
			sells.insert(e)
		} else {
			removed++
		}
		return true
	})
	b.buys, b.sells = buys, sells
	return removed
}

// BuyOrderCount 买单数
func (b *OrderBook) BuyOrderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buys.len()
}

// SellOfferCount 卖单数
func (b *OrderBook) SellOfferCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sells.len()
}

// IsEmpty 两侧均无挂单
func (b *OrderBook) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buys.len() == 0 && b.sells.len() == 0
}

// TotalMatches 累计撮合建议数
func (b *OrderBook) TotalMatches() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalMatches
}

// LastMatchAt 最近一次产生撮合建议的时间
func (b *OrderBook) LastMatchAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastMatchAt
}
