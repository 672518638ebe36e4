package application

import (
	"time"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid 是否为已知方向
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

type CreateBuyOrderCommand struct {
	PlayerAuth   int64  `json:"player_auth"`
	Slot         int    `json:"slot"`
	ItemID       string `json:"item_id"`
	Quantity     int64  `json:"quantity"`
	PricePerItem int64  `json:"price_per_item"`
	Days         int    `json:"days"` // 0 表示默认有效期
}

type CreateSellOfferCommand struct {
	PlayerAuth   int64  `json:"player_auth"`
	Slot         int    `json:"slot"`
	ItemID       string `json:"item_id"`
	Quantity     int64  `json:"quantity"`
	PricePerItem int64  `json:"price_per_item"`
}

type DepositCommand struct {
	PlayerAuth int64            `json:"player_auth"`
	Coins      int64            `json:"coins"`
	Items      map[string]int64 `json:"items"`
}

type WatchPriceCommand struct {
	PlayerAuth  int64  `json:"player_auth"`
	ItemID      string `json:"item_id"`
	TargetPrice int64  `json:"target_price"`
	Side        Side   `json:"side"`
}

// MatchReport 一次指令产生的撮合结果，订单为指令结束时的副本
type MatchReport struct {
	BuyOrder  *domain.BuyOrder     `json:"buy_order,omitempty"`
	SellOffer *domain.GEOffer      `json:"sell_offer,omitempty"`
	Trades    []domain.TradeResult `json:"trades"`
	Rejected  int                  `json:"rejected"`
	Failed    int                  `json:"failed"`
	Refunded  int64                `json:"refunded,omitempty"`
}

// Filled 本次成交总数量
func (r MatchReport) Filled() int64 {
	var n int64
	for _, t := range r.Trades {
		n += t.Quantity
	}
	return n
}

// PriceWatch 价格提醒，触发一次后移除
// 买方在成交价不高于目标价时提醒，卖方在不低于目标价时提醒
type PriceWatch struct {
	PlayerAuth  int64     `json:"player_auth"`
	ItemID      string    `json:"item_id"`
	TargetPrice int64     `json:"target_price"`
	Side        Side      `json:"side"`
	CreatedAt   time.Time `json:"created_at"`
}

func (w PriceWatch) triggered(price int64) bool {
	if w.Side == SideSell {
		return price >= w.TargetPrice
	}
	return price <= w.TargetPrice
}

// ExpiryReport 过期处理结果
type ExpiryReport struct {
	BuyOrders     int   `json:"buy_orders"`
	SellOffers    int   `json:"sell_offers"`
	CoinsRefunded int64 `json:"coins_refunded"`
	ItemsReturned int64 `json:"items_returned"`
}

// MaintenanceReport 一轮维护的结果
type MaintenanceReport struct {
	Expired              ExpiryReport  `json:"expired"`
	BookEntriesPurged    int           `json:"book_entries_purged"`
	CooldownsEvicted     int           `json:"cooldowns_evicted"`
	PriceRangesEvicted   int           `json:"price_ranges_evicted"`
	NotificationsEvicted int           `json:"notifications_evicted"`
	WatchesExpired       int           `json:"watches_expired"`
	TradeEventsEvicted   int           `json:"trade_events_evicted"`
	SnapshotSaved        bool          `json:"snapshot_saved"`
	Duration             time.Duration `json:"duration"`
}

// ListingSort 在售卖单排序方式
type ListingSort string

const (
	SortPriceAsc     ListingSort = "price_asc"
	SortPriceDesc    ListingSort = "price_desc"
	SortQuantityDesc ListingSort = "quantity_desc"
	SortExpiry       ListingSort = "expiry"
)

// Valid 是否为已知排序方式
func (s ListingSort) Valid() bool {
	switch s {
	case SortPriceAsc, SortPriceDesc, SortQuantityDesc, SortExpiry:
		return true
	}
	return false
}

// ListingQuery 浏览条件，Page 从 0 开始
type ListingQuery struct {
	Filter   string
	Sort     ListingSort
	Page     int
	PageSize int
}

// Listing 在售卖单
type Listing struct {
	OfferID           int64             `json:"offer_id"`
	ItemID            string            `json:"item_id"`
	SellerAuth        int64             `json:"seller_auth"`
	PricePerItem      int64             `json:"price_per_item"`
	QuantityTotal     int64             `json:"quantity_total"`
	QuantityRemaining int64             `json:"quantity_remaining"`
	State             domain.OrderState `json:"state"`
	CreatedAt         time.Time         `json:"created_at"`
	ExpiresAt         time.Time         `json:"expires_at,omitempty"`
}

// ListingPage 分页结果
type ListingPage struct {
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
	Total      int         `json:"total"`
	Filter     string      `json:"filter"`
	Sort       ListingSort `json:"sort"`
	Listings   []Listing   `json:"listings"`
}
