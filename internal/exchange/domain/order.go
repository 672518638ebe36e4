// Package domain 交易所核心领域模型：买单、卖单、订单簿、两阶段成交事务与外部协作者接口
package domain

import (
	"errors"
	"fmt"
	"time"
)

// OrderState 挂单状态，买单与卖单共用
type OrderState string

const (
	StateDraft     OrderState = "DRAFT"     // 草稿，尚未托管资金/上架
	StateActive    OrderState = "ACTIVE"    // 已激活，未成交
	StatePartial   OrderState = "PARTIAL"   // 部分成交
	StateCompleted OrderState = "COMPLETED" // 全部成交
	StateExpired   OrderState = "EXPIRED"   // 已过期
	StateCancelled OrderState = "CANCELLED" // 已取消
)

// IsTerminal 终态不可再进入订单簿
func (s OrderState) IsTerminal() bool {
	return s == StateCompleted || s == StateExpired || s == StateCancelled
}

// IsLive ACTIVE 或 PARTIAL
func (s OrderState) IsLive() bool {
	return s == StateActive || s == StatePartial
}

var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrInvalidState    = errors.New("invalid order state")
	ErrOverfill        = errors.New("fill exceeds remaining quantity")
)

// Lifecycle 买单与卖单共享的数量与状态机
type Lifecycle struct {
	QuantityTotal     int64      `json:"quantity_total"`
	QuantityRemaining int64      `json:"quantity_remaining"`
	State             OrderState `json:"state"`
	Enabled           bool       `json:"enabled"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func newLifecycle(quantity int64, now time.Time) Lifecycle {
	return Lifecycle{
		QuantityTotal:     quantity,
		QuantityRemaining: quantity,
		State:             StateDraft,
		UpdatedAt:         now,
	}
}

// CanMatch 是否可参与撮合
func (l *Lifecycle) CanMatch() bool {
	return l.Enabled && l.State.IsLive() && l.QuantityRemaining > 0
}

// QuantityFilled 已成交数量
func (l *Lifecycle) QuantityFilled() int64 {
	return l.QuantityTotal - l.QuantityRemaining
}

func (l *Lifecycle) enable(now time.Time) error {
	if l.State != StateDraft {
		return fmt.Errorf("%w: cannot enable from %s", ErrInvalidState, l.State)
	}
	if l.QuantityRemaining <= 0 {
		return fmt.Errorf("%w: nothing left to trade", ErrInvalidQuantity)
	}
	l.Enabled = true
	if l.QuantityRemaining < l.QuantityTotal {
		l.State = StatePartial
	} else {
		l.State = StateActive
	}
	l.UpdatedAt = now
	return nil
}

func (l *Lifecycle) disable(now time.Time) error {
	if !l.State.IsLive() {
		return fmt.Errorf("%w: cannot disable from %s", ErrInvalidState, l.State)
	}
	l.Enabled = false
	l.State = StateDraft
	l.UpdatedAt = now
	return nil
}

// fill 扣减剩余数量并推进状态
func (l *Lifecycle) fill(quantity int64, now time.Time) error {
	if !l.CanMatch() {
		return fmt.Errorf("%w: cannot fill from %s", ErrInvalidState, l.State)
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > l.QuantityRemaining {
		return fmt.Errorf("%w: fill %d, remaining %d", ErrOverfill, quantity, l.QuantityRemaining)
	}
	l.QuantityRemaining -= quantity
	if l.QuantityRemaining == 0 {
		l.State = StateCompleted
		l.Enabled = false
	} else {
		l.State = StatePartial
	}
	l.UpdatedAt = now
	return nil
}

// Cancel 任意非终态 → CANCELLED，返回是否发生了变更
func (l *Lifecycle) Cancel(now time.Time) bool {
	if l.State.IsTerminal() {
		return false
	}
	l.State = StateCancelled
	l.Enabled = false
	l.UpdatedAt = now
	return true
}

// Expire 任意非终态 → EXPIRED，返回是否发生了变更
func (l *Lifecycle) Expire(now time.Time) bool {
	if l.State.IsTerminal() {
		return false
	}
	l.State = StateExpired
	l.Enabled = false
	l.UpdatedAt = now
	return true
}

// lifecycleMemo 回滚用的状态快照
type lifecycleMemo struct {
	remaining int64
	state     OrderState
	enabled   bool
}

func (l *Lifecycle) memo() lifecycleMemo {
	return lifecycleMemo{remaining: l.QuantityRemaining, state: l.State, enabled: l.Enabled}
}

func (l *Lifecycle) restore(m lifecycleMemo, now time.Time) {
	l.QuantityRemaining = m.remaining
	l.State = m.state
	l.Enabled = m.enabled
	l.UpdatedAt = now
}

// BuyOrder 买单，激活时按 剩余数量×单价 托管金币
type BuyOrder struct {
	OrderID        int64     `json:"order_id"`
	PlayerAuth     int64     `json:"player_auth"`
	SlotIndex      int       `json:"slot_index"`
	ItemID         string    `json:"item_id"`
	PricePerItem   int64     `json:"price_per_item"`
	CreatedAt      time.Time `json:"created_at"`
	ExpirationDays int       `json:"expiration_days"`
	Lifecycle
}

// NewBuyOrder 创建草稿买单
func NewBuyOrder(orderID, player int64, slot int, itemID string, quantity, price int64, days int, now time.Time) (*BuyOrder, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPrice, price)
	}
	if days <= 0 {
		return nil, fmt.Errorf("%w: %d days", ErrInvalidDuration, days)
	}
	return &BuyOrder{
		OrderID:        orderID,
		PlayerAuth:     player,
		SlotIndex:      slot,
		ItemID:         itemID,
		PricePerItem:   price,
		CreatedAt:      now,
		ExpirationDays: days,
		Lifecycle:      newLifecycle(quantity, now),
	}, nil
}

// Enable DRAFT → ACTIVE/PARTIAL，调用方负责先托管金币
func (o *BuyOrder) Enable(now time.Time) error { return o.enable(now) }

// Disable ACTIVE/PARTIAL → DRAFT，调用方负责退还托管金币
func (o *BuyOrder) Disable(now time.Time) error { return o.disable(now) }

// EscrowRequired 剩余数量对应的托管金币
func (o *BuyOrder) EscrowRequired() int64 {
	return o.QuantityRemaining * o.PricePerItem
}

// ExpiresAt 过期时间
func (o *BuyOrder) ExpiresAt() time.Time {
	return o.CreatedAt.Add(time.Duration(o.ExpirationDays) * 24 * time.Hour)
}

// IsExpiredAt 在 now 时刻是否已超期
func (o *BuyOrder) IsExpiredAt(now time.Time) bool {
	return !o.State.IsTerminal() && !now.Before(o.ExpiresAt())
}

func (o *BuyOrder) String() string {
	return fmt.Sprintf("BuyOrder{id=%d, player=%d, slot=%d, item=%s, qty=%d/%d, price=%d, state=%s}",
		o.OrderID, o.PlayerAuth, o.SlotIndex, o.ItemID, o.QuantityRemaining, o.QuantityTotal, o.PricePerItem, o.State)
}

// GEOffer 卖单，创建时物品已由上层放入挂单
type GEOffer struct {
	OfferID      int64     `json:"offer_id"`
	PlayerAuth   int64     `json:"player_auth"`
	SlotIndex    int       `json:"slot_index"`
	ItemID       string    `json:"item_id"`
	PricePerItem int64     `json:"price_per_item"`
	CreatedAt    time.Time `json:"created_at"`
	Lifecycle
}

// NewGEOffer 创建草稿卖单
func NewGEOffer(offerID, player int64, slot int, itemID string, quantity, price int64, now time.Time) (*GEOffer, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPrice, price)
	}
	return &GEOffer{
		OfferID:      offerID,
		PlayerAuth:   player,
		SlotIndex:    slot,
		ItemID:       itemID,
		PricePerItem: price,
		CreatedAt:    now,
		Lifecycle:    newLifecycle(quantity, now),
	}, nil
}

// Enable 上架
func (o *GEOffer) Enable(now time.Time) error { return o.enable(now) }

// Disable 下架
func (o *GEOffer) Disable(now time.Time) error { return o.disable(now) }

// IsExpiredAt 卖单按统一的挂单时长过期
func (o *GEOffer) IsExpiredAt(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && !o.State.IsTerminal() && !now.Before(o.CreatedAt.Add(ttl))
}

func (o *GEOffer) String() string {
	return fmt.Sprintf("GEOffer{id=%d, player=%d, slot=%d, item=%s, qty=%d/%d, price=%d, state=%s}",
		o.OfferID, o.PlayerAuth, o.SlotIndex, o.ItemID, o.QuantityRemaining, o.QuantityTotal, o.PricePerItem, o.State)
}
