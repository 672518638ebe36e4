package domain

import "time"

// CollectionSourcePurchase 领取箱入账来源
const CollectionSourcePurchase = "purchase"

// TradeResult 一笔已提交成交的不可变记录
type TradeResult struct {
	TradeID        string    `json:"trade_id"`
	BuyOrderID     int64     `json:"buy_order_id"`
	SellOfferID    int64     `json:"sell_offer_id"`
	BuyerAuth      int64     `json:"buyer_auth"`
	SellerAuth     int64     `json:"seller_auth"`
	ItemID         string    `json:"item_id"`
	Quantity       int64     `json:"quantity"`
	PricePerItem   int64     `json:"price_per_item"`
	TotalCoins     int64     `json:"total_coins"`
	Tax            int64     `json:"tax"`
	SellerProceeds int64     `json:"seller_proceeds"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// IsSelfTrade 买卖双方为同一玩家
func (r TradeResult) IsSelfTrade() bool {
	return r.BuyerAuth == r.SellerAuth
}
