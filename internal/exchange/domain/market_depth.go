package domain

// PriceLevel 单个价位的聚合挂单量
type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// MarketDepth 盘口深度：买方价格降序，卖方价格升序
type MarketDepth struct {
	ItemID  string       `json:"item_id"`
	Bids    []PriceLevel `json:"bids"`
	Asks    []PriceLevel `json:"asks"`
	BestBid int64        `json:"best_bid"`
	BestAsk int64        `json:"best_ask"`
	Spread  int64        `json:"spread"`
}

// TotalBuyVolume 买方剩余总量
func (d MarketDepth) TotalBuyVolume() int64 {
	return sumLevels(d.Bids)
}

// TotalSellVolume 卖方剩余总量
func (d MarketDepth) TotalSellVolume() int64 {
	return sumLevels(d.Asks)
}

func sumLevels(levels []PriceLevel) int64 {
	var total int64
	for _, l := range levels {
		total += l.Quantity
	}
	return total
}

// appendLevel 条目按优先级顺序到达，同价位合并到末尾
func appendLevel(levels []PriceLevel, price, qty int64) []PriceLevel {
	if n := len(levels); n > 0 && levels[n-1].Price == price {
		levels[n-1].Quantity += qty
		levels[n-1].Orders++
		return levels
	}
	return append(levels, PriceLevel{Price: price, Quantity: qty, Orders: 1})
}

// MarketDepth 聚合可撮合挂单的剩余数量
func (b *OrderBook) MarketDepth() MarketDepth {
	b.mu.Lock()
	defer b.mu.Unlock()

	depth := MarketDepth{ItemID: b.itemID}
	b.buys.walk(func(e *bookEntry[*BuyOrder]) bool {
		if e.ref.CanMatch() {
			depth.Bids = appendLevel(depth.Bids, e.price, e.ref.QuantityRemaining)
		}
		return true
	})
	b.sells.walk(func(e *bookEntry[*GEOffer]) bool {
		if e.ref.CanMatch() {
			depth.Asks = appendLevel(depth.Asks, e.price, e.ref.QuantityRemaining)
		}
		return true
	})

	if len(depth.Bids) > 0 {
		depth.BestBid = depth.Bids[0].Price
	}
	if len(depth.Asks) > 0 {
		depth.BestAsk = depth.Asks[0].Price
	}
	if depth.BestBid > 0 && depth.BestAsk > 0 {
		depth.Spread = depth.BestAsk - depth.BestBid
	}
	return depth
}
