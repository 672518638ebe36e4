package domain

import (
	"context"
	"errors"
	"time"
)

// EscrowStore 买方托管金币
type EscrowStore interface {
	EscrowBalance(player int64) (int64, error)
	WithdrawEscrow(player int64, amount int64) error
	SetEscrowBalance(player int64, amount int64) error
}

// BankStore 卖方银行金币
type BankStore interface {
	BankBalance(player int64) (int64, error)
	DepositBank(player int64, amount int64) error
	SetBankBalance(player int64, amount int64) error
}

// CollectionBox 买入物品的领取箱，与银行解耦，银行满不会阻塞结算
type CollectionBox interface {
	DepositItems(player int64, itemID string, quantity int64, source string) error
	WithdrawItems(player int64, itemID string, quantity int64) error
}

// ItemRegistry 物品存在性查询
type ItemRegistry interface {
	ItemExists(itemID string) bool
}

// TradeStatistics 双方买卖统计，一次调用同时记录买方与卖方
type TradeStatistics interface {
	RecordTrade(buyer, seller int64, itemID string, quantity int64) error
}

// TaxFunc 按成交总额计算交易税
type TaxFunc func(total int64) int64

// Settlement 结算所需的全部协作者
type Settlement struct {
	Escrow     EscrowStore
	Bank       BankStore
	Collection CollectionBox
	Items      ItemRegistry
	Stats      TradeStatistics
	Tax        TaxFunc
	Clock      func() time.Time
}

func (s Settlement) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// ErrSnapshotNotFound 快照不存在
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore 快照持久化接口，仅在显式快照/恢复边界调用，内容对核心逻辑不透明
type SnapshotStore interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
}

// TradePublisher 成交事件出口，实现不得阻塞调用方
type TradePublisher interface {
	PublishTrade(ctx context.Context, result TradeResult)
}
