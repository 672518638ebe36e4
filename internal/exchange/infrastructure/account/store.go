// Package account 玩家账户的内存实现：银行金币、托管金币、领取箱、库存、挂单槽位与成交统计
package account

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientItems = errors.New("insufficient items")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidSlot       = errors.New("invalid slot")
	ErrSlotOccupied      = errors.New("slot occupied")
	ErrSlotEmpty         = errors.New("slot empty")
	ErrOverflow          = errors.New("balance overflow")
)

// addChecked 余额累加，超出 int64 时返回 ErrOverflow
func addChecked(cur, amount int64) (int64, error) {
	if cur > math.MaxInt64-amount {
		return cur, fmt.Errorf("%w: %d + %d", ErrOverflow, cur, amount)
	}
	return cur + amount, nil
}

// Record 单个玩家的账户数据
// Bank 为可用余额，Escrow 为买单冻结余额；BuyOrders 与 Offers 按槽位下标存放
type Record struct {
	PlayerAuth  int64              `json:"player_auth"`
	Bank        int64              `json:"bank"`
	Escrow      int64              `json:"escrow"`
	Inventory   map[string]int64   `json:"inventory"`
	Collection  map[string]int64   `json:"collection"`
	BuyOrders   []*domain.BuyOrder `json:"buy_orders"`
	Offers      []*domain.GEOffer  `json:"offers"`
	ItemsBought int64              `json:"items_bought"`
	ItemsSold   int64              `json:"items_sold"`
	TradeCount  int64              `json:"trade_count"`
}

// Account 账户，guard 用于跨步骤流程的玩家级互斥
type Account struct {
	Record
	guard sync.Mutex
}

// Store 账户存储，实现结算所需的托管、银行、领取箱与统计端口
// mu 保护账户数据；Account.guard 由上层按玩家 ID 升序加锁，用于串行化跨步骤流程
type Store struct {
	mu         sync.RWMutex
	accounts   map[int64]*Account
	buySlots   int
	offerSlots int
}

// NewStore 创建账户存储
func NewStore(buySlots, offerSlots int) *Store {
	return &Store{
		accounts:   make(map[int64]*Account),
		buySlots:   max(buySlots, 1),
		offerSlots: max(offerSlots, 1),
	}
}

// BuySlots 买单槽位数
func (s *Store) BuySlots() int { return s.buySlots }

// OfferSlots 卖单槽位数
func (s *Store) OfferSlots() int { return s.offerSlots }

// get 获取或创建账户，调用方持有写锁
func (s *Store) get(player int64) *Account {
	a, ok := s.accounts[player]
	if !ok {
		a = &Account{Record: Record{
			PlayerAuth: player,
			Inventory:  make(map[string]int64),
			Collection: make(map[string]int64),
			BuyOrders:  make([]*domain.BuyOrder, s.buySlots),
			Offers:     make([]*domain.GEOffer, s.offerSlots),
		}}
		s.accounts[player] = a
	}
	return a
}

// LockPlayers 按玩家 ID 升序获取账户锁，返回释放函数
func (s *Store) LockPlayers(players ...int64) (unlock func()) {
	ids := slices.Clone(players)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	s.mu.Lock()
	accounts := make([]*Account, len(ids))
	for i, id := range ids {
		accounts[i] = s.get(id)
	}
	s.mu.Unlock()

	for _, a := range accounts {
		a.guard.Lock()
	}
	return func() {
		for i := len(accounts) - 1; i >= 0; i-- {
			accounts[i].guard.Unlock()
		}
	}
}

// EscrowBalance 托管余额
func (s *Store) EscrowBalance(player int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[player]; ok {
		return a.Escrow, nil
	}
	return 0, nil
}

// WithdrawEscrow 从托管余额扣款（成交付款）
func (s *Store) WithdrawEscrow(player, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(player)
	if a.Escrow < amount {
		return fmt.Errorf("%w: escrow %d < %d", ErrInsufficientFunds, a.Escrow, amount)
	}
	a.Escrow -= amount
	return nil
}

// SetEscrowBalance 直接设置托管余额，仅用于回滚
func (s *Store) SetEscrowBalance(player, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(player).Escrow = amount
	return nil
}

// BankBalance 银行余额
func (s *Store) BankBalance(player int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[player]; ok {
		return a.Bank, nil
	}
	return 0, nil
}

// DepositBank 银行入账
func (s *Store) DepositBank(player, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(player)
	bank, err := addChecked(a.Bank, amount)
	if err != nil {
		return err
	}
	a.Bank = bank
	return nil
}

// SetBankBalance 直接设置银行余额，仅用于回滚
func (s *Store) SetBankBalance(player, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(player).Bank = amount
	return nil
}

// WithdrawBank 银行扣款
func (s *Store) WithdrawBank(player, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(player)
	if a.Bank < amount {
		return fmt.Errorf("%w: bank %d < %d", ErrInsufficientFunds, a.Bank, amount)
	}
	a.Bank -= amount
	return nil
}

// FreezeToEscrow 银行 → 托管（买单激活）
func (s *Store) FreezeToEscrow(player, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(player)
	if a.Bank < amount {
		return fmt.Errorf("%w: bank %d < %d", ErrInsufficientFunds, a.Bank, amount)
	}
	escrow, err := addChecked(a.Escrow, amount)
	if err != nil {
		return err
	}
	a.Bank -= amount
	a.Escrow = escrow
	return nil
}

// RefundEscrow 托管 → 银行（买单停用、取消或过期），托管不足时退还全部剩余
func (s *Store) RefundEscrow(player, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(player)
	refund := min(amount, a.Escrow)
	bank, err := addChecked(a.Bank, refund)
	if err != nil {
		return 0, err
	}
	a.Escrow -= refund
	a.Bank = bank
	return refund, nil
}

// DepositItems 物品放入领取箱
func (s *Store) DepositItems(player int64, itemID string, quantity int64, _ string) error {
	if quantity <= 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(player)
	qty, err := addChecked(a.Collection[itemID], quantity)
	if err != nil {
		return err
	}
	a.Collection[itemID] = qty
	return nil
}

// WithdrawItems 从领取箱取回物品
func (s *Store) WithdrawItems(player int64, itemID string, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(player)
	if a.Collection[itemID] < quantity {
		return fmt.Errorf("%w: %s collection %d < %d", ErrInsufficientItems, itemID, a.Collection[itemID], quantity)
	}
	a.Collection[itemID] -= quantity
	if a.Collection[itemID] == 0 {
		delete(a.Collection, itemID)
	}
	return nil
}

// Collect 领取箱 → 库存，itemID 为空时领取全部，返回领取明细；库存会溢出的物品留在领取箱
func (s *Store) Collect(player int64, itemID string) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(player)
	out := make(map[string]int64)
	for item, qty := range a.Collection {
		if itemID != "" && item != itemID {
			continue
		}
		inv, err := addChecked(a.Inventory[item], qty)
		if err != nil {
			continue
		}
		out[item] = qty
		a.Inventory[item] = inv
		delete(a.Collection, item)
	}
	return out
}

// AddInventory 物品加入库存
func (s *Store) AddInventory(player int64, itemID string, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(player)
	qty, err := addChecked(a.Inventory[itemID], quantity)
	if err != nil {
		return err
	}
	a.Inventory[itemID] = qty
	return nil
}

// TakeInventory 从库存取出物品（卖单挂出）
func (s *Store) TakeInventory(player int64, itemID string, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(player)
	if a.Inventory[itemID] < quantity {
		return fmt.Errorf("%w: %s inventory %d < %d", ErrInsufficientItems, itemID, a.Inventory[itemID], quantity)
	}
	a.Inventory[itemID] -= quantity
	if a.Inventory[itemID] == 0 {
		delete(a.Inventory, itemID)
	}
	return nil
}

// RecordTrade 成交统计
func (s *Store) RecordTrade(buyer, seller int64, _ string, quantity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(buyer)
	b.ItemsBought += quantity
	b.TradeCount++
	sl := s.get(seller)
	sl.ItemsSold += quantity
	if seller != buyer {
		sl.TradeCount++
	}
	return nil
}

func (s *Store) checkSlot(slot, limit int) error {
	if slot < 0 || slot >= limit {
		return fmt.Errorf("%w: %d (0-%d)", ErrInvalidSlot, slot, limit-1)
	}
	return nil
}

// BuyOrder 槽位中的买单
func (s *Store) BuyOrder(player int64, slot int) (*domain.BuyOrder, error) {
	if err := s.checkSlot(slot, s.buySlots); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[player]
	if !ok || a.BuyOrders[slot] == nil {
		return nil, fmt.Errorf("%w: buy slot %d", ErrSlotEmpty, slot)
	}
	return a.BuyOrders[slot], nil
}

// PlaceBuyOrder 买单放入空槽位
func (s *Store) PlaceBuyOrder(o *domain.BuyOrder) error {
	if err := s.checkSlot(o.SlotIndex, s.buySlots); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(o.PlayerAuth)
	if a.BuyOrders[o.SlotIndex] != nil {
		return fmt.Errorf("%w: buy slot %d", ErrSlotOccupied, o.SlotIndex)
	}
	a.BuyOrders[o.SlotIndex] = o
	return nil
}

// ClearBuySlot 清空买单槽位，返回原买单
func (s *Store) ClearBuySlot(player int64, slot int) (*domain.BuyOrder, error) {
	if err := s.checkSlot(slot, s.buySlots); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(player)
	o := a.BuyOrders[slot]
	if o == nil {
		return nil, fmt.Errorf("%w: buy slot %d", ErrSlotEmpty, slot)
	}
	a.BuyOrders[slot] = nil
	return o, nil
}

// Offer 槽位中的卖单
func (s *Store) Offer(player int64, slot int) (*domain.GEOffer, error) {
	if err := s.checkSlot(slot, s.offerSlots); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[player]
	if !ok || a.Offers[slot] == nil {
		return nil, fmt.Errorf("%w: offer slot %d", ErrSlotEmpty, slot)
	}
	return a.Offers[slot], nil
}

// PlaceOffer 卖单放入空槽位
func (s *Store) PlaceOffer(o *domain.GEOffer) error {
	if err := s.checkSlot(o.SlotIndex, s.offerSlots); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(o.PlayerAuth)
	if a.Offers[o.SlotIndex] != nil {
		return fmt.Errorf("%w: offer slot %d", ErrSlotOccupied, o.SlotIndex)
	}
	a.Offers[o.SlotIndex] = o
	return nil
}

// ClearOfferSlot 清空卖单槽位，返回原卖单
func (s *Store) ClearOfferSlot(player int64, slot int) (*domain.GEOffer, error) {
	if err := s.checkSlot(slot, s.offerSlots); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(player)
	o := a.Offers[slot]
	if o == nil {
		return nil, fmt.Errorf("%w: offer slot %d", ErrSlotEmpty, slot)
	}
	a.Offers[slot] = nil
	return o, nil
}

// AllBuyOrders 全部槽位中的买单
func (s *Store) AllBuyOrders() []*domain.BuyOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.BuyOrder
	for _, a := range s.accounts {
		for _, o := range a.BuyOrders {
			if o != nil {
				out = append(out, o)
			}
		}
	}
	return out
}

// AllOffers 全部槽位中的卖单
func (s *Store) AllOffers() []*domain.GEOffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.GEOffer
	for _, a := range s.accounts {
		for _, o := range a.Offers {
			if o != nil {
				out = append(out, o)
			}
		}
	}
	return out
}

// View 账户只读视图
type View struct {
	PlayerAuth  int64             `json:"player_auth"`
	Bank        int64             `json:"bank"`
	Escrow      int64             `json:"escrow"`
	Inventory   map[string]int64  `json:"inventory"`
	Collection  map[string]int64  `json:"collection"`
	BuyOrders   []domain.BuyOrder `json:"buy_orders"`
	Offers      []domain.GEOffer  `json:"offers"`
	ItemsBought int64             `json:"items_bought"`
	ItemsSold   int64             `json:"items_sold"`
	TradeCount  int64             `json:"trade_count"`
}

// View 账户副本，不存在时返回空账户
func (s *Store) View(player int64) View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{PlayerAuth: player, Inventory: map[string]int64{}, Collection: map[string]int64{}}
	a, ok := s.accounts[player]
	if !ok {
		return v
	}
	v.Bank, v.Escrow = a.Bank, a.Escrow
	v.Inventory = maps.Clone(a.Inventory)
	v.Collection = maps.Clone(a.Collection)
	for _, o := range a.BuyOrders {
		if o != nil {
			v.BuyOrders = append(v.BuyOrders, *o)
		}
	}
	for _, o := range a.Offers {
		if o != nil {
			v.Offers = append(v.Offers, *o)
		}
	}
	v.ItemsBought, v.ItemsSold, v.TradeCount = a.ItemsBought, a.ItemsSold, a.TradeCount
	return v
}

// TotalCoins 全部玩家银行与托管金币总额
func (s *Store) TotalCoins() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, a := range s.accounts {
		total += a.Bank + a.Escrow
	}
	return total
}
