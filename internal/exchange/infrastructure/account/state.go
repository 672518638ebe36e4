package account

import (
	"maps"
	"slices"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
)

// State 账户存储快照
type State struct {
	Accounts []Record `json:"accounts"`
}

// Export 深拷贝全部账户，按玩家 ID 排序
// 调用方需保证期间没有进行中的撮合
func (s *Store) Export() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(s.accounts))
	st := State{Accounts: make([]Record, 0, len(ids))}
	for _, id := range ids {
		st.Accounts = append(st.Accounts, cloneRecord(s.accounts[id].Record))
	}
	return st
}

// Restore 以快照替换全部账户，槽位数按当前配置截断或补齐
func (s *Store) Restore(st State) {
	accounts := make(map[int64]*Account, len(st.Accounts))
	for _, r := range st.Accounts {
		r = cloneRecord(r)
		if r.Inventory == nil {
			r.Inventory = make(map[string]int64)
		}
		if r.Collection == nil {
			r.Collection = make(map[string]int64)
		}
		r.BuyOrders = resize(r.BuyOrders, s.buySlots)
		r.Offers = resize(r.Offers, s.offerSlots)
		accounts[r.PlayerAuth] = &Account{Record: r}
	}
	s.mu.Lock()
	s.accounts = accounts
	s.mu.Unlock()
}

func cloneRecord(r Record) Record {
	out := r
	out.Inventory = maps.Clone(r.Inventory)
	out.Collection = maps.Clone(r.Collection)
	out.BuyOrders = make([]*domain.BuyOrder, len(r.BuyOrders))
	for i, o := range r.BuyOrders {
		if o != nil {
			c := *o
			out.BuyOrders[i] = &c
		}
	}
	out.Offers = make([]*domain.GEOffer, len(r.Offers))
	for i, o := range r.Offers {
		if o != nil {
			c := *o
			out.Offers[i] = &c
		}
	}
	return out
}

func resize[T any](in []*T, n int) []*T {
	out := make([]*T, n)
	copy(out, in)
	return out
}
