// Package catalog 可交易物品目录
package catalog

import (
	"slices"
	"strings"
	"sync"
)

// Catalog 物品白名单，为空时接受任意非空物品 ID
type Catalog struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// New 创建物品目录
func New(items ...string) *Catalog {
	c := &Catalog{items: make(map[string]struct{}, len(items))}
	c.Register(items...)
	return c
}

// Register 登记物品
func (c *Catalog) Register(items ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range items {
		if id = strings.TrimSpace(id); id != "" {
			c.items[id] = struct{}{}
		}
	}
}

// ItemExists 物品是否可交易
func (c *Catalog) ItemExists(itemID string) bool {
	if strings.TrimSpace(itemID) == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.items) == 0 {
		return true
	}
	_, ok := c.items[itemID]
	return ok
}

// Items 已登记物品，按字典序
func (c *Catalog) Items() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.items))
	for id := range c.items {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
