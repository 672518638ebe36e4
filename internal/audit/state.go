package audit

// State 审计日志的可持久化快照
type State struct {
	Entries     []Entry `json:"entries"`
	TotalTrades int64   `json:"total_trades"`
	TotalCoins  int64   `json:"total_coins"`
}

// Export 导出全局日志（从旧到新）与累计计数
func (l *Log) Export() State {
	l.mu.RLock()
	entries := l.global.Slice()
	l.mu.RUnlock()
	return State{
		Entries:     entries,
		TotalTrades: l.totalTrades.Load(),
		TotalCoins:  l.totalCoins.Load(),
	}
}

// Restore 清空后按时间顺序重放条目，物品与玩家日志由全局日志重建
func (l *Log) Restore(st State) {
	l.ClearAll()
	for _, e := range st.Entries {
		l.append(e)
	}
	if st.TotalTrades > 0 {
		l.totalTrades.Store(st.TotalTrades)
		l.totalCoins.Store(st.TotalCoins)
	}
}
