package cooldown

import "time"

// Entry 一条冷却记录
type Entry struct {
	Action Action    `json:"action"`
	Player int64     `json:"player"`
	At     time.Time `json:"at"`
}

// State 可持久化的冷却状态，编码方式由调用方决定
type State struct {
	Entries []Entry `json:"entries"`
}

// Export 导出当前全部冷却记录
func (s *Service) Export() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st State
	for _, a := range Actions {
		for player, at := range s.last[a] {
			st.Entries = append(st.Entries, Entry{Action: a, Player: player, At: at})
		}
	}
	return st
}

// Restore 用导出的状态替换当前记录，未知动作被忽略
func (s *Service) Restore(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range Actions {
		s.last[a] = make(map[int64]time.Time)
	}
	for _, e := range st.Entries {
		if m, ok := s.last[e.Action]; ok {
			m[e.Player] = e.At
		}
	}
}
