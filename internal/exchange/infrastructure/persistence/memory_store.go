// Package persistence 快照存储实现：内存、文件、Redis、MySQL
package persistence

import (
	"context"
	"sync"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
)

// MemoryStore 进程内快照存储
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	s.data[key] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return append([]byte(nil), v...), nil
}

// Keys 已保存的键
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}
