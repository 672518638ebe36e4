package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/pkg/cache"
)

// byteCache RedisStore 依赖的缓存操作，由 *cache.RedisCache 实现
type byteCache interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// RedisStore 快照存于 Redis，键为 prefix+key，不过期
type RedisStore struct {
	cache  byteCache
	prefix string
}

// NewRedisStore 创建 Redis 快照存储
func NewRedisStore(c *cache.RedisCache, prefix string) *RedisStore {
	return &RedisStore{cache: c, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) Save(ctx context.Context, key string, data []byte) error {
	return s.cache.Set(ctx, s.key(key), data, 0)
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.cache.GetBytes(ctx, s.key(key))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, domain.ErrSnapshotNotFound
	}
	return data, err
}
