// Package utils 提供雪花 ID 与带退避的重试
package utils

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// epoch 自定义纪元 2024-01-01T00:00:00Z，延长 41 位时间戳的可用年限
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

const (
	nodeBits     = 10
	sequenceBits = 12
	nodeMask     = 1<<nodeBits - 1
	sequenceMask = 1<<sequenceBits - 1
)

// SnowflakeID 雪花算法 ID 生成器，生成的 ID 严格递增
type SnowflakeID struct {
	mu        sync.Mutex
	timestamp int64
	sequence  int64
	nodeID    int64
	now       func() int64
}

// NewSnowflakeID 创建雪花 ID 生成器，nodeID 取低 10 位
func NewSnowflakeID(nodeID int64) *SnowflakeID {
	return &SnowflakeID{
		nodeID: nodeID & nodeMask,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Generate 生成雪花 ID
func (s *SnowflakeID) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now() - epoch
	if now < s.timestamp {
		// 时钟回拨时沿用上一毫秒
		now = s.timestamp
	}
	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & sequenceMask
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = s.now() - epoch
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	// timestamp(41 bits) + nodeID(10 bits) + sequence(12 bits)
	return now<<(nodeBits+sequenceBits) | s.nodeID<<sequenceBits | s.sequence
}

// RetryWithBackoff 指数退避重试，ctx 结束时立即返回
func RetryWithBackoff(ctx context.Context, maxAttempts int, initialDelay, maxDelay time.Duration, fn func() error) error {
	var err error
	delay := initialDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxDelay)
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, err)
}
