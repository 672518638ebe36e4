package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflakeID_Monotonic(t *testing.T) {
	gen := NewSnowflakeID(7)
	ms := epoch + 1000
	gen.now = func() int64 { return ms }

	a := gen.Generate()
	b := gen.Generate()
	assert.Greater(t, b, a)
	assert.Equal(t, int64(7), (a>>sequenceBits)&nodeMask)

	// 时钟回拨
	ms -= 10
	c := gen.Generate()
	assert.Greater(t, c, b)
}

func TestSnowflakeID_ConcurrentUnique(t *testing.T) {
	gen := NewSnowflakeID(1)
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4000)
}

func TestRetryWithBackoff(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, 2*time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	sentinel := errors.New("down")
	err = RetryWithBackoff(context.Background(), 2, time.Millisecond, time.Millisecond, func() error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = RetryWithBackoff(ctx, 5, time.Hour, time.Hour, func() error { return sentinel })
	assert.ErrorIs(t, err, context.Canceled)
}
