package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/pkg/cache"
)

type fakeCache map[string][]byte

func (f fakeCache) GetBytes(_ context.Context, key string) ([]byte, error) {
	v, ok := f[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (f fakeCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f[key] = value.([]byte)
	return nil
}

func TestSnapshotStores(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "snapshots"))
	require.NoError(t, err)

	stores := map[string]domain.SnapshotStore{
		"memory": NewMemoryStore(),
		"file":   fs,
		"redis":  &RedisStore{cache: fakeCache{}, prefix: "ge:"},
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Load(ctx, "accounts")
			assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)

			require.NoError(t, store.Save(ctx, "accounts", []byte(`{"v":1}`)))
			require.NoError(t, store.Save(ctx, "accounts", []byte(`{"v":2}`)))
			got, err := store.Load(ctx, "accounts")
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":2}`, string(got))
		})
	}
}

func TestFileStore_SanitizesKeysAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), "grandexchange:snapshot:../audit", []byte("x")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "grandexchange_snapshot___audit.json", entries[0].Name())
}

func TestRedisStore_Prefix(t *testing.T) {
	fc := fakeCache{}
	s := &RedisStore{cache: fc, prefix: "grandexchange:snapshot:"}
	require.NoError(t, s.Save(context.Background(), "cooldown", []byte("{}")))
	_, ok := fc["grandexchange:snapshot:cooldown"]
	assert.True(t, ok)
}

func TestMemoryStore_CopiesData(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Save(context.Background(), "k", buf))
	buf[0] = 'z'
	got, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	assert.Equal(t, []string{"k"}, s.Keys())
}

func TestSnapshotModel_TableName(t *testing.T) {
	assert.Equal(t, "exchange_snapshots", SnapshotModel{}.TableName())
}
