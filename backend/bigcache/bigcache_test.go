package bigcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/layerkv/backend"
	"github.com/unkn0wn-root/layerkv/backend/backendtest"
)

func newBackend(t *testing.T, now func() time.Time) *Backend {
	t.Helper()
	b, err := New(context.Background(), Config{Shards: 16, MaxEntriesInWindow: 1024, MaxEntrySize: 256, Now: now})
	require.NoError(t, err)
	return b
}

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Backend { return newBackend(t, nil) })
}

func TestPerEntryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	b := newBackend(t, func() time.Time { return now })
	defer b.Close(ctx)

	require.NoError(t, b.Set(ctx, "short", []byte("v"), backend.SetOptions{TTL: time.Minute}))
	require.NoError(t, b.Set(ctx, "long", []byte("v"), backend.SetOptions{}))

	now = now.Add(2 * time.Minute)
	_, ok, err := b.Get(ctx, "short")
	require.NoError(t, err)
	require.False(t, ok)

	keys, err := b.Keys(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"long"}, keys)
}

func TestForeignEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, nil)
	defer b.Close(ctx)

	require.NoError(t, b.c.Set("raw", []byte{1, 2}))
	_, ok, err := b.Get(ctx, "raw")
	require.NoError(t, err)
	require.False(t, ok)
	_, err = b.c.Get("raw")
	require.Error(t, err)
}
