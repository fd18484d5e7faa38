// Package backendtest is a conformance suite for backend.Backend adapters.
package backendtest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/layerkv/backend"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) backend.Backend

// Run exercises the backend.Backend contract.
func Run(t *testing.T, newBackend Factory) {
	t.Run("GetSetDelete", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		defer b.Close(ctx)

		_, ok, err := b.Get(ctx, "missing")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, b.Set(ctx, "ns:a", []byte("1"), backend.SetOptions{}))
		v, ok, err := b.Get(ctx, "ns:a")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("1"), v)

		has, err := b.Has(ctx, "ns:a")
		require.NoError(t, err)
		require.True(t, has)

		require.NoError(t, b.Delete(ctx, "ns:a"))
		require.NoError(t, b.Delete(ctx, "ns:a"), "deleting a missing key is a no-op")
		has, err = b.Has(ctx, "ns:a")
		require.NoError(t, err)
		require.False(t, has)
	})

	t.Run("KeysByPrefix", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		defer b.Close(ctx)

		for _, k := range []string{"a:1", "a:2", "b:1"} {
			require.NoError(t, b.Set(ctx, k, []byte(k), backend.SetOptions{}))
		}
		keys, err := b.Keys(ctx, "a:")
		require.NoError(t, err)
		sort.Strings(keys)
		require.Equal(t, []string{"a:1", "a:2"}, keys)

		all, err := b.Keys(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 3)
	})

	t.Run("SizeTracksWrites", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		defer b.Close(ctx)

		before, err := b.Size(ctx)
		require.NoError(t, err)

		require.NoError(t, b.Set(ctx, "k", make([]byte, 100), backend.SetOptions{}))
		after, err := b.Size(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, after-before, int64(100))

		require.NoError(t, b.Delete(ctx, "k"))
		final, err := b.Size(ctx)
		require.NoError(t, err)
		require.Equal(t, before, final)
	})

	t.Run("Batches", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		defer b.Close(ctx)

		require.NoError(t, b.SetMany(ctx, map[string][]byte{
			"x": []byte("1"),
			"y": []byte("2"),
		}, backend.SetOptions{}))

		got, err := b.GetMany(ctx, []string{"x", "y", "z"})
		require.NoError(t, err)
		require.Equal(t, map[string][]byte{"x": []byte("1"), "y": []byte("2")}, got)

		require.NoError(t, b.DeleteMany(ctx, []string{"x", "y"}))
		got, err = b.GetMany(ctx, []string{"x", "y"})
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("Clear", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		defer b.Close(ctx)

		require.NoError(t, b.Set(ctx, "p", []byte("1"), backend.SetOptions{}))
		require.NoError(t, b.Set(ctx, "q", []byte("2"), backend.SetOptions{}))
		require.NoError(t, b.Clear(ctx))

		keys, err := b.Keys(ctx, "")
		require.NoError(t, err)
		require.Empty(t, keys)
	})

	t.Run("ApplyOps", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		defer b.Close(ctx)

		require.NoError(t, b.Set(ctx, "gone", []byte("x"), backend.SetOptions{}))
		require.NoError(t, backend.Apply(ctx, b, []backend.Op{
			backend.Put("n1", []byte("1"), 0),
			backend.Put("n2", []byte("2"), time.Hour),
			backend.Del("gone"),
		}))
		got, err := b.GetMany(ctx, []string{"n1", "n2", "gone"})
		require.NoError(t, err)
		require.Equal(t, map[string][]byte{"n1": []byte("1"), "n2": []byte("2")}, got)
	})
}
