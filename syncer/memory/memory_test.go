package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/layerkv/event"
	"github.com/unkn0wn-root/layerkv/syncer"
)

func TestPushPullWithCursor(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	a, b := hub.Provider("a"), hub.Provider("b")

	res, err := a.Push(ctx, []syncer.Change{{Key: "k1", Type: event.ChangeSet}, {Key: "k2", Type: event.ChangeDelete}})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, res.Synced)

	got, next, err := b.Pull(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "2", next)

	got, next, err = b.Pull(ctx, next)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, "2", next)
}

func TestOffline(t *testing.T) {
	ctx := context.Background()
	p := NewHub().Provider("p")
	p.SetOffline(true)
	_, err := p.Push(ctx, []syncer.Change{{Key: "k"}})
	require.ErrorIs(t, err, ErrOffline)
	_, cur, err := p.Pull(ctx, "3")
	require.ErrorIs(t, err, ErrOffline)
	require.Equal(t, "3", cur)
}

func TestBadCursor(t *testing.T) {
	_, _, err := NewHub().Provider("p").Pull(context.Background(), "x")
	require.Error(t, err)
}
