package cursor

import (
	"context"
	"time"

	"github.com/unkn0wn-root/layerkv/backend"
)

// Backend persists cursors as plain values in a layerkv backend, usually under
// a namespace's internal key prefix so they are hidden from key listings.
type Backend struct {
	b      backend.Backend
	prefix string
}

var _ Store = (*Backend)(nil)

func NewBackend(b backend.Backend, prefix string) *Backend {
	return &Backend{b: b, prefix: prefix}
}

func (s *Backend) Get(ctx context.Context, provider string) (string, error) {
	v, ok, err := s.b.Get(ctx, s.prefix+provider)
	if err != nil || !ok {
		return "", err
	}
	return string(v), nil
}

func (s *Backend) Set(ctx context.Context, provider, cursor string) error {
	return s.b.Set(ctx, s.prefix+provider, []byte(cursor), backend.SetOptions{})
}

func (s *Backend) Cleanup(time.Duration) {}

// Close leaves the backend open; it is owned by the caller.
func (s *Backend) Close(context.Context) error { return nil }
