package cursor

import (
	"context"
	"time"
)

// Store abstracts where per-provider pull cursors live.
// Use Local for in-process cursors, Backend to persist them next to the data,
// or Redis to share them across processes.
type Store interface {
	// Get returns the saved cursor; missing => "".
	Get(ctx context.Context, provider string) (string, error)
	// Set saves the cursor reached after a successful pull.
	Set(ctx context.Context, provider, cursor string) error
	// Cleanup prunes stale cursors if applicable.
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
