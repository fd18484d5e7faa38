package cursor

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	Cursor    string
	UpdatedAt time.Time
}

// Local keeps cursors in-process; they reset on restart, so the first pull
// after a restart replays the provider's log from the beginning.
// Optional cleanup loop prunes cursors of providers that went quiet.
type Local struct {
	mu      sync.RWMutex
	cursors map[string]localEntry
	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ Store = (*Local)(nil)

func NewLocal(cleanupInterval, retention time.Duration) *Local {
	s := &Local{cursors: make(map[string]localEntry)}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Get(_ context.Context, provider string) (string, error) {
	s.mu.RLock()
	e := s.cursors[provider]
	s.mu.RUnlock()
	return e.Cursor, nil
}

func (s *Local) Set(_ context.Context, provider, cursor string) error {
	s.mu.Lock()
	s.cursors[provider] = localEntry{Cursor: cursor, UpdatedAt: time.Now()}
	s.mu.Unlock()
	return nil
}

func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.cursors {
		if !e.UpdatedAt.IsZero() && e.UpdatedAt.Before(cutoff) {
			delete(s.cursors, k)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Close(_ context.Context) error {
	if s.stopCh != nil {
		close(s.stopCh)
		s.ticker.Stop()
		s.wg.Wait()
	}
	return nil
}
