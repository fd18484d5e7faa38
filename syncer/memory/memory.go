// Package memory is an in-process sync provider: a shared, append-only change
// log that isolated stores in the same process push to and pull from.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/unkn0wn-root/layerkv/syncer"
)

// ErrOffline is returned while a provider is disconnected.
var ErrOffline = errors.New("memory hub: provider offline")

// Hub holds the shared log.
type Hub struct {
	mu  sync.RWMutex
	log []syncer.Change
}

func NewHub() *Hub { return &Hub{} }

// Len returns the number of changes in the log.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.log)
}

// Provider returns a provider view of the hub. The name keys the pull
// cursor, so peers sharing one cursor store need distinct names.
func (h *Hub) Provider(name string) *Provider { return &Provider{hub: h, name: name} }

// Provider is a syncer.Provider over a Hub.
type Provider struct {
	hub     *Hub
	name    string
	mu      sync.Mutex
	offline bool
}

var _ syncer.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }

// SetOffline simulates a lost connection.
func (p *Provider) SetOffline(off bool) {
	p.mu.Lock()
	p.offline = off
	p.mu.Unlock()
}

func (p *Provider) isOffline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offline
}

func (p *Provider) Push(_ context.Context, changes []syncer.Change) (syncer.PushResult, error) {
	if p.isOffline() {
		return syncer.PushResult{}, ErrOffline
	}
	p.hub.mu.Lock()
	p.hub.log = append(p.hub.log, changes...)
	p.hub.mu.Unlock()
	return syncer.PushResult{Success: true, Synced: len(changes)}, nil
}

// Pull returns log entries after cursor, an offset into the log.
func (p *Provider) Pull(_ context.Context, cursor string) ([]syncer.Change, string, error) {
	if p.isOffline() {
		return nil, cursor, ErrOffline
	}
	from := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, cursor, fmt.Errorf("memory hub: bad cursor %q", cursor)
		}
		from = n
	}
	p.hub.mu.RLock()
	defer p.hub.mu.RUnlock()
	if from > len(p.hub.log) {
		from = len(p.hub.log)
	}
	out := append([]syncer.Change(nil), p.hub.log[from:]...)
	return out, strconv.Itoa(len(p.hub.log)), nil
}
