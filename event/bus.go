package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/layerkv/logging"
)

type subscription struct {
	id    uint64
	obs   Observer
	types map[Type]struct{} // nil => all
}

// Bus fans events out to subscribers in subscription order. Delivery is
// synchronous; a panicking observer is recovered and logged and does not
// stop delivery to the others.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	next uint64
	log  logging.Logger
	now  func() time.Time
}

// NewBus returns an empty bus. log may be nil.
func NewBus(log logging.Logger) *Bus {
	return &Bus{log: logging.OrNop(log), now: time.Now}
}

// Subscribe registers o for the given types (all types when none given)
// and returns a function that removes the subscription.
func (b *Bus) Subscribe(o Observer, types ...Type) (unsubscribe func()) {
	var filter map[Type]struct{}
	if len(types) > 0 {
		filter = make(map[Type]struct{}, len(types))
		for _, t := range types {
			filter[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, obs: o, types: filter})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			// copy so in-flight Publish snapshots stay valid
			subs := make([]subscription, 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			b.subs = append(subs, b.subs[i+1:]...)
			return
		}
	}
}

// Len reports the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish stamps e (when Timestamp is zero) and delivers it.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.types != nil {
			if _, ok := s.types[e.Type]; !ok {
				continue
			}
		}
		b.deliver(ctx, s, e)
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("observer panicked", logging.Fields{
				"event":        string(e.Type),
				"subscription": s.id,
				"panic":        fmt.Sprint(r),
			})
		}
	}()
	s.obs.OnEvent(ctx, e)
}
