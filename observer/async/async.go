// Package async decouples slow observers from the writer's goroutine.
//
// usage:
//
//	raw := logobs.New(logger, logobs.Options{EvictEvery: 100})
//	obs := async.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer obs.Close()
//
//	unsubscribe := store.Subscribe(obs)
//	defer unsubscribe()
package async

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/layerkv/event"
)

type task struct {
	ctx context.Context
	e   event.Event
}

// Observer forwards events to inner on a bounded queue. Events that do not
// fit are dropped and counted.
type Observer struct {
	inner   event.Observer
	q       chan task
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ event.Observer = (*Observer)(nil)

func New(inner event.Observer, workers, qlen int) *Observer {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	o := &Observer{inner: inner, q: make(chan task, qlen)}
	o.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer o.wg.Done()
			for t := range o.q {
				o.deliver(t)
			}
		}()
	}
	return o
}

func (o *Observer) deliver(t task) {
	defer func() { _ = recover() }()
	o.inner.OnEvent(t.ctx, t.e)
}

// OnEvent enqueues e without blocking. The context is detached from
// cancellation since delivery outlives the publishing call.
func (o *Observer) OnEvent(ctx context.Context, e event.Event) {
	if o.closed.Load() {
		o.dropped.Add(1)
		return
	}
	select {
	case o.q <- task{ctx: context.WithoutCancel(ctx), e: e}:
	default: // drop
		o.dropped.Add(1)
	}
}

// Dropped reports how many events did not fit the queue.
func (o *Observer) Dropped() uint64 { return o.dropped.Load() }

// Close drains the queue and stops the workers. Publishing must have stopped.
func (o *Observer) Close() {
	o.once.Do(func() {
		o.closed.Store(true)
		close(o.q)
		o.wg.Wait()
	})
}
