// Package syncer reconciles a local store with remote peers.
//
// Local mutations are buffered per key (last write wins) and flushed to every
// configured Provider by a sync cycle: push pending, pull remote changes since
// the provider's cursor, reconcile each one into the Target. Cycles run when
// the pending count reaches a threshold, on a periodic timer, or on demand.
// Sync is best effort: it never blocks the caller's reads and writes, provider
// failures are isolated, and delivery is at-least-once at best.
package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/unkn0wn-root/layerkv/cursor"
	"github.com/unkn0wn-root/layerkv/event"
	"github.com/unkn0wn-root/layerkv/logging"
)

// ErrNoConflict is returned by Resolve for keys without a pending conflict.
var ErrNoConflict = errors.New("syncer: no pending conflict")

type Options struct {
	// Source identifies this instance in pushed changes; default is a UUID.
	Source    string
	Providers []Provider
	Policy    Policy
	// Threshold is the pending count that triggers a cycle; 0 => 50, <0 never.
	Threshold int
	// Interval runs cycles periodically; 0 disables the timer.
	Interval time.Duration
	// MinInterval throttles threshold-triggered cycles; 0 => 1s.
	MinInterval time.Duration
	// Cursors remembers pull positions; default is an in-process store.
	Cursors cursor.Store
	Bus     *event.Bus
	Logger  logging.Logger
	Now     func() time.Time
}

type pendingChange struct {
	Change
	seq uint64
}

// Engine is safe for concurrent use.
type Engine struct {
	target  Target
	opts    Options
	log     logging.Logger
	limiter *rate.Limiter
	running atomic.Bool

	mu        sync.Mutex
	seq       uint64
	pending   map[string]pendingChange
	conflicts map[string]Conflict
	armed     bool // a threshold cycle is scheduled
	closed    bool

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(target Target, opts Options) (*Engine, error) {
	if target == nil {
		return nil, errors.New("syncer: nil target")
	}
	if opts.Policy > PolicyManual {
		return nil, fmt.Errorf("syncer: unknown policy %d", opts.Policy)
	}
	if opts.Source == "" {
		opts.Source = uuid.NewString()
	}
	if opts.Threshold == 0 {
		opts.Threshold = 50
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Second
	}
	if opts.Cursors == nil {
		opts.Cursors = cursor.NewLocal(0, 0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		target:    target,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		pending:   make(map[string]pendingChange),
		conflicts: make(map[string]Conflict),
		stopCh:    make(chan struct{}),
		log: logging.OrNop(opts.Logger).With(logging.Fields{
			"component": "syncer",
			"namespace": target.Namespace(),
			"source":    opts.Source,
		}),
	}
	if opts.Interval > 0 {
		e.wg.Add(1)
		go e.loop(opts.Interval)
	}
	return e, nil
}

// Source returns this instance's identity.
func (e *Engine) Source() string { return e.opts.Source }

// Enqueue records a local change. A clear supersedes everything pending.
func (e *Engine) Enqueue(c Change) {
	if c.Source == "" {
		c.Source = e.opts.Source
	}
	if c.Namespace == "" {
		c.Namespace = e.target.Namespace()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = e.opts.Now()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.seq++
	if c.Type == event.ChangeClear {
		e.pending = make(map[string]pendingChange)
	}
	e.pending[c.Key] = pendingChange{Change: c, seq: e.seq}
	e.mu.Unlock()

	e.trigger()
}

// trigger schedules a cycle when pending has reached the threshold. The
// cycle starts as soon as the limiter allows; at most one waits at a time.
func (e *Engine) trigger() {
	e.mu.Lock()
	if e.closed || e.armed || e.opts.Threshold <= 0 || len(e.pending) < e.opts.Threshold {
		e.mu.Unlock()
		return
	}
	e.armed = true
	e.wg.Add(1)
	e.mu.Unlock()

	delay := e.limiter.Reserve().Delay()
	go func() {
		defer e.wg.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-e.stopCh:
				return
			}
		}
		e.mu.Lock()
		e.armed = false
		e.mu.Unlock()
		e.Sync(context.Background())
	}()
}

// Pending returns the number of buffered changes.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// snapshot returns pending changes in enqueue order.
func (e *Engine) snapshot() []pendingChange {
	e.mu.Lock()
	out := make([]pendingChange, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// ack drops pushed changes that were not superseded during the cycle.
func (e *Engine) ack(pushed []pendingChange) {
	e.mu.Lock()
	for _, p := range pushed {
		if cur, ok := e.pending[p.Key]; ok && cur.seq == p.seq {
			delete(e.pending, p.Key)
		}
	}
	e.mu.Unlock()
}

// Sync runs one cycle. A call made while a cycle is in flight returns
// immediately with Skipped set.
func (e *Engine) Sync(ctx context.Context) Result {
	if !e.running.CompareAndSwap(false, true) {
		return Result{Skipped: true}
	}
	defer func() {
		e.running.Store(false)
		// changes that arrived mid-cycle may have crossed the threshold
		e.trigger()
	}()

	start := time.Now()
	e.publish(ctx, event.Event{Type: event.TypeSyncStart})

	batch := e.snapshot()
	changes := make([]Change, len(batch))
	for i, p := range batch {
		changes[i] = p.Change
	}

	res := Result{Success: true}
	pushedAll := true
	for _, p := range e.opts.Providers {
		pr, pushOK := e.syncProvider(ctx, p, changes)
		pushedAll = pushedAll && pushOK
		res.Providers = append(res.Providers, pr)
		res.Pushed += pr.Pushed
		res.Pulled += pr.Pulled
		res.Applied += pr.Applied
		res.Errors = append(res.Errors, pr.Errors...)
		if !pr.Success() {
			res.Success = false
		}
	}
	if pushedAll && len(batch) > 0 {
		e.ack(batch)
	}
	res.Conflicts = e.Conflicts()
	res.Duration = time.Since(start)

	for _, err := range res.Errors {
		e.publish(ctx, event.Event{Type: event.TypeSyncError, Err: err, Message: err.Error()})
	}
	e.publish(ctx, event.Event{Type: event.TypeSyncComplete, Result: res, Duration: res.Duration})
	e.log.Debug("sync cycle complete", logging.Fields{
		"success": res.Success, "pushed": res.Pushed, "pulled": res.Pulled, "applied": res.Applied,
	})
	return res
}

// syncProvider runs push, pull and reconcile against one provider. It never
// panics the cycle: a provider panic is reported as an error.
func (e *Engine) syncProvider(ctx context.Context, p Provider, changes []Change) (pr ProviderResult, pushOK bool) {
	name := p.Name()
	pr.Provider = name
	defer func() {
		if r := recover(); r != nil {
			pr.Errors = append(pr.Errors, fmt.Errorf("syncer: provider %s panicked: %v", name, r))
			pushOK = false
		}
	}()

	pushOK = true
	if len(changes) > 0 {
		out, err := p.Push(ctx, changes)
		switch {
		case err != nil:
			pushOK = false
			pr.Errors = append(pr.Errors, fmt.Errorf("syncer: push to %s: %w", name, err))
		case !out.Success:
			pushOK = false
			pr.Errors = append(pr.Errors, fmt.Errorf("syncer: push to %s rejected: %v", name, out.Errors))
		default:
			pr.Pushed = out.Synced
		}
	}

	cur, err := e.opts.Cursors.Get(ctx, name)
	if err != nil {
		pr.Errors = append(pr.Errors, fmt.Errorf("syncer: load cursor for %s: %w", name, err))
		return pr, pushOK
	}
	remote, next, err := p.Pull(ctx, cur)
	if err != nil {
		pr.Errors = append(pr.Errors, fmt.Errorf("syncer: pull from %s: %w", name, err))
		return pr, pushOK
	}
	pr.Pulled = len(remote)

	for _, c := range remote {
		if c.Source == e.opts.Source {
			continue
		}
		if c.Namespace != "" && c.Namespace != e.target.Namespace() {
			continue
		}
		applied, conflict, err := e.reconcile(ctx, name, c)
		if err != nil {
			pr.Errors = append(pr.Errors, fmt.Errorf("syncer: apply %s from %s: %w", c.Key, name, err))
			continue
		}
		if applied {
			pr.Applied++
		}
		if conflict {
			pr.Conflicts++
		}
	}

	if next != cur {
		if err := e.opts.Cursors.Set(ctx, name, next); err != nil {
			pr.Errors = append(pr.Errors, fmt.Errorf("syncer: save cursor for %s: %w", name, err))
		}
	}
	return pr, pushOK
}

func (e *Engine) reconcile(ctx context.Context, provider string, c Change) (applied, conflict bool, err error) {
	if c.Type != event.ChangeSet {
		return true, false, e.target.Apply(ctx, c)
	}
	local, localTS, ok, err := e.target.Local(ctx, c.Key)
	if err != nil {
		return false, false, err
	}
	if !ok {
		return true, false, e.target.Apply(ctx, c)
	}
	if bytes.Equal(local, c.Value) {
		return false, false, nil
	}
	lv, err := e.target.Decode(local)
	if err != nil {
		return false, false, err
	}
	rv, err := e.target.Decode(c.Value)
	if err != nil {
		return false, false, err
	}
	if reflect.DeepEqual(lv, rv) {
		return false, false, nil
	}

	cf := Conflict{
		Key:             c.Key,
		LocalValue:      local,
		LocalTimestamp:  localTS,
		RemoteValue:     c.Value,
		RemoteTimestamp: c.Timestamp,
		Source:          c.Source,
		Provider:        provider,
	}
	resolution := e.opts.Policy
	applied, err = e.resolve(ctx, cf, resolution, lv, rv)
	e.publish(ctx, event.Event{
		Type:        event.TypeConflict,
		Key:         c.Key,
		LocalValue:  lv,
		RemoteValue: rv,
		Resolution:  resolution.String(),
	})
	return applied, true, err
}

// resolve applies policy to cf. Decoded values are passed to avoid decoding twice.
func (e *Engine) resolve(ctx context.Context, cf Conflict, p Policy, lv, rv any) (bool, error) {
	remote := Change{
		Namespace: e.target.Namespace(),
		Key:       cf.Key,
		Type:      event.ChangeSet,
		Value:     cf.RemoteValue,
		Timestamp: cf.RemoteTimestamp,
		Source:    cf.Source,
	}
	switch p {
	case PolicyLocal:
		return false, nil
	case PolicyRemote:
		return true, e.target.Apply(ctx, remote)
	case PolicyMerge:
		merged, err := e.target.Encode(MergeValues(lv, rv))
		if err != nil {
			return false, err
		}
		if bytes.Equal(merged, cf.LocalValue) {
			return false, nil
		}
		remote.Value = merged
		return true, e.target.Apply(ctx, remote)
	case PolicyManual:
		e.mu.Lock()
		e.conflicts[cf.Key] = cf
		e.mu.Unlock()
		return false, nil
	}
	return false, fmt.Errorf("syncer: unknown policy %d", p)
}

// Conflicts lists unresolved manual conflicts, sorted by key.
func (e *Engine) Conflicts() []Conflict {
	e.mu.Lock()
	out := make([]Conflict, 0, len(e.conflicts))
	for _, c := range e.conflicts {
		out = append(out, c)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Resolve settles a pending manual conflict with p (local, remote or merge).
func (e *Engine) Resolve(ctx context.Context, key string, p Policy) error {
	if p == PolicyManual || p > PolicyManual {
		return fmt.Errorf("syncer: cannot resolve with policy %s", p)
	}
	e.mu.Lock()
	cf, ok := e.conflicts[key]
	e.mu.Unlock()
	if !ok {
		return ErrNoConflict
	}

	lv, err := e.target.Decode(cf.LocalValue)
	if err != nil {
		return err
	}
	rv, err := e.target.Decode(cf.RemoteValue)
	if err != nil {
		return err
	}
	if _, err := e.resolve(ctx, cf, p, lv, rv); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.conflicts, key)
	e.mu.Unlock()
	e.publish(ctx, event.Event{
		Type:        event.TypeConflict,
		Key:         key,
		LocalValue:  lv,
		RemoteValue: rv,
		Resolution:  p.String(),
	})
	return nil
}

func (e *Engine) publish(ctx context.Context, ev event.Event) {
	if e.opts.Bus == nil {
		return
	}
	if ev.Namespace == "" {
		ev.Namespace = e.target.Namespace()
	}
	e.opts.Bus.Publish(ctx, ev)
}

func (e *Engine) loop(interval time.Duration) {
	defer e.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if res := e.Sync(context.Background()); !res.Skipped && !res.Success {
				e.log.Warn("periodic sync failed", logging.Fields{"errors": len(res.Errors)})
			}
		case <-e.stopCh:
			return
		}
	}
}

// Close stops the timer and waits for background cycles.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.stopCh)
		e.wg.Wait()
		err = e.opts.Cursors.Close(ctx)
	})
	return err
}
