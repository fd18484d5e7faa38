package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/unkn0wn-root/layerkv/event"
)

// Change is one local mutation exchanged with providers. Value holds the
// codec bytes of the new value for sets and is empty otherwise.
type Change struct {
	Namespace string           `msgpack:"ns"`
	Key       string           `msgpack:"k"`
	Type      event.ChangeType `msgpack:"t"`
	Value     []byte           `msgpack:"v,omitempty"`
	Timestamp time.Time        `msgpack:"ts"`
	Source    string           `msgpack:"src"`
}

// Conflict is a remote set that met a differing local value.
type Conflict struct {
	Key             string
	LocalValue      []byte
	LocalTimestamp  time.Time
	RemoteValue     []byte
	RemoteTimestamp time.Time
	Source          string
	Provider        string
}

// PushResult is what a provider reports for a push.
type PushResult struct {
	Success   bool
	Synced    int
	Conflicts []string
	Errors    []string
}

// Provider exchanges changes with a remote peer.
type Provider interface {
	Name() string
	Push(ctx context.Context, changes []Change) (PushResult, error)
	// Pull returns changes after cursor ("" = from the start) and the cursor
	// to resume from.
	Pull(ctx context.Context, cursor string) ([]Change, string, error)
}

// Target is the local store a sync engine reconciles into.
type Target interface {
	Namespace() string
	// Local returns the codec bytes and update time of key's current value.
	Local(ctx context.Context, key string) (value []byte, updated time.Time, ok bool, err error)
	// Apply writes a remote change without enqueueing it for sync again.
	Apply(ctx context.Context, c Change) error
	Decode(b []byte) (any, error)
	Encode(v any) ([]byte, error)
}

// Policy decides how conflicts are resolved.
type Policy uint8

const (
	PolicyLocal Policy = iota
	PolicyRemote
	PolicyMerge
	PolicyManual
)

func (p Policy) String() string {
	switch p {
	case PolicyLocal:
		return "local"
	case PolicyRemote:
		return "remote"
	case PolicyMerge:
		return "merge"
	case PolicyManual:
		return "manual"
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return PolicyLocal, nil
	case "remote":
		return PolicyRemote, nil
	case "merge":
		return PolicyMerge, nil
	case "manual":
		return PolicyManual, nil
	}
	return 0, fmt.Errorf("syncer: unknown conflict policy %q", s)
}

// ProviderResult is the outcome of one provider within a cycle.
type ProviderResult struct {
	Provider  string
	Pushed    int
	Pulled    int
	Applied   int
	Conflicts int
	Errors    []error
}

func (r ProviderResult) Success() bool { return len(r.Errors) == 0 }

// Result aggregates one sync cycle. Success is the AND of every provider.
type Result struct {
	Success   bool
	Skipped   bool // another cycle was in flight
	Pushed    int
	Pulled    int
	Applied   int
	Conflicts []Conflict
	Errors    []error
	Providers []ProviderResult
	Duration  time.Duration
}
