// Package event carries the observable side effects of layerkv: changes,
// errors, quota warnings, sync lifecycle, conflicts, metrics and cache
// evictions. Producers publish on a Bus; collaborators subscribe Observers.
package event

import (
	"context"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	TypeChange       Type = "change"
	TypeError        Type = "error"
	TypeQuotaWarning Type = "quota-warning"
	TypeSyncStart    Type = "sync-start"
	TypeSyncComplete Type = "sync-complete"
	TypeSyncError    Type = "sync-error"
	TypeConflict     Type = "conflict"
	TypeMetric       Type = "metric"
	TypeEvict        Type = "evict"
)

// ChangeType is the mutation kind carried by change events.
type ChangeType string

const (
	ChangeSet    ChangeType = "set"
	ChangeDelete ChangeType = "delete"
	ChangeClear  ChangeType = "clear"
)

// WildcardKey is the key of clear events.
const WildcardKey = "*"

// Event is a flat record; only the fields relevant to Type are populated.
type Event struct {
	Type      Type
	Namespace string
	Key       string
	Timestamp time.Time

	// change
	Change   ChangeType
	OldValue any
	NewValue any
	Remote   bool // applied from a sync provider

	// error / sync-error
	Code    string
	Message string
	Details map[string]any
	Err     error

	// quota-warning
	Usage      int64
	Quota      int64
	Percentage float64

	// metric
	Operation string
	Duration  time.Duration

	// conflict
	LocalValue  any
	RemoteValue any
	Resolution  string

	// sync-complete
	Result any

	// evict
	Reason string
}

// Observer receives events. Implementations must not block for long:
// the Bus delivers synchronously.
type Observer interface {
	OnEvent(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) OnEvent(ctx context.Context, e Event) { f(ctx, e) }

// Nop ignores every event.
type Nop struct{}

func (Nop) OnEvent(context.Context, Event) {}
