package layerkv

import (
	"context"
	"time"

	"github.com/unkn0wn-root/layerkv/backend"
	"github.com/unkn0wn-root/layerkv/cache"
	"github.com/unkn0wn-root/layerkv/codec"
	"github.com/unkn0wn-root/layerkv/cursor"
	"github.com/unkn0wn-root/layerkv/event"
	"github.com/unkn0wn-root/layerkv/syncer"
	"github.com/unkn0wn-root/layerkv/transform"
)

// Store is the storage orchestrator for one namespace. V is the caller's
// value type; serialization is handled by a pluggable Codec[V].
type Store[V any] interface {
	Namespace() string
	Close(context.Context) error

	// Single key. A missing key is (zero, false, nil), never an error.
	// Values returned by Get and GetMany may be shared with the cache;
	// treat them as read-only.
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V, opts ...SetOption) error
	Delete(ctx context.Context, key string) error
	// Update reads key, applies fn and writes the result. It is a convenience,
	// not a transaction, unless Options.LockKeys is set.
	Update(ctx context.Context, key string, fn UpdateFunc[V], opts ...SetOption) error
	Has(ctx context.Context, key string) (bool, error)

	// Many keys.
	Bulk(ctx context.Context, ops []Op[V]) error
	GetMany(ctx context.Context, keys []string) (map[string]V, error)
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error

	// Envelope metadata and history.
	Metadata(ctx context.Context, key string) (Metadata, bool, error)
	Versions(ctx context.Context, key string) ([]Metadata, error)
	GetVersion(ctx context.Context, key string, version int64) (V, bool, error)
	Restore(ctx context.Context, key string, version int64) error

	// Observability.
	Usage(ctx context.Context) (Usage, error)
	CacheStats() cache.Stats
	Subscribe(o event.Observer, types ...event.Type) (unsubscribe func())
	Watch(key string, fn func(event.Event)) (unsubscribe func())

	// Synchronization.
	Sync(ctx context.Context) (syncer.Result, error)
	Conflicts() []syncer.Conflict
	ResolveConflict(ctx context.Context, key string, p syncer.Policy) error
}

// UpdateFunc derives the new value from the current one.
type UpdateFunc[V any] func(current V, exists bool) (V, error)

// Validator checks a value before it is written.
type Validator[V any] interface {
	Validate(key string, value V) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc[V any] func(key string, value V) error

func (f ValidatorFunc[V]) Validate(key string, value V) error { return f(key, value) }

// Options configure a Store. Namespace, Backend and Codec are required;
// others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace; keys persist as "<ns>:<key>"
	Backend   backend.Backend
	Codec     codec.Codec[V]

	// CloseBackend closes Backend on Close. Leave unset when several
	// namespaces share one backend.
	CloseBackend bool

	Logger Logger     // if nil, logging is disabled
	Bus    *event.Bus // nil => private bus
	Now    func() time.Time

	Concurrency int  // in-flight operations; 0 => 10
	LockKeys    bool // serialize writes per key (off: concurrent writers may lose updates)
	DefaultTTL  time.Duration

	// Cache
	DisableCache    bool
	CacheStrategy   cache.Strategy
	CacheMaxEntries int           // 0 => 1000
	CacheMaxBytes   int64         // 0 => 50 MiB
	CacheTTL        time.Duration // entries without their own TTL; 0 => 5m

	// Codec pipeline
	Compression          bool  // compress values at or above the threshold
	CompressionThreshold int64 // bytes; 0 => 1024
	Compressor           transform.Compressor
	Encryption           bool // encrypt every value
	Encryptor            transform.Encryptor

	// Versioning
	Versioning  bool
	MaxVersions int // 0 => 10

	// Quota
	Quota       int64   // bytes; 0 disables the guard
	WarnPercent float64 // 0 => 80

	// Schema validation by key prefix; the longest matching prefix wins
	// ("" matches every key).
	Validators map[string]Validator[V]

	// EstimateSize overrides the size estimate; default is the encoded length.
	EstimateSize func(V) int64

	// WatchBackend invalidates cache entries on backend change notifications
	// when the backend implements backend.Watcher.
	WatchBackend bool

	// Sync is enabled when at least one provider is configured.
	SyncProviders   []syncer.Provider
	SyncPolicy      syncer.Policy
	SyncThreshold   int
	SyncInterval    time.Duration
	SyncMinInterval time.Duration
	SyncCursors     cursor.Store // nil => persisted in the backend under the namespace
	InstanceID      string       // "" => random UUID
}

// SetOption tunes a single write.
type SetOption func(*setOptions)

type setOptions struct {
	ttl      time.Duration
	tags     []string
	compress *bool
	encrypt  *bool
}

// WithTTL expires the value after d.
func WithTTL(d time.Duration) SetOption { return func(o *setOptions) { o.ttl = d } }

// WithTags attaches tags to the envelope metadata.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) { o.tags = append(o.tags, tags...) }
}

// WithCompression forces compression on or off for this write.
func WithCompression(on bool) SetOption { return func(o *setOptions) { o.compress = &on } }

// WithEncryption forces encryption on or off for this write.
func WithEncryption(on bool) SetOption { return func(o *setOptions) { o.encrypt = &on } }

// OpKind is the kind of a bulk operation.
type OpKind uint8

const (
	OpSet OpKind = iota + 1
	OpDelete
	OpUpdate
)

// Op is one element of Bulk.
type Op[V any] struct {
	Kind    OpKind
	Key     string
	Value   V
	Update  UpdateFunc[V]
	Options []SetOption
}

func SetOp[V any](key string, value V, opts ...SetOption) Op[V] {
	return Op[V]{Kind: OpSet, Key: key, Value: value, Options: opts}
}

func DeleteOp[V any](key string) Op[V] { return Op[V]{Kind: OpDelete, Key: key} }

func UpdateOp[V any](key string, fn UpdateFunc[V], opts ...SetOption) Op[V] {
	return Op[V]{Kind: OpUpdate, Key: key, Update: fn, Options: opts}
}

// Metadata describes a current envelope or a version record.
type Metadata struct {
	Key         string
	ID          string
	Version     int64
	Created     time.Time
	Updated     time.Time
	Size        int64
	Codec       string
	Compressed  bool
	Compression string
	Encrypted   bool
	Algorithm   string
	Tags        []string
	TTL         time.Duration
	ExpiresAt   time.Time
}

// Usage is a quota snapshot. Percentage is 0 without a quota.
type Usage struct {
	Used       int64
	Quota      int64
	Percentage float64
}

func New[V any](opts Options[V]) (Store[V], error) {
	return newStore[V](opts)
}
