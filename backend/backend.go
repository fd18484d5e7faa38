// Package backend defines the raw key-value persistence contract layerkv
// builds on, plus adapters under its subpackages.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the bytes previously passed to Set for a key. Keys under "<ns>:" are owned
// by the layerkv store of that namespace; foreign writes there may be treated
// as corruption.
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFull is returned by bounded backends that cannot admit a write.
	ErrFull = errors.New("backend: capacity exceeded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("backend: closed")
)

// SetOptions tune a single write. Backends without per-entry TTL ignore TTL.
type SetOptions struct {
	TTL time.Duration
}

// Backend is a byte store safe for concurrent use.
type Backend interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, opts SetOptions) error
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
	// Clear removes every key the backend owns.
	Clear(ctx context.Context) error
	// Keys lists keys starting with prefix ("" lists all).
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Size reports the total stored bytes (keys + values).
	Size(ctx context.Context) (int64, error)
	Has(ctx context.Context, key string) (bool, error)

	// Batched variants. GetMany omits missing keys from the result.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, items map[string][]byte, opts SetOptions) error
	DeleteMany(ctx context.Context, keys []string) error

	Close(ctx context.Context) error
}

// OpKind is the kind of a transactional operation.
type OpKind uint8

const (
	OpPut OpKind = iota + 1
	OpDelete
)

// Op is one operation of a Transaction.
type Op struct {
	Kind  OpKind
	Key   string
	Value []byte
	TTL   time.Duration
}

// Put builds a put op.
func Put(key string, value []byte, ttl time.Duration) Op {
	return Op{Kind: OpPut, Key: key, Value: value, TTL: ttl}
}

// Del builds a delete op.
func Del(key string) Op { return Op{Kind: OpDelete, Key: key} }

// Transactor is implemented by backends that can apply several operations
// atomically.
type Transactor interface {
	Transaction(ctx context.Context, ops []Op) error
}

// Watcher is implemented by backends that report changes, including ones made
// by other processes sharing the same storage.
type Watcher interface {
	// Watch calls fn with the key of every change under prefix until the
	// returned function is called or ctx ends.
	Watch(ctx context.Context, prefix string, fn func(key string)) (unsubscribe func(), err error)
}

// Apply runs ops atomically when b is a Transactor and sequentially otherwise.
func Apply(ctx context.Context, b Backend, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	if tx, ok := b.(Transactor); ok {
		return tx.Transaction(ctx, ops)
	}
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpPut:
			err = b.Set(ctx, op.Key, op.Value, SetOptions{TTL: op.TTL})
		case OpDelete:
			err = b.Delete(ctx, op.Key)
		default:
			err = errors.New("backend: unknown op kind")
		}
		if err != nil {
			return err
		}
	}
	return nil
}
