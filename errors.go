package layerkv

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/layerkv/internal/keys"
	"github.com/unkn0wn-root/layerkv/syncer"
)

var (
	// ErrInvalidKey is wrapped by StorageError for malformed keys.
	ErrInvalidKey = keys.ErrInvalidKey
	// ErrClosed is wrapped by StorageError after Close.
	ErrClosed = errors.New("layerkv: store closed")
	// ErrNoEncryptor is wrapped by EncryptionError when encryption is
	// requested or found but no Encryptor is configured.
	ErrNoEncryptor = errors.New("layerkv: no encryptor configured")
	// ErrNoConflict is wrapped by ValidationError when ResolveConflict names a
	// key without a pending conflict.
	ErrNoConflict = syncer.ErrNoConflict
	// ErrNotFound is wrapped by StorageError when Restore names a missing version.
	ErrNotFound = errors.New("layerkv: not found")
	// ErrSyncDisabled is wrapped by StorageError from sync operations when no
	// provider is configured.
	ErrSyncDisabled = errors.New("layerkv: sync disabled")
)

// Error codes carried by error events and Code().
const (
	CodeValidation = "validation_error"
	CodeQuota      = "quota_exceeded"
	CodeEncryption = "encryption_error"
	CodeStorage    = "storage_error"
)

// ValidationError reports a value rejected by a registered Validator.
// Nothing was persisted.
type ValidationError struct {
	Op  string
	Key string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("layerkv: %s %q: validation failed: %v", e.Op, e.Key, e.Err)
}
func (e *ValidationError) Unwrap() error { return e.Err }
func (e *ValidationError) Code() string  { return CodeValidation }

// QuotaExceededError reports a write that would push backend usage over the
// quota. Nothing was persisted.
type QuotaExceededError struct {
	Op        string
	Key       string
	Attempted int64
	Quota     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("layerkv: %s %q: quota exceeded: %d > %d bytes", e.Op, e.Key, e.Attempted, e.Quota)
}
func (e *QuotaExceededError) Code() string { return CodeQuota }

// EncryptionError reports a seal or open failure. A value that fails to open
// is unrecoverable without the right key.
type EncryptionError struct {
	Op  string
	Key string
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("layerkv: %s %q: encryption: %v", e.Op, e.Key, e.Err)
}
func (e *EncryptionError) Unwrap() error { return e.Err }
func (e *EncryptionError) Code() string  { return CodeEncryption }

// StorageError covers backend I/O, invalid keys, corrupt envelopes, codec and
// configuration failures.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("layerkv: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("layerkv: %s %q: %v", e.Op, e.Key, e.Err)
}
func (e *StorageError) Unwrap() error { return e.Err }
func (e *StorageError) Code() string  { return CodeStorage }

type coded interface {
	error
	Code() string
}

// wrap turns err into one of the typed errors; typed errors pass through.
func wrap(op, key string, err error) coded {
	var c coded
	if errors.As(err, &c) {
		return c
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
