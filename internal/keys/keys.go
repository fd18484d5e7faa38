// Package keys owns the persisted key layout:
//
//	<ns>:<key>                      current envelope
//	<ns>:__version:<key>:<version>  archived version record
//	<ns>:__<anything>               other internal bookkeeping
package keys

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	Sep      = ":"
	Internal = "__"

	versionTag = Internal + "version"

	// MaxKeyLen bounds caller keys.
	MaxKeyLen = 1024
)

var ErrInvalidKey = errors.New("layerkv: invalid key")

// Validate rejects keys the layout cannot represent unambiguously.
func Validate(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case len(key) > MaxKeyLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, MaxKeyLen)
	case strings.HasPrefix(key, Internal):
		return fmt.Errorf("%w: %q uses the reserved %q prefix", ErrInvalidKey, key, Internal)
	case key == "*":
		return fmt.Errorf("%w: %q is reserved", ErrInvalidKey, key)
	}
	return nil
}

// Prefix is the namespace prefix every persisted key carries.
func Prefix(ns string) string { return ns + Sep }

// Storage returns the namespaced key of a caller key.
func Storage(ns, key string) string { return ns + Sep + key }

// User strips the namespace from a storage key. ok is false for keys outside
// the namespace and for internal keys.
func User(ns, storageKey string) (string, bool) {
	p := Prefix(ns)
	if !strings.HasPrefix(storageKey, p) {
		return "", false
	}
	k := storageKey[len(p):]
	if k == "" || strings.HasPrefix(k, Internal) {
		return "", false
	}
	return k, true
}

// InternalKey returns a namespaced bookkeeping key.
func InternalKey(ns, name string) string { return ns + Sep + Internal + name }

// VersionPrefix is the prefix of all version records of key.
func VersionPrefix(ns, key string) string {
	return ns + Sep + versionTag + Sep + key + Sep
}

// Version returns the storage key of version v of key. Versions are zero
// padded so lexical order matches numeric order for backends that sort.
func Version(ns, key string, v int64) string {
	return VersionPrefix(ns, key) + fmt.Sprintf("%012d", v)
}

// ParseVersion extracts the version number from a version storage key.
// The number is taken after the last separator since keys may contain ':'.
func ParseVersion(versionKey string) (int64, bool) {
	i := strings.LastIndex(versionKey, Sep)
	if i < 0 || i == len(versionKey)-1 {
		return 0, false
	}
	v, err := strconv.ParseInt(versionKey[i+1:], 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// VersionRef is a parsed version key.
type VersionRef struct {
	Key     string // storage key
	Version int64
}

// SortVersions parses candidates that belong to exactly key (a key "a" must
// not pick up versions of "a:b") and returns them newest first.
func SortVersions(ns, key string, candidates []string) []VersionRef {
	p := VersionPrefix(ns, key)
	out := make([]VersionRef, 0, len(candidates))
	for _, c := range candidates {
		if !strings.HasPrefix(c, p) || strings.Contains(c[len(p):], Sep) {
			continue
		}
		v, ok := ParseVersion(c)
		if !ok {
			continue
		}
		out = append(out, VersionRef{Key: c, Version: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}
