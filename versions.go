package layerkv

import (
	"context"

	"github.com/unkn0wn-root/layerkv/backend"
	"github.com/unkn0wn-root/layerkv/internal/envelope"
	"github.com/unkn0wn-root/layerkv/internal/keys"
)

// versionStore keeps superseded envelopes under "<ns>:__version:<key>:<n>".
// It takes no locks: concurrent writers of one key can race on prune.
type versionStore struct {
	b   backend.Backend
	ns  string
	max int
}

// archiveOp builds the write that relocates prev to its version key.
func (v versionStore) archiveOp(key string, prev *envelope.Envelope) (backend.Op, error) {
	buf, err := envelope.Encode(envelope.KindVersion, prev)
	if err != nil {
		return backend.Op{}, err
	}
	return backend.Put(keys.Version(v.ns, key, prev.Meta.Version), buf, 0), nil
}

// list returns key's version records, newest first.
func (v versionStore) list(ctx context.Context, key string) ([]keys.VersionRef, error) {
	candidates, err := v.b.Keys(ctx, keys.VersionPrefix(v.ns, key))
	if err != nil {
		return nil, err
	}
	return keys.SortVersions(v.ns, key, candidates), nil
}

// prune deletes everything beyond the newest max records.
func (v versionStore) prune(ctx context.Context, key string) (int, error) {
	refs, err := v.list(ctx, key)
	if err != nil || len(refs) <= v.max {
		return 0, err
	}
	stale := make([]string, 0, len(refs)-v.max)
	for _, r := range refs[v.max:] {
		stale = append(stale, r.Key)
	}
	return len(stale), v.b.DeleteMany(ctx, stale)
}

// deleteOps builds the deletes of every record of key.
func (v versionStore) deleteOps(ctx context.Context, key string) ([]backend.Op, error) {
	refs, err := v.list(ctx, key)
	if err != nil {
		return nil, err
	}
	ops := make([]backend.Op, len(refs))
	for i, r := range refs {
		ops[i] = backend.Del(r.Key)
	}
	return ops, nil
}

func (v versionStore) read(ctx context.Context, key string, n int64) (*envelope.Envelope, bool, error) {
	raw, ok, err := v.b.Get(ctx, keys.Version(v.ns, key, n))
	if err != nil || !ok {
		return nil, false, err
	}
	env, err := envelope.Decode(envelope.KindVersion, raw)
	if err != nil {
		return nil, false, err
	}
	return env, true, nil
}
