// Package layerkv implements a namespaced key-value storage layer over a
// pluggable byte backend. Values pass through a codec pipeline (encode,
// optional compression, optional encryption) and are persisted as envelopes
// carrying metadata. An in-process cache fronts reads, and a sync engine
// replicates changes to remote providers.
//
// Components:
//   - Backend: raw byte store (memory, Badger, BigCache, Ristretto, Redis).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - cache.Engine: bounded cache with LRU, LFU or FIFO eviction.
//   - syncer.Engine: push/pull replication with conflict policies.
//   - event.Bus: change, error, quota, sync, conflict, metric and evict events.
//
// Keys:
//
//	<ns>:<key>                      current envelope
//	<ns>:__version:<key>:<version>  archived version (Versioning)
//	<ns>:__cursor:<provider>        sync pull cursor
//
// Usage:
//
//	s, _ := layerkv.New[User](layerkv.Options[User]{
//	    Namespace:   "users",
//	    Backend:     memory.New(memory.Config{}),
//	    Codec:       codec.JSON[User]{},
//	    Compression: true,
//	    Versioning:  true,
//	})
//	_ = s.Set(ctx, "u1", User{Name: "Ada"}, layerkv.WithTTL(time.Hour))
//	u, ok, err := s.Get(ctx, "u1")
package layerkv
