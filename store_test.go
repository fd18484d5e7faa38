package layerkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/layerkv/backend"
	"github.com/unkn0wn-root/layerkv/backend/memory"
	c "github.com/unkn0wn-root/layerkv/codec"
	"github.com/unkn0wn-root/layerkv/event"
	"github.com/unkn0wn-root/layerkv/internal/envelope"
	"github.com/unkn0wn-root/layerkv/transform"
)

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// noTTL drops per-entry TTLs so expiry is left to the envelope.
type noTTL struct{ *memory.Store }

func (b noTTL) Set(ctx context.Context, key string, value []byte, _ backend.SetOptions) error {
	return b.Store.Set(ctx, key, value, backend.SetOptions{})
}

func (b noTTL) Transaction(ctx context.Context, ops []backend.Op) error {
	for i := range ops {
		ops[i].TTL = 0
	}
	return b.Store.Transaction(ctx, ops)
}

func newTestStore(t *testing.T, ns string, b backend.Backend, optsOpt func(*Options[user])) *store[user] {
	t.Helper()
	opts := Options[user]{
		Namespace: ns,
		Backend:   b,
		Codec:     c.JSON[user]{},
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	s, err := newStore[user](opts)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) OnEvent(_ context.Context, e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(typ event.Type) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestNewValidatesOptions(t *testing.T) {
	mem := memory.New(memory.Config{})
	cases := map[string]Options[user]{
		"no backend":   {Namespace: "ns", Codec: c.JSON[user]{}},
		"no codec":     {Namespace: "ns", Backend: mem},
		"no namespace": {Backend: mem, Codec: c.JSON[user]{}},
		"colon":        {Namespace: "a:b", Backend: mem, Codec: c.JSON[user]{}},
		"encryption":   {Namespace: "ns", Backend: mem, Codec: c.JSON[user]{}, Encryption: true},
	}
	for name, opts := range cases {
		if _, err := New[user](opts); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "users", memory.New(memory.Config{}), nil)

	if _, ok, err := s.Get(ctx, "u1"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	want := user{ID: "1", Name: "Ada"}
	if err := s.Set(ctx, "u1", want, WithTags("vip")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get(ctx, "u1")
	if err != nil || !ok || got != want {
		t.Fatalf("Get = %+v, %v, %v", got, ok, err)
	}
	if has, _ := s.Has(ctx, "u1"); !has {
		t.Fatalf("Has should be true")
	}

	m, ok, err := s.Metadata(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Metadata: ok=%v err=%v", ok, err)
	}
	if m.Version != 1 || m.Codec != "json" || m.ID == "" || len(m.Tags) != 1 {
		t.Fatalf("unexpected metadata %+v", m)
	}
}

func TestGetFallsBackToBackendWithoutCache(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	w := newTestStore(t, "users", mem, nil)
	r := newTestStore(t, "users", mem, func(o *Options[user]) { o.DisableCache = true })

	if err := w.Set(ctx, "u1", user{ID: "1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := r.Get(ctx, "u1")
	if err != nil || !ok || got.ID != "1" {
		t.Fatalf("Get = %+v, %v, %v", got, ok, err)
	}
	if st := r.CacheStats(); st.Reads != 0 {
		t.Fatalf("disabled cache should report nothing, got %+v", st)
	}
}

func TestCacheServesRepeatedReads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "users", memory.New(memory.Config{}), nil)
	_ = s.Set(ctx, "u1", user{ID: "1"})
	for i := 0; i < 3; i++ {
		if _, ok, err := s.Get(ctx, "u1"); err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
	}
	if st := s.CacheStats(); st.Hits != 3 || st.Size != 1 {
		t.Fatalf("unexpected cache stats %+v", st)
	}
}

func TestCompressionAndEncryptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	enc, err := transform.NewAESGCM(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("NewAESGCM: %v", err)
	}
	s := newTestStore(t, "sec", mem, func(o *Options[user]) {
		o.Compression = true
		o.CompressionThreshold = 1
		o.Encryption = true
		o.Encryptor = enc
		o.DisableCache = true
	})

	secret := strings.Repeat("top-secret ", 50)
	if err := s.Set(ctx, "k", user{ID: "1", Name: secret}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, ok, _ := mem.Get(ctx, "sec:k")
	if !ok {
		t.Fatalf("envelope not persisted")
	}
	if bytes.Contains(raw, []byte("top-secret")) {
		t.Fatalf("plaintext leaked into the backend")
	}

	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || got.Name != secret {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	m, _, _ := s.Metadata(ctx, "k")
	if !m.Compressed || m.Compression != transform.AlgZstd || !m.Encrypted || m.Algorithm != enc.Algorithm() {
		t.Fatalf("unexpected metadata %+v", m)
	}

	// a reader without the key cannot open it
	plain := newTestStore(t, "sec", mem, func(o *Options[user]) { o.DisableCache = true })
	_, _, err = plain.Get(ctx, "k")
	var ee *EncryptionError
	if !errors.As(err, &ee) || !errors.Is(err, ErrNoEncryptor) {
		t.Fatalf("expected EncryptionError, got %v", err)
	}
}

func TestPerWriteCompressionOverride(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "ns", memory.New(memory.Config{}), nil)
	if err := s.Set(ctx, "k", user{ID: "1"}, WithCompression(true)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	m, _, _ := s.Metadata(ctx, "k")
	if !m.Compressed {
		t.Fatalf("WithCompression(true) should compress small values")
	}
	if err := s.Set(ctx, "e", user{ID: "1"}, WithEncryption(true)); !errors.Is(err, ErrNoEncryptor) {
		t.Fatalf("expected ErrNoEncryptor, got %v", err)
	}
}

func TestVersioningArchivesAndPrunes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "ns", memory.New(memory.Config{}), func(o *Options[user]) {
		o.Versioning = true
		o.MaxVersions = 2
	})
	for i := 1; i <= 4; i++ {
		if err := s.Set(ctx, "k", user{ID: fmt.Sprint(i)}); err != nil {
			t.Fatalf("Set %d: %v", i, err)
		}
	}
	m, _, _ := s.Metadata(ctx, "k")
	if m.Version != 4 {
		t.Fatalf("version = %d, want 4", m.Version)
	}

	vs, err := s.Versions(ctx, "k")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(vs) != 2 || vs[0].Version != 3 || vs[1].Version != 2 {
		t.Fatalf("unexpected versions %+v", vs)
	}
	if _, ok, _ := s.GetVersion(ctx, "k", 1); ok {
		t.Fatalf("version 1 should have been pruned")
	}
	v3, ok, err := s.GetVersion(ctx, "k", 3)
	if err != nil || !ok || v3.ID != "3" {
		t.Fatalf("GetVersion(3) = %+v, %v, %v", v3, ok, err)
	}

	if err := s.Restore(ctx, "k", 2); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	cur, _, _ := s.Get(ctx, "k")
	m, _, _ = s.Metadata(ctx, "k")
	if cur.ID != "2" || m.Version != 5 {
		t.Fatalf("after restore got %+v version %d", cur, m.Version)
	}
	if err := s.Restore(ctx, "k", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVersionsOfPrefixKeysStaySeparate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "ns", memory.New(memory.Config{}), func(o *Options[user]) { o.Versioning = true })
	_ = s.Set(ctx, "a", user{ID: "1"})
	_ = s.Set(ctx, "a", user{ID: "2"})
	_ = s.Set(ctx, "a:b", user{ID: "3"})
	_ = s.Set(ctx, "a:b", user{ID: "4"})

	vs, _ := s.Versions(ctx, "a")
	if len(vs) != 1 {
		t.Fatalf("a has %d versions, want 1", len(vs))
	}
}

func TestQuotaExceededLeavesBackendUnchanged(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	s := newTestStore(t, "ns", mem, func(o *Options[user]) { o.Quota = 50 })
	rec := &recorder{}
	s.Subscribe(rec, event.TypeError)

	err := s.Set(ctx, "big", user{ID: "1", Name: strings.Repeat("x", 100)})
	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if qe.Key != "big" || qe.Quota != 50 || qe.Attempted <= 50 {
		t.Fatalf("unexpected error fields %+v", qe)
	}
	if size, _ := mem.Size(ctx); size != 0 {
		t.Fatalf("backend size = %d, want 0", size)
	}
	evs := rec.ofType(event.TypeError)
	if len(evs) != 1 || evs[0].Code != CodeQuota {
		t.Fatalf("expected one quota error event, got %+v", evs)
	}

	if err := s.Set(ctx, "small", user{ID: "1"}); err != nil {
		t.Fatalf("small Set: %v", err)
	}
	u, err := s.Usage(ctx)
	if err != nil || u.Used == 0 || u.Quota != 50 {
		t.Fatalf("Usage = %+v, %v", u, err)
	}
}

func TestQuotaWarning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "ns", memory.New(memory.Config{}), func(o *Options[user]) {
		o.Quota = 1000
		o.WarnPercent = 1
	})
	rec := &recorder{}
	s.Subscribe(rec, event.TypeQuotaWarning)

	if err := s.Set(ctx, "k", user{ID: "1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	evs := rec.ofType(event.TypeQuotaWarning)
	if len(evs) != 1 || evs[0].Quota != 1000 || evs[0].Percentage < 1 {
		t.Fatalf("unexpected warnings %+v", evs)
	}
}

func TestDeleteRemovesVersionsAndCache(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	s := newTestStore(t, "ns", mem, func(o *Options[user]) { o.Versioning = true })
	_ = s.Set(ctx, "k", user{ID: "1"})
	_ = s.Set(ctx, "k", user{ID: "2"})

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("deleted key still readable")
	}
	if left, _ := mem.Keys(ctx, "ns:"); len(left) != 0 {
		t.Fatalf("leftover keys %v", left)
	}
	if s.cache.Len() != 0 {
		t.Fatalf("cache still holds %d entries", s.cache.Len())
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("deleting a missing key: %v", err)
	}
}

func TestTTLExpires(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s := newTestStore(t, "ns", memory.New(memory.Config{Now: clk.Now}), func(o *Options[user]) { o.Now = clk.Now })

	_ = s.Set(ctx, "short", user{ID: "1"}, WithTTL(time.Minute))
	_ = s.Set(ctx, "long", user{ID: "2"})

	m, _, _ := s.Metadata(ctx, "short")
	if m.TTL != time.Minute || !m.ExpiresAt.Equal(clk.Now().Add(time.Minute)) {
		t.Fatalf("unexpected expiry %+v", m)
	}

	clk.Advance(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Fatalf("expired key still readable")
	}
	if _, ok, _ := s.Get(ctx, "long"); !ok {
		t.Fatalf("key without TTL expired")
	}
}

func TestDefaultTTLAndNoExpiryOverride(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s := newTestStore(t, "ns", memory.New(memory.Config{Now: clk.Now}), func(o *Options[user]) {
		o.Now = clk.Now
		o.DefaultTTL = time.Minute
	})
	_ = s.Set(ctx, "a", user{ID: "1"})
	_ = s.Set(ctx, "b", user{ID: "2"}, WithTTL(-1))

	clk.Advance(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("default TTL not applied")
	}
	if _, ok, _ := s.Get(ctx, "b"); !ok {
		t.Fatalf("negative TTL should disable expiry")
	}
}

func TestExpiredEnvelopeIsRemovedOnRead(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	mem := memory.New(memory.Config{})
	s := newTestStore(t, "ns", noTTL{mem}, func(o *Options[user]) {
		o.Now = clk.Now
		o.Versioning = true
		o.DisableCache = true
	})
	_ = s.Set(ctx, "k", user{ID: "1"}, WithTTL(time.Minute))
	_ = s.Set(ctx, "k", user{ID: "2"}, WithTTL(time.Minute))

	clk.Advance(2 * time.Minute)
	if _, ok, err := s.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("Get expired: ok=%v err=%v", ok, err)
	}
	if left, _ := mem.Keys(ctx, "ns:"); len(left) != 0 {
		t.Fatalf("expired entry not removed: %v", left)
	}
}

func TestClearKeepsOtherNamespacesAndCursors(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	a := newTestStore(t, "a", mem, nil)
	b := newTestStore(t, "b", mem, nil)
	_ = a.Set(ctx, "k1", user{ID: "1"})
	_ = a.Set(ctx, "k2", user{ID: "2"})
	_ = b.Set(ctx, "k1", user{ID: "3"})
	_ = mem.Set(ctx, "a:__cursor:hub", []byte("7"), backend.SetOptions{})

	if err := a.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if ks, _ := a.Keys(ctx); len(ks) != 0 {
		t.Fatalf("keys after clear: %v", ks)
	}
	if _, ok, _ := a.Get(ctx, "k1"); ok {
		t.Fatalf("cleared key still cached")
	}
	if v, ok, _ := b.Get(ctx, "k1"); !ok || v.ID != "3" {
		t.Fatalf("other namespace affected")
	}
	if _, ok, _ := mem.Get(ctx, "a:__cursor:hub"); !ok {
		t.Fatalf("sync cursor removed by clear")
	}
}

func TestKeysExcludesInternalKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "ns", memory.New(memory.Config{}), func(o *Options[user]) { o.Versioning = true })
	_ = s.Set(ctx, "k", user{ID: "1"})
	_ = s.Set(ctx, "k", user{ID: "2"})
	_ = s.Set(ctx, "j", user{ID: "3"})

	ks, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if strings.Join(ks, ",") != "j,k" {
		t.Fatalf("Keys = %v", ks)
	}
}

func TestInvalidKeysAreRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "ns", memory.New(memory.Config{}), nil)
	for _, k := range []string{"", "__version", "*", strings.Repeat("k", 2000)} {
		err := s.Set(ctx, k, user{})
		var se *StorageError
		if !errors.As(err, &se) || !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected invalid key StorageError, got %v", k, err)
		}
	}
}

func TestRejectedUpdateLeavesCachedValueIntact(t *testing.T) {
	ctx := context.Background()
	s, err := newStore[map[string]any](Options[map[string]any]{
		Namespace: "ns",
		Backend:   memory.New(memory.Config{}),
		Codec:     c.JSON[map[string]any]{},
		Quota:     1000,
	})
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	defer s.Close(ctx)

	if err := s.Set(ctx, "doc", map[string]any{"n": 1.0}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, _, err := s.Get(ctx, "doc"); err != nil { // warm the cache
		t.Fatalf("Get: %v", err)
	}

	err = s.Update(ctx, "doc", func(cur map[string]any, _ bool) (map[string]any, error) {
		cur["big"] = strings.Repeat("x", 5000)
		return cur, nil
	})
	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}

	got, ok, err := s.Get(ctx, "doc")
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if _, leaked := got["big"]; leaked || len(got) != 1 {
		t.Fatalf("rejected update visible through Get: %v", got)
	}
}

func TestCallerChangesAfterSetDoNotReachCache(t *testing.T) {
	ctx := context.Background()
	s, err := newStore[map[string]any](Options[map[string]any]{
		Namespace: "ns",
		Backend:   memory.New(memory.Config{}),
		Codec:     c.JSON[map[string]any]{},
	})
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	defer s.Close(ctx)

	v := map[string]any{"a": "1"}
	if err := s.Set(ctx, "k", v); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v["a"] = "changed"

	got, _, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["a"] != "1" {
		t.Fatalf("Get = %v, want stored value", got)
	}
	if st := s.CacheStats(); st.Hits != 1 {
		t.Fatalf("expected a cache hit, got %+v", st)
	}
}

func TestValidatorsByPrefix(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	s := newTestStore(t, "ns", mem, func(o *Options[user]) {
		o.Validators = map[string]Validator[user]{
			"user:": ValidatorFunc[user](func(_ string, u user) error {
				if u.Name == "" {
					return errors.New("name required")
				}
				return nil
			}),
		}
	})

	err := s.Set(ctx, "user:1", user{ID: "1"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Code() != CodeValidation {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if n := mem.Len(); n != 0 {
		t.Fatalf("rejected value persisted (%d entries)", n)
	}
	if err := s.Set(ctx, "other", user{ID: "1"}); err != nil {
		t.Fatalf("unmatched key should pass: %v", err)
	}
}

func TestCorruptEnvelope(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	s := newTestStore(t, "ns", mem, nil)
	_ = mem.Set(ctx, "ns:k", []byte("junk"), backend.SetOptions{})

	_, _, err := s.Get(ctx, "k")
	var se *StorageError
	if !errors.As(err, &se) || !errors.Is(err, envelope.ErrCorrupt) {
		t.Fatalf("expected corrupt StorageError, got %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete corrupt: %v", err)
	}
	if mem.Len() != 0 {
		t.Fatalf("corrupt entry not deleted")
	}
}

func TestEventsAndWatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "ns", memory.New(memory.Config{}), nil)
	rec := &recorder{}
	s.Subscribe(rec)

	var (
		mu      sync.Mutex
		watched []event.ChangeType
	)
	stop := s.Watch("k", func(e event.Event) {
		mu.Lock()
		watched = append(watched, e.Change)
		mu.Unlock()
	})

	_ = s.Set(ctx, "k", user{ID: "1"})
	_ = s.Set(ctx, "k", user{ID: "2"})
	_ = s.Set(ctx, "other", user{ID: "3"})
	_, _, _ = s.Get(ctx, "k")
	_ = s.Delete(ctx, "k")
	_ = s.Set(ctx, "", user{})

	changes := rec.ofType(event.TypeChange)
	if len(changes) != 4 {
		t.Fatalf("got %d change events, want 4", len(changes))
	}
	second := changes[1]
	if old, ok := second.OldValue.(user); !ok || old.ID != "1" || second.NewValue.(user).ID != "2" {
		t.Fatalf("unexpected second change %+v", second)
	}
	if changes[3].Change != event.ChangeDelete || changes[3].Namespace != "ns" {
		t.Fatalf("unexpected delete event %+v", changes[3])
	}

	errs := rec.ofType(event.TypeError)
	if len(errs) != 1 || errs[0].Code != CodeStorage || errs[0].Details["op"] != "set" {
		t.Fatalf("unexpected error events %+v", errs)
	}

	ops := map[string]bool{}
	for _, e := range rec.ofType(event.TypeMetric) {
		ops[e.Operation] = true
	}
	if !ops["set"] || !ops["get"] || !ops["delete"] {
		t.Fatalf("missing metric events: %v", ops)
	}

	mu.Lock()
	if len(watched) != 3 {
		t.Fatalf("watch saw %v", watched)
	}
	mu.Unlock()

	stop()
	_ = s.Set(ctx, "k", user{ID: "4"})
	mu.Lock()
	defer mu.Unlock()
	if len(watched) != 3 {
		t.Fatalf("watch delivered after unsubscribe")
	}
}

func TestUpdateWithKeyLocks(t *testing.T) {
	ctx := context.Background()
	s, err := New[int](Options[int]{
		Namespace: "counters",
		Backend:   memory.New(memory.Config{}),
		Codec:     c.JSON[int]{},
		LockKeys:  true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, "hits", func(cur int, _ bool) (int, error) { return cur + 1, nil })
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	if v, _, _ := s.Get(ctx, "hits"); v != 50 {
		t.Fatalf("counter = %d, want 50", v)
	}

	err = s.Update(ctx, "hits", func(int, bool) (int, error) { return 0, errors.New("nope") })
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Op != "update" {
		t.Fatalf("expected update ValidationError, got %v", err)
	}
	if v, _, _ := s.Get(ctx, "hits"); v != 50 {
		t.Fatalf("failed update changed the value to %d", v)
	}
}

func TestBulk(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "ns", memory.New(memory.Config{}), nil)
	_ = s.Set(ctx, "gone", user{ID: "0"})

	err := s.Bulk(ctx, []Op[user]{
		SetOp("a", user{ID: "1"}),
		SetOp("b", user{ID: "2"}),
		DeleteOp[user]("gone"),
		UpdateOp("c", func(cur user, exists bool) (user, error) {
			if exists {
				return cur, errors.New("should not exist")
			}
			return user{ID: "3"}, nil
		}),
		SetOp("__bad", user{}),
	})
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected the invalid key error to surface, got %v", err)
	}

	got, err := s.GetMany(ctx, []string{"a", "b", "c", "gone"})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(got) != 3 || got["a"].ID != "1" || got["c"].ID != "3" {
		t.Fatalf("GetMany = %+v", got)
	}
}

func TestGetManyReadsThroughBackend(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	w := newTestStore(t, "ns", mem, nil)
	r := newTestStore(t, "ns", mem, nil)
	_ = w.Set(ctx, "a", user{ID: "1"})
	_ = w.Set(ctx, "b", user{ID: "2"})

	got, err := r.GetMany(ctx, []string{"a", "b", "missing"})
	if err != nil || len(got) != 2 {
		t.Fatalf("GetMany = %+v, %v", got, err)
	}
	if r.cache.Len() != 2 {
		t.Fatalf("GetMany should populate the cache")
	}
}

func TestWatchBackendInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	watching := newTestStore(t, "ns", mem, func(o *Options[user]) { o.WatchBackend = true })
	other := newTestStore(t, "ns", mem, nil)

	_ = watching.Set(ctx, "k", user{ID: "1"})
	_ = other.Set(ctx, "k", user{ID: "2"})

	if v, _, _ := watching.Get(ctx, "k"); v.ID != "2" {
		t.Fatalf("stale cached value %+v", v)
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	s := newTestStore(t, "ns", mem, nil)
	_ = s.Set(ctx, "k", user{ID: "1"})

	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, ok, _ := mem.Get(ctx, "ns:k"); !ok {
		t.Fatalf("backend should stay open unless CloseBackend is set")
	}
}

func TestCanceledContext(t *testing.T) {
	s := newTestStore(t, "ns", memory.New(memory.Config{}), func(o *Options[user]) { o.Concurrency = 1 })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Set(ctx, "k", user{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
