package cursor

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares cursors across processes and survives restarts.
// With a TTL, cursors of idle providers expire and the next pull replays
// from the start of the provider log.
type Redis struct {
	rdb redis.UniversalClient
	ns  string
	ttl time.Duration // 0 disables expiry
}

var _ Store = (*Redis)(nil)

func NewRedis(client redis.UniversalClient, namespace string, ttl time.Duration) *Redis {
	return &Redis{rdb: client, ns: namespace, ttl: ttl}
}

func (s *Redis) key(provider string) string { return "cursor:" + s.ns + ":" + provider }

func (s *Redis) Get(ctx context.Context, provider string) (string, error) {
	v, err := s.rdb.Get(ctx, s.key(provider)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (s *Redis) Set(ctx context.Context, provider, cursor string) error {
	return s.rdb.Set(ctx, s.key(provider), cursor, s.ttl).Err()
}

// Cleanup is not applicable (Redis handles expiry if TTL is set).
func (s *Redis) Cleanup(time.Duration) {}

// Close does not close the shared client.
func (s *Redis) Close(context.Context) error { return nil }
