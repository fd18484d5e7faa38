package layerkv

import "time"

const (
	defaultConcurrency          = 10
	defaultMaxVersions          = 10
	defaultWarnPercent          = 80.0
	defaultCompressionThreshold = 1024
	defaultCacheEntries         = 1000
	defaultCacheBytes           = 50 << 20
	defaultCacheTTL             = 5 * time.Minute
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
