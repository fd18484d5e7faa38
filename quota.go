package layerkv

import (
	"context"

	"github.com/unkn0wn-root/layerkv/backend"
)

type quotaGuard struct {
	b       backend.Backend
	quota   int64
	warnPct float64
}

func (q quotaGuard) enabled() bool { return q.quota > 0 }

// check reports the usage a write of add bytes would reach and whether it
// crosses the warning threshold. It fails when the quota would be exceeded.
func (q quotaGuard) check(ctx context.Context, add int64) (attempted int64, pct float64, warn bool, err error) {
	if !q.enabled() {
		return 0, 0, false, nil
	}
	used, err := q.b.Size(ctx)
	if err != nil {
		return 0, 0, false, err
	}
	attempted = used + add
	if attempted > q.quota {
		return attempted, 0, false, &QuotaExceededError{Attempted: attempted, Quota: q.quota}
	}
	pct = float64(attempted) * 100 / float64(q.quota)
	return attempted, pct, pct >= q.warnPct, nil
}

func (q quotaGuard) usage(ctx context.Context) (Usage, error) {
	used, err := q.b.Size(ctx)
	if err != nil {
		return Usage{}, err
	}
	u := Usage{Used: used, Quota: q.quota}
	if q.quota > 0 {
		u.Percentage = float64(used) * 100 / float64(q.quota)
	}
	return u, nil
}
