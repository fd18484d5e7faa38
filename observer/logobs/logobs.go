// Package logobs writes store events to a logging.Logger.
package logobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	"github.com/unkn0wn-root/layerkv/event"
	"github.com/unkn0wn-root/layerkv/logging"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	EvictEvery  uint64
	MetricEvery uint64
	// Changes are logged at debug level only when set.
	Changes bool
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Observer struct {
	l    logging.Logger
	opts Options

	evictCtr  atomic.Uint64
	metricCtr atomic.Uint64
}

var _ event.Observer = (*Observer)(nil)

func New(l logging.Logger, opts Options) *Observer {
	return &Observer{l: logging.OrNop(l), opts: opts}
}

func (o *Observer) redact(k string) string {
	if k == "" || k == event.WildcardKey {
		return k
	}
	if o.opts.Redact != nil {
		return o.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (o *Observer) OnEvent(_ context.Context, e event.Event) {
	f := logging.Fields{"ns": e.Namespace}
	if e.Key != "" {
		f["key"] = o.redact(e.Key)
	}

	switch e.Type {
	case event.TypeChange:
		if !o.opts.Changes {
			return
		}
		f["change"] = string(e.Change)
		f["remote"] = e.Remote
		o.l.Debug("layerkv.change", f)
	case event.TypeError:
		f["code"] = e.Code
		f["op"] = e.Operation
		f["err"] = e.Message
		o.l.Warn("layerkv.error", f)
	case event.TypeQuotaWarning:
		f["usage"] = e.Usage
		f["quota"] = e.Quota
		f["percentage"] = e.Percentage
		o.l.Warn("layerkv.quota_warning", f)
	case event.TypeSyncStart:
		o.l.Debug("layerkv.sync_start", f)
	case event.TypeSyncComplete:
		f["duration"] = e.Duration
		o.l.Info("layerkv.sync_complete", f)
	case event.TypeSyncError:
		f["err"] = e.Message
		o.l.Error("layerkv.sync_error", f)
	case event.TypeConflict:
		f["resolution"] = e.Resolution
		o.l.Warn("layerkv.conflict", f)
	case event.TypeMetric:
		if !sample(o.opts.MetricEvery, &o.metricCtr) {
			return
		}
		f["op"] = e.Operation
		f["duration"] = e.Duration
		o.l.Debug("layerkv.metric", f)
	case event.TypeEvict:
		if !sample(o.opts.EvictEvery, &o.evictCtr) {
			return
		}
		f["reason"] = e.Reason
		o.l.Debug("layerkv.evict", f)
	}
}
