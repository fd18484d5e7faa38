// Package prom exports store events as Prometheus metrics.
package prom

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/layerkv/event"
	"github.com/unkn0wn-root/layerkv/syncer"
)

// Metrics holds the collectors fed by store events.
type Metrics struct {
	Operations  *prometheus.HistogramVec
	Changes     *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Evictions   *prometheus.CounterVec
	QuotaUsage  *prometheus.GaugeVec
	Conflicts   *prometheus.CounterVec
	SyncCycles  *prometheus.CounterVec
	SyncChanges *prometheus.CounterVec
}

var _ event.Observer = (*Metrics)(nil)

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "layerkv_operation_duration_seconds",
			Help:    "Duration of store operations",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"namespace", "op"}),
		Changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerkv_changes_total",
			Help: "Committed mutations by kind and origin",
		}, []string{"namespace", "change", "origin"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerkv_errors_total",
			Help: "Failed operations by error code",
		}, []string{"namespace", "code"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerkv_cache_evictions_total",
			Help: "Cache evictions by reason",
		}, []string{"namespace", "reason"}),
		QuotaUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "layerkv_quota_usage_ratio",
			Help: "Last reported quota usage as a fraction of the quota",
		}, []string{"namespace"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerkv_sync_conflicts_total",
			Help: "Sync conflicts by resolution",
		}, []string{"namespace", "resolution"}),
		SyncCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerkv_sync_cycles_total",
			Help: "Completed sync cycles by outcome",
		}, []string{"namespace", "outcome"}),
		SyncChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerkv_sync_changes_total",
			Help: "Changes moved by sync, by direction",
		}, []string{"namespace", "direction"}),
	}
	reg.MustRegister(m.Operations, m.Changes, m.Errors, m.Evictions,
		m.QuotaUsage, m.Conflicts, m.SyncCycles, m.SyncChanges)
	return m
}

func (m *Metrics) OnEvent(_ context.Context, e event.Event) {
	ns := e.Namespace
	switch e.Type {
	case event.TypeMetric:
		m.Operations.WithLabelValues(ns, e.Operation).Observe(e.Duration.Seconds())
	case event.TypeChange:
		origin := "local"
		if e.Remote {
			origin = "remote"
		}
		m.Changes.WithLabelValues(ns, string(e.Change), origin).Inc()
	case event.TypeError:
		m.Errors.WithLabelValues(ns, e.Code).Inc()
	case event.TypeEvict:
		m.Evictions.WithLabelValues(ns, e.Reason).Inc()
	case event.TypeQuotaWarning:
		m.QuotaUsage.WithLabelValues(ns).Set(e.Percentage / 100)
	case event.TypeConflict:
		m.Conflicts.WithLabelValues(ns, e.Resolution).Inc()
	case event.TypeSyncComplete:
		res, ok := e.Result.(syncer.Result)
		if !ok {
			return
		}
		outcome := "success"
		if !res.Success {
			outcome = "failure"
		}
		m.SyncCycles.WithLabelValues(ns, outcome).Inc()
		m.SyncChanges.WithLabelValues(ns, "pushed").Add(float64(res.Pushed))
		m.SyncChanges.WithLabelValues(ns, "applied").Add(float64(res.Applied))
	}
}
