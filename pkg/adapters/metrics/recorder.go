package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"ovndbsync/pkg/core"
)

// Run results.
const (
	ResultInSync    = "in_sync"
	ResultOutOfSync = "out_of_sync"
	ResultAborted   = "aborted"
)

// Recorder exposes helpers for recording Prometheus metrics about reconciliation runs.
type Recorder struct {
	runs      *prometheus.CounterVec
	changes   *prometheus.CounterVec
	failures  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	outOfSync *prometheus.GaugeVec
	duration  *prometheus.HistogramVec
}

// NewRecorder constructs a Recorder and registers the metrics with the provided registerer.
// If reg is nil the default Prometheus registerer is used. Registering twice
// on the same registerer reuses the existing collectors.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ovndbsync_sync_runs_total",
			Help: "Total number of database sync runs partitioned by database, mode and result.",
		}, []string{"database", "mode", "result"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ovndbsync_sync_changes_total",
			Help: "Total number of changes planned or applied by sync runs.",
		}, []string{"database", "action", "applied"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ovndbsync_sync_entity_failures_total",
			Help: "Total number of per-entity failures during sync runs.",
		}, []string{"database"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ovndbsync_sync_errors_total",
			Help: "Total number of errors that stopped a sync stage.",
		}, []string{"stage"}),
		outOfSync: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ovndbsync_sync_out_of_sync",
			Help: "Number of entities found out of sync by the last run.",
		}, []string{"database"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ovndbsync_sync_duration_seconds",
			Help:    "Histogram of sync run durations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"database"}),
	}
	r.runs = register(reg, r.runs)
	r.changes = register(reg, r.changes)
	r.failures = register(reg, r.failures)
	r.errors = register(reg, r.errors)
	r.outOfSync = register(reg, r.outOfSync)
	r.duration = register(reg, r.duration)
	return r
}

// ObserveSync records the outcome of one run.
func (r *Recorder) ObserveSync(report core.SyncReport) {
	if r == nil {
		return
	}
	result := ResultInSync
	switch {
	case report.Aborted:
		result = ResultAborted
	case !report.InSync():
		result = ResultOutOfSync
	}
	r.runs.WithLabelValues(report.Database, string(report.Mode), result).Inc()

	outOfSync := 0
	for action, entries := range map[core.Action][]core.EntityAction{
		core.ActionCreate: report.Creates,
		core.ActionUpdate: report.Updates,
		core.ActionDelete: report.Deletes,
	} {
		for _, entry := range entries {
			applied := "false"
			if entry.Applied {
				applied = "true"
			}
			r.changes.WithLabelValues(report.Database, string(action), applied).Inc()
		}
		outOfSync += len(entries)
	}
	r.failures.WithLabelValues(report.Database).Add(float64(len(report.Failures)))
	r.outOfSync.WithLabelValues(report.Database).Set(float64(outOfSync + len(report.Failures)))
	r.duration.WithLabelValues(report.Database).Observe(report.Duration.Seconds())
}

// IncError increments the error counter for a stage.
func (r *Recorder) IncError(stage string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(stage).Inc()
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
