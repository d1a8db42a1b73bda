package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ovndbsync/pkg/core"
)

func TestRecorderObserveSync(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)
	report := core.SyncReport{
		Database: core.NorthboundDatabase,
		Mode:     core.SyncModeRepair,
		Duration: 250 * time.Millisecond,
		Creates:  []core.EntityAction{{Action: core.ActionCreate, Applied: true}},
		Deletes:  []core.EntityAction{{Action: core.ActionDelete, Applied: true}, {Action: core.ActionDelete, Applied: true}},
		Failures: []core.EntityFailure{{Action: core.ActionUpdate}},
	}
	rec.ObserveSync(report)

	if got := testutil.ToFloat64(rec.runs.WithLabelValues(core.NorthboundDatabase, "repair", ResultOutOfSync)); got != 1 {
		t.Fatalf("expected out of sync run counter 1, got %f", got)
	}
	if got := testutil.ToFloat64(rec.changes.WithLabelValues(core.NorthboundDatabase, "delete", "true")); got != 2 {
		t.Fatalf("expected 2 applied deletes, got %f", got)
	}
	if got := testutil.ToFloat64(rec.outOfSync.WithLabelValues(core.NorthboundDatabase)); got != 4 {
		t.Fatalf("expected out of sync gauge 4, got %f", got)
	}
	if got := testutil.ToFloat64(rec.failures.WithLabelValues(core.NorthboundDatabase)); got != 1 {
		t.Fatalf("expected 1 failure, got %f", got)
	}
	if count := testutil.CollectAndCount(rec.duration); count != 1 {
		t.Fatalf("expected histogram observation, got %d", count)
	}

	rec.ObserveSync(core.SyncReport{Database: core.NorthboundDatabase, Mode: core.SyncModeRepair})
	if got := testutil.ToFloat64(rec.runs.WithLabelValues(core.NorthboundDatabase, "repair", ResultInSync)); got != 1 {
		t.Fatalf("expected in sync run counter 1, got %f", got)
	}
	if got := testutil.ToFloat64(rec.outOfSync.WithLabelValues(core.NorthboundDatabase)); got != 0 {
		t.Fatalf("expected out of sync gauge reset to 0, got %f", got)
	}
}

func TestRecorderAborted(t *testing.T) {
	rec := NewRecorder(prometheus.NewRegistry())
	rec.ObserveSync(core.SyncReport{Database: core.SouthboundDatabase, Mode: core.SyncModeLog, Aborted: true})
	if got := testutil.ToFloat64(rec.runs.WithLabelValues(core.SouthboundDatabase, "log", ResultAborted)); got != 1 {
		t.Fatalf("expected aborted run counter 1, got %f", got)
	}
}

func TestRecorderIncError(t *testing.T) {
	rec := NewRecorder(prometheus.NewRegistry())
	rec.IncError("snapshot")
	rec.IncError("snapshot")
	if got := testutil.ToFloat64(rec.errors.WithLabelValues("snapshot")); got != 2 {
		t.Fatalf("expected 2 errors, got %f", got)
	}
}

func TestRecorderReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewRecorder(reg)
	second := NewRecorder(reg)
	second.IncError("connect")
	if got := testutil.ToFloat64(first.errors.WithLabelValues("connect")); got != 1 {
		t.Fatalf("expected shared collector, got %f", got)
	}
}

func TestRegisterPanicsOnConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "ovndbsync_sync_errors_total", Help: "conflict"}))
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected registration panic")
		}
	}()
	NewRecorder(reg)
}
