package dbsync

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"ovndbsync/pkg/adapters"
	"ovndbsync/pkg/core"
)

// Synchronizer is one database pass of a run.
type Synchronizer interface {
	Sync(ctx context.Context, mode core.SyncMode, snapshot core.Snapshot) (core.SyncReport, error)
}

// Runner performs a batch run: northbound first, then southbound.
type Runner struct {
	Northbound Synchronizer
	Southbound Synchronizer
	Source     adapters.DesiredState
	Callbacks  adapters.Callbacks
	Metrics    adapters.MetricsRecorder
	Emitter    *adapters.EventEmitter
	Logger     logr.Logger
}

// Run reads the desired state once and reconciles both databases. The
// southbound pass is skipped when the northbound pass aborts.
func (r *Runner) Run(ctx context.Context, mode core.SyncMode) ([]core.SyncReport, error) {
	metrics := r.Metrics
	if metrics == nil {
		metrics = adapters.NewNoopMetricsRecorder()
	}
	if _, err := core.ValidateMode(string(mode)); err != nil {
		return nil, err
	}

	snapshot, err := adapters.LoadSnapshot(ctx, r.Source)
	if err != nil {
		metrics.IncError("snapshot")
		return nil, fmt.Errorf("load desired state: %w", err)
	}

	var reports []core.SyncReport
	for _, stage := range []struct {
		database string
		sync     Synchronizer
	}{
		{core.NorthboundDatabase, r.Northbound},
		{core.SouthboundDatabase, r.Southbound},
	} {
		if stage.sync == nil {
			continue
		}
		report, err := stage.sync.Sync(ctx, mode, snapshot)
		metrics.ObserveSync(report)
		r.Emitter.EmitReport(report)
		if r.Callbacks != nil {
			if cbErr := r.Callbacks.OnSyncCompleted(ctx, report); cbErr != nil {
				r.Logger.Error(cbErr, "failed to deliver sync report", "database", stage.database)
			}
		}
		reports = append(reports, report)
		if err != nil {
			metrics.IncError(stage.database)
			r.Emitter.EmitError(stage.database, err)
			return reports, err
		}
	}
	return reports, nil
}
