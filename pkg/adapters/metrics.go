package adapters

import "ovndbsync/pkg/core"

// MetricsRecorder captures metrics for reconciliation runs.
type MetricsRecorder interface {
	// ObserveSync records the outcome of one run against one database.
	ObserveSync(report core.SyncReport)
	// IncError increments the error counter for the provided stage.
	IncError(stage string)
}

// NewNoopMetricsRecorder returns a MetricsRecorder that performs no-ops.
func NewNoopMetricsRecorder() MetricsRecorder {
	return noopMetricsRecorder{}
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) ObserveSync(core.SyncReport) {}
func (noopMetricsRecorder) IncError(string)             {}
