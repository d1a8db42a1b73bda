package adapters

import (
	hostevents "ovndbsync/pkg/adapters/events"
	"ovndbsync/pkg/core"
)

// EventEmitter turns sync reports into events.
type EventEmitter struct {
	recorder *hostevents.Recorder
}

// NewEventEmitter constructs an EventEmitter.
func NewEventEmitter(sink hostevents.Sink) *EventEmitter {
	return &EventEmitter{recorder: hostevents.NewRecorder(sink)}
}

// EmitReport emits events for each action, failure and advisory in the report.
func (e *EventEmitter) EmitReport(report core.SyncReport) {
	if e == nil || e.recorder == nil {
		return
	}
	for _, action := range report.Creates {
		e.recorder.EntityCreated(report.Database, action)
	}
	for _, action := range report.Updates {
		e.recorder.EntityUpdated(report.Database, action)
	}
	for _, action := range report.Deletes {
		e.recorder.EntityDeleted(report.Database, action)
	}
	for _, failure := range report.Failures {
		e.recorder.EntityFailed(report.Database, failure)
	}
	for _, advisory := range report.Advisories {
		e.recorder.Advisory(report.Database, advisory)
	}
}

// EmitError emits a warning event for aborted runs.
func (e *EventEmitter) EmitError(database string, err error) {
	if e == nil || e.recorder == nil || err == nil {
		return
	}
	e.recorder.Error(database, err)
}
