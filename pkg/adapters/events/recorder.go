package events

import (
	"fmt"

	"github.com/go-logr/logr"

	"ovndbsync/pkg/core"
)

// Event types.
const (
	TypeNormal  = "Normal"
	TypeWarning = "Warning"
)

// Sink receives formatted events.
type Sink interface {
	Eventf(eventType, reason, messageFmt string, args ...any)
}

// LogSink writes events to a logger.
type LogSink struct {
	Logger logr.Logger
}

// Eventf logs one event.
func (s LogSink) Eventf(eventType, reason, messageFmt string, args ...any) {
	s.Logger.Info(fmt.Sprintf(messageFmt, args...), "type", eventType, "reason", reason)
}

// Recorder wraps a Sink with helper methods specific to database
// reconciliation.
//
// The helper methods guard against nil receivers so tests can pass a nil
// recorder when event emission is not under test.
type Recorder struct {
	sink Sink
}

// NewRecorder constructs a Recorder from the provided sink.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

// EntityCreated records that a row was created for an entity.
func (r *Recorder) EntityCreated(database string, action core.EntityAction) {
	if r == nil || r.sink == nil {
		return
	}
	r.sink.Eventf(TypeNormal, reason("Created", action.Applied), "%s %s row %s for %s", database, action.Table, verb("created", action.Applied), action.EntityRef)
}

// EntityUpdated records that the row of an entity was updated.
func (r *Recorder) EntityUpdated(database string, action core.EntityAction) {
	if r == nil || r.sink == nil {
		return
	}
	r.sink.Eventf(TypeNormal, reason("Updated", action.Applied), "%s %s row %s %s for %s", database, action.Table, action.RowUUID, verb("updated", action.Applied), action.EntityRef)
}

// EntityDeleted records that an orphaned row was deleted.
func (r *Recorder) EntityDeleted(database string, action core.EntityAction) {
	if r == nil || r.sink == nil {
		return
	}
	r.sink.Eventf(TypeNormal, reason("Deleted", action.Applied), "%s %s row %s %s for %s", database, action.Table, action.RowUUID, verb("deleted", action.Applied), action.EntityRef)
}

// EntityFailed records a change that could not be applied.
func (r *Recorder) EntityFailed(database string, failure core.EntityFailure) {
	if r == nil || r.sink == nil {
		return
	}
	r.sink.Eventf(TypeWarning, "ApplyFailed", "%s %s of %s failed: %s", database, failure.Action, failure.EntityRef, failure.Message)
}

// Advisory records a finding that is not repaired.
func (r *Recorder) Advisory(database string, advisory core.Advisory) {
	if r == nil || r.sink == nil {
		return
	}
	r.sink.Eventf(TypeWarning, advisory.Reason, "%s %s: %s", database, advisory.Table, advisory.Message)
}

// Error records an event indicating a run failed.
func (r *Recorder) Error(database string, err error) {
	if r == nil || r.sink == nil || err == nil {
		return
	}
	r.sink.Eventf(TypeWarning, "SyncError", "%s sync failed: %v", database, err)
}

func reason(action string, applied bool) string {
	if applied {
		return action
	}
	return "OutOfSync"
}

func verb(past string, applied bool) string {
	if applied {
		return past
	}
	return "needs to be " + past
}
