package summary

import (
	"sort"
	"sync"
	"time"

	"ovndbsync/pkg/core"
)

// Reason values attached to advisories.
const (
	ReasonUnknownBinding = "UnknownPortBinding"
	ReasonStatusDrift    = "PortStatusDrift"
	ReasonStaleBinding   = "StaleMACBinding"
	ReasonDuplicateTag   = "DuplicateExternalID"
)

// Summary aggregates the per-entity outcomes of one reconciliation run. It
// is safe for concurrent use; the report it builds is ordered deterministically.
type Summary struct {
	mu sync.Mutex

	database string
	mode     core.SyncMode
	started  time.Time

	creates    []core.EntityAction
	updates    []core.EntityAction
	deletes    []core.EntityAction
	failures   []core.EntityFailure
	advisories []core.Advisory
	writes     int
	abortErr   error
}

// New starts a summary for one database run.
func New(database string, mode core.SyncMode, started time.Time) *Summary {
	return &Summary{database: database, mode: mode, started: started}
}

// Record stores a planned or applied change.
func (s *Summary) Record(action core.EntityAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch action.Action {
	case core.ActionCreate:
		s.creates = append(s.creates, action)
	case core.ActionUpdate:
		s.updates = append(s.updates, action)
	case core.ActionDelete:
		s.deletes = append(s.deletes, action)
	}
}

// Fail records a change that could not be applied.
func (s *Summary) Fail(ref core.EntityRef, action core.Action, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, core.EntityFailure{EntityRef: ref, Action: action, Message: err.Error()})
}

// Advise records a finding that is reported but not repaired.
func (s *Summary) Advise(advisory core.Advisory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advisories = append(s.advisories, advisory)
}

// Wrote counts committed write transactions.
func (s *Summary) Wrote(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes += n
}

// Abort marks the run as stopped by a connection-level failure.
func (s *Summary) Abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abortErr == nil {
		s.abortErr = err
	}
}

// Aborted reports whether Abort was called.
func (s *Summary) Aborted() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortErr != nil
}

// Count returns the number of recorded changes of one action.
func (s *Summary) Count(action core.Action) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch action {
	case core.ActionCreate:
		return len(s.creates)
	case core.ActionUpdate:
		return len(s.updates)
	case core.ActionDelete:
		return len(s.deletes)
	}
	return 0
}

// Report freezes the summary into a SyncReport.
func (s *Summary) Report(now time.Time) core.SyncReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	report := core.SyncReport{
		Database:   s.database,
		Mode:       s.mode,
		StartedAt:  s.started,
		Duration:   now.Sub(s.started),
		Creates:    sortedActions(s.creates),
		Updates:    sortedActions(s.updates),
		Deletes:    sortedActions(s.deletes),
		Failures:   append([]core.EntityFailure(nil), s.failures...),
		Advisories: append([]core.Advisory(nil), s.advisories...),
		Writes:     s.writes,
	}
	if s.abortErr != nil {
		report.Aborted = true
		report.Error = s.abortErr.Error()
	}
	sort.SliceStable(report.Failures, func(i, j int) bool {
		return report.Failures[i].String() < report.Failures[j].String()
	})
	sort.SliceStable(report.Advisories, func(i, j int) bool {
		a, b := report.Advisories[i], report.Advisories[j]
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.RowUUID < b.RowUUID
	})
	return report
}

func sortedActions(actions []core.EntityAction) []core.EntityAction {
	if len(actions) == 0 {
		return nil
	}
	out := append([]core.EntityAction(nil), actions...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].RowUUID < out[j].RowUUID
	})
	return out
}
