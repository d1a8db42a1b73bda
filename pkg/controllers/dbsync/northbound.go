// Package dbsync reconciles the desired logical network model with the
// northbound and southbound databases.
package dbsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"ovndbsync/pkg/agents/summary"
	"ovndbsync/pkg/core"
	"ovndbsync/pkg/ovsdb"
)

// Database is the mirror view a synchronizer reads and writes through.
type Database interface {
	Table(name string) map[ovsdb.UUID]ovsdb.Row
	Transact(ctx context.Context, ops ...ovsdb.Operation) ([]ovsdb.OperationResult, error)
}

// NorthboundSynchronizer diffs desired entities against owned northbound rows.
type NorthboundSynchronizer struct {
	db     Database
	logger logr.Logger
	now    func() time.Time
}

// NewNorthboundSynchronizer builds a synchronizer writing through db.
func NewNorthboundSynchronizer(db Database, logger logr.Logger) *NorthboundSynchronizer {
	return &NorthboundSynchronizer{db: db, logger: logger.WithName("northbound"), now: time.Now}
}

// existing is an owned row found in the mirror.
type existing struct {
	uuid ovsdb.UUID
	row  ovsdb.Row
}

// northboundRun holds the state of one Sync call.
type northboundRun struct {
	*NorthboundSynchronizer
	mode    core.SyncMode
	sum     *summary.Summary
	desired map[core.EntityRef]desiredRow
	actual  map[core.EntityRef]existing
	parents map[core.EntityRef]ovsdb.UUID
}

// Sync runs one reconciliation pass. In log mode nothing is written. The
// returned error is non-nil only when the run was aborted by a connection
// level failure; per-entity failures are part of the report.
func (s *NorthboundSynchronizer) Sync(ctx context.Context, mode core.SyncMode, snapshot core.Snapshot) (core.SyncReport, error) {
	if _, err := core.ValidateMode(string(mode)); err != nil {
		return core.SyncReport{}, err
	}
	started := s.now()
	run := &northboundRun{
		NorthboundSynchronizer: s,
		mode:                   mode,
		sum:                    summary.New(core.NorthboundDatabase, mode, started),
		desired:                map[core.EntityRef]desiredRow{},
		parents:                map[core.EntityRef]ovsdb.UUID{},
	}
	s.logger.Info("northbound sync started", "mode", mode)

	rows, invalid := desiredRows(snapshot)
	for _, err := range invalid {
		var entityErr *entityError
		if errors.As(err, &entityErr) {
			run.sum.Fail(entityErr.ref, core.ActionCreate, entityErr.err)
			s.logger.Error(entityErr.err, "desired entity cannot be mapped", "kind", entityErr.ref.Kind, "id", entityErr.ref.ID)
		}
	}
	for _, row := range rows {
		if _, dup := run.desired[row.ref]; dup {
			err := fmt.Errorf("%w: %s is listed more than once", core.ErrInvalidEntity, row.ref)
			run.sum.Fail(row.ref, core.ActionCreate, err)
			s.logger.Error(err, "duplicate desired entity ignored", "kind", row.ref.Kind, "id", row.ref.ID)
			continue
		}
		run.desired[row.ref] = row
	}

	var duplicates []core.Change
	run.actual, duplicates = run.index()
	for ref, row := range run.actual {
		if _, wanted := run.desired[ref]; !wanted {
			continue
		}
		switch ref.Kind {
		case core.KindNetwork, core.KindRouter:
			run.parents[ref] = row.uuid
		}
	}

	plan := run.diff(duplicates)
	creates, updates, deletes := plan.Counts()
	s.logger.Info("northbound diff computed", "creates", creates, "updates", updates, "deletes", deletes)

	var runErr error
	for _, step := range plan.Steps {
		if mode == core.SyncModeLog {
			run.sum.Record(core.EntityAction{EntityRef: step.Ref, Action: step.Action, Table: step.Table, RowUUID: string(step.RowUUID)})
			continue
		}
		if err := run.apply(ctx, step); err != nil {
			if core.ClassifyError(err) == core.ErrorCategoryConnection {
				run.sum.Abort(err)
				runErr = fmt.Errorf("northbound sync aborted at %s %s: %w", step.Action, step.Ref, err)
				s.logger.Error(err, "northbound sync aborted", "action", step.Action, "kind", step.Ref.Kind, "id", step.Ref.ID)
				break
			}
			run.sum.Fail(step.Ref, step.Action, err)
			s.logger.Error(err, "failed to apply change", "action", step.Action, "kind", step.Ref.Kind, "id", step.Ref.ID)
		}
	}

	report := run.sum.Report(s.now())
	s.logger.Info("northbound sync completed", "mode", mode, "writes", report.Writes, "failures", len(report.Failures), "duration", report.Duration)
	return report, runErr
}

// index groups owned rows by their external id. When several rows carry the
// same id, the lowest UUID is kept and the others are returned as deletes.
func (r *northboundRun) index() (map[core.EntityRef]existing, []core.Change) {
	actual := map[core.EntityRef]existing{}
	var duplicates []core.Change
	for kind, table := range ownedTables {
		grouped := map[string][]ovsdb.UUID{}
		rows := r.db.Table(table)
		for id, row := range rows {
			externalIDs := row.Map(core.ExternalIDsColumn)
			if externalIDs[core.ExternalKindKey] != string(kind) || externalIDs[core.ExternalIDKey] == "" {
				continue
			}
			grouped[externalIDs[core.ExternalIDKey]] = append(grouped[externalIDs[core.ExternalIDKey]], id)
		}
		for entityID, ids := range grouped {
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			ref := core.EntityRef{Kind: kind, ID: entityID}
			actual[ref] = existing{uuid: ids[0], row: rows[ids[0]]}
			for _, id := range ids[1:] {
				duplicates = append(duplicates, core.Change{Ref: ref, Action: core.ActionDelete, Table: table, RowUUID: id})
			}
		}
	}
	return actual, duplicates
}

func (r *northboundRun) diff(duplicates []core.Change) core.Plan {
	var creates, updates []core.Change
	deletes := duplicates
	for ref, want := range r.desired {
		have, ok := r.actual[ref]
		if !ok {
			creates = append(creates, core.Change{Ref: ref, Action: core.ActionCreate, Table: want.table})
			continue
		}
		if !inSync(have.row, want) || !r.attached(have.uuid, want) {
			updates = append(updates, core.Change{Ref: ref, Action: core.ActionUpdate, Table: want.table, RowUUID: have.uuid})
		}
	}
	for ref, have := range r.actual {
		if _, ok := r.desired[ref]; !ok {
			deletes = append(deletes, core.Change{Ref: ref, Action: core.ActionDelete, Table: ownedTables[ref.Kind], RowUUID: have.uuid})
		}
	}
	return core.PlanChanges(creates, updates, deletes)
}

// attached reports whether a child row is referenced by its desired parent and no other.
func (r *northboundRun) attached(id ovsdb.UUID, want desiredRow) bool {
	if want.parent == nil {
		return true
	}
	parentUUID, ok := r.parents[core.EntityRef{Kind: want.parent.kind, ID: want.parent.id}]
	if !ok {
		return false
	}
	holders := referencing(r.db.Table(want.parent.table), want.parent.column, id)
	return len(holders) == 1 && holders[0] == parentUUID
}

func (r *northboundRun) apply(ctx context.Context, step core.Change) error {
	var (
		ops     []ovsdb.Operation
		rowUUID = step.RowUUID
	)
	want := r.desired[step.Ref]
	switch step.Action {
	case core.ActionCreate:
		named := namedUUID()
		ops = append(ops, ovsdb.Operation{Op: ovsdb.OpInsert, Table: want.table, Row: want.row, UUIDName: named})
		if want.parent != nil {
			parentUUID, err := r.parentUUID(want)
			if err != nil {
				return err
			}
			ops = append(ops, attach(want.parent, parentUUID, ovsdb.NamedUUID(named)))
		}
	case core.ActionUpdate:
		row := want.row.Clone()
		merged := ovsdb.Map{}
		for key, value := range r.actual[step.Ref].row.Map(core.ExternalIDsColumn) {
			merged[key] = value
		}
		for key, value := range want.row.Map(core.ExternalIDsColumn) {
			merged[key] = value
		}
		row[core.ExternalIDsColumn] = merged
		ops = append(ops, ovsdb.Operation{Op: ovsdb.OpUpdate, Table: want.table, Where: ovsdb.WhereUUID(rowUUID), Row: row})
		if want.parent != nil {
			parentUUID, err := r.parentUUID(want)
			if err != nil {
				return err
			}
			ops = append(ops, r.detach(want.table, rowUUID, parentUUID)...)
			ops = append(ops, attach(want.parent, parentUUID, rowUUID))
		}
	case core.ActionDelete:
		ops = append(ops, r.detach(step.Table, rowUUID, "")...)
		ops = append(ops, ovsdb.Operation{Op: ovsdb.OpDelete, Table: step.Table, Where: ovsdb.WhereUUID(rowUUID)})
	default:
		return fmt.Errorf("%w: unknown action %q", core.ErrInvalidEntity, step.Action)
	}

	results, err := r.db.Transact(ctx, ops...)
	if err != nil {
		return err
	}
	r.sum.Wrote(1)

	if step.Action == core.ActionCreate && len(results) > 0 && results[0].UUID != nil {
		rowUUID = *results[0].UUID
		switch step.Ref.Kind {
		case core.KindNetwork, core.KindRouter:
			r.parents[step.Ref] = rowUUID
		}
	}
	r.sum.Record(core.EntityAction{EntityRef: step.Ref, Action: step.Action, Table: step.Table, RowUUID: string(rowUUID), Applied: true})
	r.logger.V(1).Info("applied change", "action", step.Action, "kind", step.Ref.Kind, "id", step.Ref.ID, "row", rowUUID)
	return nil
}

func (r *northboundRun) parentUUID(want desiredRow) (ovsdb.UUID, error) {
	ref := core.EntityRef{Kind: want.parent.kind, ID: want.parent.id}
	id, ok := r.parents[ref]
	if !ok {
		return "", fmt.Errorf("%s requires %s: %w", want.ref, ref, core.ErrMissingParent)
	}
	return id, nil
}

// detach removes a child row from every parent referencing it except keep.
func (r *northboundRun) detach(table string, child, keep ovsdb.UUID) []ovsdb.Operation {
	parent, ok := parentColumns[table]
	if !ok {
		return nil
	}
	var ops []ovsdb.Operation
	for _, holder := range referencing(r.db.Table(parent.table), parent.column, child) {
		if holder == keep {
			continue
		}
		ops = append(ops, ovsdb.Operation{
			Op:        ovsdb.OpMutate,
			Table:     parent.table,
			Where:     ovsdb.WhereUUID(holder),
			Mutations: []ovsdb.Mutation{{Column: parent.column, Mutator: ovsdb.MutateDelete, Value: ovsdb.UUIDSet(child)}},
		})
	}
	return ops
}

func attach(parent *parentRef, parentUUID ovsdb.UUID, child any) ovsdb.Operation {
	return ovsdb.Operation{
		Op:        ovsdb.OpMutate,
		Table:     parent.table,
		Where:     ovsdb.WhereUUID(parentUUID),
		Mutations: []ovsdb.Mutation{{Column: parent.column, Mutator: ovsdb.MutateInsert, Value: ovsdb.Set{child}}},
	}
}

// referencing returns the rows of table whose set column contains id, sorted.
func referencing(rows map[ovsdb.UUID]ovsdb.Row, column string, id ovsdb.UUID) []ovsdb.UUID {
	var holders []ovsdb.UUID
	for holder, row := range rows {
		for _, ref := range row.UUIDs(column) {
			if ref == id {
				holders = append(holders, holder)
				break
			}
		}
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i] < holders[j] })
	return holders
}

// namedUUID returns a transaction local row name.
func namedUUID() string {
	return "row_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
}
