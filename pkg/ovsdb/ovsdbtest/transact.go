package ovsdbtest

import (
	"fmt"

	"ovndbsync/pkg/ovsdb"
)

type txn struct {
	tables  map[string]map[ovsdb.UUID]ovsdb.Row
	named   map[string]ovsdb.UUID
	before  map[string]map[ovsdb.UUID]ovsdb.Row
	touched map[string]map[ovsdb.UUID]struct{}
}

// transactLocked applies ops to a copy of the database and swaps it in only
// when every operation succeeded.
func (s *Server) transactLocked(ops []ovsdb.Operation) ([]ovsdb.OperationResult, ovsdb.TableUpdates) {
	t := &txn{
		tables:  cloneTables(s.tables),
		named:   map[string]ovsdb.UUID{},
		before:  s.tables,
		touched: map[string]map[ovsdb.UUID]struct{}{},
	}
	results := make([]ovsdb.OperationResult, 0, len(ops))
	for _, op := range ops {
		if s.reject != nil && s.reject(op) {
			results = append(results, ovsdb.OperationResult{Error: "constraint violation", Details: fmt.Sprintf("%s on %s rejected", op.Op, op.Table)})
			return results, nil
		}
		result, err := t.apply(op)
		if err != nil {
			results = append(results, ovsdb.OperationResult{Error: "constraint violation", Details: err.Error()})
			return results, nil
		}
		results = append(results, result)
	}
	s.tables = t.tables
	return results, t.updates()
}

func (t *txn) apply(op ovsdb.Operation) (ovsdb.OperationResult, error) {
	switch op.Op {
	case ovsdb.OpComment:
		return ovsdb.OperationResult{}, nil
	case ovsdb.OpInsert:
		id := newUUID()
		if op.UUIDName != "" {
			t.named[op.UUIDName] = id
		}
		row, err := t.resolveRow(op.Row)
		if err != nil {
			return ovsdb.OperationResult{}, err
		}
		t.table(op.Table)[id] = row
		t.touch(op.Table, id)
		return ovsdb.OperationResult{UUID: &id}, nil
	}

	matched, err := t.match(op.Table, op.Where)
	if err != nil {
		return ovsdb.OperationResult{}, err
	}
	table := t.table(op.Table)
	switch op.Op {
	case ovsdb.OpSelect:
		rows := make([]ovsdb.Row, 0, len(matched))
		for _, id := range matched {
			row := table[id].Clone()
			row[ovsdb.UUIDColumn] = id
			rows = append(rows, row)
		}
		return ovsdb.OperationResult{Rows: rows}, nil
	case ovsdb.OpDelete:
		for _, id := range matched {
			delete(table, id)
			t.touch(op.Table, id)
		}
		return ovsdb.OperationResult{Count: len(matched)}, nil
	case ovsdb.OpUpdate:
		changes, err := t.resolveRow(op.Row)
		if err != nil {
			return ovsdb.OperationResult{}, err
		}
		for _, id := range matched {
			row := table[id].Clone()
			for column, value := range changes {
				row[column] = value
			}
			table[id] = row
			t.touch(op.Table, id)
		}
		return ovsdb.OperationResult{Count: len(matched)}, nil
	case ovsdb.OpMutate:
		for _, id := range matched {
			row := table[id].Clone()
			for _, mutation := range op.Mutations {
				value, err := t.resolve(mutation.Value)
				if err != nil {
					return ovsdb.OperationResult{}, err
				}
				mutated, err := mutate(row[mutation.Column], mutation.Mutator, value)
				if err != nil {
					return ovsdb.OperationResult{}, fmt.Errorf("column %s: %w", mutation.Column, err)
				}
				row[mutation.Column] = mutated
			}
			table[id] = row
			t.touch(op.Table, id)
		}
		return ovsdb.OperationResult{Count: len(matched)}, nil
	}
	return ovsdb.OperationResult{}, fmt.Errorf("unknown operation %q", op.Op)
}

func (t *txn) table(name string) map[ovsdb.UUID]ovsdb.Row {
	table, ok := t.tables[name]
	if !ok {
		table = map[ovsdb.UUID]ovsdb.Row{}
		t.tables[name] = table
	}
	return table
}

func (t *txn) touch(table string, id ovsdb.UUID) {
	if t.touched[table] == nil {
		t.touched[table] = map[ovsdb.UUID]struct{}{}
	}
	t.touched[table][id] = struct{}{}
}

func (t *txn) match(table string, where []ovsdb.Condition) ([]ovsdb.UUID, error) {
	var matched []ovsdb.UUID
	for id, row := range t.tables[table] {
		ok := true
		for _, cond := range where {
			value, err := t.resolve(cond.Value)
			if err != nil {
				return nil, err
			}
			current := row[cond.Column]
			if cond.Column == ovsdb.UUIDColumn {
				current = id
			}
			hit, err := evaluate(current, cond.Function, value)
			if err != nil {
				return nil, err
			}
			if !hit {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, id)
		}
	}
	return matched, nil
}

func (t *txn) resolveRow(row ovsdb.Row) (ovsdb.Row, error) {
	out := make(ovsdb.Row, len(row))
	for column, value := range row {
		resolved, err := t.resolve(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
		out[column] = resolved
	}
	return out, nil
}

func (t *txn) resolve(value any) (any, error) {
	switch v := value.(type) {
	case ovsdb.NamedUUID:
		id, ok := t.named[string(v)]
		if !ok {
			return nil, fmt.Errorf("unknown named-uuid %q", string(v))
		}
		return id, nil
	case ovsdb.Set:
		out := make(ovsdb.Set, 0, len(v))
		for _, member := range v {
			resolved, err := t.resolve(member)
			if err != nil {
				return nil, err
			}
			out = append(out, resolved)
		}
		return out, nil
	}
	return value, nil
}

func (t *txn) updates() ovsdb.TableUpdates {
	updates := ovsdb.TableUpdates{}
	for table, ids := range t.touched {
		update := ovsdb.TableUpdate{}
		for id := range ids {
			old, hadOld := t.before[table][id]
			current, hasNew := t.tables[table][id]
			switch {
			case hadOld && hasNew:
				if rowsEqual(old, current) {
					continue
				}
				update[id] = &ovsdb.RowUpdate{Old: old.Clone(), New: current.Clone()}
			case hadOld:
				update[id] = &ovsdb.RowUpdate{Old: old.Clone()}
			case hasNew:
				update[id] = &ovsdb.RowUpdate{New: current.Clone()}
			}
		}
		if len(update) > 0 {
			updates[table] = update
		}
	}
	return updates
}

func evaluate(current any, function string, value any) (bool, error) {
	switch function {
	case ovsdb.ConditionEqual:
		return ovsdb.Equal(current, value), nil
	case ovsdb.ConditionNotEqual:
		return !ovsdb.Equal(current, value), nil
	case ovsdb.ConditionIncludes:
		return includes(current, value), nil
	case ovsdb.ConditionExcludes:
		return excludes(current, value), nil
	}
	return false, fmt.Errorf("unsupported condition function %q", function)
}

func members(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case ovsdb.Set:
		return v
	}
	return []any{value}
}

func contains(set []any, value any) bool {
	for _, member := range set {
		if ovsdb.Equal(member, value) {
			return true
		}
	}
	return false
}

func includes(current, value any) bool {
	if want, ok := value.(ovsdb.Map); ok {
		have, _ := current.(ovsdb.Map)
		for k, v := range want {
			if got, ok := have[k]; !ok || got != v {
				return false
			}
		}
		return true
	}
	have := members(current)
	for _, member := range members(value) {
		if !contains(have, member) {
			return false
		}
	}
	return true
}

func excludes(current, value any) bool {
	if want, ok := value.(ovsdb.Map); ok {
		have, _ := current.(ovsdb.Map)
		for k, v := range want {
			if got, ok := have[k]; ok && got == v {
				return false
			}
		}
		return true
	}
	have := members(current)
	for _, member := range members(value) {
		if contains(have, member) {
			return false
		}
	}
	return true
}

func mutate(current any, mutator string, value any) (any, error) {
	if delta, ok := value.(ovsdb.Map); ok {
		have, _ := current.(ovsdb.Map)
		out := ovsdb.Map{}
		for k, v := range have {
			out[k] = v
		}
		switch mutator {
		case ovsdb.MutateInsert:
			for k, v := range delta {
				if _, exists := out[k]; !exists {
					out[k] = v
				}
			}
		case ovsdb.MutateDelete:
			for k := range delta {
				delete(out, k)
			}
		default:
			return nil, fmt.Errorf("unsupported map mutator %q", mutator)
		}
		return out, nil
	}
	out := append(ovsdb.Set{}, members(current)...)
	switch mutator {
	case ovsdb.MutateInsert:
		for _, member := range members(value) {
			if !contains(out, member) {
				out = append(out, member)
			}
		}
	case ovsdb.MutateDelete:
		kept := ovsdb.Set{}
		for _, member := range out {
			if !contains(members(value), member) {
				kept = append(kept, member)
			}
		}
		out = kept
	default:
		return nil, fmt.Errorf("unsupported set mutator %q", mutator)
	}
	return out, nil
}

func rowsEqual(a, b ovsdb.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for column, value := range a {
		if !ovsdb.Equal(value, b[column]) {
			return false
		}
	}
	return true
}

func cloneTables(tables map[string]map[ovsdb.UUID]ovsdb.Row) map[string]map[ovsdb.UUID]ovsdb.Row {
	out := make(map[string]map[ovsdb.UUID]ovsdb.Row, len(tables))
	for name, rows := range tables {
		copied := make(map[ovsdb.UUID]ovsdb.Row, len(rows))
		for id, row := range rows {
			copied[id] = row
		}
		out[name] = copied
	}
	return out
}
