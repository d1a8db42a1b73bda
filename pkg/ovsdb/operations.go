package ovsdb

import (
	"encoding/json"
	"errors"
	"fmt"

	libovsdb "github.com/ovn-org/libovsdb/ovsdb"
)

// Operation names understood by transact.
const (
	OpInsert  = string(libovsdb.OperationInsert)
	OpUpdate  = string(libovsdb.OperationUpdate)
	OpDelete  = string(libovsdb.OperationDelete)
	OpSelect  = string(libovsdb.OperationSelect)
	OpMutate  = string(libovsdb.OperationMutate)
	OpComment = string(libovsdb.OperationComment)
)

// Condition functions.
const (
	ConditionEqual    = string(libovsdb.ConditionEqual)
	ConditionNotEqual = string(libovsdb.ConditionNotEqual)
	ConditionIncludes = string(libovsdb.ConditionIncludes)
	ConditionExcludes = string(libovsdb.ConditionExcludes)
)

// Mutators.
const (
	MutateInsert = string(libovsdb.MutateOperationInsert)
	MutateDelete = string(libovsdb.MutateOperationDelete)
)

// UUIDColumn is the implicit row identifier column.
const UUIDColumn = "_uuid"

// Condition is a where clause element: [column, function, value].
type Condition struct {
	Column   string
	Function string
	Value    any
}

// Mutation is a mutate element: [column, mutator, value].
type Mutation struct {
	Column  string
	Mutator string
	Value   any
}

// Operation is a single transact operation.
type Operation struct {
	Op        string
	Table     string
	Row       Row
	Where     []Condition
	Columns   []string
	Mutations []Mutation
	UUIDName  string
	Comment   string
}

// OperationResult is the per-operation reply of a transaction.
type OperationResult struct {
	Count   int    `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
	UUID    *UUID  `json:"uuid,omitempty"`
	Rows    []Row  `json:"rows,omitempty"`
}

// OperationError reports the failed operation of a rolled back transaction.
type OperationError struct {
	Index   int
	Op      string
	Table   string
	Err     string
	Details string
}

func (e *OperationError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transaction failed to commit: %s: %s", e.Err, e.Details)
	}
	return fmt.Sprintf("operation %d (%s %s) failed: %s: %s", e.Index, e.Op, e.Table, e.Err, e.Details)
}

// ErrShortReply is returned when the server replies with fewer results than operations.
var ErrShortReply = errors.New("transaction reply has fewer results than operations")

// Where builds a single-condition where clause.
func Where(column, function string, value any) []Condition {
	return []Condition{{Column: column, Function: function, Value: value}}
}

// WhereUUID selects a row by its identifier.
func WhereUUID(id UUID) []Condition {
	return Where(UUIDColumn, ConditionEqual, id)
}

// CheckOperationResults returns the first operation or commit error in a transaction reply.
func CheckOperationResults(results []OperationResult, ops []Operation) error {
	if len(results) < len(ops) {
		return ErrShortReply
	}
	for i, result := range results {
		if result.Error == "" {
			continue
		}
		opErr := &OperationError{Index: i, Err: result.Error, Details: result.Details}
		if i < len(ops) {
			opErr.Op = ops[i].Op
			opErr.Table = ops[i].Table
		}
		return opErr
	}
	return nil
}

func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(&libovsdb.Condition{Column: c.Column, Function: libovsdb.ConditionFunction(c.Function), Value: toWire(c.Value)})
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var wire libovsdb.Condition
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	value, err := fromWire(wire.Value)
	if err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	*c = Condition{Column: wire.Column, Function: string(wire.Function), Value: value}
	return nil
}

func (m Mutation) MarshalJSON() ([]byte, error) {
	return json.Marshal(&libovsdb.Mutation{Column: m.Column, Mutator: libovsdb.Mutator(m.Mutator), Value: toWire(m.Value)})
}

func (m *Mutation) UnmarshalJSON(data []byte) error {
	var wire libovsdb.Mutation
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("invalid mutation: %w", err)
	}
	value, err := fromWire(wire.Value)
	if err != nil {
		return fmt.Errorf("invalid mutation: %w", err)
	}
	*m = Mutation{Column: wire.Column, Mutator: string(wire.Mutator), Value: value}
	return nil
}

func (o Operation) MarshalJSON() ([]byte, error) {
	out := map[string]any{"op": o.Op}
	if o.Table != "" {
		out["table"] = o.Table
	}
	where := o.Where
	if where == nil {
		where = []Condition{}
	}
	row := o.Row
	if row == nil {
		row = Row{}
	}
	switch o.Op {
	case OpInsert:
		out["row"] = row
		if o.UUIDName != "" {
			out["uuid-name"] = o.UUIDName
		}
	case OpUpdate:
		out["row"] = row
		out["where"] = where
	case OpDelete:
		out["where"] = where
	case OpSelect:
		out["where"] = where
		if len(o.Columns) > 0 {
			out["columns"] = o.Columns
		}
	case OpMutate:
		out["where"] = where
		mutations := o.Mutations
		if mutations == nil {
			mutations = []Mutation{}
		}
		out["mutations"] = mutations
	case OpComment:
		out["comment"] = o.Comment
	}
	return json.Marshal(out)
}

type operationWire struct {
	Op        string      `json:"op"`
	Table     string      `json:"table"`
	Row       Row         `json:"row"`
	Where     []Condition `json:"where"`
	Columns   []string    `json:"columns"`
	Mutations []Mutation  `json:"mutations"`
	UUIDName  string      `json:"uuid-name"`
	Comment   string      `json:"comment"`
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var wire operationWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*o = Operation(wire)
	return nil
}
