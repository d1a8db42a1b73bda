package ovsdb

import (
	"encoding/json"
	"fmt"

	libovsdb "github.com/ovn-org/libovsdb/ovsdb"
)

// RowUpdate carries the old and new images of a row. Old is nil on insert, New is nil on delete.
type RowUpdate struct {
	Old Row `json:"old,omitempty"`
	New Row `json:"new,omitempty"`
}

// TableUpdate maps row UUIDs to their updates.
type TableUpdate map[UUID]*RowUpdate

// TableUpdates maps table names to their updates.
type TableUpdates map[string]TableUpdate

// MonitorRequest selects the columns to monitor for one table. Empty Columns means all columns.
type MonitorRequest struct {
	Columns []string `json:"columns,omitempty"`
}

// DecodeTableUpdates parses the payload of an update notification or a monitor reply.
func DecodeTableUpdates(data json.RawMessage) (TableUpdates, error) {
	var wire libovsdb.TableUpdates
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding table updates: %w", err)
	}
	updates := make(TableUpdates, len(wire))
	for table, rows := range wire {
		tableUpdate := make(TableUpdate, len(rows))
		for id, update := range rows {
			if update == nil {
				continue
			}
			decoded := &RowUpdate{}
			var err error
			if update.Old != nil {
				if decoded.Old, err = rowFromWire(*update.Old); err != nil {
					return nil, fmt.Errorf("decoding %s %s: %w", table, id, err)
				}
			}
			if update.New != nil {
				if decoded.New, err = rowFromWire(*update.New); err != nil {
					return nil, fmt.Errorf("decoding %s %s: %w", table, id, err)
				}
			}
			tableUpdate[UUID(id)] = decoded
		}
		updates[table] = tableUpdate
	}
	return updates, nil
}

// MarshalJSON encodes the updates with the libovsdb row update form.
func (t TableUpdate) MarshalJSON() ([]byte, error) {
	rows := make(libovsdb.TableUpdate, len(t))
	for id, update := range t {
		wire := &libovsdb.RowUpdate{}
		if update.Old != nil {
			old := rowToWire(update.Old)
			wire.Old = &old
		}
		if update.New != nil {
			row := rowToWire(update.New)
			wire.New = &row
		}
		rows[string(id)] = wire
	}
	return json.Marshal(rows)
}
