package mirror

import (
	"sort"
	"sync"

	"ovndbsync/pkg/events"
	"ovndbsync/pkg/ovsdb"
)

// cache holds the mirrored rows of one connection. Only the connection's
// dispatch goroutine writes to it; readers get copies.
type cache struct {
	mu     sync.RWMutex
	tables map[string]map[ovsdb.UUID]ovsdb.Row
}

func newCache(tables []string) *cache {
	c := &cache{tables: make(map[string]map[ovsdb.UUID]ovsdb.Row, len(tables))}
	for _, table := range tables {
		c.tables[table] = map[ovsdb.UUID]ovsdb.Row{}
	}
	return c
}

// apply folds updates into the cache and returns the resulting events in a
// deterministic order (table name, then row UUID).
func (c *cache) apply(updates ovsdb.TableUpdates) []events.Event {
	tableNames := make([]string, 0, len(updates))
	for table := range updates {
		tableNames = append(tableNames, table)
	}
	sort.Strings(tableNames)

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []events.Event
	for _, table := range tableNames {
		rows, ok := c.tables[table]
		if !ok {
			rows = map[ovsdb.UUID]ovsdb.Row{}
			c.tables[table] = rows
		}
		ids := make([]ovsdb.UUID, 0, len(updates[table]))
		for id := range updates[table] {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			update := updates[table][id]
			previous, existed := rows[id]
			switch {
			case update.New == nil:
				if !existed {
					continue
				}
				delete(rows, id)
				out = append(out, events.Event{Table: table, Kind: events.Delete, UUID: id, Old: previous})
			default:
				current := update.New.Clone()
				current[ovsdb.UUIDColumn] = id
				rows[id] = current
				if existed {
					out = append(out, events.Event{Table: table, Kind: events.Update, UUID: id, Old: previous, New: current.Clone()})
				} else {
					out = append(out, events.Event{Table: table, Kind: events.Insert, UUID: id, New: current.Clone()})
				}
			}
		}
	}
	return out
}

func (c *cache) table(name string) map[ovsdb.UUID]ovsdb.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows := c.tables[name]
	out := make(map[ovsdb.UUID]ovsdb.Row, len(rows))
	for id, row := range rows {
		out[id] = row.Clone()
	}
	return out
}

func (c *cache) row(table string, id ovsdb.UUID) (ovsdb.Row, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.tables[table][id]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}
