package events

import (
	"time"

	"ovndbsync/pkg/ovsdb"
)

func image(old, new ovsdb.Row) ovsdb.Row {
	if new != nil {
		return new
	}
	return old
}

// ColumnEquals matches rows whose current image (or last image on delete) holds value in column.
func ColumnEquals(column string, value any) Predicate {
	return func(old, new ovsdb.Row) bool {
		row := image(old, new)
		return row != nil && ovsdb.Equal(row[column], value)
	}
}

// UUIDIs matches one row.
func UUIDIs(id ovsdb.UUID) Predicate {
	return ColumnEquals(ovsdb.UUIDColumn, id)
}

// ExternalIDEquals matches rows tagged with external_ids:key=value.
func ExternalIDEquals(key, value string) Predicate {
	return func(old, new ovsdb.Row) bool {
		row := image(old, new)
		return row != nil && row.Map("external_ids")[key] == value
	}
}

// ColumnChanged matches updates that modified any of columns; inserts and deletes always match.
func ColumnChanged(columns ...string) Predicate {
	return func(old, new ovsdb.Row) bool {
		if old == nil || new == nil {
			return true
		}
		for _, column := range columns {
			if !ovsdb.Equal(old[column], new[column]) {
				return true
			}
		}
		return false
	}
}

// All matches when every predicate matches.
func All(predicates ...Predicate) Predicate {
	return func(old, new ovsdb.Row) bool {
		for _, predicate := range predicates {
			if !predicate(old, new) {
				return false
			}
		}
		return true
	}
}

// WaitForDelete registers a one-shot subscription on the deletion of one row.
func WaitForDelete(d *Dispatcher, table string, id ovsdb.UUID) *Subscription {
	return d.Subscribe(Matcher{Table: table, Kinds: []Kind{Delete}, Predicate: UUIDIs(id), OneShot: true}, nil)
}

// WaitFor subscribes one-shot to a matcher and waits for it.
func WaitFor(d *Dispatcher, matcher Matcher, timeout time.Duration) bool {
	matcher.OneShot = true
	sub := d.Subscribe(matcher, nil)
	if sub.Wait(timeout) {
		return true
	}
	sub.Cancel()
	return false
}
