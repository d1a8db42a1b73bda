package ovsdb

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	libovsdb "github.com/ovn-org/libovsdb/ovsdb"
)

// UUID is a row identifier, encoded as ["uuid", "<id>"].
type UUID string

// NamedUUID refers to a row inserted earlier in the same transaction, encoded as ["named-uuid", "<name>"].
type NamedUUID string

// Set is an OVSDB set, encoded as ["set", [...]]. A one-element set and its atom are equivalent.
type Set []any

// Map is an OVSDB map with string keys and values, encoded as ["map", [[k, v], ...]].
type Map map[string]string

// Row maps column names to decoded values: string, int, float64, bool, UUID, Set or Map.
type Row map[string]any

// StringSet builds a Set from strings.
func StringSet(values ...string) Set {
	set := make(Set, 0, len(values))
	for _, value := range values {
		set = append(set, value)
	}
	return set
}

// UUIDSet builds a Set from row identifiers.
func UUIDSet(values ...UUID) Set {
	set := make(Set, 0, len(values))
	for _, value := range values {
		set = append(set, value)
	}
	return set
}

func (u UUID) MarshalJSON() ([]byte, error) {
	return json.Marshal(libovsdb.UUID{GoUUID: string(u)})
}

func (u *UUID) UnmarshalJSON(data []byte) error {
	var wire libovsdb.UUID
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("invalid uuid: %w", err)
	}
	if wire.GoUUID == "" {
		return fmt.Errorf("invalid uuid: %s", data)
	}
	*u = UUID(wire.GoUUID)
	return nil
}

func (n NamedUUID) MarshalJSON() ([]byte, error) {
	return json.Marshal(libovsdb.UUID{GoUUID: string(n)})
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(s))
}

func (m Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(m))
}

func (r *Row) UnmarshalJSON(data []byte) error {
	var wire libovsdb.Row
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	row, err := rowFromWire(wire)
	if err != nil {
		return err
	}
	*r = row
	return nil
}

// toWire converts a value into the notation types of the libovsdb codec.
func toWire(v any) any {
	switch value := v.(type) {
	case UUID:
		return libovsdb.UUID{GoUUID: string(value)}
	case NamedUUID:
		return libovsdb.UUID{GoUUID: string(value)}
	case Set:
		elements := make([]any, 0, len(value))
		for _, element := range value {
			elements = append(elements, toWire(element))
		}
		return libovsdb.OvsSet{GoSet: elements}
	case Map:
		m := make(map[any]any, len(value))
		for k, val := range value {
			m[k] = val
		}
		return libovsdb.OvsMap{GoMap: m}
	case Row:
		return rowToWire(value)
	}
	return v
}

func rowToWire(row Row) libovsdb.Row {
	wire := make(libovsdb.Row, len(row))
	for column, value := range row {
		wire[column] = toWire(value)
	}
	return wire
}

func rowFromWire(wire libovsdb.Row) (Row, error) {
	row := make(Row, len(wire))
	for column, value := range wire {
		decoded, err := fromWire(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
		row[column] = decoded
	}
	return row, nil
}

// fromWire converts a value decoded by libovsdb into its Go form here.
// The codec does not keep the uuid tag, so identifiers that are not valid
// UUIDs come back as NamedUUID.
func fromWire(v any) (any, error) {
	switch value := v.(type) {
	case nil:
		return Set{}, nil
	case string, bool:
		return value, nil
	case float64:
		if value == float64(int(value)) {
			return int(value), nil
		}
		return value, nil
	case libovsdb.UUID:
		if libovsdb.ValidateUUID(value.GoUUID) != nil {
			return NamedUUID(value.GoUUID), nil
		}
		return UUID(value.GoUUID), nil
	case libovsdb.OvsSet:
		set := make(Set, 0, len(value.GoSet))
		for _, element := range value.GoSet {
			decoded, err := fromWire(element)
			if err != nil {
				return nil, err
			}
			set = append(set, decoded)
		}
		return set, nil
	case libovsdb.OvsMap:
		m := make(Map, len(value.GoMap))
		for k, val := range value.GoMap {
			key, err := fromWire(k)
			if err != nil {
				return nil, err
			}
			decoded, err := fromWire(val)
			if err != nil {
				return nil, err
			}
			m[atomString(key)] = atomString(decoded)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported value %T", v)
}

func atomString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case UUID:
		return string(value)
	case NamedUUID:
		return string(value)
	case int:
		return strconv.Itoa(value)
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	}
	return fmt.Sprint(v)
}

func quote(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}

// Canonical renders a value so that equal OVSDB values render identically:
// one-element sets collapse to their atom, set members and map keys are sorted and nil is the empty set.
func Canonical(v any) string {
	switch value := v.(type) {
	case nil:
		return `["set",[]]`
	case UUID:
		return `["uuid",` + quote(string(value)) + "]"
	case NamedUUID:
		return `["named-uuid",` + quote(string(value)) + "]"
	case Set:
		if len(value) == 1 {
			return Canonical(value[0])
		}
		members := make([]string, 0, len(value))
		for _, member := range value {
			members = append(members, Canonical(member))
		}
		sort.Strings(members)
		return `["set",[` + strings.Join(members, ",") + "]]"
	case Map:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, "["+quote(k)+","+quote(value[k])+"]")
		}
		return `["map",[` + strings.Join(pairs, ",") + "]]"
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(encoded)
}

// Equal reports whether two values are the same OVSDB value.
func Equal(a, b any) bool {
	return Canonical(a) == Canonical(b)
}

// Clone returns a shallow copy of the row with copied sets and maps.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for column, value := range r {
		switch v := value.(type) {
		case Set:
			out[column] = append(Set(nil), v...)
		case Map:
			m := make(Map, len(v))
			for k, val := range v {
				m[k] = val
			}
			out[column] = m
		default:
			out[column] = value
		}
	}
	return out
}

// String returns a string column, accepting a one-element set for optional columns.
func (r Row) String(column string) string {
	switch value := r[column].(type) {
	case string:
		return value
	case UUID:
		return string(value)
	case Set:
		if len(value) == 1 {
			return atomString(value[0])
		}
	}
	return ""
}

// Strings returns every member of a set column as strings.
func (r Row) Strings(column string) []string {
	switch value := r[column].(type) {
	case Set:
		out := make([]string, 0, len(value))
		for _, member := range value {
			out = append(out, atomString(member))
		}
		return out
	case nil:
		return nil
	default:
		return []string{atomString(value)}
	}
}

// UUIDs returns the row references held by a column.
func (r Row) UUIDs(column string) []UUID {
	switch value := r[column].(type) {
	case UUID:
		return []UUID{value}
	case Set:
		out := make([]UUID, 0, len(value))
		for _, member := range value {
			if id, ok := member.(UUID); ok {
				out = append(out, id)
			}
		}
		return out
	}
	return nil
}

// Map returns a map column, or an empty map when absent.
func (r Row) Map(column string) Map {
	if value, ok := r[column].(Map); ok {
		return value
	}
	return Map{}
}

// Bool returns a boolean column and whether it was set.
func (r Row) Bool(column string) (bool, bool) {
	switch value := r[column].(type) {
	case bool:
		return value, true
	case Set:
		if len(value) == 1 {
			b, ok := value[0].(bool)
			return b, ok
		}
	}
	return false, false
}
