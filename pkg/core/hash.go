package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"ovndbsync/pkg/ovsdb"
)

// Fingerprint computes a stable sha256 hash of the selected columns of a row.
// Values are rendered canonically so that a one-element set and its atom, or
// two sets with the same members in different order, hash identically.
func Fingerprint(row ovsdb.Row, columns []string) string {
	if len(columns) == 0 {
		return ""
	}
	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	b := strings.Builder{}
	for _, column := range sorted {
		b.WriteString(column)
		b.WriteRune('\u0000')
		b.WriteString(ovsdb.Canonical(row[column]))
		b.WriteRune('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ProjectMap keeps only the keys of have that are also present in want.
// Owned rows may carry external_ids written by other systems; those do not count as drift.
func ProjectMap(have, want ovsdb.Map) ovsdb.Map {
	out := make(ovsdb.Map, len(want))
	for key := range want {
		if value, ok := have[key]; ok {
			out[key] = value
		}
	}
	return out
}
