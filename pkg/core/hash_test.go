package core

import (
	"testing"

	"ovndbsync/pkg/ovsdb"
)

func TestFingerprintStable(t *testing.T) {
	columns := []string{"addresses", "enabled", "name"}
	a := ovsdb.Row{"name": "p1", "addresses": ovsdb.StringSet("fa:16:3e:00:00:01 10.0.0.5"), "enabled": true}
	b := ovsdb.Row{"name": ovsdb.StringSet("p1"), "addresses": "fa:16:3e:00:00:01 10.0.0.5", "enabled": ovsdb.Set{true}, "up": true}
	if Fingerprint(a, columns) != Fingerprint(b, columns) {
		t.Fatalf("expected equivalent rows to share a fingerprint")
	}
	b["enabled"] = false
	if Fingerprint(a, columns) == Fingerprint(b, columns) {
		t.Fatalf("expected fingerprint to change with a mapped column")
	}
	if Fingerprint(a, nil) != "" {
		t.Fatalf("expected empty fingerprint for no columns")
	}
}

func TestFingerprintIgnoresColumnOrder(t *testing.T) {
	row := ovsdb.Row{"cidr": "10.0.0.0/24", "options": ovsdb.Map{"router": "10.0.0.1", "lease_time": "43200"}}
	if Fingerprint(row, []string{"cidr", "options"}) != Fingerprint(row, []string{"options", "cidr"}) {
		t.Fatalf("expected column order not to matter")
	}
}

func TestProjectMap(t *testing.T) {
	have := ovsdb.Map{ExternalIDKey: "n1", ExternalKindKey: "network", "neutron:revision_number": "4"}
	want := ovsdb.Map{ExternalIDKey: "n1", ExternalKindKey: "network", NetworkNameKey: "net"}
	projected := ProjectMap(have, want)
	if len(projected) != 2 || projected[ExternalIDKey] != "n1" {
		t.Fatalf("unexpected projection %v", projected)
	}
	if _, ok := projected["neutron:revision_number"]; ok {
		t.Fatalf("foreign keys must be dropped")
	}
}
