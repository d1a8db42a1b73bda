package dbsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"ovndbsync/pkg/core"
	"ovndbsync/pkg/mirror"
	"ovndbsync/pkg/ovsdb"
	"ovndbsync/pkg/ovsdb/ovsdbtest"
)

type env struct {
	nbServer *ovsdbtest.Server
	sbServer *ovsdbtest.Server
	nb       *mirror.Connection
	sb       *mirror.Connection
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{}
	var err error
	if e.nbServer, err = ovsdbtest.NewServer(); err != nil {
		t.Fatalf("start nb: %v", err)
	}
	t.Cleanup(e.nbServer.Close)
	if e.sbServer, err = ovsdbtest.NewServer(); err != nil {
		t.Fatalf("start sb: %v", err)
	}
	t.Cleanup(e.sbServer.Close)
	return e
}

// connect opens both mirrors; rows seeded on the servers before are part of the initial dump.
func (e *env) connect(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	e.nb, err = mirror.Connect(ctx, mirror.Options{Database: core.NorthboundDatabase, Endpoint: e.nbServer.Endpoint(), Tables: core.NorthboundTables, Logger: logr.Discard()})
	if err != nil {
		t.Fatalf("connect nb: %v", err)
	}
	t.Cleanup(func() { e.nb.Close() })
	e.sb, err = mirror.Connect(ctx, mirror.Options{Database: core.SouthboundDatabase, Endpoint: e.sbServer.Endpoint(), Tables: core.SouthboundTables, Logger: logr.Discard()})
	if err != nil {
		t.Fatalf("connect sb: %v", err)
	}
	t.Cleanup(func() { e.sb.Close() })
}

func (e *env) northbound() *NorthboundSynchronizer {
	return NewNorthboundSynchronizer(e.nb, logr.Discard())
}

func tagged(rows map[ovsdb.UUID]ovsdb.Row, kind core.EntityKind, id string) []ovsdb.UUID {
	var out []ovsdb.UUID
	for uuid, row := range rows {
		ids := row.Map(core.ExternalIDsColumn)
		if ids[core.ExternalIDKey] == id && ids[core.ExternalKindKey] == string(kind) {
			out = append(out, uuid)
		}
	}
	return out
}

func contains(ids []ovsdb.UUID, want ovsdb.UUID) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

func fullSnapshot() core.Snapshot {
	return core.Snapshot{
		Networks: []core.Network{{ID: "n1", Name: "net1", AdminStateUp: true, MTU: 1442}},
		Subnets:  []core.Subnet{{ID: "s1", NetworkID: "n1", CIDR: "10.0.0.0/24", GatewayIP: "10.0.0.1", EnableDHCP: true, DNSNameservers: []string{"8.8.8.8"}}},
		Ports:    []core.Port{{ID: "p1", NetworkID: "n1", MACAddress: "fa:16:3e:00:00:01", FixedIPs: []string{"10.0.0.5"}, AdminStateUp: true, PortSecurity: true}},
		Routers:  []core.Router{{ID: "r1", Name: "router1", AdminStateUp: true}},
		FloatingIPs: []core.FloatingIP{
			{ID: "f1", FloatingIPAddress: "100.0.0.21", FixedIPAddress: "10.0.0.5", PortID: "p1", RouterID: "r1"},
			{ID: "f2", FloatingIPAddress: "100.0.0.22"},
		},
	}
}

func TestRepairCreatesMissingNetworkOnce(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	sync := e.northbound()
	snapshot := core.Snapshot{Networks: []core.Network{{ID: "n1", Name: "net1", AdminStateUp: true}}}

	report, err := sync.Sync(context.Background(), core.SyncModeRepair, snapshot)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(report.Creates) != 1 || report.Writes != 1 || !report.Creates[0].Applied {
		t.Fatalf("expected one applied create, got %+v", report)
	}
	if rows := tagged(e.nbServer.Rows(core.TableLogicalSwitch), core.KindNetwork, "n1"); len(rows) != 1 {
		t.Fatalf("expected exactly one tagged row, got %d", len(rows))
	}

	writes := e.nbServer.WriteTransactions()
	report, err = sync.Sync(context.Background(), core.SyncModeRepair, snapshot)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Writes != 0 || !report.InSync() {
		t.Fatalf("expected second run to be a no-op, got %+v", report)
	}
	if e.nbServer.WriteTransactions() != writes {
		t.Fatalf("expected no write transactions on the second run")
	}
}

func TestLogModeWritesNothing(t *testing.T) {
	e := newEnv(t)
	if _, err := e.nbServer.Insert(core.TableLogicalRouter, ovsdb.Row{
		"name":         "neutron-gone",
		"external_ids": ovsdb.Map{core.ExternalIDKey: "gone", core.ExternalKindKey: string(core.KindRouter)},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e.connect(t)
	writes := e.nbServer.WriteTransactions()

	report, err := e.northbound().Sync(context.Background(), core.SyncModeLog, fullSnapshot())
	if err != nil {
		t.Fatalf("log run: %v", err)
	}
	if e.nbServer.WriteTransactions() != writes || report.Writes != 0 {
		t.Fatalf("expected log mode to write nothing")
	}
	if len(report.Creates) != 5 || len(report.Deletes) != 1 {
		t.Fatalf("expected 5 planned creates and 1 delete, got %d %d", len(report.Creates), len(report.Deletes))
	}
	for _, action := range append(report.Creates, report.Deletes...) {
		if action.Applied {
			t.Fatalf("log mode must not apply %+v", action)
		}
	}
}

func TestRepairFullModelIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	sync := e.northbound()

	report, err := sync.Sync(context.Background(), core.SyncModeRepair, fullSnapshot())
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(report.Creates) != 5 || len(report.Failures) != 0 {
		t.Fatalf("expected 5 creates without failures, got %+v", report)
	}

	switches := e.nbServer.Rows(core.TableLogicalSwitch)
	ports := tagged(e.nbServer.Rows(core.TableLogicalSwitchPort), core.KindPort, "p1")
	network := tagged(switches, core.KindNetwork, "n1")
	if len(ports) != 1 || len(network) != 1 || !contains(switches[network[0]].UUIDs("ports"), ports[0]) {
		t.Fatalf("expected port to be referenced by its switch")
	}
	routers := e.nbServer.Rows(core.TableLogicalRouter)
	nats := tagged(e.nbServer.Rows(core.TableNAT), core.KindFloatingIP, "f1")
	router := tagged(routers, core.KindRouter, "r1")
	if len(nats) != 1 || len(router) != 1 || !contains(routers[router[0]].UUIDs("nat"), nats[0]) {
		t.Fatalf("expected NAT to be referenced by its router")
	}
	if len(tagged(e.nbServer.Rows(core.TableNAT), core.KindFloatingIP, "f2")) != 0 {
		t.Fatalf("unassociated floating IP must not have a NAT row")
	}

	writes := e.nbServer.WriteTransactions()
	report, err = sync.Sync(context.Background(), core.SyncModeRepair, fullSnapshot())
	if err != nil {
		t.Fatalf("second repair: %v", err)
	}
	if !report.InSync() || report.Writes != 0 || e.nbServer.WriteTransactions() != writes {
		t.Fatalf("expected idempotent second run, got %+v", report)
	}
}

func TestRepairUpdatesDriftAndKeepsForeignExternalIDs(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	sync := e.northbound()
	snapshot := fullSnapshot()
	if _, err := sync.Sync(context.Background(), core.SyncModeRepair, snapshot); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	routerUUID := tagged(e.nbServer.Rows(core.TableLogicalRouter), core.KindRouter, "r1")[0]
	if _, err := e.nb.Transact(context.Background(), ovsdb.Operation{
		Op:        ovsdb.OpMutate,
		Table:     core.TableLogicalRouter,
		Where:     ovsdb.WhereUUID(routerUUID),
		Mutations: []ovsdb.Mutation{{Column: core.ExternalIDsColumn, Mutator: ovsdb.MutateInsert, Value: ovsdb.Map{"neutron:revision_number": "7"}}},
	}); err != nil {
		t.Fatalf("foreign tag: %v", err)
	}

	snapshot.Ports[0].AdminStateUp = false
	report, err := sync.Sync(context.Background(), core.SyncModeRepair, snapshot)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(report.Updates) != 1 || report.Updates[0].ID != "p1" {
		t.Fatalf("expected only the port to be updated, got %+v", report.Updates)
	}
	port := e.nbServer.Rows(core.TableLogicalSwitchPort)[ovsdb.UUID(report.Updates[0].RowUUID)]
	if enabled, _ := port.Bool("enabled"); enabled {
		t.Fatalf("expected port to be disabled")
	}
	if e.nbServer.Rows(core.TableLogicalRouter)[routerUUID].Map(core.ExternalIDsColumn)["neutron:revision_number"] != "7" {
		t.Fatalf("foreign external_ids must survive")
	}
}

func TestRepairDeletesOrphansChildrenFirst(t *testing.T) {
	e := newEnv(t)
	results, err := e.nbServer.Transact(
		ovsdb.Operation{Op: ovsdb.OpInsert, Table: core.TableLogicalSwitchPort, UUIDName: "port", Row: ovsdb.Row{
			"name":         "old-port",
			"external_ids": ovsdb.Map{core.ExternalIDKey: "old-port", core.ExternalKindKey: string(core.KindPort)},
		}},
		ovsdb.Operation{Op: ovsdb.OpInsert, Table: core.TableLogicalSwitch, Row: ovsdb.Row{
			"name":         "neutron-old",
			"ports":        ovsdb.Set{ovsdb.NamedUUID("port")},
			"external_ids": ovsdb.Map{core.ExternalIDKey: "old", core.ExternalKindKey: string(core.KindNetwork)},
		}},
		ovsdb.Operation{Op: ovsdb.OpInsert, Table: core.TableLogicalSwitch, Row: ovsdb.Row{"name": "unmanaged"}},
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	e.connect(t)

	report, err := e.northbound().Sync(context.Background(), core.SyncModeRepair, core.Snapshot{})
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(report.Deletes) != 2 {
		t.Fatalf("expected 2 deletes, got %+v", report.Deletes)
	}
	if len(e.nbServer.Rows(core.TableLogicalSwitchPort)) != 0 {
		t.Fatalf("expected orphan port to be deleted")
	}
	remaining := e.nbServer.Rows(core.TableLogicalSwitch)
	if len(remaining) != 1 {
		t.Fatalf("expected only the unmanaged switch to remain, got %d", len(remaining))
	}
	if _, ok := remaining[*results[2].UUID]; !ok {
		t.Fatalf("unmanaged switch must not be touched")
	}
}

func TestRepairRemovesDuplicateTags(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		if _, err := e.nbServer.Insert(core.TableLogicalSwitch, ovsdb.Row{
			"name":         "neutron-n1",
			"external_ids": ovsdb.Map{core.ExternalIDKey: "n1", core.ExternalKindKey: string(core.KindNetwork), core.NetworkNameKey: "net1"},
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	e.connect(t)

	snapshot := core.Snapshot{Networks: []core.Network{{ID: "n1", Name: "net1"}}}
	report, err := e.northbound().Sync(context.Background(), core.SyncModeRepair, snapshot)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(report.Deletes) != 2 || len(report.Creates) != 0 {
		t.Fatalf("expected 2 duplicate deletes, got %+v", report)
	}
	if rows := tagged(e.nbServer.Rows(core.TableLogicalSwitch), core.KindNetwork, "n1"); len(rows) != 1 {
		t.Fatalf("expected a single tagged row, got %d", len(rows))
	}
}

func TestMissingParentIsAnEntityFailure(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	snapshot := core.Snapshot{
		Networks: []core.Network{{ID: "n1", Name: "net1"}},
		Ports: []core.Port{
			{ID: "p1", NetworkID: "n1", MACAddress: "fa:16:3e:00:00:01"},
			{ID: "p2", NetworkID: "missing", MACAddress: "fa:16:3e:00:00:02"},
		},
	}
	report, err := e.northbound().Sync(context.Background(), core.SyncModeRepair, snapshot)
	if err != nil {
		t.Fatalf("entity failures must not abort the run: %v", err)
	}
	if len(report.Failures) != 1 || report.Failures[0].ID != "p2" {
		t.Fatalf("expected p2 to fail, got %+v", report.Failures)
	}
	if len(report.Creates) != 2 {
		t.Fatalf("expected network and p1 to be created, got %+v", report.Creates)
	}
}

func TestRejectedWriteIsIsolated(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	e.nbServer.SetReject(func(op ovsdb.Operation) bool {
		return op.Op == ovsdb.OpInsert && op.Table == core.TableLogicalRouter
	})
	snapshot := core.Snapshot{
		Networks: []core.Network{{ID: "n1"}, {ID: "n2"}},
		Routers:  []core.Router{{ID: "r1"}},
	}
	report, err := e.northbound().Sync(context.Background(), core.SyncModeRepair, snapshot)
	if err != nil {
		t.Fatalf("rejected write must not abort: %v", err)
	}
	if len(report.Failures) != 1 || report.Failures[0].Kind != core.KindRouter {
		t.Fatalf("expected router failure, got %+v", report.Failures)
	}
	if len(report.Creates) != 2 || report.Writes != 2 {
		t.Fatalf("expected both networks created, got %+v", report)
	}
}

func TestInvalidEntitiesAreReported(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	snapshot := core.Snapshot{Ports: []core.Port{{ID: "p1"}}}
	report, err := e.northbound().Sync(context.Background(), core.SyncModeRepair, snapshot)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(report.Failures) != 1 || report.Writes != 0 {
		t.Fatalf("expected one invalid entity, got %+v", report)
	}
}

func TestRepairClearsRemovedMTU(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	sync := e.northbound()
	snapshot := core.Snapshot{Networks: []core.Network{{ID: "n1", Name: "net1", MTU: 1442}}}
	if _, err := sync.Sync(context.Background(), core.SyncModeRepair, snapshot); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	switchUUID := tagged(e.nbServer.Rows(core.TableLogicalSwitch), core.KindNetwork, "n1")[0]
	if mtu := e.nbServer.Rows(core.TableLogicalSwitch)[switchUUID].Map("other_config")["mtu"]; mtu != "1442" {
		t.Fatalf("expected mtu 1442, got %q", mtu)
	}

	snapshot.Networks[0].MTU = 0
	report, err := sync.Sync(context.Background(), core.SyncModeRepair, snapshot)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(report.Updates) != 1 || report.Updates[0].ID != "n1" {
		t.Fatalf("expected the network to be updated, got %+v", report.Updates)
	}
	if _, ok := e.nbServer.Rows(core.TableLogicalSwitch)[switchUUID].Map("other_config")["mtu"]; ok {
		t.Fatalf("expected mtu to be cleared")
	}

	report, err = sync.Sync(context.Background(), core.SyncModeRepair, snapshot)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if !report.InSync() || report.Writes != 0 {
		t.Fatalf("expected cleared mtu to stay in sync, got %+v", report)
	}
}

func TestDuplicateDesiredEntityIsAFailure(t *testing.T) {
	e := newEnv(t)
	e.connect(t)
	snapshot := core.Snapshot{Networks: []core.Network{
		{ID: "n1", Name: "first"},
		{ID: "n1", Name: "second"},
	}}
	report, err := e.northbound().Sync(context.Background(), core.SyncModeRepair, snapshot)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(report.Creates) != 1 || report.Writes != 1 {
		t.Fatalf("expected the first entry to be created once, got %+v", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].ID != "n1" || report.Failures[0].Kind != core.KindNetwork {
		t.Fatalf("expected the duplicate to be reported, got %+v", report.Failures)
	}
	rows := tagged(e.nbServer.Rows(core.TableLogicalSwitch), core.KindNetwork, "n1")
	if len(rows) != 1 {
		t.Fatalf("expected one switch, got %d", len(rows))
	}
	if name := e.nbServer.Rows(core.TableLogicalSwitch)[rows[0]].Map(core.ExternalIDsColumn)[core.NetworkNameKey]; name != "first" {
		t.Fatalf("expected the first entry to win, got %q", name)
	}
}

type brokenDatabase struct {
	tables map[string]map[ovsdb.UUID]ovsdb.Row
	calls  int
}

func (b *brokenDatabase) Table(name string) map[ovsdb.UUID]ovsdb.Row { return b.tables[name] }

func (b *brokenDatabase) Transact(context.Context, ...ovsdb.Operation) ([]ovsdb.OperationResult, error) {
	b.calls++
	return nil, ovsdb.ErrNotConnected
}

func TestConnectionFailureAbortsRun(t *testing.T) {
	db := &brokenDatabase{}
	sync := NewNorthboundSynchronizer(db, logr.Discard())
	snapshot := core.Snapshot{Networks: []core.Network{{ID: "n1"}, {ID: "n2"}}}
	report, err := sync.Sync(context.Background(), core.SyncModeRepair, snapshot)
	if !errors.Is(err, ovsdb.ErrNotConnected) {
		t.Fatalf("expected not connected error, got %v", err)
	}
	if !report.Aborted || db.calls != 1 {
		t.Fatalf("expected run to stop after the first failure, got %+v with %d calls", report, db.calls)
	}
}

func TestSyncRejectsUnknownMode(t *testing.T) {
	sync := NewNorthboundSynchronizer(&brokenDatabase{}, logr.Discard())
	if _, err := sync.Sync(context.Background(), core.SyncMode("fix"), core.Snapshot{}); !errors.Is(err, core.ErrInvalidMode) {
		t.Fatalf("expected invalid mode, got %v", err)
	}
}
