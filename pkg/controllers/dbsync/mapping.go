package dbsync

import (
	"fmt"
	"sort"
	"strings"

	"ovndbsync/pkg/core"
	"ovndbsync/pkg/ovsdb"
)

const dhcpLeaseTime = "43200"

// parentRef names the set column of a parent row that must reference a child row.
type parentRef struct {
	kind   core.EntityKind
	id     string
	table  string
	column string
}

// desiredRow is the northbound image of one desired entity.
type desiredRow struct {
	ref    core.EntityRef
	table  string
	row    ovsdb.Row
	parent *parentRef
}

func (d desiredRow) columns() []string {
	columns := make([]string, 0, len(d.row))
	for column := range d.row {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// ownedTables maps each entity kind to the northbound table holding it.
var ownedTables = map[core.EntityKind]string{
	core.KindNetwork:    core.TableLogicalSwitch,
	core.KindRouter:     core.TableLogicalRouter,
	core.KindSubnet:     core.TableDHCPOptions,
	core.KindPort:       core.TableLogicalSwitchPort,
	core.KindFloatingIP: core.TableNAT,
}

// parentColumns maps child tables to the parent table and column referencing them.
var parentColumns = map[string]struct{ table, column string }{
	core.TableLogicalSwitchPort: {core.TableLogicalSwitch, "ports"},
	core.TableNAT:               {core.TableLogicalRouter, "nat"},
}

func tags(kind core.EntityKind, id string, extra ...string) ovsdb.Map {
	m := ovsdb.Map{core.ExternalIDKey: id, core.ExternalKindKey: string(kind)}
	for i := 0; i+1 < len(extra); i += 2 {
		m[extra[i]] = extra[i+1]
	}
	return m
}

func logicalName(id string) string { return core.LogicalObjectPrefix + id }

// desiredRows converts a snapshot into northbound rows. Entities that cannot
// be mapped are returned as failures.
func desiredRows(snapshot core.Snapshot) ([]desiredRow, []error) {
	var rows []desiredRow
	var failures []error
	fail := func(ref core.EntityRef, format string, args ...any) {
		failures = append(failures, &entityError{ref: ref, err: fmt.Errorf("%w: "+format, append([]any{core.ErrInvalidEntity}, args...)...)})
	}

	for _, network := range snapshot.Networks {
		ref := core.EntityRef{Kind: core.KindNetwork, ID: network.ID}
		if network.ID == "" {
			fail(ref, "network without id")
			continue
		}
		otherConfig := ovsdb.Map{}
		if network.MTU > 0 {
			otherConfig["mtu"] = fmt.Sprint(network.MTU)
		}
		rows = append(rows, desiredRow{ref: ref, table: core.TableLogicalSwitch, row: ovsdb.Row{
			"name":         logicalName(network.ID),
			"other_config": otherConfig,
			"external_ids": tags(core.KindNetwork, network.ID, core.NetworkNameKey, network.Name),
		}})
	}

	for _, router := range snapshot.Routers {
		ref := core.EntityRef{Kind: core.KindRouter, ID: router.ID}
		if router.ID == "" {
			fail(ref, "router without id")
			continue
		}
		rows = append(rows, desiredRow{ref: ref, table: core.TableLogicalRouter, row: ovsdb.Row{
			"name":         logicalName(router.ID),
			"enabled":      router.AdminStateUp,
			"external_ids": tags(core.KindRouter, router.ID, core.RouterNameKey, router.Name),
		}})
	}

	for _, subnet := range snapshot.Subnets {
		ref := core.EntityRef{Kind: core.KindSubnet, ID: subnet.ID}
		if !subnet.EnableDHCP {
			continue
		}
		if subnet.ID == "" || subnet.CIDR == "" {
			fail(ref, "subnet requires id and cidr")
			continue
		}
		options := ovsdb.Map{"lease_time": dhcpLeaseTime}
		if subnet.GatewayIP != "" {
			options["router"] = subnet.GatewayIP
			options["server_id"] = subnet.GatewayIP
		}
		if len(subnet.DNSNameservers) > 0 {
			options["dns_server"] = "{" + strings.Join(subnet.DNSNameservers, ", ") + "}"
		}
		rows = append(rows, desiredRow{ref: ref, table: core.TableDHCPOptions, row: ovsdb.Row{
			"cidr":         subnet.CIDR,
			"options":      options,
			"external_ids": tags(core.KindSubnet, subnet.ID, core.NetworkNameKey, logicalName(subnet.NetworkID)),
		}})
	}

	for _, port := range snapshot.Ports {
		ref := core.EntityRef{Kind: core.KindPort, ID: port.ID}
		if port.ID == "" || port.NetworkID == "" || port.MACAddress == "" {
			fail(ref, "port requires id, network_id and mac_address")
			continue
		}
		addresses := strings.Join(append([]string{port.MACAddress}, port.FixedIPs...), " ")
		security := ovsdb.Set{}
		if port.PortSecurity {
			security = ovsdb.StringSet(addresses)
		}
		rows = append(rows, desiredRow{
			ref:   ref,
			table: core.TableLogicalSwitchPort,
			row: ovsdb.Row{
				"name":          port.ID,
				"addresses":     ovsdb.StringSet(addresses),
				"port_security": security,
				"enabled":       port.AdminStateUp,
				"external_ids":  tags(core.KindPort, port.ID, core.NetworkNameKey, logicalName(port.NetworkID)),
			},
			parent: &parentRef{kind: core.KindNetwork, id: port.NetworkID, table: core.TableLogicalSwitch, column: "ports"},
		})
	}

	for _, fip := range snapshot.FloatingIPs {
		ref := core.EntityRef{Kind: core.KindFloatingIP, ID: fip.ID}
		if !fip.Associated() {
			continue
		}
		if fip.ID == "" || fip.FloatingIPAddress == "" {
			fail(ref, "floating ip requires id and address")
			continue
		}
		rows = append(rows, desiredRow{
			ref:   ref,
			table: core.TableNAT,
			row: ovsdb.Row{
				"type":         core.NATTypeDNATAndSNAT,
				"external_ip":  fip.FloatingIPAddress,
				"logical_ip":   fip.FixedIPAddress,
				"logical_port": ovsdb.StringSet(fip.PortID),
				"external_ids": tags(core.KindFloatingIP, fip.ID,
					core.FloatingIPPortKey, fip.PortID,
					core.RouterNameKey, logicalName(fip.RouterID)),
			},
			parent: &parentRef{kind: core.KindRouter, id: fip.RouterID, table: core.TableLogicalRouter, column: "nat"},
		})
	}
	return rows, failures
}

// inSync compares the mapped columns of an existing row with the desired row.
// Only the external_ids keys this system writes take part in the comparison.
func inSync(have ovsdb.Row, want desiredRow) bool {
	projected := make(ovsdb.Row, len(want.row))
	for column, value := range want.row {
		if _, ok := value.(ovsdb.Map); ok {
			// a missing map column reads as empty
			projected[column] = have.Map(column)
			continue
		}
		projected[column] = have[column]
	}
	projected[core.ExternalIDsColumn] = core.ProjectMap(have.Map(core.ExternalIDsColumn), want.row.Map(core.ExternalIDsColumn))
	columns := want.columns()
	return core.Fingerprint(projected, columns) == core.Fingerprint(want.row, columns)
}

// entityError ties a failure to the entity it concerns.
type entityError struct {
	ref core.EntityRef
	err error
}

func (e *entityError) Error() string { return fmt.Sprintf("%s: %v", e.ref, e.err) }

func (e *entityError) Unwrap() error { return e.err }
