package core

// External-ID tag keys written on every owned northbound row.
const (
	ExternalIDKey       = "ovndbsync:id"
	ExternalKindKey     = "ovndbsync:kind"
	NetworkNameKey      = "ovndbsync:network_name"
	RouterNameKey       = "ovndbsync:router_name"
	FloatingIPPortKey   = "ovndbsync:fip_port"
	ExternalIDsColumn   = "external_ids"
	LogicalObjectPrefix = "neutron-"
)

// Database names
const (
	NorthboundDatabase = "OVN_Northbound"
	SouthboundDatabase = "OVN_Southbound"
)

// Northbound tables
const (
	TableLogicalSwitch     = "Logical_Switch"
	TableLogicalSwitchPort = "Logical_Switch_Port"
	TableLogicalRouter     = "Logical_Router"
	TableNAT               = "NAT"
	TableDHCPOptions       = "DHCP_Options"
)

// Southbound tables
const (
	TablePortBinding     = "Port_Binding"
	TableMACBinding      = "MAC_Binding"
	TableDatapathBinding = "Datapath_Binding"
	TableChassis         = "Chassis"
)

// NATTypeDNATAndSNAT is the NAT type used for floating IPs.
const NATTypeDNATAndSNAT = "dnat_and_snat"

// DefaultLockName is the lock domain gating live-path writes.
const DefaultLockName = "neutron_ovn_event_lock"

// MechanismDriverOVN must be registered with the host for this system to run.
const MechanismDriverOVN = "ovn"

// Sync modes
const (
	SyncModeLog    SyncMode = "log"
	SyncModeRepair SyncMode = "repair"
)

// Port statuses
const (
	PortStatusActive PortStatus = "ACTIVE"
	PortStatusDown   PortStatus = "DOWN"
)

// Entity kinds
const (
	KindNetwork    EntityKind = "network"
	KindSubnet     EntityKind = "subnet"
	KindPort       EntityKind = "port"
	KindRouter     EntityKind = "router"
	KindFloatingIP EntityKind = "floatingip"
	KindMACBinding EntityKind = "mac_binding"
)

// Actions
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// NorthboundTables lists the tables the northbound mirror monitors.
var NorthboundTables = []string{TableLogicalSwitch, TableLogicalSwitchPort, TableLogicalRouter, TableNAT, TableDHCPOptions}

// SouthboundTables lists the tables the southbound mirror monitors.
var SouthboundTables = []string{TablePortBinding, TableMACBinding, TableDatapathBinding, TableChassis}
