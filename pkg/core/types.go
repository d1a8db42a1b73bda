package core

import (
	"fmt"
	"time"
)

// Network is a desired L2 network.
type Network struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	AdminStateUp bool   `json:"admin_state_up" yaml:"admin_state_up"`
	MTU          int    `json:"mtu,omitempty" yaml:"mtu,omitempty"`
}

// Subnet is a desired IP subnet of a network.
type Subnet struct {
	ID             string   `json:"id" yaml:"id"`
	NetworkID      string   `json:"network_id" yaml:"network_id"`
	CIDR           string   `json:"cidr" yaml:"cidr"`
	GatewayIP      string   `json:"gateway_ip,omitempty" yaml:"gateway_ip,omitempty"`
	EnableDHCP     bool     `json:"enable_dhcp" yaml:"enable_dhcp"`
	DNSNameservers []string `json:"dns_nameservers,omitempty" yaml:"dns_nameservers,omitempty"`
}

// Port is a desired logical port attached to a network.
type Port struct {
	ID           string   `json:"id" yaml:"id"`
	NetworkID    string   `json:"network_id" yaml:"network_id"`
	MACAddress   string   `json:"mac_address" yaml:"mac_address"`
	FixedIPs     []string `json:"fixed_ips,omitempty" yaml:"fixed_ips,omitempty"`
	AdminStateUp bool     `json:"admin_state_up" yaml:"admin_state_up"`
	PortSecurity bool     `json:"port_security_enabled" yaml:"port_security_enabled"`
	Status       string   `json:"status,omitempty" yaml:"status,omitempty"`
}

// Router is a desired logical router.
type Router struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	AdminStateUp bool   `json:"admin_state_up" yaml:"admin_state_up"`
}

// FloatingIP maps an external address to a fixed address of a port.
type FloatingIP struct {
	ID                string `json:"id" yaml:"id"`
	FloatingIPAddress string `json:"floating_ip_address" yaml:"floating_ip_address"`
	FixedIPAddress    string `json:"fixed_ip_address,omitempty" yaml:"fixed_ip_address,omitempty"`
	PortID            string `json:"port_id,omitempty" yaml:"port_id,omitempty"`
	RouterID          string `json:"router_id,omitempty" yaml:"router_id,omitempty"`
}

// Associated reports whether the floating IP is bound to a fixed address behind a router.
func (f FloatingIP) Associated() bool {
	return f.PortID != "" && f.FixedIPAddress != "" && f.RouterID != ""
}

// Snapshot is the desired state read once per reconciliation run.
type Snapshot struct {
	Networks    []Network    `json:"networks" yaml:"networks"`
	Subnets     []Subnet     `json:"subnets" yaml:"subnets"`
	Ports       []Port       `json:"ports" yaml:"ports"`
	Routers     []Router     `json:"routers" yaml:"routers"`
	FloatingIPs []FloatingIP `json:"floatingips" yaml:"floatingips"`
}

// SyncMode selects whether a run only reports or also repairs.
type SyncMode string

// PortStatus is the user visible liveness of a port.
type PortStatus string

// EntityKind names a desired entity type.
type EntityKind string

// Action is a corrective write class.
type Action string

// EntityRef identifies a desired entity or an orphaned row.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func (r EntityRef) String() string { return fmt.Sprintf("%s/%s", r.Kind, r.ID) }

// EntityAction records one planned or applied change.
type EntityAction struct {
	EntityRef
	Action  Action `json:"action"`
	Table   string `json:"table"`
	RowUUID string `json:"rowUUID,omitempty"`
	Applied bool   `json:"applied"`
}

// EntityFailure records a change that could not be applied.
type EntityFailure struct {
	EntityRef
	Action  Action `json:"action"`
	Message string `json:"message"`
}

// Advisory is a finding that is reported but not repaired.
type Advisory struct {
	Table   string `json:"table"`
	RowUUID string `json:"rowUUID,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// SyncReport is the outcome of one reconciliation run against one database.
type SyncReport struct {
	Database   string          `json:"database"`
	Mode       SyncMode        `json:"mode"`
	StartedAt  time.Time       `json:"startedAt"`
	Duration   time.Duration   `json:"duration"`
	Creates    []EntityAction  `json:"creates,omitempty"`
	Updates    []EntityAction  `json:"updates,omitempty"`
	Deletes    []EntityAction  `json:"deletes,omitempty"`
	Failures   []EntityFailure `json:"failures,omitempty"`
	Advisories []Advisory      `json:"advisories,omitempty"`
	Writes     int             `json:"writes"`
	Aborted    bool            `json:"aborted,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// InSync reports whether the run found nothing to change and nothing failed.
func (r *SyncReport) InSync() bool {
	return len(r.Creates) == 0 && len(r.Updates) == 0 && len(r.Deletes) == 0 && len(r.Failures) == 0 && !r.Aborted
}

// Config is the process configuration.
type Config struct {
	OVN     OVNConfig     `toml:"ovn"`
	Sync    SyncConfig    `toml:"sync"`
	Host    HostConfig    `toml:"host"`
	Metrics MetricsConfig `toml:"metrics"`
}

// OVNConfig holds database endpoints and credentials.
type OVNConfig struct {
	NBConnection  string   `toml:"nb_connection"`
	NBPrivateKey  string   `toml:"nb_private_key"`
	NBCertificate string   `toml:"nb_certificate"`
	NBCACert      string   `toml:"nb_ca_cert"`
	SBConnection  string   `toml:"sb_connection"`
	SBPrivateKey  string   `toml:"sb_private_key"`
	SBCertificate string   `toml:"sb_certificate"`
	SBCACert      string   `toml:"sb_ca_cert"`
	LockName      string   `toml:"lock_name"`
	WaitTimeout   Duration `toml:"wait_timeout"`
}

// SyncConfig configures batch runs.
type SyncConfig struct {
	Mode string `toml:"mode"`
}

// HostConfig describes how to reach the host orchestration service.
type HostConfig struct {
	APIURL           string   `toml:"api_url"`
	Token            string   `toml:"token"`
	SnapshotFile     string   `toml:"snapshot_file"`
	RequestTimeout   Duration `toml:"request_timeout"`
	MechanismDrivers []string `toml:"mechanism_drivers"`
}

// MetricsConfig configures the monitor's HTTP endpoint.
type MetricsConfig struct {
	Address string `toml:"address"`
}

// Duration decodes Go duration strings such as "15s" from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
