package adapters

import (
	"context"
	"fmt"

	"ovndbsync/pkg/core"
)

// DesiredState lists the entities owned by the host orchestration service.
// Implementations are read-only.
type DesiredState interface {
	ListNetworks(ctx context.Context) ([]core.Network, error)
	ListSubnets(ctx context.Context) ([]core.Subnet, error)
	ListPorts(ctx context.Context) ([]core.Port, error)
	ListRouters(ctx context.Context) ([]core.Router, error)
	ListFloatingIPs(ctx context.Context) ([]core.FloatingIP, error)
}

// Callbacks are invoked on the host service.
type Callbacks interface {
	OnPortStatusChanged(ctx context.Context, portID string, status core.PortStatus) error
	OnSyncCompleted(ctx context.Context, report core.SyncReport) error
}

// LoadSnapshot reads the full desired state once.
func LoadSnapshot(ctx context.Context, source DesiredState) (core.Snapshot, error) {
	var (
		snapshot core.Snapshot
		err      error
	)
	if snapshot.Networks, err = source.ListNetworks(ctx); err != nil {
		return core.Snapshot{}, fmt.Errorf("list networks: %w", err)
	}
	if snapshot.Subnets, err = source.ListSubnets(ctx); err != nil {
		return core.Snapshot{}, fmt.Errorf("list subnets: %w", err)
	}
	if snapshot.Ports, err = source.ListPorts(ctx); err != nil {
		return core.Snapshot{}, fmt.Errorf("list ports: %w", err)
	}
	if snapshot.Routers, err = source.ListRouters(ctx); err != nil {
		return core.Snapshot{}, fmt.Errorf("list routers: %w", err)
	}
	if snapshot.FloatingIPs, err = source.ListFloatingIPs(ctx); err != nil {
		return core.Snapshot{}, fmt.Errorf("list floating ips: %w", err)
	}
	return snapshot, nil
}
