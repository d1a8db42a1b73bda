package adapters

import (
	"context"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"ovndbsync/pkg/core"
)

// SnapshotFile serves desired state from a YAML document with the top-level
// keys networks, subnets, ports, routers and floatingips. Callbacks are logged.
type SnapshotFile struct {
	snapshot core.Snapshot
	logger   logr.Logger
}

// LoadSnapshotFile reads and decodes path.
func LoadSnapshotFile(path string, logger logr.Logger) (*SnapshotFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return ParseSnapshot(data, logger)
}

// ParseSnapshot decodes a YAML snapshot.
func ParseSnapshot(data []byte, logger logr.Logger) (*SnapshotFile, error) {
	var snapshot core.Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &SnapshotFile{snapshot: snapshot, logger: logger.WithName("snapshot")}, nil
}

func (s *SnapshotFile) ListNetworks(context.Context) ([]core.Network, error) {
	return s.snapshot.Networks, nil
}

func (s *SnapshotFile) ListSubnets(context.Context) ([]core.Subnet, error) {
	return s.snapshot.Subnets, nil
}

func (s *SnapshotFile) ListPorts(context.Context) ([]core.Port, error) {
	return s.snapshot.Ports, nil
}

func (s *SnapshotFile) ListRouters(context.Context) ([]core.Router, error) {
	return s.snapshot.Routers, nil
}

func (s *SnapshotFile) ListFloatingIPs(context.Context) ([]core.FloatingIP, error) {
	return s.snapshot.FloatingIPs, nil
}

// OnPortStatusChanged logs the new status.
func (s *SnapshotFile) OnPortStatusChanged(_ context.Context, portID string, status core.PortStatus) error {
	s.logger.Info("port status changed", "port", portID, "status", status)
	return nil
}

// OnSyncCompleted logs the report outcome.
func (s *SnapshotFile) OnSyncCompleted(_ context.Context, report core.SyncReport) error {
	s.logger.Info("sync completed", "database", report.Database, "inSync", report.InSync())
	return nil
}
