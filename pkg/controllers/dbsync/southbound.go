package dbsync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"ovndbsync/pkg/agents/summary"
	"ovndbsync/pkg/core"
	"ovndbsync/pkg/ovsdb"
)

// TableReader reads mirrored tables.
type TableReader interface {
	Table(name string) map[ovsdb.UUID]ovsdb.Row
}

// Cleaner deletes MAC bindings learned for an address.
type Cleaner interface {
	Cleanup(ctx context.Context, ip string) (int, error)
}

// SouthboundSynchronizer checks runtime state against the desired model.
// Runtime bindings are authoritative and are only reported, except MAC
// bindings shadowing a floating IP, which are removed in repair mode.
type SouthboundSynchronizer struct {
	db      TableReader
	cleaner Cleaner
	logger  logr.Logger
	now     func() time.Time
}

// NewSouthboundSynchronizer builds a synchronizer. cleaner may be nil, in
// which case stale MAC bindings are only reported.
func NewSouthboundSynchronizer(db TableReader, cleaner Cleaner, logger logr.Logger) *SouthboundSynchronizer {
	return &SouthboundSynchronizer{db: db, cleaner: cleaner, logger: logger.WithName("southbound"), now: time.Now}
}

// Sync runs one southbound pass.
func (s *SouthboundSynchronizer) Sync(ctx context.Context, mode core.SyncMode, snapshot core.Snapshot) (core.SyncReport, error) {
	if _, err := core.ValidateMode(string(mode)); err != nil {
		return core.SyncReport{}, err
	}
	sum := summary.New(core.SouthboundDatabase, mode, s.now())
	s.logger.Info("southbound sync started", "mode", mode)

	s.checkBindings(sum, snapshot)
	runErr := s.checkMACBindings(ctx, mode, sum, snapshot)

	report := sum.Report(s.now())
	s.logger.Info("southbound sync completed", "mode", mode, "advisories", len(report.Advisories), "writes", report.Writes, "duration", report.Duration)
	return report, runErr
}

func (s *SouthboundSynchronizer) checkBindings(sum *summary.Summary, snapshot core.Snapshot) {
	desired := make(map[string]core.Port, len(snapshot.Ports))
	for _, port := range snapshot.Ports {
		desired[port.ID] = port
	}

	type binding struct {
		uuid   ovsdb.UUID
		status core.PortStatus
	}
	bound := map[string]binding{}
	for id, row := range s.db.Table(core.TablePortBinding) {
		if row.String("type") != "" {
			continue
		}
		logicalPort := row.String("logical_port")
		status := core.PortStatusDown
		if len(row.UUIDs("chassis")) > 0 {
			status = core.PortStatusActive
		}
		bound[logicalPort] = binding{uuid: id, status: status}
		if _, ok := desired[logicalPort]; !ok {
			sum.Advise(core.Advisory{
				Table:   core.TablePortBinding,
				RowUUID: string(id),
				Reason:  summary.ReasonUnknownBinding,
				Message: fmt.Sprintf("port binding for unknown logical port %q", logicalPort),
			})
		}
	}

	for _, port := range snapshot.Ports {
		reported := core.PortStatus(port.Status)
		if reported != core.PortStatusActive && reported != core.PortStatusDown {
			continue
		}
		observed := bound[port.ID]
		derived := observed.status
		if derived == "" {
			derived = core.PortStatusDown
		}
		if derived != reported {
			sum.Advise(core.Advisory{
				Table:   core.TablePortBinding,
				RowUUID: string(observed.uuid),
				Reason:  summary.ReasonStatusDrift,
				Message: fmt.Sprintf("port %s reported %s but binding implies %s", port.ID, reported, derived),
			})
		}
	}
}

func (s *SouthboundSynchronizer) checkMACBindings(ctx context.Context, mode core.SyncMode, sum *summary.Summary, snapshot core.Snapshot) error {
	floating := map[string]string{}
	for _, fip := range snapshot.FloatingIPs {
		if fip.Associated() && fip.FloatingIPAddress != "" {
			floating[fip.FloatingIPAddress] = fip.ID
		}
	}
	stale := map[string][]ovsdb.UUID{}
	for id, row := range s.db.Table(core.TableMACBinding) {
		ip := row.String("ip")
		if _, ok := floating[ip]; ok {
			stale[ip] = append(stale[ip], id)
		}
	}
	ips := make([]string, 0, len(stale))
	for ip, ids := range stale {
		ips = append(ips, ip)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			sum.Advise(core.Advisory{
				Table:   core.TableMACBinding,
				RowUUID: string(id),
				Reason:  summary.ReasonStaleBinding,
				Message: fmt.Sprintf("MAC binding for %s shadows floating IP %s", ip, floating[ip]),
			})
		}
	}
	sort.Strings(ips)

	if mode != core.SyncModeRepair || s.cleaner == nil {
		return nil
	}
	for _, ip := range ips {
		ref := core.EntityRef{Kind: core.KindMACBinding, ID: ip}
		deleted, err := s.cleaner.Cleanup(ctx, ip)
		if err != nil {
			if core.ClassifyError(err) == core.ErrorCategoryConnection {
				sum.Abort(err)
				return fmt.Errorf("southbound sync aborted at %s: %w", ref, err)
			}
			sum.Fail(ref, core.ActionDelete, err)
			continue
		}
		sum.Wrote(1)
		sum.Record(core.EntityAction{EntityRef: ref, Action: core.ActionDelete, Table: core.TableMACBinding, Applied: deleted > 0})
	}
	return nil
}
