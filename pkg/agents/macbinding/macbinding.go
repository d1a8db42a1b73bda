// Package macbinding removes learned MAC_Binding rows that a floating IP
// association or disassociation has made stale.
package macbinding

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"ovndbsync/pkg/core"
	"ovndbsync/pkg/events"
	"ovndbsync/pkg/observability/metrics"
	"ovndbsync/pkg/ovsdb"
)

// Transactor issues southbound write transactions.
type Transactor interface {
	Transact(ctx context.Context, ops ...ovsdb.Operation) ([]ovsdb.OperationResult, error)
}

// Cleaner watches northbound floating IP NAT rules and deletes southbound
// MAC bindings for their external addresses. The delete is a conditional,
// idempotent write and is not gated by the event lock.
type Cleaner struct {
	logger logr.Logger
	sb     Transactor
	queue  *core.WorkQueue[string]
}

// NewCleaner builds a cleaner writing through sb.
func NewCleaner(sb Transactor, logger logr.Logger) *Cleaner {
	return &Cleaner{logger: logger.WithName("mac-binding-cleanup"), sb: sb, queue: core.NewWorkQueue[string]()}
}

// Register subscribes to floating IP NAT changes on the northbound dispatcher.
func (c *Cleaner) Register(d *events.Dispatcher) *events.Subscription {
	return d.Subscribe(events.Matcher{
		Table: core.TableNAT,
		Kinds: events.AllKinds,
		Predicate: events.All(
			events.ColumnEquals("type", core.NATTypeDNATAndSNAT),
			events.ColumnChanged("external_ip", "logical_ip", "logical_port"),
		),
	}, c.handle)
}

func (c *Cleaner) handle(event events.Event) {
	if ip := event.Old.String("external_ip"); ip != "" {
		c.queue.Add(ip)
	}
	if ip := event.New.String("external_ip"); ip != "" {
		c.queue.Add(ip)
	}
}

// Run performs queued cleanups until ctx is done. Failures are logged; the
// next association change or sync run retries.
func (c *Cleaner) Run(ctx context.Context) error {
	return c.queue.Drain(ctx, func(ctx context.Context, ip string) {
		_, _ = c.Cleanup(ctx, ip)
	})
}

// Cleanup deletes every MAC_Binding learned for ip and returns the number of rows removed.
func (c *Cleaner) Cleanup(ctx context.Context, ip string) (int, error) {
	results, err := c.sb.Transact(ctx, ovsdb.Operation{
		Op:    ovsdb.OpDelete,
		Table: core.TableMACBinding,
		Where: ovsdb.Where("ip", ovsdb.ConditionEqual, ip),
	})
	if err != nil {
		metrics.RecordMACBindingCleanup(0, err)
		c.logger.Error(err, "failed to delete stale MAC bindings", "ip", ip)
		return 0, fmt.Errorf("delete MAC_Binding ip=%s: %w", ip, err)
	}
	deleted := 0
	if len(results) > 0 {
		deleted = results[0].Count
	}
	metrics.RecordMACBindingCleanup(deleted, nil)
	if deleted > 0 {
		c.logger.Info("deleted stale MAC bindings", "ip", ip, "count", deleted)
	}
	return deleted, nil
}
