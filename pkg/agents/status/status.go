// Package status derives user visible port liveness from southbound port
// bindings and pushes it to the host service while this process holds the
// event lock.
package status

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"
	"github.com/looplab/fsm"

	"ovndbsync/pkg/core"
	"ovndbsync/pkg/events"
	"ovndbsync/pkg/observability/metrics"
	"ovndbsync/pkg/ovsdb"
)

const (
	eventBind   = "bind"
	eventUnbind = "unbind"
)

var portEvents = fsm.Events{
	{Name: eventBind, Src: []string{string(core.PortStatusDown), string(core.PortStatusActive)}, Dst: string(core.PortStatusActive)},
	{Name: eventUnbind, Src: []string{string(core.PortStatusDown), string(core.PortStatusActive)}, Dst: string(core.PortStatusDown)},
}

// LockChecker reports whether the write gating lock is currently held.
type LockChecker interface {
	HasLock() bool
}

// Notifier receives port status changes.
type Notifier interface {
	OnPortStatusChanged(ctx context.Context, portID string, status core.PortStatus) error
}

// Agent tracks one state machine per logical port. Transitions happen on the
// dispatch path; host calls happen on the goroutine running Run.
type Agent struct {
	logger   logr.Logger
	lock     LockChecker
	notifier Notifier

	mu      sync.Mutex
	ports   map[string]*fsm.FSM
	pending map[string]core.PortStatus
	queue   *core.WorkQueue[string]
}

// NewAgent builds an agent. Nothing is observed until Register is called.
func NewAgent(lock LockChecker, notifier Notifier, logger logr.Logger) *Agent {
	return &Agent{
		logger:   logger.WithName("port-status"),
		lock:     lock,
		notifier: notifier,
		ports:    map[string]*fsm.FSM{},
		pending:  map[string]core.PortStatus{},
		queue:    core.NewWorkQueue[string](),
	}
}

// Register subscribes the agent to chassis binding changes on d.
func (a *Agent) Register(d *events.Dispatcher) *events.Subscription {
	return d.Subscribe(events.Matcher{
		Table:     core.TablePortBinding,
		Kinds:     events.AllKinds,
		Predicate: events.All(isVIF, events.ColumnChanged("chassis")),
	}, a.handle)
}

// Status returns the last observed status of a port.
func (a *Agent) Status(portID string) core.PortStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	machine, ok := a.ports[portID]
	if !ok {
		return core.PortStatusDown
	}
	return core.PortStatus(machine.Current())
}

// Pending returns the number of status pushes waiting for the worker.
func (a *Agent) Pending() int {
	return a.queue.Len()
}

func (a *Agent) handle(event events.Event) {
	row := event.Row()
	portID := row.String("logical_port")
	if portID == "" {
		return
	}
	name := eventUnbind
	if event.Kind != events.Delete && len(row.UUIDs("chassis")) > 0 {
		name = eventBind
	}

	a.mu.Lock()
	machine, ok := a.ports[portID]
	if !ok {
		machine = fsm.NewFSM(string(core.PortStatusDown), portEvents, fsm.Callbacks{})
		a.ports[portID] = machine
	}
	err := machine.Event(context.Background(), name)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		a.mu.Unlock()
		a.logger.Error(err, "port state transition failed", "port", portID, "event", name)
		return
	}
	status := core.PortStatus(machine.Current())
	if event.Kind == events.Delete {
		delete(a.ports, portID)
	}
	if !a.lock.HasLock() {
		a.mu.Unlock()
		a.logger.V(1).Info("lock not held, status not propagated", "port", portID, "status", status)
		metrics.RecordStatusUpdate(string(status), metrics.OutcomeSkipped)
		return
	}
	a.pending[portID] = status
	a.mu.Unlock()
	a.queue.Add(portID)
}

// Run drains queued status pushes until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	return a.queue.Drain(ctx, a.push)
}

func (a *Agent) push(ctx context.Context, portID string) {
	a.mu.Lock()
	status, ok := a.pending[portID]
	delete(a.pending, portID)
	a.mu.Unlock()
	if !ok {
		return
	}
	// The lock may have moved since the event was queued.
	if !a.lock.HasLock() {
		metrics.RecordStatusUpdate(string(status), metrics.OutcomeSkipped)
		return
	}
	if err := a.notifier.OnPortStatusChanged(ctx, portID, status); err != nil {
		a.logger.Error(err, "failed to update port status", "port", portID, "status", status)
		metrics.RecordStatusUpdate(string(status), metrics.OutcomeError)
		return
	}
	a.logger.Info("port status updated", "port", portID, "status", status)
	metrics.RecordStatusUpdate(string(status), metrics.OutcomeSent)
}

// isVIF skips router and patch bindings, which have no host port.
func isVIF(old, new ovsdb.Row) bool {
	row := new
	if row == nil {
		row = old
	}
	return row.String("type") == ""
}
