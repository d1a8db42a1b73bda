package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ovndbsync/pkg/events"
	"ovndbsync/pkg/observability/metrics"
	"ovndbsync/pkg/ovsdb"
)

// Monitor keeps a Connection alive, reconnecting with exponential backoff.
// Every reconnect starts from an empty cache and a fresh monitor request; the
// dispatcher and its subscriptions are shared across connections.
type Monitor struct {
	opts       Options
	newBackoff func() backoff.BackOff

	mu        sync.Mutex
	current   *Connection
	connected chan struct{}
}

// NewMonitor builds a supervisor. A dispatcher is created when opts has none.
func NewMonitor(opts Options) *Monitor {
	if opts.Dispatcher == nil {
		opts.Dispatcher = events.NewDispatcher(opts.Logger.WithValues("database", opts.Database))
	}
	return &Monitor{
		opts: opts,
		newBackoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(100*time.Millisecond),
				backoff.WithMaxInterval(10*time.Second),
				backoff.WithMaxElapsedTime(0),
			)
		},
		connected: make(chan struct{}),
	}
}

// Dispatcher returns the dispatcher shared by every connection of the monitor.
func (m *Monitor) Dispatcher() *events.Dispatcher { return m.opts.Dispatcher }

// Database returns the monitored schema name.
func (m *Monitor) Database() string { return m.opts.Database }

// Run connects and reconnects until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	logger := m.opts.Logger.WithValues("database", m.opts.Database)
	first := true
	for {
		if !first {
			metrics.RecordReconnect(m.opts.Database)
		}
		first = false

		conn, err := backoff.RetryNotifyWithData(func() (*Connection, error) {
			conn, err := Connect(ctx, m.opts)
			if errors.Is(err, ovsdb.ErrInvalidEndpoint) {
				return nil, backoff.Permanent(err)
			}
			return conn, err
		}, backoff.WithContext(m.newBackoff(), ctx), func(err error, wait time.Duration) {
			logger.Error(err, "mirror connect failed", "retryIn", wait.String())
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connecting to %s: %w", m.opts.Database, err)
		}
		m.setCurrent(conn)

		select {
		case <-ctx.Done():
			m.setCurrent(nil)
			conn.Close()
			return nil
		case <-conn.Done():
			m.setCurrent(nil)
			logger.Info("mirror connection lost, reconnecting")
		}
	}
}

func (m *Monitor) setCurrent(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = conn
	if conn != nil {
		close(m.connected)
		return
	}
	m.connected = make(chan struct{})
}

// Connection returns the live connection, or nil while disconnected.
func (m *Monitor) Connection() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// WaitConnected blocks until a connection is live or ctx ends.
func (m *Monitor) WaitConnected(ctx context.Context) (*Connection, error) {
	for {
		m.mu.Lock()
		current, connected := m.current, m.connected
		m.mu.Unlock()
		if current != nil {
			return current, nil
		}
		select {
		case <-connected:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// HasLock reports whether the live connection holds its lock. It is false while disconnected.
func (m *Monitor) HasLock() bool {
	conn := m.Connection()
	return conn != nil && conn.HasLock()
}

// Transact runs operations on the live connection.
func (m *Monitor) Transact(ctx context.Context, ops ...ovsdb.Operation) ([]ovsdb.OperationResult, error) {
	conn := m.Connection()
	if conn == nil {
		return nil, ErrNotConnected
	}
	results, err := conn.Transact(ctx, ops...)
	if errors.Is(err, ErrClosed) {
		return results, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return results, err
}

// Table returns a snapshot of a table from the live connection.
func (m *Monitor) Table(name string) map[ovsdb.UUID]ovsdb.Row {
	conn := m.Connection()
	if conn == nil {
		return map[ovsdb.UUID]ovsdb.Row{}
	}
	return conn.Table(name)
}
