// Package mirror keeps a live replica of an OVSDB database, arbitrates a
// named single-writer lock through the server and feeds row events to a
// dispatcher.
package mirror

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"ovndbsync/pkg/events"
	"ovndbsync/pkg/ovsdb"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("mirror: connection closed")

// ErrNotConnected is returned when no connection is currently established.
var ErrNotConnected = errors.New("mirror: not connected")

// Options configures a connection.
type Options struct {
	// Database is the schema name, for example OVN_Northbound.
	Database string
	// Endpoint is a comma separated list of tcp:, ssl: or unix: addresses.
	Endpoint string
	// Tables lists the monitored tables.
	Tables []string
	TLS    *tls.Config
	// LockName, when set, is requested right after the initial dump.
	LockName string
	// Dispatcher receives every row event. It may outlive the connection.
	Dispatcher *events.Dispatcher
	Logger     logr.Logger
}

// Connection is one live mirror of a remote database.
type Connection struct {
	database   string
	client     *ovsdb.Client
	cache      *cache
	dispatcher *events.Dispatcher
	logger     logr.Logger

	lock lockState

	progressMu sync.Mutex
	processed  uint64
	progress   chan struct{}

	done chan struct{}
}

// Connect dials the database, loads the monitored tables and starts the
// dispatch goroutine. The initial rows are dispatched as Insert events
// before Connect returns.
func Connect(ctx context.Context, opts Options) (*Connection, error) {
	if opts.Database == "" {
		return nil, errors.New("mirror: database name is required")
	}
	if len(opts.Tables) == 0 {
		return nil, errors.New("mirror: at least one table is required")
	}
	logger := opts.Logger.WithValues("database", opts.Database)
	client, err := ovsdb.Dial(ctx, opts.Endpoint, opts.TLS, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", opts.Database, err)
	}
	return start(ctx, client, opts, logger)
}

func start(ctx context.Context, client *ovsdb.Client, opts Options, logger logr.Logger) (*Connection, error) {
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewDispatcher(logger)
	}
	conn := &Connection{
		database:   opts.Database,
		client:     client,
		cache:      newCache(opts.Tables),
		dispatcher: dispatcher,
		logger:     logger,
		progress:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	conn.lock.init(opts.Database)

	requests := make(map[string]ovsdb.MonitorRequest, len(opts.Tables))
	for _, table := range opts.Tables {
		requests[table] = ovsdb.MonitorRequest{}
	}
	initial, err := client.Monitor(ctx, opts.Database, opts.Database, requests)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("monitoring %s: %w", opts.Database, err)
	}
	for _, event := range conn.cache.apply(initial) {
		conn.dispatcher.Dispatch(event)
	}
	go conn.run()

	if opts.LockName != "" {
		if err := conn.SetLock(ctx, opts.LockName); err != nil {
			conn.Close()
			return nil, err
		}
	}
	logger.Info("mirror connected", "tables", opts.Tables)
	return conn, nil
}

// Database returns the schema name.
func (c *Connection) Database() string { return c.database }

// Dispatcher returns the dispatcher fed by this connection.
func (c *Connection) Dispatcher() *events.Dispatcher { return c.dispatcher }

// Done is closed once the connection is gone and its dispatch goroutine has stopped.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended.
func (c *Connection) Err() error { return c.client.Err() }

// Close drops the connection. Any held lock is released by the server.
func (c *Connection) Close() error {
	err := c.client.Close()
	<-c.done
	return err
}

// Table returns a snapshot of the mirrored rows of a table keyed by UUID.
func (c *Connection) Table(name string) map[ovsdb.UUID]ovsdb.Row {
	return c.cache.table(name)
}

// Row returns a snapshot of one mirrored row.
func (c *Connection) Row(table string, id ovsdb.UUID) (ovsdb.Row, bool) {
	return c.cache.row(table, id)
}

// Transact runs operations atomically. On success it returns only after the
// updates caused by the transaction have been applied to the cache.
func (c *Connection) Transact(ctx context.Context, ops ...ovsdb.Operation) ([]ovsdb.OperationResult, error) {
	select {
	case <-c.done:
		return nil, fmt.Errorf("%w: %v", ErrClosed, c.client.Err())
	default:
	}
	results, err := c.client.Transact(ctx, c.database, ops...)
	if err != nil {
		return results, err
	}
	if err := c.waitProcessed(ctx, c.client.Received()); err != nil {
		return results, err
	}
	return results, nil
}

func (c *Connection) run() {
	defer close(c.done)
	defer c.lock.disconnected(c.logger)

	var index uint64
	for note := range c.client.Notifications() {
		index++
		switch note.Method {
		case ovsdb.NotificationUpdate:
			c.handleUpdate(note.Params)
		case ovsdb.NotificationLocked:
			c.lock.granted(lockNameParam(note.Params), notificationOrder(index), c.logger)
		case ovsdb.NotificationStolen:
			c.lock.stolen(lockNameParam(note.Params), notificationOrder(index), c.logger)
		default:
			c.logger.V(1).Info("ignoring notification", "method", note.Method)
		}
		c.markProcessed()
	}
	c.logger.Info("mirror disconnected", "reason", fmt.Sprint(c.client.Err()))
}

func (c *Connection) handleUpdate(params []json.RawMessage) {
	if len(params) != 2 {
		c.logger.Info("dropping malformed update", "params", len(params))
		return
	}
	updates, err := ovsdb.DecodeTableUpdates(params[1])
	if err != nil {
		c.logger.Error(err, "dropping undecodable update")
		return
	}
	for _, event := range c.cache.apply(updates) {
		c.dispatcher.Dispatch(event)
	}
}

func (c *Connection) markProcessed() {
	c.progressMu.Lock()
	c.processed++
	close(c.progress)
	c.progress = make(chan struct{})
	c.progressMu.Unlock()
}

// waitProcessed blocks until the dispatch goroutine has handled target notifications.
func (c *Connection) waitProcessed(ctx context.Context, target uint64) error {
	for {
		c.progressMu.Lock()
		processed, progress := c.processed, c.progress
		c.progressMu.Unlock()
		if processed >= target {
			return nil
		}
		select {
		case <-progress:
		case <-c.done:
			return fmt.Errorf("%w: %v", ErrClosed, c.client.Err())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func lockNameParam(params []json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var name string
	if err := json.Unmarshal(params[0], &name); err != nil {
		return ""
	}
	return name
}
