package ovsdb

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// JSON-RPC methods and notifications.
const (
	MethodMonitor  = "monitor"
	MethodTransact = "transact"
	MethodLock     = "lock"
	MethodSteal    = "steal"
	MethodUnlock   = "unlock"
	MethodEcho     = "echo"

	NotificationUpdate = "update"
	NotificationLocked = "locked"
	NotificationStolen = "stolen"
)

// ErrNotConnected is returned once the stream to the server is gone.
var ErrNotConnected = errors.New("ovsdb: not connected")

// RPCError is an error member returned by the server for a request.
type RPCError struct {
	Method string
	Err    string
}

func (e *RPCError) Error() string { return fmt.Sprintf("ovsdb %s: %s", e.Method, e.Err) }

// Notification is a server initiated message without an id.
type Notification struct {
	Method string
	Params []json.RawMessage
}

type message struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

type response struct {
	result json.RawMessage
	err    error
	// received is the number of notifications read before this reply.
	received uint64
}

// Client is a JSON-RPC 1.0 connection to one OVSDB server.
// Notifications are delivered on a single channel in the order the server sent them.
type Client struct {
	conn   net.Conn
	logger logr.Logger

	writeMu  sync.Mutex
	encoder  *json.Encoder
	nextID   atomic.Uint64
	received atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan response
	err     error

	notifications chan Notification
	closing       chan struct{}
	closeOnce     sync.Once
	done          chan struct{}
}

// Dial connects to the first reachable endpoint of a connection string.
func Dial(ctx context.Context, connection string, tlsConfig *tls.Config, logger logr.Logger) (*Client, error) {
	endpoints, err := ParseEndpoints(connection)
	if err != nil {
		return nil, err
	}
	conn, endpoint, err := DialEndpoints(ctx, endpoints, tlsConfig)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, logger.WithValues("endpoint", endpoint.String())), nil
}

// NewClient starts serving an established stream.
func NewClient(conn net.Conn, logger logr.Logger) *Client {
	client := &Client{
		conn:          conn,
		logger:        logger,
		encoder:       json.NewEncoder(conn),
		pending:       map[uint64]chan response{},
		notifications: make(chan Notification, 256),
		closing:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	go client.readLoop()
	return client
}

// Notifications returns the ordered notification stream. It is closed when the connection ends.
func (c *Client) Notifications() <-chan Notification { return c.notifications }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Received counts notifications read from the stream so far. Every
// notification sent by the server before a reply is counted once that reply
// has been returned to its caller.
func (c *Client) Received() uint64 { return c.received.Load() }

// Err returns the reason the connection ended, if it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears down the stream.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.conn.Close()
	})
	<-c.done
	return err
}

// Call issues a request and decodes its result into out.
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	_, err := c.call(ctx, method, params, out)
	return err
}

// call is Call that also returns the stream position of the reply.
func (c *Client) call(ctx context.Context, method string, params []any, out any) (uint64, error) {
	id := c.nextID.Add(1)
	reply := make(chan response, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", ErrNotConnected, c.err)
	}
	c.pending[id] = reply
	c.mu.Unlock()

	if params == nil {
		params = []any{}
	}
	if err := c.write(map[string]any{"id": id, "method": method, "params": params}); err != nil {
		c.forget(id)
		return 0, fmt.Errorf("%w: sending %s: %v", ErrNotConnected, method, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return 0, ctx.Err()
	case resp := <-reply:
		if resp.err != nil {
			var rpcErr *RPCError
			if errors.As(resp.err, &rpcErr) {
				rpcErr.Method = method
			}
			return resp.received, resp.err
		}
		if out == nil {
			return resp.received, nil
		}
		if err := json.Unmarshal(resp.result, out); err != nil {
			return resp.received, fmt.Errorf("decoding %s reply: %w", method, err)
		}
		return resp.received, nil
	}
}

// Monitor subscribes to tables and returns the initial contents.
func (c *Client) Monitor(ctx context.Context, database string, monitorID any, requests map[string]MonitorRequest) (TableUpdates, error) {
	var raw json.RawMessage
	if err := c.Call(ctx, MethodMonitor, []any{database, monitorID, requests}, &raw); err != nil {
		return nil, err
	}
	return DecodeTableUpdates(raw)
}

// Transact runs operations atomically. The returned error is an *OperationError when the server rejected the transaction.
func (c *Client) Transact(ctx context.Context, database string, ops ...Operation) ([]OperationResult, error) {
	params := make([]any, 0, len(ops)+1)
	params = append(params, database)
	for _, op := range ops {
		params = append(params, op)
	}
	var results []OperationResult
	if err := c.Call(ctx, MethodTransact, params, &results); err != nil {
		return nil, err
	}
	return results, CheckOperationResults(results, ops)
}

// LockReply is the answer to lock and steal.
type LockReply struct {
	Locked bool `json:"locked"`
	// Position is the number of notifications the server sent before this
	// reply. A locked or stolen notification with a higher index happened
	// after the reply.
	Position uint64 `json:"-"`
}

// Lock requests a named lock and reports whether it was granted immediately.
func (c *Client) Lock(ctx context.Context, name string) (LockReply, error) {
	var reply LockReply
	position, err := c.call(ctx, MethodLock, []any{name}, &reply)
	reply.Position = position
	return reply, err
}

// Steal takes a named lock away from its current holder.
func (c *Client) Steal(ctx context.Context, name string) (LockReply, error) {
	var reply LockReply
	position, err := c.call(ctx, MethodSteal, []any{name}, &reply)
	reply.Position = position
	return reply, err
}

// Unlock releases or cancels a request for a named lock.
func (c *Client) Unlock(ctx context.Context, name string) error {
	return c.Call(ctx, MethodUnlock, []any{name}, nil)
}

// Echo round-trips a keepalive.
func (c *Client) Echo(ctx context.Context) error {
	return c.Call(ctx, MethodEcho, []any{"ping"}, nil)
}

func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.encoder.Encode(v)
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	decoder := json.NewDecoder(c.conn)
	for {
		var msg message
		if err := decoder.Decode(&msg); err != nil {
			c.shutdown(err)
			return
		}
		switch {
		case msg.Method != "" && (len(msg.ID) == 0 || isNull(msg.ID)):
			var params []json.RawMessage
			if len(msg.Params) > 0 {
				if err := json.Unmarshal(msg.Params, &params); err != nil {
					c.logger.Error(err, "dropping malformed notification", "method", msg.Method)
					continue
				}
			}
			c.received.Add(1)
			select {
			case c.notifications <- Notification{Method: msg.Method, Params: params}:
			case <-c.closing:
			}
		case msg.Method == MethodEcho:
			if err := c.write(map[string]any{"id": msg.ID, "result": msg.Params, "error": nil}); err != nil {
				c.logger.Error(err, "failed to answer echo")
			}
		case msg.Method != "":
			c.logger.V(1).Info("ignoring unsupported server request", "method", msg.Method)
		default:
			c.deliver(msg)
		}
	}
}

func (c *Client) deliver(msg message) {
	var id uint64
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		c.logger.V(1).Info("ignoring reply with foreign id", "id", string(msg.ID))
		return
	}
	c.mu.Lock()
	reply, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	received := c.received.Load()
	if len(msg.Error) > 0 && !isNull(msg.Error) {
		reply <- response{err: decodeRPCError(msg.Error), received: received}
		return
	}
	reply <- response{result: msg.Result, received: received}
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	c.err = cause
	pending := c.pending
	c.pending = map[uint64]chan response{}
	c.mu.Unlock()

	for _, reply := range pending {
		reply <- response{err: fmt.Errorf("%w: %v", ErrNotConnected, cause)}
	}
	c.conn.Close()
	close(c.notifications)
	close(c.done)
}

// decodeRPCError accepts both the plain string and the {"error", "details"} forms.
func decodeRPCError(raw json.RawMessage) error {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return &RPCError{Err: text}
	}
	var object struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(raw, &object); err != nil || object.Error == "" {
		return &RPCError{Err: string(raw)}
	}
	if object.Details != "" {
		return &RPCError{Err: object.Error + ": " + object.Details}
	}
	return &RPCError{Err: object.Error}
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
