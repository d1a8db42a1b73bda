// Package ovsdbtest provides an in-memory OVSDB server speaking the JSON-RPC
// protocol used by pkg/ovsdb. It is schema-less: any table and column name is
// accepted. Update notifications for a transaction are sent to every monitoring
// session before the transaction reply is written.
package ovsdbtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/google/uuid"

	"ovndbsync/pkg/ovsdb"
)

// RejectFunc makes the server fail an operation with a constraint violation.
type RejectFunc func(op ovsdb.Operation) bool

// Server is an in-memory OVSDB server listening on a loopback TCP port.
type Server struct {
	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	tables   map[string]map[ovsdb.UUID]ovsdb.Row
	sessions map[*session]struct{}
	locks    map[string][]*session
	reject   RejectFunc
	writes   int
	closed   bool
}

type session struct {
	server   *Server
	conn     net.Conn
	writeMu  sync.Mutex
	encoder  *json.Encoder
	monitors map[string]monitor
}

type monitor struct {
	id     json.RawMessage
	tables map[string]struct{}
}

type request struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// NewServer starts a server on 127.0.0.1 with an ephemeral port.
func NewServer() (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listening: %w", err)
	}
	server := &Server{
		listener: listener,
		tables:   map[string]map[ovsdb.UUID]ovsdb.Row{},
		sessions: map[*session]struct{}{},
		locks:    map[string][]*session{},
	}
	server.wg.Add(1)
	go server.acceptLoop()
	return server, nil
}

// Endpoint returns the connection string clients dial.
func (s *Server) Endpoint() string {
	return "tcp:" + s.listener.Addr().String()
}

// Close stops the listener and drops every session.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

// DropConnections closes every client stream, releasing their locks.
func (s *Server) DropConnections() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.conn.Close()
	}
}

// SetReject installs a predicate that fails matching operations.
func (s *Server) SetReject(reject RejectFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

// WriteTransactions counts client transactions that contained a mutating operation.
func (s *Server) WriteTransactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Rows returns a copy of a table.
func (s *Server) Rows(table string) map[ovsdb.UUID]ovsdb.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ovsdb.UUID]ovsdb.Row, len(s.tables[table]))
	for id, row := range s.tables[table] {
		out[id] = row.Clone()
	}
	return out
}

// Insert adds a row as if another client had written it and returns its UUID.
func (s *Server) Insert(table string, row ovsdb.Row) (ovsdb.UUID, error) {
	results, err := s.Transact(ovsdb.Operation{Op: ovsdb.OpInsert, Table: table, Row: row})
	if err != nil {
		return "", err
	}
	return *results[0].UUID, nil
}

// Transact applies operations as an out-of-band client and notifies monitors.
func (s *Server) Transact(ops ...ovsdb.Operation) ([]ovsdb.OperationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results, updates := s.transactLocked(ops)
	if err := ovsdb.CheckOperationResults(results, ops); err != nil {
		return results, err
	}
	s.broadcastLocked(updates)
	return results, nil
}

// HolderOf returns whether a lock currently has an owner.
func (s *Server) HolderOf(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks[name]) > 0
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		sess := &session{server: s, conn: conn, encoder: json.NewEncoder(conn), monitors: map[string]monitor{}}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go sess.serve()
	}
}

func (sess *session) serve() {
	defer sess.server.wg.Done()
	defer sess.server.disconnect(sess)
	decoder := json.NewDecoder(sess.conn)
	for {
		var req request
		if err := decoder.Decode(&req); err != nil {
			return
		}
		if req.Method == "" {
			continue
		}
		sess.handle(req)
	}
}

func (sess *session) handle(req request) {
	s := sess.server
	switch req.Method {
	case ovsdb.MethodEcho:
		sess.reply(req.ID, req.Params, nil)
	case ovsdb.MethodMonitor:
		s.mu.Lock()
		defer s.mu.Unlock()
		result, err := sess.monitorLocked(req.Params)
		sess.reply(req.ID, result, err)
	case ovsdb.MethodTransact:
		ops, err := decodeOperations(req.Params)
		if err != nil {
			sess.reply(req.ID, nil, &rpcError{Error: "syntax error", Details: err.Error()})
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if mutating(ops) {
			s.writes++
		}
		results, updates := s.transactLocked(ops)
		if ovsdb.CheckOperationResults(results, ops) == nil {
			s.broadcastLocked(updates)
		}
		sess.reply(req.ID, results, nil)
	case ovsdb.MethodLock, ovsdb.MethodSteal, ovsdb.MethodUnlock:
		var name string
		if len(req.Params) != 1 || json.Unmarshal(req.Params[0], &name) != nil || name == "" {
			sess.reply(req.ID, nil, &rpcError{Error: "syntax error", Details: "expected lock name"})
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		switch req.Method {
		case ovsdb.MethodLock:
			sess.lockLocked(req.ID, name)
		case ovsdb.MethodSteal:
			sess.stealLocked(req.ID, name)
		default:
			s.releaseLocked(sess, name)
			sess.reply(req.ID, map[string]any{}, nil)
		}
	default:
		sess.reply(req.ID, nil, &rpcError{Error: "unknown method", Details: req.Method})
	}
}

func (sess *session) monitorLocked(params []json.RawMessage) (ovsdb.TableUpdates, *rpcError) {
	if len(params) != 3 {
		return nil, &rpcError{Error: "syntax error", Details: "monitor expects 3 params"}
	}
	var requests map[string]ovsdb.MonitorRequest
	if err := json.Unmarshal(params[2], &requests); err != nil {
		return nil, &rpcError{Error: "syntax error", Details: err.Error()}
	}
	key := string(params[1])
	if _, exists := sess.monitors[key]; exists {
		return nil, &rpcError{Error: "duplicate monitor ID"}
	}
	mon := monitor{id: params[1], tables: map[string]struct{}{}}
	initial := ovsdb.TableUpdates{}
	for table := range requests {
		mon.tables[table] = struct{}{}
		rows := sess.server.tables[table]
		if len(rows) == 0 {
			continue
		}
		update := ovsdb.TableUpdate{}
		for id, row := range rows {
			update[id] = &ovsdb.RowUpdate{New: row.Clone()}
		}
		initial[table] = update
	}
	sess.monitors[key] = mon
	return initial, nil
}

func (sess *session) lockLocked(id json.RawMessage, name string) {
	s := sess.server
	for _, queued := range s.locks[name] {
		if queued == sess {
			sess.reply(id, nil, &rpcError{Error: "duplicate lock", Details: name})
			return
		}
	}
	s.locks[name] = append(s.locks[name], sess)
	sess.reply(id, map[string]bool{"locked": s.locks[name][0] == sess}, nil)
}

func (sess *session) stealLocked(id json.RawMessage, name string) {
	s := sess.server
	queue := s.locks[name]
	var previous *session
	if len(queue) > 0 && queue[0] != sess {
		previous = queue[0]
	}
	rest := make([]*session, 0, len(queue))
	for _, queued := range queue {
		if queued != sess && queued != previous {
			rest = append(rest, queued)
		}
	}
	queue = append([]*session{sess}, rest...)
	if previous != nil {
		// The previous owner keeps waiting at the back of the queue.
		queue = append(queue, previous)
	}
	s.locks[name] = queue
	if previous != nil {
		previous.notify(ovsdb.NotificationStolen, name)
	}
	sess.reply(id, map[string]bool{"locked": true}, nil)
}

func (s *Server) releaseLocked(sess *session, name string) {
	queue := s.locks[name]
	for i, queued := range queue {
		if queued != sess {
			continue
		}
		queue = append(queue[:i:i], queue[i+1:]...)
		if len(queue) == 0 {
			delete(s.locks, name)
			return
		}
		s.locks[name] = queue
		if i == 0 {
			queue[0].notify(ovsdb.NotificationLocked, name)
		}
		return
	}
}

func (s *Server) disconnect(sess *session) {
	sess.conn.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
	names := make([]string, 0, len(s.locks))
	for name := range s.locks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.releaseLocked(sess, name)
	}
}

func (s *Server) broadcastLocked(updates ovsdb.TableUpdates) {
	if len(updates) == 0 {
		return
	}
	for sess := range s.sessions {
		for _, mon := range sess.monitors {
			filtered := ovsdb.TableUpdates{}
			for table, update := range updates {
				if _, ok := mon.tables[table]; ok {
					filtered[table] = update
				}
			}
			if len(filtered) == 0 {
				continue
			}
			sess.send(map[string]any{"id": nil, "method": ovsdb.NotificationUpdate, "params": []any{mon.id, filtered}})
		}
	}
}

func (sess *session) notify(method, name string) {
	sess.send(map[string]any{"id": nil, "method": method, "params": []any{name}})
}

func (sess *session) reply(id json.RawMessage, result any, err *rpcError) {
	if err != nil {
		sess.send(map[string]any{"id": id, "result": nil, "error": err})
		return
	}
	sess.send(map[string]any{"id": id, "result": result, "error": nil})
}

func (sess *session) send(v any) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	// A failed write means the peer is gone; serve notices on its next read.
	_ = sess.encoder.Encode(v)
}

func decodeOperations(params []json.RawMessage) ([]ovsdb.Operation, error) {
	if len(params) < 1 {
		return nil, errors.New("transact expects a database name")
	}
	ops := make([]ovsdb.Operation, 0, len(params)-1)
	for _, raw := range params[1:] {
		var op ovsdb.Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func mutating(ops []ovsdb.Operation) bool {
	for _, op := range ops {
		switch op.Op {
		case ovsdb.OpInsert, ovsdb.OpUpdate, ovsdb.OpDelete, ovsdb.OpMutate:
			return true
		}
	}
	return false
}

func newUUID() ovsdb.UUID {
	return ovsdb.UUID(uuid.NewString())
}
