package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"ovndbsync/pkg/observability/metrics"
)

// LockState is the client side view of a named lock.
type LockState string

const (
	LockUnlocked  LockState = "UNLOCKED"
	LockRequested LockState = "REQUESTED"
	LockHeld      LockState = "HELD"
)

// lockState tracks the single lock domain of a connection. The server is the
// arbiter; this only mirrors what it told us.
//
// Grants come from two goroutines: lock and steal replies on the caller, and
// locked/stolen notifications on the dispatch goroutine. Each grant and steal
// carries its stream order (see notificationOrder) so that a steal the server sent
// after a grant always wins, whichever goroutine applies first.
type lockState struct {
	mu        sync.Mutex
	database  string
	name      string
	state     LockState
	changed   chan struct{}
	grantedAt uint64
	stolenAt  uint64
}

// Stream order of a notification with 1-based index k is 2k; a reply read
// after n notifications sits at 2n+1, between notification n and n+1.
func notificationOrder(index uint64) uint64 { return 2 * index }

func replyOrder(position uint64) uint64 { return 2*position + 1 }

func (l *lockState) init(database string) {
	l.database = database
	l.state = LockUnlocked
	l.changed = make(chan struct{})
}

// setLocked must be called with mu held.
func (l *lockState) setLocked(state LockState, logger logr.Logger) {
	if l.state == state {
		return
	}
	wasHeld := l.state == LockHeld
	l.state = state
	close(l.changed)
	l.changed = make(chan struct{})
	if held := state == LockHeld; held != wasHeld && l.name != "" {
		metrics.SetLockHeld(l.database, l.name, held)
		logger.Info("lock ownership changed", "lock", l.name, "held", held)
	}
}

// granted applies a grant at stream order at. A grant older than the last
// steal is stale.
func (l *lockState) granted(name string, at uint64, logger logr.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if name != l.name || at < l.stolenAt {
		return
	}
	if at > l.grantedAt {
		l.grantedAt = at
	}
	if l.state == LockRequested {
		l.setLocked(LockHeld, logger)
	}
}

// stolen leaves the connection queued for the lock again. A steal that
// predates the current grant is stale; one that arrives while the grant is
// still in flight is remembered so the grant is dropped.
func (l *lockState) stolen(name string, at uint64, logger logr.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if name != l.name || at < l.grantedAt {
		return
	}
	if at > l.stolenAt {
		l.stolenAt = at
	}
	if l.state == LockHeld {
		l.setLocked(LockRequested, logger)
	}
}

func (l *lockState) disconnected(logger logr.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setLocked(LockUnlocked, logger)
}

// HasLock reports whether the server has granted this connection its lock.
func (c *Connection) HasLock() bool {
	c.lock.mu.Lock()
	defer c.lock.mu.Unlock()
	return c.lock.state == LockHeld
}

// LockState returns the current lock name and state.
func (c *Connection) LockState() (string, LockState) {
	c.lock.mu.Lock()
	defer c.lock.mu.Unlock()
	return c.lock.name, c.lock.state
}

// WaitForLock blocks until the lock is held or the timeout elapses.
func (c *Connection) WaitForLock(timeout time.Duration) bool {
	return c.waitLockState(true, timeout)
}

// WaitForLockRelease blocks until the lock is not held or the timeout elapses.
func (c *Connection) WaitForLockRelease(timeout time.Duration) bool {
	return c.waitLockState(false, timeout)
}

func (c *Connection) waitLockState(held bool, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.lock.mu.Lock()
		current, changed := c.lock.state == LockHeld, c.lock.changed
		c.lock.mu.Unlock()
		if current == held {
			return true
		}
		select {
		case <-changed:
		case <-timer.C:
			return false
		}
	}
}

// SetLock switches the lock domain of the connection. An empty name releases
// any held or pending lock. Grants arrive asynchronously; use HasLock or
// WaitForLock to observe them.
func (c *Connection) SetLock(ctx context.Context, name string) error {
	c.lock.mu.Lock()
	previous := c.lock.name
	if previous == name {
		c.lock.mu.Unlock()
		return nil
	}
	if previous != "" {
		c.lock.setLocked(LockUnlocked, c.logger)
	}
	c.lock.name = name
	if name != "" {
		c.lock.setLocked(LockRequested, c.logger)
	}
	c.lock.mu.Unlock()

	if previous != "" {
		if err := c.client.Unlock(ctx, previous); err != nil {
			return fmt.Errorf("releasing lock %s: %w", previous, err)
		}
	}
	if name == "" {
		return nil
	}
	reply, err := c.client.Lock(ctx, name)
	if err != nil {
		return fmt.Errorf("requesting lock %s: %w", name, err)
	}
	if reply.Locked {
		c.lock.granted(name, replyOrder(reply.Position), c.logger)
	}
	return nil
}

// StealLock takes the lock from its current holder.
func (c *Connection) StealLock(ctx context.Context, name string) error {
	c.lock.mu.Lock()
	previous := c.lock.name
	if previous != "" && previous != name {
		c.lock.mu.Unlock()
		if err := c.SetLock(ctx, ""); err != nil {
			return err
		}
		c.lock.mu.Lock()
	}
	c.lock.name = name
	if c.lock.state == LockUnlocked {
		c.lock.setLocked(LockRequested, c.logger)
	}
	c.lock.mu.Unlock()

	reply, err := c.client.Steal(ctx, name)
	if err != nil {
		return fmt.Errorf("stealing lock %s: %w", name, err)
	}
	if reply.Locked {
		c.lock.granted(name, replyOrder(reply.Position), c.logger)
	}
	return nil
}
