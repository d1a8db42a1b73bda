// Package events evaluates row change notifications against registered
// subscriptions on a single dispatch path.
package events

import (
	"sync"
	"time"

	"github.com/go-logr/logr"

	"ovndbsync/pkg/observability/metrics"
	"ovndbsync/pkg/ovsdb"
)

// Kind is the type of row change.
type Kind string

const (
	Insert Kind = "insert"
	Update Kind = "update"
	Delete Kind = "delete"
)

// AllKinds matches every row change.
var AllKinds = []Kind{Insert, Update, Delete}

// Event is one row change as applied to a mirror cache. Rows carry their _uuid column.
type Event struct {
	Table string
	Kind  Kind
	UUID  ovsdb.UUID
	Old   ovsdb.Row
	New   ovsdb.Row
}

// Row returns the current image of the row, or the last one for deletes.
func (e Event) Row() ovsdb.Row {
	if e.New != nil {
		return e.New
	}
	return e.Old
}

// Predicate inspects the old and new images of a row. It must be pure and must not block.
type Predicate func(old, new ovsdb.Row) bool

// Reaction runs on the dispatch path for each match. Anything slower than a
// channel send or queue add belongs on another goroutine.
type Reaction func(Event)

// Matcher selects the events a subscription reacts to.
type Matcher struct {
	Table     string
	Kinds     []Kind
	Predicate Predicate
	OneShot   bool
}

// matchedLimit bounds the matches a long-lived subscription retains.
const matchedLimit = 16

// Subscription is a registered matcher. Its signal latches on the first match.
type Subscription struct {
	id         uint64
	matcher    Matcher
	kinds      map[Kind]struct{}
	reaction   Reaction
	dispatcher *Dispatcher

	fireOnce sync.Once
	fired    chan struct{}

	mu      sync.Mutex
	matched []Event
}

// Dispatcher fans row events out to subscriptions in registration order.
type Dispatcher struct {
	logger logr.Logger

	mu            sync.Mutex
	nextID        uint64
	subscriptions []*Subscription
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(logger logr.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Subscribe registers a matcher with an optional reaction.
func (d *Dispatcher) Subscribe(matcher Matcher, reaction Reaction) *Subscription {
	kinds := matcher.Kinds
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	sub := &Subscription{
		matcher:    matcher,
		kinds:      make(map[Kind]struct{}, len(kinds)),
		reaction:   reaction,
		dispatcher: d,
		fired:      make(chan struct{}),
	}
	for _, kind := range kinds {
		sub.kinds[kind] = struct{}{}
	}
	d.mu.Lock()
	d.nextID++
	sub.id = d.nextID
	d.subscriptions = append(d.subscriptions, sub)
	d.mu.Unlock()
	return sub
}

// Dispatch evaluates one event. Callers must invoke it from a single goroutine
// per connection so that events are seen in arrival order.
func (d *Dispatcher) Dispatch(event Event) {
	metrics.RecordEventDispatched(event.Table, string(event.Kind))

	d.mu.Lock()
	var hits []*Subscription
	kept := d.subscriptions[:0]
	for _, sub := range d.subscriptions {
		matched := sub.matches(event)
		if matched {
			hits = append(hits, sub)
		}
		if !(matched && sub.matcher.OneShot) {
			kept = append(kept, sub)
		}
	}
	for i := len(kept); i < len(d.subscriptions); i++ {
		d.subscriptions[i] = nil
	}
	d.subscriptions = kept
	d.mu.Unlock()

	for _, sub := range hits {
		sub.fire(event)
	}
}

// Len returns the number of live subscriptions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscriptions)
}

func (d *Dispatcher) remove(target *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, sub := range d.subscriptions {
		if sub == target {
			d.subscriptions = append(d.subscriptions[:i], d.subscriptions[i+1:]...)
			return
		}
	}
}

func (s *Subscription) matches(event Event) bool {
	if s.matcher.Table != "" && s.matcher.Table != event.Table {
		return false
	}
	if _, ok := s.kinds[event.Kind]; !ok {
		return false
	}
	if s.matcher.Predicate == nil {
		return true
	}
	return s.matcher.Predicate(event.Old, event.New)
}

func (s *Subscription) fire(event Event) {
	s.mu.Lock()
	if len(s.matched) == matchedLimit {
		copy(s.matched, s.matched[1:])
		s.matched = s.matched[:matchedLimit-1]
	}
	s.matched = append(s.matched, event)
	s.mu.Unlock()
	s.fireOnce.Do(func() { close(s.fired) })
	if s.reaction == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.dispatcher.logger.Info("subscription reaction panicked", "table", event.Table, "kind", event.Kind, "panic", r)
		}
	}()
	s.reaction(event)
}

// Wait blocks until the subscription has matched or the timeout elapses. It
// reports whether a match happened; a timeout is not an error.
func (s *Subscription) Wait(timeout time.Duration) bool {
	select {
	case <-s.fired:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.fired:
		return true
	case <-timer.C:
		return false
	}
}

// Fired is closed on the first match.
func (s *Subscription) Fired() <-chan struct{} { return s.fired }

// Matched returns the most recent matches, oldest first. At most matchedLimit are kept.
func (s *Subscription) Matched() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.matched...)
}

// Cancel deregisters the subscription. It is a no-op for one-shot subscriptions that already matched.
func (s *Subscription) Cancel() {
	s.dispatcher.remove(s)
}
