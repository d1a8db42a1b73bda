package core

import (
	"context"
	"sync"
)

// WorkQueue hands work from the dispatch path to a single worker goroutine.
// Keys are de-duplicated while queued, so a port that flaps several times
// before the worker runs is processed once with its latest state.
type WorkQueue[T comparable] struct {
	mutex  sync.Mutex
	queued map[T]struct{}
	items  []T
	ready  chan struct{}
}

func NewWorkQueue[T comparable]() *WorkQueue[T] {
	return &WorkQueue[T]{queued: map[T]struct{}{}, ready: make(chan struct{}, 1)}
}

// Add never blocks; it is safe to call from a dispatcher reaction.
func (q *WorkQueue[T]) Add(key T) {
	q.mutex.Lock()
	if _, ok := q.queued[key]; !ok {
		q.queued[key] = struct{}{}
		q.items = append(q.items, key)
	}
	q.mutex.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Get pops the oldest key.
func (q *WorkQueue[T]) Get() (T, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	key := q.items[0]
	q.items = q.items[1:]
	delete(q.queued, key)
	return key, true
}

// Ready receives a value after Add. Signals coalesce.
func (q *WorkQueue[T]) Ready() <-chan struct{} { return q.ready }

func (q *WorkQueue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

// Drain calls handle for every key in FIFO order until ctx is done. Keys
// still queued at cancellation are dropped.
func (q *WorkQueue[T]) Drain(ctx context.Context, handle func(context.Context, T)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.ready:
		}
		for ctx.Err() == nil {
			key, ok := q.Get()
			if !ok {
				break
			}
			handle(ctx, key)
		}
	}
}
