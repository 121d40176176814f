// Package live implements push-based subscriptions to order changes.
//
// Every subscriber owns a queue and a single delivering goroutine, so
// callbacks for one subscriber never run concurrently and observe updates in
// the order they were dispatched. Cancel stops delivery: once it returns, no
// new callback starts, although one already running may still finish.
package live

import (
	"sync"
)

// Subscription is a handle to a registered callback.
type Subscription struct {
	cancel func()
	done   <-chan struct{}
}

// Cancel stops delivery. It is safe to call more than once and from the
// callback itself.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Done is closed once the subscription has been cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// queue is an unbounded FIFO drained by one goroutine.
type queue[T any] struct {
	fn func(T)

	mu       sync.Mutex
	items    []T
	canceled bool

	wake      chan struct{}
	done      chan struct{}
	once      sync.Once
	onCancel  func()
	startOnce sync.Once
}

// newQueue returns a stopped queue; onCancel may be set before start.
func newQueue[T any](fn func(T)) *queue[T] {
	return &queue[T]{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// push appends v. Values pushed after cancel are dropped.
func (q *queue[T]) push(v T) {
	q.mu.Lock()
	if q.canceled {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pushFront inserts v ahead of everything queued so far.
func (q *queue[T]) pushFront(v T) {
	q.mu.Lock()
	if q.canceled {
		q.mu.Unlock()
		return
	}
	q.items = append([]T{v}, q.items...)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop returns the next value unless the queue is empty or cancelled.
func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.canceled || len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *queue[T]) start() {
	q.startOnce.Do(func() { go q.run() })
}

func (q *queue[T]) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			v, ok := q.pop()
			if !ok {
				break
			}
			q.fn(v)
		}
	}
}

func (q *queue[T]) cancel() {
	q.once.Do(func() {
		q.mu.Lock()
		q.canceled = true
		q.items = nil
		q.mu.Unlock()

		close(q.done)
		if q.onCancel != nil {
			q.onCancel()
		}
	})
}

func (q *queue[T]) subscription() *Subscription {
	return &Subscription{cancel: q.cancel, done: q.done}
}
