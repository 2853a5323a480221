package orchestration

import "sync"

// queue is an unbounded FIFO that never blocks producers. Consumers wait on
// Ready and take everything with Drain. softLimit only reports growth, items
// are never dropped.
type queue[T any] struct {
	mu        sync.Mutex
	items     []T
	ready     chan struct{}
	softLimit int
	overLimit bool
	onOverrun func(size int)
}

func newQueue[T any](softLimit int, onOverrun func(size int)) *queue[T] {
	return &queue[T]{ready: make(chan struct{}, 1), softLimit: softLimit, onOverrun: onOverrun}
}

func (q *queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	size := len(q.items)
	report := q.softLimit > 0 && size > q.softLimit && !q.overLimit
	if report {
		q.overLimit = true
	}
	q.mu.Unlock()

	if report && q.onOverrun != nil {
		q.onOverrun(size)
	}

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue[T]) Ready() <-chan struct{} { return q.ready }

func (q *queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.overLimit = false
	return items
}

func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ring keeps the newest capacity items and drops the oldest on overflow.
type ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	dropped  uint64
	ready    chan struct{}
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{capacity: max(capacity, 1), ready: make(chan struct{}, 1)}
}

func (r *ring[T]) Push(item T) {
	r.mu.Lock()
	if len(r.items) == r.capacity {
		r.items = append(r.items[:0], r.items[1:]...)
		r.dropped++
	}
	r.items = append(r.items, item)
	r.mu.Unlock()

	select {
	case r.ready <- struct{}{}:
	default:
	}
}

func (r *ring[T]) Ready() <-chan struct{} { return r.ready }

func (r *ring[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items
	r.items = make([]T, 0, r.capacity)
	return items
}

func (r *ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
