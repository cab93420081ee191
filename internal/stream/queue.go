package stream

import (
	"context"
	"sync"
)

// QueueStats contains queue statistics.
type QueueStats struct {
	Count    int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Resizes  int
}

// Queue is a FIFO ring buffer that doubles its capacity when full, up to a
// maximum. At the maximum the oldest item is dropped to make room, so Push
// never blocks the producer. Queue supports one consumer.
type Queue[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int
	count   int
	maxCap  int
	closed  bool
	notify  chan struct{}
	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// NewQueue creates a queue with the given initial and maximum capacity.
// maxCapacity < initialCapacity means the queue never grows.
func NewQueue[T any](initialCapacity, maxCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	return &Queue[T]{
		buf:    make([]T, initialCapacity),
		maxCap: maxCapacity,
		notify: make(chan struct{}, 1),
	}
}

// Push appends item. Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	if q.count == len(q.buf) {
		if len(q.buf) < q.maxCap {
			q.grow()
		} else {
			var zero T
			q.buf[q.head] = zero
			q.head = (q.head + 1) % len(q.buf)
			q.count--
			q.dropped++
		}
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.pushed++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest item, waiting until one is available, the queue is
// closed and drained, or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	for {
		if item, ok, closed := q.tryPop(); ok || closed {
			return item, ok
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// TryPop removes the oldest item without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	item, ok, _ := q.tryPop()
	return item, ok
}

func (q *Queue[T]) tryPop() (item T, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return item, false, q.closed
	}

	item = q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.popped++
	return item, true, false
}

// Close stops further pushes. Remaining items can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:    q.count,
		Capacity: len(q.buf),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// grow doubles capacity (bounded by maxCap). Must be called with lock held.
func (q *Queue[T]) grow() {
	newCap := len(q.buf) * 2
	if newCap > q.maxCap {
		newCap = q.maxCap
	}
	next := make([]T, newCap)
	for i := 0; i < q.count; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
	q.resizes++
}
