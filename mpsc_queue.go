package fiberjobs

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// mpscQueue is a bounded, lock-free, MPSC (Multi-Producer Single-Consumer) queue.
// Any goroutine may push; only the main worker pops. It backs the
// main-thread lane.
type mpscQueue[T any] struct {
	_ cpu.CacheLinePad

	// head is the consumer index (only modified by the single consumer)
	head atomic.Uint64

	_ cpu.CacheLinePad

	// tail is the producer index (claimed by producers via CAS)
	tail atomic.Uint64

	_ cpu.CacheLinePad

	// buffer slots are nil until the producer that claimed them publishes
	buffer []atomic.Pointer[T]

	// mask is size-1, used for fast modulo via bitwise AND
	mask uint64

	size uint64
}

// newMPSCQueue creates a queue with the given capacity.
// Capacity MUST be a power of 2 for the bitwise modulo to work.
func newMPSCQueue[T any](capacity int) *mpscQueue[T] {
	if capacity <= 0 {
		panic("capacity must be positive")
	}
	if capacity&(capacity-1) != 0 {
		panic("capacity must be a power of 2")
	}

	return &mpscQueue[T]{
		buffer: make([]atomic.Pointer[T], capacity),
		mask:   uint64(capacity - 1),
		size:   uint64(capacity),
	}
}

// tryPush claims a slot by CAS on tail, then publishes v into it.
// Returns false if v is nil or the queue is full.
func (q *mpscQueue[T]) tryPush(v *T) bool {
	if v == nil {
		return false
	}

	for {
		tail := q.tail.Load()
		head := q.head.Load()

		// leave one slot empty to distinguish full from empty
		if tail-head >= q.size-1 {
			return false
		}

		if q.tail.CompareAndSwap(tail, tail+1) {
			q.buffer[tail&q.mask].Store(v)
			return true
		}
	}
}

// pop removes the oldest value, or returns nil if the queue is empty or the
// producer that owns the head slot has not published yet.
// NOT safe for concurrent consumers.
func (q *mpscQueue[T]) pop() *T {
	head := q.head.Load()
	tail := q.tail.Load()

	if head >= tail {
		return nil
	}

	slot := &q.buffer[head&q.mask]
	v := slot.Load()
	if v == nil {
		// claimed but not yet stored; the consumer retries later
		return nil
	}

	// clear the slot before releasing it to producers
	slot.Store(nil)
	q.head.Store(head + 1)

	return v
}

// len returns the approximate number of queued values.
func (q *mpscQueue[T]) len() int {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// isEmpty returns true if the queue appears empty
func (q *mpscQueue[T]) isEmpty() bool {
	return q.len() == 0
}

// capacity returns the maximum number of values the queue can hold.
func (q *mpscQueue[T]) capacity() int {
	return int(q.size) - 1
}
