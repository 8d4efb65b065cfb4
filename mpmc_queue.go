package fiberjobs

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// mpmcSlot is one cell of the ring. sequence tells producers and consumers
// whose turn it is: seq == pos means free for the producer at pos,
// seq == pos+1 means filled for the consumer at pos.
type mpmcSlot[T any] struct {
	sequence atomic.Uint64
	value    T
	_        cpu.CacheLinePad
}

// mpmcQueue is a bounded, lock-free, multi-producer multi-consumer ring
// (Vyukov). It backs the priority lanes and the global ready-fiber queue.
type mpmcQueue[T any] struct {
	_ cpu.CacheLinePad

	// head is the consumer index, advanced via CAS
	head atomic.Uint64

	_ cpu.CacheLinePad

	// tail is the producer index, advanced via CAS
	tail atomic.Uint64

	_ cpu.CacheLinePad

	ring []mpmcSlot[T]
	mask uint64
}

// newMPMCQueue creates a queue. Capacity must be a power of two.
func newMPMCQueue[T any](capacity int) *mpmcQueue[T] {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("capacity must be a power of two and > 0")
	}

	q := &mpmcQueue[T]{
		ring: make([]mpmcSlot[T], capacity),
		mask: uint64(capacity - 1),
	}
	for i := range q.ring {
		q.ring[i].sequence.Store(uint64(i))
	}
	return q
}

// tryEnqueue adds v, returning false if the queue is full.
func (q *mpmcQueue[T]) tryEnqueue(v T) bool {
	spins := 0
	for {
		pos := q.tail.Load()
		slot := &q.ring[pos&q.mask]
		seq := slot.sequence.Load()
		diff := int64(seq) - int64(pos)

		switch {
		case diff == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				slot.value = v
				slot.sequence.Store(pos + 1)
				return true
			}
		case diff < 0:
			// the consumer has not released this slot yet
			return false
		}

		// another producer claimed pos first
		spins++
		if spins%16 == 0 {
			runtime.Gosched()
		}
	}
}

// tryDequeue removes the oldest visible value.
func (q *mpmcQueue[T]) tryDequeue() (T, bool) {
	var zero T
	spins := 0
	for {
		pos := q.head.Load()
		slot := &q.ring[pos&q.mask]
		seq := slot.sequence.Load()
		diff := int64(seq) - int64(pos+1)

		switch {
		case diff == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				v := slot.value
				slot.value = zero
				// hand the slot to the producer one lap ahead
				slot.sequence.Store(pos + q.mask + 1)
				return v, true
			}
		case diff < 0:
			return zero, false
		}

		spins++
		if spins%16 == 0 {
			runtime.Gosched()
		}
	}
}

// size returns the approximate number of queued values.
func (q *mpmcQueue[T]) size() int {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// isEmpty reports whether the queue appears empty.
func (q *mpmcQueue[T]) isEmpty() bool {
	return q.size() == 0
}

// capacity returns the ring size.
func (q *mpmcQueue[T]) capacity() int {
	return len(q.ring)
}
