package fiberjobs

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// chaseLevDeque is a lock-free work-stealing deque.
//
// Properties:
// - Owner can push/pop at bottom (LIFO - most recently woken first)
// - Thieves steal from top (FIFO - oldest first)
// - Dynamically resizable
//
// Each worker owns one, holding fibers woken while that worker was running
// the waking code. "Owner" means whoever currently executes on behalf of the
// worker: its loop, or a fiber it switched into. Switching hands ownership
// over with a happens-before edge, so only one of them touches the bottom
// end at any time.
type chaseLevDeque[T any] struct {
	_ cpu.CacheLinePad

	// top is the steal end (incremented by thieves via CAS)
	top atomic.Int64

	_ cpu.CacheLinePad

	// bottom is the owner end (modified only by owner)
	bottom atomic.Int64

	_ cpu.CacheLinePad

	array atomic.Pointer[circularArray[T]]
}

// circularArray is the underlying storage for the deque.
// Replaced, never shrunk in place, when the deque grows.
type circularArray[T any] struct {
	capacity int64
	buffer   []atomic.Pointer[T]
}

const minDequeCapacity = 16

func newChaseLevDeque[T any](initialCapacity int64) *chaseLevDeque[T] {
	if initialCapacity < minDequeCapacity {
		initialCapacity = minDequeCapacity
	}
	d := &chaseLevDeque[T]{}
	d.array.Store(newCircularArray[T](initialCapacity))
	return d
}

func newCircularArray[T any](capacity int64) *circularArray[T] {
	return &circularArray[T]{
		capacity: capacity,
		buffer:   make([]atomic.Pointer[T], capacity),
	}
}

func (a *circularArray[T]) get(index int64) *T {
	return a.buffer[index%a.capacity].Load()
}

func (a *circularArray[T]) put(index int64, v *T) {
	a.buffer[index%a.capacity].Store(v)
}

// push adds v at the bottom. Owner only.
func (d *chaseLevDeque[T]) push(v *T) {
	if v == nil {
		return
	}

	bottom := d.bottom.Load()
	top := d.top.Load()
	array := d.array.Load()

	// leave one slot empty to avoid ambiguity
	if bottom-top >= array.capacity-1 {
		array = d.grow(bottom, top, array)
		d.array.Store(array)
	}

	array.put(bottom, v)

	// publishing bottom makes the slot visible to thieves
	d.bottom.Store(bottom + 1)
}

// pop removes from the bottom. Owner only.
//
// The last element races with steal; the CAS on top decides the winner.
func (d *chaseLevDeque[T]) pop() *T {
	bottom := d.bottom.Load() - 1
	array := d.array.Load()
	d.bottom.Store(bottom)

	top := d.top.Load()

	if top > bottom {
		// empty
		d.bottom.Store(bottom + 1)
		return nil
	}

	v := array.get(bottom)

	if top == bottom {
		if !d.top.CompareAndSwap(top, top+1) {
			// a thief took the last element
			v = nil
		}
		d.bottom.Store(bottom + 1)
	}

	return v
}

// steal removes from the top. Safe for concurrent thieves.
// Returns nil if empty or if the race for the element was lost.
func (d *chaseLevDeque[T]) steal() *T {
	top := d.top.Load()
	bottom := d.bottom.Load()

	if top >= bottom {
		return nil
	}

	array := d.array.Load()
	v := array.get(top)

	if !d.top.CompareAndSwap(top, top+1) {
		return nil
	}
	return v
}

// grow copies the live range into an array twice the size.
func (d *chaseLevDeque[T]) grow(bottom, top int64, old *circularArray[T]) *circularArray[T] {
	next := newCircularArray[T](old.capacity * 2)
	for i := top; i < bottom; i++ {
		next.put(i, old.get(i))
	}
	return next
}

// size returns an estimate of the current size.
func (d *chaseLevDeque[T]) size() int64 {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return n
}

// isEmpty returns true if the deque appears empty.
func (d *chaseLevDeque[T]) isEmpty() bool {
	return d.size() == 0
}

// capacity returns the current capacity.
func (d *chaseLevDeque[T]) capacity() int64 {
	return d.array.Load().capacity
}
