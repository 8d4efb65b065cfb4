package fiberjobs

import (
	"math"
	"sync/atomic"
)

// Counter is an atomic completion count that fibers can wait on.
//
// The scheduler creates one per submission, set to the number of tasks; each
// finished task decrements it by one. A fiber calling Fiber.Wait(c, target)
// parks until the value is <= target, without blocking the worker it ran on.
//
// Counters returned by the scheduler are reference counted: the handle holds
// one reference and every task of the batch holds one. Release drops the
// handle's reference once the caller is done waiting; the counter is recycled
// after the last reference goes. Never calling Release is safe; the counter
// is then left to the garbage collector.
type Counter struct {
	value   atomic.Int64
	refs    atomic.Int32
	waiters atomic.Pointer[waiter]
	sched   *Scheduler
}

// waiter is a parked fiber registered on a counter. Whoever wins the CAS on
// claimed (the fiber itself, re-checking, or a decrementer) owns the wake.
type waiter struct {
	fiber   *Fiber
	target  int64
	claimed atomic.Bool
	next    *waiter
}

// NewCounter returns a free-standing counter set to initial. It is not tied
// to a scheduler; Release is a no-op beyond bookkeeping.
func NewCounter(initial int64) *Counter {
	if initial < 0 {
		panic(ErrCounterUnderflow)
	}
	c := &Counter{}
	c.value.Store(initial)
	c.refs.Store(1)
	return c
}

// Value returns the current value.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Decrement atomically subtracts n and returns the previous value, waking
// every fiber whose target the new value satisfies. Fibers woken this way are
// queued on the scheduler's shared ready queue.
//
// The value never goes below zero: a decrement that would do so panics with
// ErrCounterUnderflow and leaves the value unchanged. A negative n panics
// with ErrNegativeDecrement; use Add to raise the value.
func (c *Counter) Decrement(n int64) int64 {
	return c.decrement(n, nil)
}

// Add raises the value by n. It is meant for producers re-arming a counter
// before anyone waits on it; raising a counter that has waiters does not
// un-wake fibers already resumed.
func (c *Counter) Add(n int64) {
	if n < 0 {
		c.decrement(-n, nil)
		return
	}
	c.value.Add(n)
}

// Release drops one reference. After the caller's Release the handle must
// not be used again.
func (c *Counter) Release() {
	refs := c.refs.Add(-1)
	if refs < 0 {
		panic("fiberjobs: counter released too many times")
	}
	if refs == 0 && c.sched != nil {
		c.sched.recycleCounter(c)
	}
}

func (c *Counter) retain(n int32) {
	c.refs.Add(n)
}

// decrement is Decrement with the worker the caller runs on, so that woken
// fibers go to that worker's deque.
func (c *Counter) decrement(n int64, from *worker) int64 {
	if n < 0 {
		panic(ErrNegativeDecrement)
	}
	for {
		prev := c.value.Load()
		next := prev - n
		if next < 0 {
			panic(ErrCounterUnderflow)
		}
		if c.value.CompareAndSwap(prev, next) {
			if c.waiters.Load() != nil {
				c.wake(from)
			}
			return prev
		}
	}
}

// register publishes w and re-checks the value. It reports whether the
// caller must park: false means the caller claimed its own waiter because
// the value already satisfies the target.
func (c *Counter) register(w *waiter) bool {
	c.push(w, w)
	if c.value.Load() <= w.target && w.claimed.CompareAndSwap(false, true) {
		return false
	}
	return true
}

// push links the chain head..tail in front of the current stack.
func (c *Counter) push(head, tail *waiter) {
	for {
		old := c.waiters.Load()
		tail.next = old
		if c.waiters.CompareAndSwap(old, head) {
			return
		}
	}
}

// wake detaches the waiter stack, resumes every satisfied waiter it can
// claim, and puts the rest back. A decrement that lands while the stack is
// detached sees an empty stack and skips waking, so after putting waiters
// back the value is read again and the pass repeats if any of them became
// satisfied in the meantime.
func (c *Counter) wake(from *worker) {
	for {
		list := c.waiters.Swap(nil)
		if list == nil {
			return
		}

		value := c.value.Load()
		var keepHead, keepTail *waiter
		minTarget := int64(math.MaxInt64)

		for w := list; w != nil; {
			next := w.next
			switch {
			case w.claimed.Load():
				// self-claimed or already woken; drop it
			case value <= w.target:
				if w.claimed.CompareAndSwap(false, true) {
					w.fiber.sched.resume(w.fiber, from)
				}
			default:
				w.next = keepHead
				keepHead = w
				if keepTail == nil {
					keepTail = w
				}
				if w.target < minTarget {
					minTarget = w.target
				}
			}
			w = next
		}

		if keepHead == nil {
			return
		}
		c.push(keepHead, keepTail)

		if c.value.Load() > minTarget {
			return
		}
	}
}

// reset prepares a recycled counter.
func (c *Counter) reset(value int64, refs int32) {
	c.value.Store(value)
	c.refs.Store(refs)
	c.waiters.Store(nil)
}
