package fiberjobs

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/tahsin716/fiberjobs/internal/coro"
)

// FiberClass selects the pool a task's fiber is taken from.
type FiberClass uint8

const (
	// Leaf fibers run tasks that never wait.
	Leaf FiberClass = iota
	// General fibers run tasks that may wait.
	General
	// classNative is the pseudo-fiber a worker hands to main-thread tasks.
	classNative

	numFiberClasses = 2
)

// String returns the class name.
func (c FiberClass) String() string {
	switch c {
	case Leaf:
		return "leaf"
	case General:
		return "general"
	case classNative:
		return "native"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// fiber states
const (
	fiberFree uint32 = iota
	fiberRunning
	fiberParked
)

// switchResult is what a fiber hands back to the worker that ran it.
type switchResult uint8

const (
	resultDone switchResult = iota
	resultParked
)

// Fiber is the execution context a task body runs on. Task bodies receive
// their fiber and use it to wait on counters and to submit more work.
//
// A Fiber is owned by the scheduler. It must not be retained after the task
// body returns.
type Fiber struct {
	id    int
	class FiberClass
	sched *Scheduler
	co    *coro.Coro

	busy  atomic.Bool
	state atomic.Uint32

	// worker is the worker currently running the fiber. It is written only by
	// the fiber's own goroutine, from the value each switch delivers.
	worker *worker
	// job is set by the worker before it switches a free fiber in.
	job *job
}

func newFiber(s *Scheduler, id int, class FiberClass, stackSize int) *Fiber {
	f := &Fiber{id: id, class: class, sched: s}
	f.co = coro.New(f.main, stackSize)
	return f
}

// newNativeFiber returns the pseudo-fiber a worker uses for tasks it runs on
// its own goroutine.
func newNativeFiber(s *Scheduler, w *worker) *Fiber {
	f := &Fiber{id: -1, class: classNative, sched: s, worker: w}
	f.state.Store(fiberRunning)
	return f
}

// main is the body of the fiber's goroutine: run the job it was handed,
// report done, repeat. It never returns; Destroy ends it while suspended.
func (f *Fiber) main(_ *coro.Coro, arg any) any {
	for {
		f.worker = arg.(*worker)
		j := f.job
		f.job = nil
		f.sched.execute(f, j)
		arg = f.co.SwitchTo(f.worker.native, resultDone)
	}
}

// Wait suspends the calling task until c's value is <= target. The worker
// that was running the task goes on with other work meanwhile; the task may
// continue on a different worker.
//
// Wait returns immediately if the value already satisfies target. It panics
// with ErrWaitInLeafFiber on a leaf fiber, with ErrWaitOutsideFiber for
// main-thread tasks and with ErrInvalidWaitTarget if target < 0.
func (f *Fiber) Wait(c *Counter, target int64) {
	switch f.class {
	case Leaf:
		panic(ErrWaitInLeafFiber)
	case classNative:
		panic(ErrWaitOutsideFiber)
	}
	if target < 0 {
		panic(ErrInvalidWaitTarget)
	}

	if c.Value() <= target {
		return
	}

	w := &waiter{fiber: f, target: target}
	f.state.Store(fiberParked)
	if !c.register(w) {
		f.state.Store(fiberRunning)
		return
	}

	f.sched.stats.fiberParks.Add(1)
	start := time.Now()
	arg := f.co.SwitchTo(f.worker.native, resultParked)
	f.worker = arg.(*worker)
	f.sched.recordWait(time.Since(start))
}

// WaitAndRelease waits for c to reach zero, then releases the handle.
func (f *Fiber) WaitAndRelease(c *Counter) {
	f.Wait(c, 0)
	c.Release()
}

// WorkerID returns the index of the worker currently running the task. It
// can change across a Wait.
func (f *Fiber) WorkerID() int {
	return f.worker.id
}

// Scheduler returns the scheduler the fiber belongs to.
func (f *Fiber) Scheduler() *Scheduler {
	return f.sched
}

// ID returns the fiber's index within its class, -1 for the main-thread
// pseudo-fiber.
func (f *Fiber) ID() int {
	return f.id
}

// Class returns the fiber class.
func (f *Fiber) Class() FiberClass {
	return f.class
}

// Run submits t from inside a task. Unlike Scheduler.Run it is accepted while
// the scheduler drains, so running tasks can finish their fan-out.
func (f *Fiber) Run(p Priority, t Task) (*Counter, error) {
	return f.sched.submit(p, []Task{t}, true, nil)
}

// RunBatch submits tasks from inside a task; see Run.
func (f *Fiber) RunBatch(p Priority, tasks ...Task) (*Counter, error) {
	return f.sched.submit(p, tasks, true, nil)
}

// resume marks a parked fiber runnable and queues it. Woken fibers go to the
// deque of the worker doing the waking when there is one, otherwise to the
// shared ready queue.
func (s *Scheduler) resume(f *Fiber, from *worker) {
	if !f.state.CompareAndSwap(fiberParked, fiberRunning) {
		panic(ErrFiberNotParked)
	}
	s.stats.fiberResumes.Add(1)

	if from != nil {
		from.ready.push(f)
		s.notify(1)
		return
	}
	for !s.ready.tryEnqueue(f) {
		// the ready queue holds every general fiber; this only spins while a
		// consumer is mid-dequeue
		yield()
	}
	s.notify(1)
}

// execute runs a job on f and settles its counter. A panicking body is
// recovered; its counter is decremented all the same.
func (s *Scheduler) execute(f *Fiber, j *job) {
	start := time.Now()
	s.recordQueueWait(start.Sub(j.queuedAt))

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.handlePanic(f, r, debug.Stack())
			}
		}()
		j.run(f)
	}()

	s.recordLatency(time.Since(start))
	f.worker.executed.Add(1)

	c, onDone := j.counter, j.onDone
	j.recycle()

	c.decrement(1, f.worker)
	c.Release()
	s.stats.completed.Add(1)
	s.pending.Add(-1)
	if onDone != nil {
		onDone()
	}
}

func (s *Scheduler) handlePanic(f *Fiber, r any, stack []byte) {
	s.stats.panicked.Add(1)
	s.logger.Err().
		Str("scheduler", s.id).
		Int("worker", f.worker.id).
		Str("fiber_class", f.class.String()).
		Int("fiber", f.id).
		Interface("panic", r).
		Str("stack", string(stack)).
		Log("task panicked")
	if h := s.config.PanicHandler; h != nil {
		h(r)
	}
}

func (s *Scheduler) pool(c FiberClass) []*Fiber {
	if c == Leaf {
		return s.leaf
	}
	return s.general
}

// acquireFiber checks out a free fiber of class c.
func (s *Scheduler) acquireFiber(c FiberClass) *Fiber {
	for _, f := range s.pool(c) {
		if f.busy.CompareAndSwap(false, true) {
			f.state.Store(fiberRunning)
			return f
		}
	}
	return nil
}

func (s *Scheduler) hasFreeFiber(c FiberClass) bool {
	for _, f := range s.pool(c) {
		if !f.busy.Load() {
			return true
		}
	}
	return false
}

// releaseFiber returns a fiber whose task finished to its pool.
func (s *Scheduler) releaseFiber(f *Fiber) {
	f.state.Store(fiberFree)
	f.busy.Store(false)
	if s.holding.Load() > 0 {
		s.notify(len(s.workers))
	}
}
