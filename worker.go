package fiberjobs

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/tahsin716/fiberjobs/internal/coro"
)

// WorkerState represents the current state of a worker
type WorkerState int32

const (
	StateRunning WorkerState = iota
	StateSpinning
	StateParked
	StateShutdown
	// StateIdle is worker 0 outside Main and drain.
	StateIdle
)

// String returns the state name as reported in WorkerStats.
func (s WorkerState) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateSpinning:
		return "SPINNING"
	case StateParked:
		return "PARKED"
	case StateShutdown:
		return "SHUTDOWN"
	case StateIdle:
		return "IDLE"
	default:
		return "UNKNOWN"
	}
}

// worker is one dispatch loop. Worker 0 is the main worker: it only runs
// while a goroutine is inside Scheduler.Main (or a Shutdown drives it) and is
// the only worker that runs main-thread tasks.
type worker struct {
	id    int
	sched *Scheduler

	// native is the context of whichever goroutine runs this worker's loop;
	// fibers switch back to it.
	native *coro.Coro
	// self is handed to main-thread tasks, which run on native.
	self *Fiber

	// Woken fibers, pushed by tasks running on this worker and stolen by
	// others.
	ready *chaseLevDeque[Fiber]

	// held are dequeued tasks waiting for a free fiber, one slot per class.
	held      [numFiberClasses]*job
	heldTasks atomic.Int32

	state  atomic.Int32 // WorkerState
	wakeCh chan struct{}
	timer  *time.Timer

	// Stealing metadata
	seed uint32 // XorShift PRNG seed

	// Metrics
	executed   atomic.Uint64
	resumed    atomic.Uint64
	stolen     atomic.Uint64
	mainTasks  atomic.Uint64
	lastActive atomic.Int64 // unix nano timestamp
}

func newWorker(id int, s *Scheduler) *worker {
	w := &worker{
		id:     id,
		sched:  s,
		native: coro.Native(),
		ready:  newChaseLevDeque[Fiber](minDequeCapacity),
		wakeCh: make(chan struct{}, 1),
		timer:  time.NewTimer(time.Hour),
		seed:   uint32(time.Now().UnixNano() + int64(id)*1000),
	}
	w.timer.Stop()
	w.self = newNativeFiber(s, w)
	if id == 0 {
		w.state.Store(int32(StateIdle))
	} else {
		w.state.Store(int32(StateRunning))
	}
	w.lastActive.Store(time.Now().UnixNano())
	return w
}

// run is the loop of workers 1..N-1.
func (w *worker) run() {
	w.enter()
	defer w.leave()

	spins := 0
	for !w.sched.stopped() {
		if w.step() {
			spins = 0
			continue
		}
		w.idle(&spins, nil)
	}
}

// drive runs the loop on the calling goroutine until done reports true. It
// is how worker 0 runs, inside Main or a draining Shutdown.
func (w *worker) drive(ctx context.Context, done func() bool) bool {
	spins := 0
	for !done() {
		if w.sched.stopped() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if w.step() {
			spins = 0
			continue
		}
		w.idle(&spins, ctx.Done())
	}
	return true
}

func (w *worker) enter() {
	w.state.Store(int32(StateRunning))
	if h := w.sched.config.OnWorkerStart; h != nil {
		h(w.id)
	}
	w.sched.logger.Debug().
		Str("scheduler", w.sched.id).
		Int("worker", w.id).
		Log("worker started")
}

func (w *worker) leave() {
	// a task held by worker 0 would otherwise sit until the next Main
	for c, j := range w.held {
		if j != nil {
			w.setHeld(FiberClass(c), nil)
			w.sched.requeue(j)
		}
	}
	if w.id == 0 && !w.sched.stopped() {
		w.state.Store(int32(StateIdle))
	} else {
		w.state.Store(int32(StateShutdown))
	}
	if h := w.sched.config.OnWorkerStop; h != nil {
		h(w.id)
	}
	w.sched.logger.Debug().
		Str("scheduler", w.sched.id).
		Int("worker", w.id).
		Uint64("executed", w.executed.Load()).
		Log("worker stopped")
}

// step performs one unit of dispatch and reports whether it did anything.
func (w *worker) step() bool {
	s := w.sched

	if w.id == 0 {
		if j := s.mainLane.pop(); j != nil {
			w.runNative(j)
			return true
		}
	}

	if f := w.findReady(); f != nil {
		w.resumed.Add(1)
		w.switchInto(f)
		return true
	}

	// a held task runs as soon as its class has a fiber again, unless a
	// higher priority task of the same class arrived meanwhile
	for c, h := range w.held {
		if h == nil {
			continue
		}
		f := s.acquireFiber(FiberClass(c))
		if f == nil {
			continue
		}
		j := w.dequeueAbove(FiberClass(c), h.priority)
		if j == nil {
			w.setHeld(FiberClass(c), nil)
			j = h
		}
		w.runJob(f, j)
		return true
	}

	// classes with a held task are skipped; the others keep draining
	for p := range s.lanes {
		for c, lane := range s.lanes[p] {
			if w.held[c] != nil {
				continue
			}
			j, ok := lane.tryDequeue()
			if !ok {
				continue
			}
			if f := s.acquireFiber(FiberClass(c)); f != nil {
				w.runJob(f, j)
				return true
			}
			w.hold(j)
		}
	}
	return false
}

func (w *worker) runJob(f *Fiber, j *job) {
	f.job = j
	w.switchInto(f)
}

// hold parks j in its class slot until a fiber of that class is free.
func (w *worker) hold(j *job) {
	s := w.sched
	w.setHeld(j.task.class(), j)
	s.stats.holds.Add(1)
	s.logger.Debug().
		Str("scheduler", s.id).
		Int("worker", w.id).
		Str("class", j.task.class().String()).
		Str("priority", j.priority.String()).
		Log("no free fiber, holding task")
}

func (w *worker) setHeld(c FiberClass, j *job) {
	w.held[c] = j
	if j != nil {
		w.heldTasks.Add(1)
		w.sched.holding.Add(1)
	} else {
		w.heldTasks.Add(-1)
		w.sched.holding.Add(-1)
	}
}

// dequeueAbove takes the head of the highest non-empty lane of class c with
// priority above p.
func (w *worker) dequeueAbove(c FiberClass, p Priority) *job {
	for q := High; q < p; q++ {
		if j, ok := w.sched.lanes[q][c].tryDequeue(); ok {
			return j
		}
	}
	return nil
}

// findReady looks for a woken fiber: own deque, shared queue, then others.
func (w *worker) findReady() *Fiber {
	if f := w.ready.pop(); f != nil {
		return f
	}
	if f, ok := w.sched.ready.tryDequeue(); ok {
		return f
	}
	return w.trySteal()
}

// trySteal attempts to take a woken fiber from a random victim's deque
func (w *worker) trySteal() *Fiber {
	const maxStealAttempts = 8
	workers := w.sched.workers
	if len(workers) <= 1 {
		return nil
	}

	for attempts := 0; attempts < maxStealAttempts; attempts++ {
		victimID := w.randomVictim()
		if victimID == w.id {
			continue
		}
		if f := workers[victimID].ready.steal(); f != nil {
			w.stolen.Add(1)
			w.sched.stats.steals.Add(1)
			return f
		}
	}
	return nil
}

// randomVictim selects a random worker using XorShift PRNG
func (w *worker) randomVictim() int {
	w.seed ^= w.seed << 13
	w.seed ^= w.seed >> 17
	w.seed ^= w.seed << 5
	return int(w.seed % uint32(len(w.sched.workers)))
}

// switchInto runs f until it finishes its task or parks.
func (w *worker) switchInto(f *Fiber) {
	w.lastActive.Store(time.Now().UnixNano())
	res := w.native.SwitchTo(f.co, w).(switchResult)
	if res == resultDone {
		w.sched.releaseFiber(f)
	}
}

// runNative runs a main-thread task on the worker's own goroutine.
func (w *worker) runNative(j *job) {
	w.lastActive.Store(time.Now().UnixNano())
	w.mainTasks.Add(1)
	w.sched.execute(w.self, j)
}

// idle spins for SpinCount rounds, then parks.
func (w *worker) idle(spins *int, done <-chan struct{}) {
	if *spins < w.sched.config.SpinCount {
		*spins++
		w.state.Store(int32(StateSpinning))
		runtime.Gosched()
		return
	}
	*spins = 0
	w.park(done)
}

// park sleeps until signalled, MaxParkTime passes, or done closes.
func (w *worker) park(done <-chan struct{}) {
	s := w.sched
	s.parked.Add(1)
	w.state.Store(int32(StateParked))

	// re-check after publishing the parked state; submitters check the
	// state after publishing work, so one side always sees the other
	if !w.hasWork() && !s.stopped() {
		w.timer.Reset(s.config.MaxParkTime)
		select {
		case <-w.wakeCh:
		case <-w.timer.C:
		case <-done:
		}
		w.timer.Stop()
	}

	w.state.Store(int32(StateRunning))
	s.parked.Add(-1)
}

// signal wakes up the worker if it is parked
func (w *worker) signal() bool {
	select {
	case w.wakeCh <- struct{}{}:
		return true
	default:
		return false
	}
}

func (w *worker) hasWork() bool {
	s := w.sched
	if !w.ready.isEmpty() || !s.ready.isEmpty() {
		return true
	}
	if w.id == 0 && !s.mainLane.isEmpty() {
		return true
	}
	for c, h := range w.held {
		if h != nil {
			// the class's lanes wait until the held task gets a fiber
			if s.hasFreeFiber(FiberClass(c)) {
				return true
			}
			continue
		}
		for p := range s.lanes {
			if !s.lanes[p][c].isEmpty() {
				return true
			}
		}
	}
	for _, o := range s.workers {
		if o != w && !o.ready.isEmpty() {
			return true
		}
	}
	return false
}

func (w *worker) getState() WorkerState {
	return WorkerState(w.state.Load())
}
