package fiberjobs

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/logiface"
)

// schedulerState represents scheduler lifecycle states
type schedulerState uint32

const (
	stateRunning schedulerState = iota
	stateDraining
	stateStopped
)

// Scheduler runs tasks on a fixed set of workers. Tasks run on pooled fibers
// and may wait on counters without blocking the worker running them.
type Scheduler struct {
	config Config
	id     string
	logger *logiface.Logger[logiface.Event]

	workers []*worker
	leaf    []*Fiber
	general []*Fiber

	// lanes holds one queue per priority and fiber class, so a class whose
	// fibers are exhausted never blocks the other
	lanes    [numPriorities][numFiberClasses]*mpmcQueue[*job]
	mainLane *mpscQueue[job]
	ready    *mpmcQueue[*Fiber]

	counters sync.Pool

	// Lifecycle management
	state      atomic.Uint32 // schedulerState
	mainActive atomic.Bool
	wg         sync.WaitGroup
	done       chan struct{}

	// pending counts submitted tasks that have not finished
	pending atomic.Int64
	// parked counts workers in park
	parked atomic.Int32
	// holding counts workers holding a task for lack of a fiber
	holding atomic.Int32

	stats schedulerMetrics
}

// New creates a scheduler and starts workers 1..N-1. Worker 0 runs on the
// goroutine that calls Main.
//
// Example:
//
//	s, err := fiberjobs.New(
//	    fiberjobs.WithNumWorkers(4),
//	    fiberjobs.WithGeneralFibers(256),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Shutdown(context.Background())
func New(opts ...Option) (*Scheduler, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.resolveWorkers()

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, errStartup("scheduler id", err)
	}

	s := &Scheduler{
		config:   cfg,
		id:       id.String(),
		logger:   cfg.Logger,
		mainLane: newMPSCQueue[job](cfg.QueueCapacity),
		ready:    newMPMCQueue[*Fiber](max(nextPowerOfTwo(cfg.GeneralFibers), 2)),
		done:     make(chan struct{}),
	}
	for p := range s.lanes {
		for c := range s.lanes[p] {
			s.lanes[p][c] = newMPMCQueue[*job](cfg.QueueCapacity)
		}
	}
	s.counters.New = func() any { return &Counter{sched: s} }

	s.leaf = make([]*Fiber, cfg.LeafFibers)
	for i := range s.leaf {
		s.leaf[i] = newFiber(s, i, Leaf, cfg.LeafStackSize)
	}
	s.general = make([]*Fiber, cfg.GeneralFibers)
	for i := range s.general {
		s.general[i] = newFiber(s, i, General, cfg.GeneralStackSize)
	}

	s.workers = make([]*worker, cfg.NumWorkers)
	for i := range s.workers {
		s.workers[i] = newWorker(i, s)
	}
	s.state.Store(uint32(stateRunning))

	for _, w := range s.workers[1:] {
		s.wg.Add(1)
		go func(wk *worker) {
			defer s.wg.Done()
			wk.run()
		}(w)
	}

	s.logger.Info().
		Str("scheduler", s.id).
		Int("workers", cfg.NumWorkers).
		Int("leaf_fibers", cfg.LeafFibers).
		Int("general_fibers", cfg.GeneralFibers).
		Int("queue_capacity", cfg.QueueCapacity).
		Str("overflow", cfg.OverflowStrategy.String()).
		Log("scheduler started")

	return s, nil
}

// Run submits one task and returns a counter that reaches zero once the task
// has finished.
//
// Returns ErrNilTask, ErrInvalidPriority, ErrSchedulerShutdown, or, with the
// ReturnError strategy, ErrQueueFull.
func (s *Scheduler) Run(p Priority, t Task) (*Counter, error) {
	return s.submit(p, []Task{t}, false, nil)
}

// RunBatch submits tasks as one unit. The returned counter starts at
// len(tasks) and reaches zero once all of them have finished.
//
// With the ReturnError strategy a batch can be partially accepted: the error
// wraps ErrQueueFull and the counter, if non-nil, tracks only the tasks that
// were enqueued.
//
// Example:
//
//	c, err := s.RunBatch(fiberjobs.Mid, tasks...)
//	if err != nil {
//	    return err
//	}
//	f.WaitAndRelease(c)
func (s *Scheduler) RunBatch(p Priority, tasks ...Task) (*Counter, error) {
	return s.submit(p, tasks, false, nil)
}

// RunOnMainThread submits a task that runs on the goroutine inside Main,
// between dispatch rounds of worker 0. Such tasks must not call Wait.
//
// If no Main is running when Shutdown drains, pending main-thread tasks run
// on the goroutine that called Shutdown instead, locked to its OS thread for
// the drain when LockMainThread is set.
func (s *Scheduler) RunOnMainThread(t Task) (*Counter, error) {
	return s.submitMain(t)
}

// Main turns the calling goroutine into worker 0 and runs the dispatch loop
// until t has finished, ctx is done, or the scheduler stops. With
// LockMainThread the goroutine is locked to its OS thread for the duration,
// so main-thread tasks always see the same thread.
//
// Only one Main runs at a time; a second concurrent call returns
// ErrMainRunning.
func (s *Scheduler) Main(ctx context.Context, t Task) error {
	if t.IsNil() {
		return ErrNilTask
	}
	if !s.mainActive.CompareAndSwap(false, true) {
		return ErrMainRunning
	}
	defer s.mainActive.Store(false)

	if s.config.LockMainThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	w := s.workers[0]
	c, err := s.submit(High, []Task{t}, false, func() { w.signal() })
	if err != nil {
		return err
	}
	defer c.Release()

	w.enter()
	defer w.leave()

	if w.drive(ctx, func() bool { return c.Value() == 0 }) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrSchedulerShutdown
}

// Shutdown stops accepting tasks, waits for queued and suspended work to
// finish, stops the workers and destroys the fibers. Tasks are never
// cancelled; running tasks may still submit through their Fiber while the
// scheduler drains.
//
// If ctx ends before the work drains, the workers are stopped anyway, the
// remaining tasks are abandoned and ctx's error is returned. Multiple calls
// are safe. Shutdown must not be called from inside a task.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if !s.state.CompareAndSwap(uint32(stateRunning), uint32(stateDraining)) {
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.logger.Info().
		Str("scheduler", s.id).
		Int64("pending", s.pending.Load()).
		Log("scheduler draining")

	err := s.drain(ctx)

	s.state.Store(uint32(stateStopped))
	for _, w := range s.workers {
		w.signal()
	}
	s.wg.Wait()
	for s.mainActive.Load() {
		s.workers[0].signal()
		time.Sleep(time.Millisecond)
	}
	for _, w := range s.workers {
		w.state.Store(int32(StateShutdown))
	}

	for _, f := range s.leaf {
		f.co.Destroy()
	}
	for _, f := range s.general {
		f.co.Destroy()
	}
	close(s.done)

	if err != nil {
		s.logger.Warning().
			Str("scheduler", s.id).
			Int64("abandoned", s.pending.Load()).
			Err(err).
			Log("scheduler stopped before work drained")
		return err
	}
	s.logger.Info().
		Str("scheduler", s.id).
		Uint64("completed", s.stats.completed.Load()).
		Log("scheduler stopped")
	return nil
}

// drain runs until no submitted task is pending. Worker 0 is driven here
// when no Main is active, so main-thread tasks and a single-worker scheduler
// still make progress.
func (s *Scheduler) drain(ctx context.Context) error {
	ticker := time.NewTicker(s.config.MaxParkTime)
	defer ticker.Stop()

	idle := func() bool { return s.pending.Load() == 0 }
	for !idle() {
		if s.mainActive.CompareAndSwap(false, true) {
			return s.driveMain(ctx, idle)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// driveMain runs worker 0 on the calling goroutine until idle reports true.
// The caller must have claimed mainActive.
func (s *Scheduler) driveMain(ctx context.Context, idle func() bool) error {
	defer s.mainActive.Store(false)
	if s.config.LockMainThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	w := s.workers[0]
	w.enter()
	ok := w.drive(ctx, idle)
	w.leave()
	if !ok {
		return ctx.Err()
	}
	return nil
}

// NumWorkers returns the number of workers, including the main worker.
func (s *Scheduler) NumWorkers() int {
	return len(s.workers)
}

// IsShutdown reports whether Shutdown has been called.
func (s *Scheduler) IsShutdown() bool {
	return schedulerState(s.state.Load()) != stateRunning
}

// ID returns the scheduler's unique identifier.
func (s *Scheduler) ID() string {
	return s.id
}

func (s *Scheduler) stopped() bool {
	return schedulerState(s.state.Load()) == stateStopped
}

// accepting reports whether submission is allowed. Submissions from running
// tasks are still accepted while draining.
func (s *Scheduler) accepting(internal bool) bool {
	switch schedulerState(s.state.Load()) {
	case stateRunning:
		return true
	case stateDraining:
		return internal
	default:
		return false
	}
}

func (s *Scheduler) validate(p Priority, tasks []Task) error {
	if !p.valid() {
		return ErrInvalidPriority
	}
	if len(tasks) == 0 {
		return ErrEmptyBatch
	}
	for _, t := range tasks {
		if t.IsNil() {
			return ErrNilTask
		}
	}
	return nil
}

// submit enqueues tasks on the lanes of priority p under one counter. onDone, if set, runs
// after each task's counter decrement.
func (s *Scheduler) submit(p Priority, tasks []Task, internal bool, onDone func()) (*Counter, error) {
	if err := s.validate(p, tasks); err != nil {
		return nil, err
	}

	k := len(tasks)
	// pending is raised before the state check so a concurrent drain sees
	// either the tasks or the rejection
	s.pending.Add(int64(k))
	if !s.accepting(internal) {
		s.pending.Add(-int64(k))
		return nil, ErrSchedulerShutdown
	}

	c := s.newCounter(k)
	s.stats.submitted.Add(uint64(k))

	for i, t := range tasks {
		j := newJob(t, c, p, onDone)
		if err := s.enqueue(s.lanes[p][t.class()], j); err != nil {
			j.recycle()
			s.notify(i)
			return s.reject(c, i, k, err)
		}
	}
	s.notify(k)
	return c, nil
}

func (s *Scheduler) submitMain(t Task) (*Counter, error) {
	if t.IsNil() {
		return nil, ErrNilTask
	}

	s.pending.Add(1)
	if !s.accepting(false) {
		s.pending.Add(-1)
		return nil, ErrSchedulerShutdown
	}

	c := s.newCounter(1)
	s.stats.submitted.Add(1)
	s.stats.mainThread.Add(1)

	j := newJob(t, c, High, nil)
	for !s.mainLane.tryPush(j) {
		if s.config.OverflowStrategy == ReturnError || s.stopped() {
			j.recycle()
			cause := ErrQueueFull
			if s.stopped() {
				cause = ErrSchedulerShutdown
			}
			return s.reject(c, 0, 1, cause)
		}
		yield()
	}
	s.workers[0].signal()
	return c, nil
}

// enqueue pushes j, blocking or failing per the overflow strategy.
func (s *Scheduler) enqueue(lane *mpmcQueue[*job], j *job) error {
	for !lane.tryEnqueue(j) {
		if s.config.OverflowStrategy == ReturnError {
			return ErrQueueFull
		}
		if s.stopped() {
			return ErrSchedulerShutdown
		}
		s.notify(len(s.workers))
		yield()
	}
	return nil
}

// reject settles the tasks of a batch from index accepted onwards that were
// never enqueued.
func (s *Scheduler) reject(c *Counter, accepted, total int, cause error) (*Counter, error) {
	n := total - accepted
	s.stats.rejected.Add(uint64(n))
	s.pending.Add(-int64(n))
	c.refs.Add(-int32(n))
	c.decrement(int64(n), nil)

	s.logger.Debug().
		Str("scheduler", s.id).
		Int("rejected", n).
		Int("total", total).
		Err(cause).
		Log("tasks rejected")

	if accepted == 0 {
		c.Release()
		if cause == ErrSchedulerShutdown {
			return nil, cause
		}
		return nil, errRejected(n, total, cause)
	}
	return c, errRejected(n, total, cause)
}

// requeue puts a dequeued task back on its lane.
func (s *Scheduler) requeue(j *job) {
	for !s.lanes[j.priority][j.task.class()].tryEnqueue(j) {
		yield()
	}
	s.notify(1)
}

// notify wakes up to n parked workers.
func (s *Scheduler) notify(n int) {
	if n <= 0 || s.parked.Load() == 0 {
		return
	}
	for _, w := range s.workers {
		if w.getState() == StateParked && w.signal() {
			n--
			if n == 0 {
				return
			}
		}
	}
}

func (s *Scheduler) newCounter(tasks int) *Counter {
	c := s.counters.Get().(*Counter)
	c.reset(int64(tasks), int32(tasks)+1)
	return c
}

func (s *Scheduler) recycleCounter(c *Counter) {
	c.reset(0, 0)
	s.counters.Put(c)
}

func yield() {
	runtime.Gosched()
}
