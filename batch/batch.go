package batch

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/tahsin716/fiberjobs"
)

// Batch collects error-returning bodies, runs them as one scheduler batch and
// waits for them cooperatively from a fiber.
//
// Each body writes into its own slot, so no locking is needed while they run.
// A Batch is single use.
type Batch struct {
	sched    *fiberjobs.Scheduler
	priority fiberjobs.Priority
	config   Config

	mu      sync.Mutex
	slots   []*slot
	started bool
	counter *fiberjobs.Counter
	// submitErr is the rejection returned for a partially accepted batch
	submitErr error

	failed atomic.Bool

	// State tracking
	completed atomic.Int64
	errored   atomic.Int64
	skipped   atomic.Int64
}

type slot struct {
	fn  func(*fiberjobs.Fiber) error
	err error
	ran bool
}

// Stats provides information about a batch
type Stats struct {
	Total     int
	Completed int64
	Failed    int64
	Skipped   int64
}

// New creates a batch that submits to s at priority p.
func New(s *fiberjobs.Scheduler, p fiberjobs.Priority, opts ...Option) *Batch {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Batch{
		sched:    s,
		priority: p,
		config:   config,
	}
}

// Go adds a body. Bodies only run once Start or Wait is called.
func (b *Batch) Go(fn func(*fiberjobs.Fiber) error) error {
	if fn == nil {
		return fiberjobs.ErrNilTask
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}
	b.slots = append(b.slots, &slot{fn: fn})
	return nil
}

// Start submits every body as one batch from outside the scheduler.
func (b *Batch) Start() error {
	return b.start(b.sched.RunBatch)
}

// Wait submits the batch if needed, suspends f until every accepted body has
// finished and reports failures according to the error mode. Only one fiber
// may wait on a batch.
//
// Example:
//
//	b := batch.New(f.Scheduler(), fiberjobs.Mid, batch.WithErrorMode(batch.FailFast))
//	for _, path := range paths {
//	    path := path
//	    b.Go(func(f *fiberjobs.Fiber) error { return load(f, path) })
//	}
//	if err := b.Wait(f); err != nil {
//	    return err
//	}
func (b *Batch) Wait(f *fiberjobs.Fiber) error {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		if err := b.start(f.RunBatch); err != nil {
			b.mu.Lock()
			started = b.started
			b.mu.Unlock()
			if !started {
				return err
			}
		}
	}

	b.mu.Lock()
	c := b.counter
	b.mu.Unlock()
	if c != nil {
		f.Wait(c, 0)
	}

	return b.result()
}

// Errors returns the error of each slot in the order bodies were added.
// It is only meaningful after Wait has returned.
func (b *Batch) Errors() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	errs := make([]error, len(b.slots))
	for i, s := range b.slots {
		errs[i] = s.err
	}
	return errs
}

// Stats returns a snapshot of the batch counters.
func (b *Batch) Stats() Stats {
	b.mu.Lock()
	total := len(b.slots)
	b.mu.Unlock()
	return Stats{
		Total:     total,
		Completed: b.completed.Load(),
		Failed:    b.errored.Load(),
		Skipped:   b.skipped.Load(),
	}
}

type submitFunc func(fiberjobs.Priority, ...fiberjobs.Task) (*fiberjobs.Counter, error)

func (b *Batch) start(submit submitFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}
	if len(b.slots) == 0 {
		return ErrEmpty
	}

	tasks := make([]fiberjobs.Task, len(b.slots))
	for i, s := range b.slots {
		t := fiberjobs.MustMakeTask(b.run, s)
		if b.config.leaf {
			t = t.AsLeaf()
		}
		tasks[i] = t
	}

	c, err := submit(b.priority, tasks...)
	if c == nil {
		return err
	}
	b.started = true
	b.counter = c
	b.submitErr = err
	return err
}

// run executes one body with panic recovery
func (b *Batch) run(f *fiberjobs.Fiber, s *slot) {
	s.ran = true

	if b.config.errorMode == FailFast && b.failed.Load() {
		s.err = ErrSkipped
		b.skipped.Add(1)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.err = &PanicError{
				Value: r,
				Stack: string(debug.Stack()),
			}
		}
		b.completed.Add(1)
		if s.err != nil {
			b.errored.Add(1)
			b.failed.Store(true)
		}
	}()

	s.err = s.fn(f)
}

func (b *Batch) result() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.counter != nil {
		b.counter.Release()
		b.counter = nil
	}

	for _, s := range b.slots {
		if !s.ran && s.err == nil {
			s.err = b.submitErr
		}
	}

	switch b.config.errorMode {
	case IgnoreErrors:
		return nil

	case FailFast:
		for _, s := range b.slots {
			if s.err != nil && s.err != ErrSkipped {
				return s.err
			}
		}
		return nil

	case CollectAll:
		var errs []error
		for _, s := range b.slots {
			if s.err != nil {
				errs = append(errs, s.err)
			}
		}
		if len(errs) > 0 {
			return AggregateError{Errors: errs}
		}
		return nil

	default:
		return nil
	}
}
