package fiberjobs

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// MaxTaskArgSize bounds the inline size of the argument captured by MakeTask.
// Larger arguments must be passed by pointer.
const MaxTaskArgSize = 64

// Task is an inert unit of work: a body plus whether it may wait.
//
// Task values are small and copied freely; the scheduler wraps every
// submitted Task in its own record and runs it exactly once. A body that can
// fail reports through state it captured (a result slot, a status field);
// the scheduler does not look at outcomes.
type Task struct {
	fn   func(*Fiber)
	leaf bool
}

// NewTask returns a task that runs on a general fiber and may call Wait.
func NewTask(fn func(*Fiber)) Task {
	return Task{fn: fn}
}

// NewLeafTask returns a task that runs on a leaf fiber. Its body must never
// call Wait.
func NewLeafTask(fn func(*Fiber)) Task {
	return Task{fn: fn, leaf: true}
}

// MakeTask binds one argument to fn. The argument is copied at construction
// and must fit MaxTaskArgSize bytes, otherwise ErrTaskTooLarge is returned.
func MakeTask[A any](fn func(*Fiber, A), arg A) (Task, error) {
	if fn == nil {
		return Task{}, ErrNilTask
	}
	if unsafe.Sizeof(arg) > MaxTaskArgSize {
		return Task{}, ErrTaskTooLarge
	}
	return Task{fn: func(f *Fiber) { fn(f, arg) }}, nil
}

// MustMakeTask is MakeTask for arguments whose size is known to fit.
func MustMakeTask[A any](fn func(*Fiber, A), arg A) Task {
	t, err := MakeTask(fn, arg)
	if err != nil {
		panic(err)
	}
	return t
}

// AsLeaf returns a copy of t marked as never waiting.
func (t Task) AsLeaf() Task {
	t.leaf = true
	return t
}

// IsLeaf reports whether t runs on a leaf fiber.
func (t Task) IsLeaf() bool {
	return t.leaf
}

func (t Task) class() FiberClass {
	if t.leaf {
		return Leaf
	}
	return General
}

// IsNil reports whether t has no body.
func (t Task) IsNil() bool {
	return t.fn == nil
}

// job is the per-submission record: a task, its counter, and the guard that
// keeps it from running twice.
type job struct {
	task     Task
	counter  *Counter
	priority Priority
	onDone   func()
	ran      atomic.Bool
	queuedAt time.Time
}

var jobPool = sync.Pool{
	New: func() any { return new(job) },
}

func newJob(t Task, c *Counter, p Priority, onDone func()) *job {
	j := jobPool.Get().(*job)
	j.task = t
	j.counter = c
	j.priority = p
	j.onDone = onDone
	j.ran.Store(false)
	j.queuedAt = time.Now()
	return j
}

// run executes the body. A second call panics with ErrTaskReused.
func (j *job) run(f *Fiber) {
	if !j.ran.CompareAndSwap(false, true) {
		panic(ErrTaskReused)
	}
	j.task.fn(f)
}

func (j *job) recycle() {
	j.task = Task{}
	j.counter = nil
	j.onDone = nil
	jobPool.Put(j)
}
