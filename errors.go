package fiberjobs

import "fmt"

// Common errors returned by the scheduler.
var (
	// ErrSchedulerShutdown is returned when submitting to a scheduler that is
	// draining or stopped. Once shut down, a scheduler cannot accept new tasks.
	//
	// Example:
	//  s.Shutdown(ctx)
	//  _, err := s.Run(fiberjobs.High, task)
	//  if errors.Is(err, fiberjobs.ErrSchedulerShutdown) {
	//      log.Println("Cannot submit: scheduler is shut down")
	//  }
	ErrSchedulerShutdown = &SchedulerError{msg: "scheduler is shutdown"}

	// ErrQueueFull is returned when a priority lane is full and the overflow
	// strategy is ReturnError. The producer decides whether to retry.
	//
	// Example:
	//  c, err := s.RunBatch(fiberjobs.Low, tasks...)
	//  if errors.Is(err, fiberjobs.ErrQueueFull) {
	//      // c tracks only the tasks that were accepted
	//  }
	ErrQueueFull = &SchedulerError{msg: "queue is full"}

	// ErrNilTask is returned when submitting a Task with no body.
	ErrNilTask = &SchedulerError{msg: "task is nil"}

	// ErrEmptyBatch is returned by RunBatch when no tasks are given.
	ErrEmptyBatch = &SchedulerError{msg: "batch is empty"}

	// ErrInvalidPriority is returned for a Priority outside High, Mid, Low.
	ErrInvalidPriority = &SchedulerError{msg: "invalid priority"}

	// ErrTaskTooLarge is returned by MakeTask when the captured argument does
	// not fit the inline task bound (MaxTaskArgSize).
	ErrTaskTooLarge = &SchedulerError{msg: "task argument exceeds inline capacity"}

	// ErrMainRunning is returned when Main is entered while another call to
	// Main (or a draining Shutdown) is already driving the main worker.
	ErrMainRunning = &SchedulerError{msg: "main worker is already running"}
)

// Programming errors. The scheduler panics with these values; the
// cooperative model has no safe way to continue after them.
var (
	// ErrWaitOutsideFiber: Wait called on a context that is not a scheduled
	// fiber, such as a main-thread task.
	ErrWaitOutsideFiber = &SchedulerError{msg: "wait called outside a scheduled fiber"}

	// ErrWaitInLeafFiber: Wait called from a task submitted as a leaf task.
	ErrWaitInLeafFiber = &SchedulerError{msg: "wait called from a leaf fiber"}

	// ErrTaskReused: the same submitted task was executed twice.
	ErrTaskReused = &SchedulerError{msg: "task executed more than once"}

	// ErrCounterUnderflow: a decrement would take a counter below zero.
	ErrCounterUnderflow = &SchedulerError{msg: "counter decremented below zero"}

	// ErrNegativeDecrement: Decrement was called with n < 0. Add raises a
	// counter.
	ErrNegativeDecrement = &SchedulerError{msg: "counter decremented by a negative amount"}

	// ErrInvalidWaitTarget: Wait was called with a target below zero, which no
	// counter value can satisfy.
	ErrInvalidWaitTarget = &SchedulerError{msg: "wait target below zero"}

	// ErrFiberNotParked: a fiber was resumed that is not parked.
	ErrFiberNotParked = &SchedulerError{msg: "resumed fiber is not parked"}
)

// SchedulerError represents an error that occurred within the scheduler.
// It wraps underlying errors and provides context about scheduler operations.
//
// SchedulerError supports errors.Is and errors.As through Unwrap.
type SchedulerError struct {
	msg string // Human-readable error message
	err error  // Underlying error (if any)
}

// Error returns a formatted error message.
// If an underlying error exists, it is included in the output.
func (e *SchedulerError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("fiberjobs: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("fiberjobs: %s", e.msg)
}

// Unwrap returns the underlying error, allowing use with errors.Is and errors.As.
//
// Example:
//
//	if errors.Is(err, fiberjobs.ErrQueueFull) {
//	    // Handle queue full
//	}
func (e *SchedulerError) Unwrap() error {
	return e.err
}

// errInvalidConfig creates an error for invalid scheduler configuration.
// This is returned by New when validation fails.
func errInvalidConfig(msg string) error {
	return &SchedulerError{msg: "invalid config: " + msg}
}

// errStartup creates an error for resources that could not be set up.
func errStartup(msg string, err error) error {
	return &SchedulerError{msg: "startup: " + msg, err: err}
}

// errRejected reports how many tasks of a batch were not enqueued.
func errRejected(rejected, total int, cause error) error {
	return &SchedulerError{
		msg: fmt.Sprintf("%d of %d tasks rejected", rejected, total),
		err: cause,
	}
}
