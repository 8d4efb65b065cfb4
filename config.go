package fiberjobs

import (
	"runtime"
	"time"

	"github.com/joeycumines/logiface"
)

// OverflowStrategy defines how submission behaves when a lane is full
type OverflowStrategy int

const (
	// Block makes the submitter yield and retry until a slot frees up
	Block OverflowStrategy = iota
	// ReturnError returns ErrQueueFull to the caller, who may retry
	ReturnError
)

// String returns the strategy name.
func (s OverflowStrategy) String() string {
	switch s {
	case Block:
		return "block"
	case ReturnError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseOverflowStrategy parses "block" or "error".
func ParseOverflowStrategy(s string) (OverflowStrategy, error) {
	switch s {
	case "block", "":
		return Block, nil
	case "error":
		return ReturnError, nil
	default:
		return Block, errInvalidConfig("unknown overflow strategy " + s)
	}
}

// Config contains all configuration options for the scheduler
type Config struct {
	// NumWorkers is the number of workers, including the main worker.
	// If 0, defaults to runtime.GOMAXPROCS(0). Larger values are clamped to it.
	NumWorkers int

	// LeafFibers is the number of small-stack fibers for tasks that never wait.
	// Defaults to 32
	LeafFibers int

	// GeneralFibers is the number of large-stack fibers that may wait.
	// Defaults to 128
	GeneralFibers int

	// LeafStackSize and GeneralStackSize are recorded stack hints for each
	// class. Goroutine stacks grow on demand, so nothing is reserved up front.
	LeafStackSize    int
	GeneralStackSize int

	// QueueCapacity is the size of each lane (one per priority and fiber
	// class) and of the main-thread lane. Must be a power of 2. Defaults to
	// 4096
	QueueCapacity int

	// OverflowStrategy determines behavior when a lane is full.
	// Defaults to Block
	OverflowStrategy OverflowStrategy

	// PanicHandler is called when a task panics.
	// The panic is always logged; the task's counter is still decremented.
	PanicHandler func(interface{})

	// OnWorkerStart is called when a worker starts its loop
	OnWorkerStart func(workerID int)

	// OnWorkerStop is called when a worker leaves its loop
	OnWorkerStop func(workerID int)

	// LockMainThread locks the goroutine running Main to its OS thread, so
	// main-thread tasks see a stable thread. Defaults to true
	LockMainThread bool

	// MaxParkTime is the maximum time an idle worker sleeps before polling.
	// Defaults to 10ms
	MaxParkTime time.Duration

	// SpinCount is the number of idle iterations to spin before parking.
	// Defaults to 30
	SpinCount int

	// Logger receives structured scheduler events. Nil disables logging.
	Logger *logiface.Logger[logiface.Event]
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		NumWorkers:       0, // will be set to runtime.GOMAXPROCS(0)
		LeafFibers:       32,
		GeneralFibers:    128,
		LeafStackSize:    64 << 10,
		GeneralStackSize: 512 << 10,
		QueueCapacity:    4096,
		OverflowStrategy: Block,
		LockMainThread:   true,
		MaxParkTime:      10 * time.Millisecond,
		SpinCount:        30,
	}
}

// validate checks the configuration and returns an error if invalid
func (c *Config) validate() error {
	if c.NumWorkers < 0 {
		return errInvalidConfig("NumWorkers must be >= 0")
	}

	if c.LeafFibers < 1 {
		return errInvalidConfig("LeafFibers must be >= 1")
	}

	if c.GeneralFibers < 1 {
		return errInvalidConfig("GeneralFibers must be >= 1")
	}

	if c.LeafStackSize < 0 || c.GeneralStackSize < 0 {
		return errInvalidConfig("stack sizes must be >= 0")
	}

	if !isPowerOfTwo(c.QueueCapacity) || c.QueueCapacity < 2 {
		return errInvalidConfig("QueueCapacity must be a power of 2 and >= 2")
	}

	if c.OverflowStrategy != Block && c.OverflowStrategy != ReturnError {
		return errInvalidConfig("unknown OverflowStrategy")
	}

	if c.MaxParkTime <= 0 {
		return errInvalidConfig("MaxParkTime must be > 0")
	}

	if c.SpinCount < 0 {
		return errInvalidConfig("SpinCount must be >= 0")
	}

	return nil
}

// resolveWorkers applies the default and clamps to hardware concurrency.
func (c *Config) resolveWorkers() {
	procs := runtime.GOMAXPROCS(0)
	if c.NumWorkers == 0 || c.NumWorkers > procs {
		c.NumWorkers = procs
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// nextPowerOfTwo rounds n up, used to normalise capacities read from files.
func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}

// NormalizeQueueCapacity rounds n up to the next power of two accepted by
// WithQueueCapacity.
func NormalizeQueueCapacity(n int) int {
	if n < 2 {
		return 2
	}
	return nextPowerOfTwo(n)
}
