package fiberjobs

import (
	"time"

	"github.com/joeycumines/logiface"
)

// Option configures a Scheduler.
type Option func(*Config)

// WithNumWorkers sets the number of workers, clamped to GOMAXPROCS.
func WithNumWorkers(n int) Option {
	return func(c *Config) { c.NumWorkers = n }
}

// WithLeafFibers sets the size of the leaf fiber pool.
func WithLeafFibers(n int) Option {
	return func(c *Config) { c.LeafFibers = n }
}

// WithGeneralFibers sets the size of the general fiber pool.
func WithGeneralFibers(n int) Option {
	return func(c *Config) { c.GeneralFibers = n }
}

// WithStackSizes sets the stack hints for leaf and general fibers.
func WithStackSizes(leaf, general int) Option {
	return func(c *Config) {
		c.LeafStackSize = leaf
		c.GeneralStackSize = general
	}
}

// WithQueueCapacity sets the capacity of each lane (power of 2). Every
// priority has one lane per fiber class.
func WithQueueCapacity(n int) Option {
	return func(c *Config) { c.QueueCapacity = n }
}

// WithOverflowStrategy sets what submission does when a lane is full.
func WithOverflowStrategy(s OverflowStrategy) Option {
	return func(c *Config) { c.OverflowStrategy = s }
}

// WithPanicHandler sets a handler for panics raised by task bodies.
func WithPanicHandler(h func(interface{})) Option {
	return func(c *Config) { c.PanicHandler = h }
}

// WithWorkerHooks sets callbacks run when a worker enters and leaves its loop.
func WithWorkerHooks(onStart, onStop func(workerID int)) Option {
	return func(c *Config) {
		c.OnWorkerStart = onStart
		c.OnWorkerStop = onStop
	}
}

// WithLockMainThread controls whether Main locks its OS thread.
func WithLockMainThread(lock bool) Option {
	return func(c *Config) { c.LockMainThread = lock }
}

// WithMaxParkTime sets the longest an idle worker sleeps between polls.
func WithMaxParkTime(d time.Duration) Option {
	return func(c *Config) { c.MaxParkTime = d }
}

// WithSpinCount sets how many idle iterations a worker spins before parking.
func WithSpinCount(n int) Option {
	return func(c *Config) { c.SpinCount = n }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithConfig replaces the whole configuration; later options still apply.
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}
