// Package coro implements a suspendable execution context on top of
// goroutines.
//
// A Coro is either native (it represents a goroutine that already exists, such
// as a worker loop) or hosted (it owns a goroutine created by New). Control is
// handed between contexts with SwitchTo: the caller is suspended, the target
// resumes, and the caller does not continue until some context switches back
// into it. At any moment at most one context of a chain of switches is
// running; every other one is blocked on its own wake channel.
//
// Misuse (switching into a context that is running, or into one that was
// destroyed) is not detected here. Callers enforce the discipline.
package coro

import (
	"runtime"
	"sync/atomic"
)

// Entry is the body of a hosted context. It receives the context itself and
// the value passed by the first SwitchTo into it. When it returns, its result
// is handed to the context that last switched into it and the context is
// finished.
type Entry func(c *Coro, arg any) any

// transfer is the token carried by a switch.
type transfer struct {
	from *Coro
	arg  any
}

// Coro is a single execution context.
type Coro struct {
	wake      chan transfer
	caller    *Coro
	stackSize int
	native    bool
	finished  atomic.Bool
	destroyed atomic.Bool
}

// Native returns a context for the calling goroutine. It has no goroutine of
// its own: switching away from it blocks the calling goroutine until another
// context switches back.
func Native() *Coro {
	return &Coro{
		wake:   make(chan transfer, 1),
		native: true,
	}
}

// New creates a hosted context that runs entry on first switch. The stack
// size is a hint recorded for introspection; goroutine stacks grow on demand.
func New(entry Entry, stackSize int) *Coro {
	c := &Coro{
		wake:      make(chan transfer, 1),
		stackSize: stackSize,
	}
	go c.main(entry)
	return c
}

func (c *Coro) main(entry Entry) {
	t, ok := <-c.wake
	if !ok {
		return
	}
	c.caller = t.from

	result := entry(c, t.arg)

	c.finished.Store(true)
	if c.caller != nil {
		c.caller.wake <- transfer{from: c, arg: result}
	}
}

// SwitchTo suspends c, resumes target with arg, and returns the value passed
// by whichever context next switches back into c.
//
// SwitchTo must be called from c's own goroutine while c is running, and
// target must be suspended or newly created.
func (c *Coro) SwitchTo(target *Coro, arg any) any {
	target.wake <- transfer{from: c, arg: arg}

	t, ok := <-c.wake
	if !ok {
		// destroyed while suspended
		runtime.Goexit()
	}
	c.caller = t.from
	return t.arg
}

// Yield switches back to the context that most recently switched into c.
func (c *Coro) Yield(arg any) any {
	return c.SwitchTo(c.caller, arg)
}

// Caller returns the context that most recently switched into c. Only valid
// from c's own goroutine.
func (c *Coro) Caller() *Coro {
	return c.caller
}

// Destroy releases a suspended or never-started context. A hosted goroutine
// blocked in SwitchTo exits without returning to its caller. Destroy is
// idempotent.
func (c *Coro) Destroy() {
	if c.destroyed.CompareAndSwap(false, true) {
		close(c.wake)
	}
}

// Finished reports whether the entry function of a hosted context returned.
func (c *Coro) Finished() bool {
	return c.finished.Load()
}

// IsNative reports whether c was created by Native.
func (c *Coro) IsNative() bool {
	return c.native
}

// StackSize returns the stack size hint given to New, zero for native
// contexts.
func (c *Coro) StackSize() int {
	return c.stackSize
}
