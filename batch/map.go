package batch

import (
	"github.com/tahsin716/fiberjobs"
)

// Result is the outcome of one Map element.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Map runs fn over every element of in as one batch at priority p and waits
// for all of them from f. Results keep the order of in. Panics in fn become
// a PanicError on the element's result.
//
// The returned error is non-nil only when the batch could not be submitted
// in full; elements that were never run carry that error too.
func Map[T, R any](f *fiberjobs.Fiber, p fiberjobs.Priority, in []T, fn func(*fiberjobs.Fiber, T) (R, error), opts ...Option) ([]Result[R], error) {
	results := make([]Result[R], len(in))
	if len(in) == 0 {
		return results, nil
	}

	opts = append(opts, WithErrorMode(CollectAll))
	b := New(f.Scheduler(), p, opts...)
	for i := range in {
		i := i
		results[i].Index = i
		if err := b.Go(func(f *fiberjobs.Fiber) error {
			v, err := fn(f, in[i])
			results[i].Value = v
			return err
		}); err != nil {
			return nil, err
		}
	}

	err := b.Wait(f)
	for i, e := range b.Errors() {
		results[i].Err = e
	}

	b.mu.Lock()
	submitErr := b.submitErr
	started := b.started
	b.mu.Unlock()
	if !started {
		return nil, err
	}
	return results, submitErr
}
