package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrSkipped is recorded for bodies that never ran because an earlier
	// body failed in FailFast mode.
	ErrSkipped = errors.New("batch: skipped after earlier failure")

	// ErrAlreadyStarted is returned by Start and Go once the batch has been
	// submitted.
	ErrAlreadyStarted = errors.New("batch: already started")

	// ErrEmpty is returned by Start when no body was added.
	ErrEmpty = errors.New("batch: no tasks")
)

// PanicError wraps a panic recovered from a body
type PanicError struct {
	Value interface{}
	Stack string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n%s", p.Value, p.Stack)
}

// Unwrap returns the panic value when it is an error.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

// AggregateError holds every failure of a CollectAll batch, in slot order.
type AggregateError struct {
	Errors []error
}

func (a AggregateError) Error() string {
	if len(a.Errors) == 0 {
		return "no errors"
	}
	return fmt.Sprintf("%d errors: %v", len(a.Errors), a.Errors)
}

func (a AggregateError) Unwrap() []error {
	return a.Errors
}
