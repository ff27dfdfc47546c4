// Package aggregator captures errors and panics from arbitrary code so that
// cleanup can continue, and re-surfaces them later as a single error.
package aggregator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// PanicError is a recovered panic with the stack at the point of recovery.
type PanicError struct {
	Value any
	err   error
}

func newPanicError(value any) *PanicError {
	if err, ok := value.(error); ok {
		return &PanicError{Value: value, err: pkgerrors.WithStack(err)}
	}
	return &PanicError{Value: value, err: pkgerrors.Errorf("%v", value)}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	return e.err
}

// InvocationError marks an error that was re-raised by an invocation layer
// (a hook dispatcher, a command wrapper). The aggregator stores its cause.
type InvocationError struct {
	Op  string
	Err error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// MultipleFailuresError is returned by ToError when more than one error was
// captured. Errors are kept in capture order.
type MultipleFailuresError struct {
	Errs []error
}

func (e *MultipleFailuresError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d failures occurred", len(e.Errs))
	for i, err := range e.Errs {
		fmt.Fprintf(&sb, "\n  %d. %v", i+1, err)
	}
	return sb.String()
}

func (e *MultipleFailuresError) Unwrap() []error {
	return e.Errs
}

// Aggregator collects errors in the order they were captured. The zero value
// is ready to use and it is safe for concurrent use.
type Aggregator struct {
	mu   sync.Mutex
	errs []error
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Add captures err. A nil err is ignored.
func (a *Aggregator) Add(err error) {
	if err == nil {
		return
	}
	if invocation, ok := err.(*InvocationError); ok && invocation.Err != nil {
		err = invocation.Err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, err)
}

// Run executes fn, capturing a returned error or a panic.
func (a *Aggregator) Run(fn func() error) {
	a.Add(protect(fn))
}

// RunContext is Run for functions that take a context.
func (a *Aggregator) RunContext(ctx context.Context, fn func(context.Context) error) {
	a.Add(protect(func() error { return fn(ctx) }))
}

// RunValue executes fn and returns its result. If fn fails or panics the
// failure is captured and def is returned instead.
func RunValue[T any](a *Aggregator, fn func() (T, error), def T) T {
	var result T
	err := protect(func() error {
		var err error
		result, err = fn()
		return err
	})
	if err != nil {
		a.Add(err)
		return def
	}
	return result
}

// RunValueContext is RunValue for functions that take a context.
func RunValueContext[T any](ctx context.Context, a *Aggregator, fn func(context.Context) (T, error), def T) T {
	return RunValue(a, func() (T, error) { return fn(ctx) }, def)
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return fn()
}

// Aggregate appends every error captured by other.
func (a *Aggregator) Aggregate(other *Aggregator) {
	if other == nil || other == a {
		return
	}
	errs := other.Errors()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, errs...)
}

// Clone returns an independent copy.
func (a *Aggregator) Clone() *Aggregator {
	return &Aggregator{errs: a.Errors()}
}

func (a *Aggregator) HasErrors() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.errs) > 0
}

// Errors returns a copy of the captured errors.
func (a *Aggregator) Errors() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.errs) == 0 {
		return nil
	}
	return append([]error(nil), a.errs...)
}

// ToError returns nil when nothing was captured, the captured error itself
// when there is exactly one, and a *MultipleFailuresError otherwise.
func (a *Aggregator) ToError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch len(a.errs) {
	case 0:
		return nil
	case 1:
		return a.errs[0]
	default:
		return &MultipleFailuresError{Errs: append([]error(nil), a.errs...)}
	}
}

// Clear discards all captured errors.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = nil
}
