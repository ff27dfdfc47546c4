package testexec

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// RuntimeError means the plan could not be executed at all: the plan did
// not load, an output file could not be opened, the runner never produced
// an assembly summary, or the executor panicked. It maps to exit code 2.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

func newPanicError(value any) *RuntimeError {
	if err, ok := value.(error); ok {
		return NewRuntimeError(fmt.Errorf("panic: %w", err))
	}
	return NewRuntimeError(fmt.Errorf("panic: %v", value))
}

// IsRuntimeError reports whether err is or wraps a RuntimeError.
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError is returned by a run-once execution that completed but
// had failed tests or cleanup failures. It maps to exit code 1.
type TestFailureError struct {
	RunID   string
	Summary types.RunSummary
	// Errors counts cleanup failures and internal errors.
	Errors int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: run %s: %d of %d tests failed, %d errors",
		e.RunID, e.Summary.Failed, e.Summary.Total, e.Errors)
}

func NewTestFailureError(result *RunResult) *TestFailureError {
	return &TestFailureError{RunID: result.RunID, Summary: result.Summary, Errors: result.Errors}
}

// IsTestFailureError reports whether err is or wraps a TestFailureError.
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
