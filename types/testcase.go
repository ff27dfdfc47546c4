package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// TestCase is a single discovered unit of test work. Implementations are
// provided by the discovery collaborator.
type TestCase interface {
	// UniqueID is stable across runs and unique within an assembly.
	UniqueID() string
	DisplayName() string
	// Class and Method are optional grouping names; either may be "".
	Class() string
	Method() string
	// SkipReason is non-empty for statically skipped test cases.
	SkipReason() string
	Run(ctx context.Context, tc *TestContext) error
}

// BeforeTester is implemented by test cases with per-test setup.
type BeforeTester interface {
	BeforeTest(ctx context.Context, tc *TestContext) error
}

// AfterTester is implemented by test cases with per-test teardown.
type AfterTester interface {
	AfterTest(ctx context.Context, tc *TestContext) error
}

// TraitProvider is implemented by test cases that carry traits.
type TraitProvider interface {
	Traits() map[string][]string
}

// Fixture is shared setup/teardown state for an assembly, collection or class.
type Fixture interface {
	Name() string
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error
}

// SkipError is returned by a test body to skip itself at run time.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("test skipped: %s", e.Reason)
}

// Skip returns a SkipError with the given reason.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// AsSkip reports whether err is (or wraps) a SkipError and returns its reason.
func AsSkip(err error) (string, bool) {
	var skipErr *SkipError
	if err != nil && errors.As(err, &skipErr) {
		return skipErr.Reason, true
	}
	return "", false
}

// TestContext is handed to a running test. It collects output, warnings and
// cleanup callbacks. It is safe for concurrent use.
type TestContext struct {
	TestID      string
	DisplayName string

	mu       sync.Mutex
	output   strings.Builder
	warnings []string
	cleanups []func() error
}

// NewTestContext creates a context for the test with the given ID.
func NewTestContext(testID, displayName string) *TestContext {
	return &TestContext{TestID: testID, DisplayName: displayName}
}

// Log appends a line of output.
func (t *TestContext) Log(args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.output.WriteString(fmt.Sprintln(args...))
}

// Logf appends a formatted line of output.
func (t *TestContext) Logf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.output.WriteString(fmt.Sprintf(format, args...))
	if !strings.HasSuffix(format, "\n") {
		t.output.WriteByte('\n')
	}
}

// Write implements io.Writer so command output can be streamed in.
func (t *TestContext) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.output.Write(p)
}

// Warn records a warning. Passing tests with warnings may be turned into
// failures by the reporting pipeline.
func (t *TestContext) Warn(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warnings = append(t.warnings, msg)
}

// Cleanup registers fn to run after the test has finished. Cleanups run in
// reverse registration order.
func (t *TestContext) Cleanup(fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanups = append(t.cleanups, fn)
}

func (t *TestContext) Output() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.output.String()
}

func (t *TestContext) Warnings() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.warnings) == 0 {
		return nil
	}
	return append([]string(nil), t.warnings...)
}

// TakeCleanups returns the registered cleanups in the order they must run
// and clears them.
func (t *TestContext) TakeCleanups() []func() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]func() error, 0, len(t.cleanups))
	for i := len(t.cleanups) - 1; i >= 0; i-- {
		out = append(out, t.cleanups[i])
	}
	t.cleanups = nil
	return out
}

// FuncTestCase adapts plain functions to TestCase. Without an explicit ID the
// unique ID is derived from Collection, class, method and name, so cases that
// share those names in different collections need Collection (or ID) set.
type FuncTestCase struct {
	ID         string
	Collection string
	Name       string
	ClassName  string
	MethodName string
	Skip       string
	Body       func(ctx context.Context, tc *TestContext) error
	Before     func(ctx context.Context, tc *TestContext) error
	After      func(ctx context.Context, tc *TestContext) error
}

var (
	_ TestCase     = (*FuncTestCase)(nil)
	_ BeforeTester = (*FuncTestCase)(nil)
	_ AfterTester  = (*FuncTestCase)(nil)
)

func (f *FuncTestCase) UniqueID() string {
	if f.ID == "" {
		return TestCaseUniqueID(f.Collection+"/"+f.ClassName+"."+f.MethodName, f.Name)
	}
	return f.ID
}

func (f *FuncTestCase) DisplayName() string { return f.Name }
func (f *FuncTestCase) Class() string       { return f.ClassName }
func (f *FuncTestCase) Method() string      { return f.MethodName }
func (f *FuncTestCase) SkipReason() string  { return f.Skip }

func (f *FuncTestCase) Run(ctx context.Context, tc *TestContext) error {
	if f.Body == nil {
		return nil
	}
	return f.Body(ctx, tc)
}

func (f *FuncTestCase) BeforeTest(ctx context.Context, tc *TestContext) error {
	if f.Before == nil {
		return nil
	}
	return f.Before(ctx, tc)
}

func (f *FuncTestCase) AfterTest(ctx context.Context, tc *TestContext) error {
	if f.After == nil {
		return nil
	}
	return f.After(ctx, tc)
}

// FuncFixture adapts plain functions to Fixture.
type FuncFixture struct {
	FixtureName string
	SetupFn     func(ctx context.Context) error
	TeardownFn  func(ctx context.Context) error
}

var _ Fixture = (*FuncFixture)(nil)

func (f *FuncFixture) Name() string { return f.FixtureName }

func (f *FuncFixture) Setup(ctx context.Context) error {
	if f.SetupFn == nil {
		return nil
	}
	return f.SetupFn(ctx)
}

func (f *FuncFixture) Teardown(ctx context.Context) error {
	if f.TeardownFn == nil {
		return nil
	}
	return f.TeardownFn(ctx)
}
