package testexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-testexec/bus"
	"github.com/ethereum-optimism/infra/op-testexec/plan"
	"github.com/ethereum-optimism/infra/op-testexec/reporting"
	"github.com/ethereum-optimism/infra/op-testexec/runner"
	"github.com/ethereum-optimism/infra/op-testexec/service"
	"github.com/ethereum-optimism/infra/op-testexec/sinks"
	"github.com/ethereum-optimism/infra/op-testexec/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// TestExec implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &TestExec{}

// RunResult is the outcome of one execution of the plan.
type RunResult struct {
	RunID     string
	StartTime time.Time
	Summary   types.RunSummary
	// Errors counts cleanup failures and internal errors reported during the run.
	Errors   int
	Failures []types.TestFailed
}

// Failed reports whether the run should be treated as a test failure.
func (r *RunResult) Failed() bool {
	return r.Summary.Failed > 0 || r.Errors > 0
}

func (r *RunResult) String() string {
	return fmt.Sprintf("run %s: %s errors=%d", r.RunID, r.Summary, r.Errors)
}

// TestExec loads a plan and executes it once or on an interval.
type TestExec struct {
	ctx     context.Context
	config  *Config
	version string
	plan    *plan.Plan
	history *runHistory
	service *service.Service
	result  atomic.Pointer[RunResult]

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*TestExec, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating test executor with config",
		"plan", config.PlanPath,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	p, err := plan.Load(config.PlanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if err := config.Overrides.Apply(p.Options()).Validate(); err != nil {
		return nil, fmt.Errorf("invalid execution options: %w", err)
	}

	history, err := newRunHistory(DefaultHistorySize)
	if err != nil {
		return nil, err
	}

	t := &TestExec{
		ctx:              ctx,
		config:           config,
		version:          version,
		plan:             p,
		history:          history,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}
	t.service = service.New(config.Service, history, config.Log.New("component", "service"))
	config.Log.Info("testexec.New: loaded plan", "name", p.File.Name, "collections", len(p.File.Collections))
	return t, nil
}

// Start runs the plan immediately, then periodically at the configured interval.
// Start implements the cliapp.Lifecycle interface.
func (t *TestExec) Start(ctx context.Context) (err error) {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			t.config.Log.Error("Runtime error occurred", "error", r)
			err = newPanicError(r)
		}
	}()

	t.ctx = ctx
	t.done = make(chan struct{})
	t.running.Store(true)
	t.service.Start(ctx)

	if t.config.RunOnce {
		t.config.Log.Info("Starting op-testexec in run-once mode")
	} else {
		t.config.Log.Info("Starting op-testexec in continuous mode", "interval", t.config.RunInterval)
	}

	result, err := t.RunOnce(ctx)
	if err != nil {
		t.config.Log.Error("Runtime error running tests", "error", err)
		return err
	}

	if t.config.RunOnce {
		t.config.Log.Info("Tests completed, exiting (run-once mode)")
		if result.Failed() {
			t.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
			return NewTestFailureError(result)
		}
		go func() {
			t.shutdownCallback(nil)
		}()
		return nil
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.config.Log.Debug("Starting periodic test runner goroutine", "interval", t.config.RunInterval)

		for {
			select {
			case <-time.After(t.config.RunInterval):
				if !t.running.Load() {
					t.config.Log.Debug("Service stopped, exiting periodic test runner")
					return
				}
				t.config.Log.Info("Running periodic tests")
				if _, err := t.RunOnce(ctx); err != nil {
					t.config.Log.Error("Error running periodic tests", "error", err)
				}
			case <-t.done:
				t.config.Log.Debug("Done signal received, stopping periodic test runner")
				return
			case <-ctx.Done():
				t.config.Log.Debug("Context canceled, stopping periodic test runner")
				t.running.Store(false)
				return
			}
		}
	}()
	t.config.Log.Debug("op-testexec started successfully")
	return nil
}

// RunOnce executes the plan a single time. Test failures are reported in
// the result; the error is a RuntimeError when the run could not happen.
func (t *TestExec) RunOnce(ctx context.Context) (*RunResult, error) {
	runID := uuid.New().String()
	logger := t.config.Log.New("runID", runID)
	opts := t.config.Overrides.Apply(t.plan.Options())

	outputs, err := t.openOutputs(logger)
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	defer outputs.close(logger)

	out := t.config.Output
	if out == nil {
		out = os.Stdout
	}
	console := reporting.NewConsoleReporter(logger.New("component", "console"),
		reporting.WithOutput(out), reporting.WithTestRows(t.config.ShowTestRows))

	// The bus delivers to the outermost sink first:
	// cancellation -> diagnostics split -> source info -> fail on warnings -> summary -> reporters
	summary := sinks.NewSummarySink(sinks.Multi(console, outputs.messages), runID)
	var chain sinks.Sink = summary
	if opts.FailOnWarnings {
		chain = sinks.NewFailWarnSink(chain)
	}
	chain, err = sinks.NewSourceInfoSink(chain, t.plan, sinks.DefaultSourceCacheSize)
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	chain = sinks.DiagnosticSplitter(chain, outputs.diagnostics)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	chain = sinks.NewCancellationSink(chain, cancel, nil)

	b := bus.New(chain, bus.WithExecutionOptions(opts), bus.WithLogger(logger.New("component", "bus")))
	r := runner.NewAssemblyRunner(b, opts, logger, runner.WithRunID(runID))

	start := time.Now()
	_, runErr := r.Run(runCtx, t.plan.Assembly(logger))
	if err := b.Close(); err != nil {
		logger.Warn("Failed to close message bus", "err", err)
	}
	if runErr != nil {
		return nil, NewRuntimeError(runErr)
	}

	select {
	case <-summary.Finished():
	default:
		return nil, NewRuntimeError(errors.New("run ended without an assembly summary"))
	}

	result := &RunResult{
		RunID:     runID,
		StartTime: start,
		Summary:   summary.Summary(),
		Errors:    summary.Errors(),
		Failures:  summary.Failures(),
	}
	t.result.Store(result)
	t.history.add(service.RunRecord{
		RunID:     runID,
		Plan:      t.plan.Path,
		StartTime: start,
		Summary:   result.Summary,
		Errors:    result.Errors,
		Failed:    result.Failed(),
	})
	logger.Info("Test run completed", "summary", result.Summary, "errors", result.Errors, "failed", result.Failed())
	return result, nil
}

type runOutputs struct {
	messages    sinks.Sink
	diagnostics sinks.Sink
	closers     []io.Closer
}

func (t *TestExec) openOutputs(logger log.Logger) (*runOutputs, error) {
	outputs := &runOutputs{}
	if t.config.JSONOutput != "" {
		w, err := reporting.CreateJSONLinesFile(t.config.JSONOutput, t.config.Log)
		if err != nil {
			return nil, err
		}
		outputs.messages = w
		outputs.closers = append(outputs.closers, w)
	}
	if t.config.DiagnosticsOutput != "" {
		w, err := reporting.CreateJSONLinesFile(t.config.DiagnosticsOutput, t.config.Log)
		if err != nil {
			outputs.close(logger)
			return nil, err
		}
		outputs.diagnostics = w
		outputs.closers = append(outputs.closers, w)
	}
	return outputs, nil
}

func (o *runOutputs) close(logger log.Logger) {
	for _, c := range o.closers {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close run output", "err", err)
		}
	}
}

// Result returns the outcome of the most recent run.
func (t *TestExec) Result() *RunResult {
	return t.result.Load()
}

// Stop stops the op-testexec service.
// Stop implements the cliapp.Lifecycle interface.
func (t *TestExec) Stop(ctx context.Context) error {
	t.config.Log.Info("Stopping op-testexec")

	if !t.running.Load() {
		t.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	t.running.Store(false)
	close(t.done)
	t.service.Shutdown()

	t.config.Log.Info("op-testexec stopped successfully")
	return nil
}

// Stopped returns true if the op-testexec service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (t *TestExec) Stopped() bool {
	return !t.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
func (t *TestExec) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
