package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-testexec/aggregator"
	"github.com/ethereum-optimism/infra/op-testexec/bus"
	"github.com/ethereum-optimism/infra/op-testexec/metrics"
	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// ErrRunStopped is the cancellation cause used when the bus asks producers
// to stop starting new work.
var ErrRunStopped = errors.New("test run stopped")

// AssemblyRunner runs an Assembly and reports it to a message bus.
type AssemblyRunner struct {
	log               log.Logger
	bus               bus.Bus
	opts              types.ExecutionOptions
	caseOrderer       TestCaseOrderer
	collectionOrderer CollectionOrderer
	tracer            trace.Tracer
	runID             string
}

type Option func(*AssemblyRunner)

func WithTestCaseOrderer(o TestCaseOrderer) Option {
	return func(r *AssemblyRunner) { r.caseOrderer = o }
}

func WithCollectionOrderer(o CollectionOrderer) Option {
	return func(r *AssemblyRunner) { r.collectionOrderer = o }
}

func WithRunID(id string) Option {
	return func(r *AssemblyRunner) { r.runID = id }
}

func NewAssemblyRunner(b bus.Bus, opts types.ExecutionOptions, logger log.Logger, options ...Option) *AssemblyRunner {
	r := &AssemblyRunner{
		log:               logger.New("component", "assembly-runner"),
		bus:               b,
		opts:              opts,
		caseOrderer:       DeclarationOrderer{},
		collectionOrderer: DeclarationCollectionOrderer{},
		tracer:            otel.Tracer("test runner"),
	}
	for _, opt := range options {
		opt(r)
	}
	if r.runID != "" {
		r.log = r.log.New("runID", r.runID)
	}
	return r
}

// Run executes every collection of asm. Failures of tests, fixtures and the
// sink are reported as messages; the returned error is only set when the
// run could not be started.
func (r *AssemblyRunner) Run(ctx context.Context, asm *Assembly) (types.RunSummary, error) {
	if asm == nil {
		return types.RunSummary{}, errors.New("assembly cannot be nil")
	}
	if err := r.opts.Validate(); err != nil {
		return types.RunSummary{}, fmt.Errorf("invalid execution options: %w", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("assembly %s", asm.Name))
	defer span.End()

	run := &assemblyRun{
		AssemblyRunner: r,
		cancel:         cancel,
		scope:          types.Scope{AssemblyID: asm.UniqueID()},
	}
	start := time.Now()
	r.log.Info("Starting test assembly", "assembly", asm.Name, "collections", len(asm.Collections),
		"parallelism", r.opts.EffectiveParallelism())
	run.queue(types.AssemblyStarting{
		Scope:          run.scope,
		AssemblyName:   asm.Name,
		AssemblyPath:   asm.Path,
		ConfigFilePath: asm.ConfigFile,
		StartTime:      start,
	})

	setup := aggregator.New()
	ready := setupFixturesConcurrently(ctx, asm.Fixtures, setup)
	if setup.HasErrors() {
		r.log.Error("Assembly fixture setup failed", "err", setup.ToError())
	}

	if threshold := r.opts.LongRunningThreshold(); threshold > 0 {
		run.monitor = NewLongRunningMonitor(threshold, r.opts.LongRunningScanInterval, r.bus, r.log)
		run.monitor.scope = run.scope
		// cases already running when the run is cancelled must still be watched
		run.monitor.Start(context.WithoutCancel(ctx))
		defer run.monitor.Stop()
	}

	dispatcher := NewDispatcher(UnitRunnerFunc(func(ctx context.Context, c *Collection) types.RunSummary {
		return run.runCollection(ctx, c, setup)
	}), r.log)
	summary := dispatcher.Dispatch(ctx, run.orderCollections(asm.Collections), r.opts.EffectiveParallelism())

	if run.monitor != nil {
		run.monitor.Stop()
	}

	cleanup := aggregator.New()
	teardownFixtures(context.WithoutCancel(ctx), "assembly", ready, cleanup)
	if cleanup.HasErrors() {
		r.log.Error("Assembly fixture cleanup failed", "err", cleanup.ToError())
		run.queue(types.AssemblyCleanupFailure{Scope: run.scope, Failure: types.FailureInfoFromError(cleanup.ToError())})
	}

	summary.Time = time.Since(start)
	run.queue(types.AssemblyFinished{Scope: run.scope, Summary: summary, FinishTime: time.Now()})
	if cause := context.Cause(ctx); cause != nil {
		r.log.Warn("Test assembly stopped early", "cause", cause)
	}
	r.log.Info("Finished test assembly", "assembly", asm.Name, "summary", summary)
	return summary, nil
}

// assemblyRun is the state of one AssemblyRunner.Run call.
type assemblyRun struct {
	*AssemblyRunner
	cancel  context.CancelCauseFunc
	scope   types.Scope
	monitor *LongRunningMonitor
}

// orderCollections applies the collection orderer. An orderer that fails
// leaves the collections in declaration order.
func (a *assemblyRun) orderCollections(collections []*Collection) []*Collection {
	agg := aggregator.New()
	ordered := aggregator.RunValue(agg, func() ([]*Collection, error) {
		return a.collectionOrderer.OrderCollections(collections), nil
	}, nil)
	if agg.HasErrors() {
		err := agg.ToError()
		a.log.Warn("Collection orderer failed, using declaration order", "orderer", fmt.Sprintf("%T", a.collectionOrderer), "err", err)
		a.queue(types.DiagnosticMessage{
			Scope:   a.scope,
			Message: fmt.Sprintf("Collection orderer %T failed during ordering: %v", a.collectionOrderer, err),
		})
		return DeclarationCollectionOrderer{}.OrderCollections(collections)
	}
	return ordered
}

// queue sends msg to the bus and cancels the run when the bus asks
// producers to stop.
func (a *assemblyRun) queue(msg types.Message) bool {
	if !a.bus.QueueMessage(msg) {
		a.cancel(ErrRunStopped)
		return false
	}
	return true
}

func (a *assemblyRun) runCollection(ctx context.Context, c *Collection, parent *aggregator.Aggregator) types.RunSummary {
	if err := c.transition(StateNotStarted, StateRunning); err != nil {
		a.log.Error("Cannot start collection", "collection", c.DisplayName, "err", err)
		return types.RunSummary{}
	}
	metrics.RecordCollectionStarted()
	final := StateCompleted
	defer func() { metrics.RecordCollectionFinished(final.String()) }()

	ctx, span := a.tracer.Start(ctx, fmt.Sprintf("collection %s", c.DisplayName))
	defer span.End()

	cs := &collectionRun{
		assemblyRun: a,
		collection:  c,
		log:         a.log.New("collection", c.DisplayName),
		agg:         parent.Clone(),
		cleanup:     aggregator.New(),
	}
	cs.scope = a.scope
	cs.scope.CollectionID = types.CollectionUniqueID(a.scope.AssemblyID, c.DisplayName, c.Definition)

	start := time.Now()
	cs.queue(types.CollectionStarting{
		Scope:       cs.scope,
		DisplayName: c.DisplayName,
		Definition:  c.Definition,
		Traits:      c.Traits,
	})

	var ready []types.Fixture
	if ctx.Err() == nil && !cs.agg.HasErrors() {
		ready = setupFixtures(ctx, "collection", c.Fixtures, cs.agg)
	}
	if cs.agg.HasErrors() {
		cs.faulted = true
		cs.log.Error("Collection setup failed, failing all test cases", "err", cs.agg.ToError())
	}

	// A failing test case collaborator faults the collection, never its siblings.
	var summary types.RunSummary
	cs.cleanup.Run(func() error {
		for _, class := range groupBy(cs.orderTestCases(c.Cases), types.TestCase.Class) {
			summary.Aggregate(cs.runClass(ctx, class))
		}
		return nil
	})
	if cs.cleanup.HasErrors() {
		cs.log.Error("Collection aborted", "err", cs.cleanup.ToError())
	}

	teardownFixtures(context.WithoutCancel(ctx), "collection", ready, cs.cleanup)
	if cs.cleanup.HasErrors() {
		cs.faulted = true
		cs.queue(types.CollectionCleanupFailure{Scope: cs.scope, Failure: types.FailureInfoFromError(cs.cleanup.ToError())})
	}

	summary.Time = time.Since(start)
	cs.queue(types.CollectionFinished{Scope: cs.scope, Summary: summary})

	switch {
	case cs.faulted:
		final = StateFaulted
	case cs.cancelled:
		final = StateCancelled
	}
	if err := c.transition(StateRunning, final); err != nil {
		cs.log.Error("Cannot finish collection", "err", err)
	}
	cs.log.Debug("Collection finished", "state", final, "summary", summary)
	return summary
}

// collectionRun is the state of one collection. Its methods run on a single
// goroutine.
type collectionRun struct {
	*assemblyRun
	collection *Collection
	log        log.Logger
	scope      types.Scope
	// agg holds setup failures inherited by every case of the collection
	agg       *aggregator.Aggregator
	cleanup   *aggregator.Aggregator
	faulted   bool
	cancelled bool
}

func (cs *collectionRun) orderTestCases(cases []types.TestCase) []types.TestCase {
	agg := aggregator.New()
	ordered := aggregator.RunValue(agg, func() ([]types.TestCase, error) {
		return cs.caseOrderer.OrderTestCases(cases), nil
	}, nil)
	if agg.HasErrors() {
		err := agg.ToError()
		cs.log.Warn("Test case orderer failed, using declaration order", "orderer", fmt.Sprintf("%T", cs.caseOrderer), "err", err)
		cs.queue(types.DiagnosticMessage{
			Scope:   cs.scope,
			Message: fmt.Sprintf("Test case orderer %T failed during ordering: %v", cs.caseOrderer, err),
		})
		return DeclarationOrderer{}.OrderTestCases(cases)
	}
	return ordered
}

func (cs *collectionRun) runClass(ctx context.Context, class caseGroup) types.RunSummary {
	scope := cs.scope
	scope.ClassID = types.ClassUniqueID(scope.CollectionID, class.name)
	if scope.ClassID != "" {
		cs.queue(types.ClassStarting{Scope: scope, ClassName: class.name})
	}

	agg := cs.agg.Clone()
	var ready []types.Fixture
	if ctx.Err() == nil && !agg.HasErrors() {
		ready = setupFixtures(ctx, "class", cs.collection.ClassFixtures[class.name], agg)
	}

	var summary types.RunSummary
	for _, method := range groupBy(class.cases, types.TestCase.Method) {
		summary.Aggregate(cs.runMethod(ctx, scope, method, agg))
	}

	cleanup := aggregator.New()
	teardownFixtures(context.WithoutCancel(ctx), "class", ready, cleanup)
	if cleanup.HasErrors() {
		if scope.ClassID != "" {
			cs.faulted = true
			cs.queue(types.ClassCleanupFailure{Scope: scope, Failure: types.FailureInfoFromError(cleanup.ToError())})
		} else {
			cs.cleanup.Aggregate(cleanup)
		}
	}

	if scope.ClassID != "" {
		cs.queue(types.ClassFinished{Scope: scope, Summary: summary})
	}
	return summary
}

func (cs *collectionRun) runMethod(ctx context.Context, classScope types.Scope, method caseGroup, agg *aggregator.Aggregator) types.RunSummary {
	scope := classScope
	scope.MethodID = types.MethodUniqueID(scope.ClassID, method.name)
	if scope.MethodID != "" {
		cs.queue(types.MethodStarting{Scope: scope, MethodName: method.name})
	}

	var summary types.RunSummary
	for _, tc := range method.cases {
		summary.Aggregate(cs.runTestCase(ctx, scope, tc, agg))
	}

	if scope.MethodID != "" {
		cs.queue(types.MethodFinished{Scope: scope, Summary: summary})
	}
	return summary
}

func (cs *collectionRun) caseStarting(scope types.Scope, tc types.TestCase) types.TestCaseStarting {
	msg := types.TestCaseStarting{
		Scope:       scope,
		DisplayName: tc.DisplayName(),
		ClassName:   tc.Class(),
		MethodName:  tc.Method(),
		SkipReason:  tc.SkipReason(),
	}
	if tp, ok := tc.(types.TraitProvider); ok {
		msg.Traits = tp.Traits()
	}
	return msg
}

// runTestCase runs one case. Cancellation is only checked before the case
// starts; once started it runs to completion.
func (cs *collectionRun) runTestCase(ctx context.Context, parent types.Scope, tc types.TestCase, agg *aggregator.Aggregator) types.RunSummary {
	scope := parent
	scope.TestCaseID = tc.UniqueID()
	if ctx.Err() != nil {
		cs.cancelled = true
		return cs.notRun(scope, tc, context.Cause(ctx))
	}

	cs.queue(cs.caseStarting(scope, tc))
	if cs.monitor != nil {
		cs.monitor.TestStarted(scope.CollectionID, scope.TestCaseID, tc.DisplayName())
		defer cs.monitor.TestFinished(scope.CollectionID, scope.TestCaseID)
	}

	testScope := scope
	testScope.TestID = types.TestUniqueID(scope.TestCaseID, 0)
	cs.queue(types.TestStarting{Scope: testScope, DisplayName: tc.DisplayName(), StartTime: time.Now()})

	tctx := types.NewTestContext(testScope.TestID, tc.DisplayName())
	summary := types.RunSummary{Total: 1}
	var (
		elapsed time.Duration
		errs    []error
	)
	switch {
	case tc.SkipReason() != "":
		errs = []error{types.Skip(tc.SkipReason())}
	case agg.HasErrors():
		errs = []error{agg.ToError()}
	default:
		elapsed, errs = cs.invoke(ctx, tc, tctx)
	}

	cleanup := aggregator.New()
	for _, fn := range tctx.TakeCleanups() {
		cleanup.Run(fn)
	}

	output, warnings := tctx.Output(), tctx.Warnings()
	var result types.Message
	reason, skipped := "", false
	if len(errs) == 1 {
		reason, skipped = types.AsSkip(errs[0])
	}
	switch {
	case len(errs) == 0:
		result = types.TestPassed{Scope: testScope, ExecutionTime: elapsed, Output: output, Warnings: warnings}
	case skipped:
		summary.Skipped = 1
		result = types.TestSkipped{Scope: testScope, Reason: reason, ExecutionTime: elapsed, Output: output, Warnings: warnings}
	default:
		summary.Failed = 1
		err := errs[0]
		if len(errs) > 1 {
			err = &aggregator.MultipleFailuresError{Errs: errs}
		}
		result = types.TestFailed{
			Scope:         testScope,
			ExecutionTime: elapsed,
			Output:        output,
			Warnings:      warnings,
			Cause:         types.FailureCauseFromError(err),
			Failure:       types.FailureInfoFromError(err),
		}
	}
	summary.Time = elapsed
	cs.log.Debug("Test finished", "test", tc.DisplayName(), "result", result.Kind(), "duration", elapsed)

	cs.queue(result)
	if cleanup.HasErrors() {
		cs.queue(types.TestCleanupFailure{Scope: testScope, Failure: types.FailureInfoFromError(cleanup.ToError())})
	}
	cs.queue(types.TestFinished{
		Scope:         testScope,
		ExecutionTime: elapsed,
		Output:        output,
		Warnings:      warnings,
		FinishTime:    time.Now(),
	})
	cs.queue(types.TestCaseFinished{Scope: scope, Summary: summary})
	return summary
}

// invoke runs the before hook, the test body and the after hook. The body
// and after hook are skipped when the before hook fails.
func (cs *collectionRun) invoke(ctx context.Context, tc types.TestCase, tctx *types.TestContext) (time.Duration, []error) {
	ctx = context.WithoutCancel(ctx)
	agg := aggregator.New()
	start := time.Now()

	if before, ok := tc.(types.BeforeTester); ok {
		agg.RunContext(ctx, func(ctx context.Context) error { return before.BeforeTest(ctx, tctx) })
	}
	if !agg.HasErrors() {
		testCtx, span := cs.tracer.Start(ctx, fmt.Sprintf("test %s", tc.DisplayName()))
		agg.RunContext(testCtx, func(ctx context.Context) error { return tc.Run(ctx, tctx) })
		span.End()

		if after, ok := tc.(types.AfterTester); ok {
			agg.RunContext(ctx, func(ctx context.Context) error { return after.AfterTest(ctx, tctx) })
		}
	}
	return time.Since(start), agg.Errors()
}

func (cs *collectionRun) notRun(scope types.Scope, tc types.TestCase, cause error) types.RunSummary {
	reason := "test run cancelled"
	if cause != nil {
		reason = cause.Error()
	}
	testScope := scope
	testScope.TestID = types.TestUniqueID(scope.TestCaseID, 0)
	summary := types.RunSummary{Total: 1, NotRun: 1}

	cs.queue(cs.caseStarting(scope, tc))
	cs.queue(types.TestStarting{Scope: testScope, DisplayName: tc.DisplayName(), StartTime: time.Now()})
	cs.queue(types.TestNotRun{Scope: testScope, Reason: reason})
	cs.queue(types.TestFinished{Scope: testScope, FinishTime: time.Now()})
	cs.queue(types.TestCaseFinished{Scope: scope, Summary: summary})
	return summary
}

func setupFixtures(ctx context.Context, level string, fixtures []types.Fixture, agg *aggregator.Aggregator) []types.Fixture {
	var ready []types.Fixture
	for _, f := range fixtures {
		if setupFixture(ctx, level, f, agg) {
			ready = append(ready, f)
		}
	}
	return ready
}

// setupFixturesConcurrently sets up all fixtures at once and returns the
// ones that succeeded, in declaration order.
func setupFixturesConcurrently(ctx context.Context, fixtures []types.Fixture, agg *aggregator.Aggregator) []types.Fixture {
	ok := make([]bool, len(fixtures))
	var g errgroup.Group
	for i, f := range fixtures {
		g.Go(func() error {
			ok[i] = setupFixture(ctx, "assembly", f, agg)
			return nil
		})
	}
	_ = g.Wait()

	var ready []types.Fixture
	for i, f := range fixtures {
		if ok[i] {
			ready = append(ready, f)
		}
	}
	return ready
}

func setupFixture(ctx context.Context, level string, f types.Fixture, agg *aggregator.Aggregator) bool {
	return aggregator.RunValueContext(ctx, agg, func(ctx context.Context) (bool, error) {
		if err := f.Setup(ctx); err != nil {
			return false, fmt.Errorf("%s fixture %q setup failed: %w", level, f.Name(), err)
		}
		return true, nil
	}, false)
}

// teardownFixtures tears fixtures down in reverse order.
func teardownFixtures(ctx context.Context, level string, fixtures []types.Fixture, agg *aggregator.Aggregator) {
	for i := len(fixtures) - 1; i >= 0; i-- {
		f := fixtures[i]
		agg.RunContext(ctx, func(ctx context.Context) error {
			if err := f.Teardown(ctx); err != nil {
				return fmt.Errorf("%s fixture %q teardown failed: %w", level, f.Name(), err)
			}
			return nil
		})
	}
}
