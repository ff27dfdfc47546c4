package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testexec/aggregator"
	"github.com/ethereum-optimism/infra/op-testexec/bus"
	"github.com/ethereum-optimism/infra/op-testexec/sinks"
	"github.com/ethereum-optimism/infra/op-testexec/types"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func newTestRunner(opts types.ExecutionOptions, runnerOpts ...Option) (*AssemblyRunner, *sinks.Recorder) {
	rec := sinks.NewRecorder()
	b := bus.NewSynchronous(rec, bus.WithLogger(testLogger()), bus.WithExecutionOptions(opts))
	return NewAssemblyRunner(b, opts, testLogger(), runnerOpts...), rec
}

func passing(class, method, name string) *types.FuncTestCase {
	return &types.FuncTestCase{ClassName: class, MethodName: method, Name: name}
}

func withBody(tc *types.FuncTestCase, body func(ctx context.Context, tc *types.TestContext) error) *types.FuncTestCase {
	tc.Body = body
	return tc
}

func failing(fixtureName string, setup, teardown error) *types.FuncFixture {
	return &types.FuncFixture{
		FixtureName: fixtureName,
		SetupFn:     func(context.Context) error { return setup },
		TeardownFn:  func(context.Context) error { return teardown },
	}
}

func TestMessageSequence(t *testing.T) {
	r, rec := newTestRunner(types.ExecutionOptions{MaxParallelThreads: 1})
	coll := &Collection{
		DisplayName: "collection",
		Cases:       []types.TestCase{passing("C", "M", "a"), passing("C", "M", "b")},
	}

	summary, err := r.Run(context.Background(), &Assembly{Name: "asm", Collections: []*Collection{coll}})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Passed())
	assert.Equal(t, StateCompleted, coll.State())

	testMessages := []types.MessageKind{
		types.KindTestCaseStarting, types.KindTestStarting, types.KindTestPassed, types.KindTestFinished, types.KindTestCaseFinished,
	}
	expected := []types.MessageKind{types.KindAssemblyStarting, types.KindCollectionStarting, types.KindClassStarting, types.KindMethodStarting}
	expected = append(expected, testMessages...)
	expected = append(expected, testMessages...)
	expected = append(expected, types.KindMethodFinished, types.KindClassFinished, types.KindCollectionFinished, types.KindAssemblyFinished)
	assert.Equal(t, expected, rec.Kinds())

	// every message carries the correlation chain of its parents
	asmID := rec.Messages()[0].MessageScope().AssemblyID
	require.NotEmpty(t, asmID)
	for _, msg := range rec.Messages() {
		assert.Equal(t, asmID, msg.MessageScope().AssemblyID, msg.Kind())
	}
	passed := sinks.Filter[types.TestPassed](rec)
	require.Len(t, passed, 2)
	assert.NotEqual(t, passed[0].TestCaseID, passed[1].TestCaseID)
	assert.NotEmpty(t, passed[0].MethodID)
	assert.NotEmpty(t, passed[0].ClassID)
	assert.Equal(t, types.TestUniqueID(passed[0].TestCaseID, 0), passed[0].TestID)

	finished := sinks.Filter[types.AssemblyFinished](rec)
	require.Len(t, finished, 1)
	assert.Equal(t, 2, finished[0].Summary.Total)
}

func TestIDsAreStableAcrossRuns(t *testing.T) {
	build := func() *Assembly {
		return &Assembly{Name: "asm", Path: "/plans/a.yaml", Collections: []*Collection{{
			DisplayName: "collection",
			Cases:       []types.TestCase{passing("C", "M", "a")},
		}}}
	}
	r1, rec1 := newTestRunner(types.ExecutionOptions{})
	r2, rec2 := newTestRunner(types.ExecutionOptions{})
	_, err := r1.Run(context.Background(), build())
	require.NoError(t, err)
	_, err = r2.Run(context.Background(), build())
	require.NoError(t, err)

	require.Equal(t, rec1.Len(), rec2.Len())
	for i, msg := range rec1.Messages() {
		assert.Equal(t, msg.MessageScope(), rec2.Messages()[i].MessageScope())
	}
}

func TestCasesWithoutClassOmitClassMessages(t *testing.T) {
	r, rec := newTestRunner(types.ExecutionOptions{})
	coll := &Collection{DisplayName: "collection", Cases: []types.TestCase{passing("", "", "plain")}}

	_, err := r.Run(context.Background(), &Assembly{Name: "asm", Collections: []*Collection{coll}})
	require.NoError(t, err)
	assert.Empty(t, sinks.Filter[types.ClassStarting](rec))
	assert.Empty(t, sinks.Filter[types.MethodStarting](rec))
	assert.Len(t, sinks.Filter[types.TestPassed](rec), 1)
}

func TestTestOutcomes(t *testing.T) {
	sentinel := errors.New("assertion failed")
	var ranAfterBefore atomic.Bool
	cases := []types.TestCase{
		withBody(passing("C", "M", "output"), func(_ context.Context, tc *types.TestContext) error {
			tc.Log("hello")
			tc.Warn("be careful")
			return nil
		}),
		withBody(passing("C", "M", "fails"), func(context.Context, *types.TestContext) error { return sentinel }),
		withBody(passing("C", "M", "panics"), func(context.Context, *types.TestContext) error { panic("boom") }),
		withBody(passing("C", "M", "skips"), func(context.Context, *types.TestContext) error { return types.Skip("not today") }),
		&types.FuncTestCase{ClassName: "C", MethodName: "M", Name: "static-skip", Skip: "disabled",
			Body: func(context.Context, *types.TestContext) error { panic("must not run") }},
		&types.FuncTestCase{ClassName: "C", MethodName: "M", Name: "before-fails",
			Before: func(context.Context, *types.TestContext) error { return errors.New("before") },
			Body: func(context.Context, *types.TestContext) error {
				ranAfterBefore.Store(true)
				return nil
			}},
		&types.FuncTestCase{ClassName: "C", MethodName: "M", Name: "after-fails",
			After: func(context.Context, *types.TestContext) error { return errors.New("after") }},
		withBody(passing("C", "M", "timeout"), func(context.Context, *types.TestContext) error {
			return fmt.Errorf("command: %w", context.DeadlineExceeded)
		}),
	}
	r, rec := newTestRunner(types.ExecutionOptions{})
	summary, err := r.Run(context.Background(), &Assembly{Name: "asm", Collections: []*Collection{{DisplayName: "c", Cases: cases}}})
	require.NoError(t, err)

	assert.Equal(t, types.RunSummary{Total: 8, Failed: 5, Skipped: 2, Time: summary.Time}, summary)
	assert.False(t, ranAfterBefore.Load())

	passed := sinks.Filter[types.TestPassed](rec)
	require.Len(t, passed, 1)
	assert.Equal(t, "hello\n", passed[0].Output)
	assert.Equal(t, []string{"be careful"}, passed[0].Warnings)

	failed := sinks.Filter[types.TestFailed](rec)
	require.Len(t, failed, 5)
	assert.Equal(t, "assertion failed", failed[0].Failure.Message())
	assert.Contains(t, failed[1].Failure.Message(), "boom")
	assert.Equal(t, "before", failed[2].Failure.Message())
	assert.Equal(t, "after", failed[3].Failure.Message())
	assert.Equal(t, types.FailureCauseTimeout, failed[4].Cause)
	assert.Equal(t, types.FailureCauseException, failed[0].Cause)

	skipped := sinks.Filter[types.TestSkipped](rec)
	require.Len(t, skipped, 2)
	assert.Equal(t, "not today", skipped[0].Reason)
	assert.Equal(t, "disabled", skipped[1].Reason)

	starting := sinks.Filter[types.TestCaseStarting](rec)
	assert.Equal(t, "disabled", starting[4].SkipReason)
}

func TestTestContextCleanupFailure(t *testing.T) {
	var order []string
	tc := withBody(passing("C", "M", "cleanup"), func(_ context.Context, tc *types.TestContext) error {
		tc.Cleanup(func() error { order = append(order, "first"); return nil })
		tc.Cleanup(func() error { order = append(order, "second"); return errors.New("cleanup failed") })
		return nil
	})
	r, rec := newTestRunner(types.ExecutionOptions{})
	_, err := r.Run(context.Background(), &Assembly{Name: "asm", Collections: []*Collection{{DisplayName: "c", Cases: []types.TestCase{tc}}}})
	require.NoError(t, err)

	assert.Equal(t, []string{"second", "first"}, order)
	failures := sinks.Filter[types.TestCleanupFailure](rec)
	require.Len(t, failures, 1)
	assert.Equal(t, "cleanup failed", failures[0].Failure.Message())
	assert.Len(t, sinks.Filter[types.TestPassed](rec), 1)
}

func TestCollectionSetupFailureFailsEveryCase(t *testing.T) {
	var ran atomic.Int32
	body := func(context.Context, *types.TestContext) error { ran.Add(1); return nil }
	coll := &Collection{
		DisplayName: "broken",
		Fixtures:    []types.Fixture{failing("db", errors.New("no database"), nil)},
		Cases:       []types.TestCase{withBody(passing("C", "M", "a"), body), withBody(passing("C", "N", "b"), body)},
	}
	healthy := &Collection{DisplayName: "healthy", Cases: []types.TestCase{passing("D", "M", "c")}}

	r, rec := newTestRunner(types.ExecutionOptions{})
	summary, err := r.Run(context.Background(), &Assembly{Name: "asm", Collections: []*Collection{coll, healthy}})
	require.NoError(t, err)

	assert.Zero(t, ran.Load())
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, StateFaulted, coll.State())
	assert.Equal(t, StateCompleted, healthy.State())

	for _, f := range sinks.Filter[types.TestFailed](rec) {
		assert.Contains(t, f.Failure.Message(), "no database")
	}
}

func TestCleanupFailuresAreAttributedToTheirScope(t *testing.T) {
	coll := &Collection{
		DisplayName: "c",
		Fixtures:    []types.Fixture{failing("collection-fixture", nil, errors.New("collection teardown"))},
		ClassFixtures: map[string][]types.Fixture{
			"C": {failing("class-fixture", nil, errors.New("class teardown"))},
		},
		Cases: []types.TestCase{passing("C", "M", "a"), passing("D", "M", "b")},
	}
	asm := &Assembly{
		Name:        "asm",
		Fixtures:    []types.Fixture{failing("assembly-fixture", nil, errors.New("assembly teardown"))},
		Collections: []*Collection{coll},
	}

	r, rec := newTestRunner(types.ExecutionOptions{})
	summary, err := r.Run(context.Background(), asm)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Passed(), "cleanup failures do not change test outcomes")
	assert.Equal(t, StateFaulted, coll.State())

	classFailures := sinks.Filter[types.ClassCleanupFailure](rec)
	require.Len(t, classFailures, 1)
	assert.Contains(t, classFailures[0].Failure.Message(), "class teardown")
	assert.Equal(t, types.ClassUniqueID(classFailures[0].CollectionID, "C"), classFailures[0].ClassID)

	collFailures := sinks.Filter[types.CollectionCleanupFailure](rec)
	require.Len(t, collFailures, 1)
	assert.Contains(t, collFailures[0].Failure.Message(), "collection teardown")

	asmFailures := sinks.Filter[types.AssemblyCleanupFailure](rec)
	require.Len(t, asmFailures, 1)
	assert.Contains(t, asmFailures[0].Failure.Message(), "assembly teardown")

	kinds := rec.Kinds()
	assert.Equal(t, types.KindAssemblyCleanupFailure, kinds[len(kinds)-2])
}

func TestAssemblyFixturesSetUpConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	barrier := func(context.Context) error {
		arrived.Done()
		done := make(chan struct{})
		go func() { arrived.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("fixtures were not set up concurrently")
		}
	}
	var tornDown []string
	var mu sync.Mutex
	fixture := func(name string) types.Fixture {
		return &types.FuncFixture{FixtureName: name, SetupFn: barrier, TeardownFn: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			tornDown = append(tornDown, name)
			return nil
		}}
	}
	asm := &Assembly{
		Name:        "asm",
		Fixtures:    []types.Fixture{fixture("first"), fixture("second")},
		Collections: []*Collection{{DisplayName: "c", Cases: []types.TestCase{passing("C", "M", "a")}}},
	}

	r, rec := newTestRunner(types.ExecutionOptions{})
	summary, err := r.Run(context.Background(), asm)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed())
	assert.Empty(t, sinks.Filter[types.TestFailed](rec))
	assert.Equal(t, []string{"second", "first"}, tornDown)
}

func TestAssemblyFixtureFailureFailsEveryCase(t *testing.T) {
	asm := &Assembly{
		Name:     "asm",
		Fixtures: []types.Fixture{failing("network", errors.New("network down"), nil)},
		Collections: []*Collection{
			{DisplayName: "a", Cases: []types.TestCase{passing("C", "M", "a")}},
			{DisplayName: "b", Cases: []types.TestCase{passing("C", "M", "b")}},
		},
	}
	r, rec := newTestRunner(types.ExecutionOptions{})
	summary, err := r.Run(context.Background(), asm)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Failed)
	for _, f := range sinks.Filter[types.TestFailed](rec) {
		assert.Contains(t, f.Failure.Message(), "network down")
	}
}

func TestStopOnFail(t *testing.T) {
	var ran []string
	record := func(name string, err error) *types.FuncTestCase {
		return withBody(passing("C", "M", name), func(context.Context, *types.TestContext) error {
			ran = append(ran, name)
			return err
		})
	}
	coll := &Collection{
		DisplayName: "c",
		Cases:       []types.TestCase{record("first", nil), record("second", errors.New("fail")), record("third", nil)},
	}

	r, rec := newTestRunner(types.ExecutionOptions{MaxParallelThreads: 1, StopOnTestFail: true})
	summary, err := r.Run(context.Background(), &Assembly{Name: "asm", Collections: []*Collection{coll}})
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, ran)
	assert.Equal(t, types.RunSummary{Total: 3, Failed: 1, NotRun: 1, Time: summary.Time}, summary)
	assert.Equal(t, StateCancelled, coll.State())

	notRun := sinks.Filter[types.TestNotRun](rec)
	require.Len(t, notRun, 1)
	assert.Contains(t, notRun[0].Reason, ErrRunStopped.Error())
	// the run still closes every scope
	assert.Len(t, sinks.Filter[types.AssemblyFinished](rec), 1)
}

func TestCancellationMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var finished atomic.Bool
	coll := &Collection{
		DisplayName: "c",
		Cases: []types.TestCase{
			passing("C", "M", "first"),
			withBody(passing("C", "M", "second"), func(ctx context.Context, _ *types.TestContext) error {
				cancel()
				// a started case runs to completion
				time.Sleep(10 * time.Millisecond)
				finished.Store(ctx.Err() == nil)
				return nil
			}),
			passing("C", "M", "third"),
			passing("C", "N", "fourth"),
		},
	}

	r, rec := newTestRunner(types.ExecutionOptions{MaxParallelThreads: 1})
	summary, err := r.Run(ctx, &Assembly{Name: "asm", Collections: []*Collection{coll}})
	require.NoError(t, err)

	assert.True(t, finished.Load())
	assert.Equal(t, 2, summary.Passed())
	assert.Equal(t, 2, summary.NotRun)
	assert.Equal(t, StateCancelled, coll.State())

	notRun := sinks.Filter[types.TestNotRun](rec)
	require.Len(t, notRun, 2)
	starting := sinks.Filter[types.TestCaseStarting](rec)
	require.Len(t, starting, 4)
	assert.Equal(t, starting[2].TestCaseID, notRun[0].TestCaseID)
	assert.Equal(t, starting[3].TestCaseID, notRun[1].TestCaseID)

	caseFinished := sinks.Filter[types.TestCaseFinished](rec)
	assert.Equal(t, 1, caseFinished[3].Summary.NotRun)
}

func TestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var setupRan atomic.Bool
	coll := &Collection{
		DisplayName: "c",
		Fixtures: []types.Fixture{&types.FuncFixture{FixtureName: "f", SetupFn: func(context.Context) error {
			setupRan.Store(true)
			return nil
		}}},
		Cases: []types.TestCase{passing("C", "M", "a"), passing("C", "M", "b")},
	}
	r, _ := newTestRunner(types.ExecutionOptions{})
	summary, err := r.Run(ctx, &Assembly{Name: "asm", Collections: []*Collection{coll}})
	require.NoError(t, err)

	assert.False(t, setupRan.Load())
	assert.Equal(t, 2, summary.NotRun)
	assert.Equal(t, StateCancelled, coll.State())
}

func TestListenerPanicDoesNotStopTheRun(t *testing.T) {
	rec := sinks.NewRecorder()
	sink := sinks.SinkFunc(func(msg types.Message) bool {
		if _, ok := msg.(types.TestPassed); ok {
			panic("reporter bug")
		}
		return rec.OnMessage(msg)
	})
	b := bus.New(sink, bus.WithLogger(testLogger()))
	r := NewAssemblyRunner(b, types.ExecutionOptions{}, testLogger())

	summary, err := r.Run(context.Background(), &Assembly{Name: "asm", Collections: []*Collection{{
		DisplayName: "c",
		Cases:       []types.TestCase{passing("C", "M", "a"), passing("C", "M", "b")},
	}}})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	assert.Equal(t, 2, summary.Passed())
	assert.Len(t, sinks.Filter[types.ErrorMessage](rec), 2)
	assert.Len(t, sinks.Filter[types.AssemblyFinished](rec), 1)
}

func TestRunRejectsInvalidInput(t *testing.T) {
	r, _ := newTestRunner(types.ExecutionOptions{})
	_, err := r.Run(context.Background(), nil)
	assert.Error(t, err)

	r, _ = newTestRunner(types.ExecutionOptions{LongRunningTestSeconds: -1})
	_, err = r.Run(context.Background(), &Assembly{Name: "asm"})
	assert.ErrorContains(t, err, "invalid execution options")
}

func TestCollectionCannotRunTwice(t *testing.T) {
	coll := &Collection{DisplayName: "c", Cases: []types.TestCase{passing("C", "M", "a")}}
	r, _ := newTestRunner(types.ExecutionOptions{})

	first, err := r.Run(context.Background(), &Assembly{Name: "asm", Collections: []*Collection{coll}})
	require.NoError(t, err)
	second, err := r.Run(context.Background(), &Assembly{Name: "asm", Collections: []*Collection{coll}})
	require.NoError(t, err)

	assert.Equal(t, 1, first.Total)
	assert.Zero(t, second.Total)
}

func TestStateTransitions(t *testing.T) {
	c := &Collection{}
	assert.Equal(t, StateNotStarted, c.State())

	assert.ErrorIs(t, c.transition(StateNotStarted, StateCompleted), ErrInvalidTransition)
	require.NoError(t, c.transition(StateNotStarted, StateRunning))
	assert.ErrorIs(t, c.transition(StateNotStarted, StateRunning), ErrInvalidTransition)
	require.NoError(t, c.transition(StateRunning, StateFaulted))
	assert.ErrorIs(t, c.transition(StateFaulted, StateRunning), ErrInvalidTransition)
	assert.Equal(t, "faulted", c.State().String())
}

func TestOrderers(t *testing.T) {
	a := &types.FuncTestCase{ID: "b", Name: "first"}
	b := &types.FuncTestCase{ID: "a", Name: "second"}
	cases := []types.TestCase{a, b}

	assert.Equal(t, []types.TestCase{a, b}, DeclarationOrderer{}.OrderTestCases(cases))
	assert.Equal(t, []types.TestCase{b, a}, UniqueIDOrderer{}.OrderTestCases(cases))
	assert.Equal(t, []types.TestCase{a, b}, cases, "orderers must not modify their input")

	x, y := &Collection{DisplayName: "y"}, &Collection{DisplayName: "x"}
	assert.Equal(t, []*Collection{x, y}, DeclarationCollectionOrderer{}.OrderCollections([]*Collection{x, y}))
	assert.Equal(t, []*Collection{y, x}, DisplayNameCollectionOrderer{}.OrderCollections([]*Collection{x, y}))
}

func TestCustomOrderer(t *testing.T) {
	r, rec := newTestRunner(types.ExecutionOptions{}, WithTestCaseOrderer(UniqueIDOrderer{}), WithRunID("run"))
	coll := &Collection{DisplayName: "c", Cases: []types.TestCase{
		&types.FuncTestCase{ID: "2", Name: "two"},
		&types.FuncTestCase{ID: "1", Name: "one"},
	}}
	_, err := r.Run(context.Background(), &Assembly{Name: "asm", Collections: []*Collection{coll}})
	require.NoError(t, err)

	starting := sinks.Filter[types.TestCaseStarting](rec)
	require.Len(t, starting, 2)
	assert.Equal(t, "one", starting[0].DisplayName)
}

func TestGroupByKeepsFirstAppearanceOrder(t *testing.T) {
	cases := []types.TestCase{
		passing("B", "M", "1"), passing("A", "M", "2"), passing("B", "M", "3"),
	}
	groups := groupBy(cases, types.TestCase.Class)
	require.Len(t, groups, 2)
	assert.Equal(t, "B", groups[0].name)
	assert.Len(t, groups[0].cases, 2)
	assert.Equal(t, "A", groups[1].name)
}

func TestSetupFixtureRecoversPanics(t *testing.T) {
	agg := aggregator.New()
	ready := setupFixtures(context.Background(), "class", []types.Fixture{
		&types.FuncFixture{FixtureName: "panics", SetupFn: func(context.Context) error { panic("setup") }},
		&types.FuncFixture{FixtureName: "fine"},
	}, agg)
	require.Len(t, ready, 1)
	assert.Equal(t, "fine", ready[0].Name())
	assert.True(t, agg.HasErrors())
}

// brokenClassCase panics when asked for its class, like a misbehaving
// discovery collaborator.
type brokenClassCase struct {
	*types.FuncTestCase
}

func (brokenClassCase) Class() string {
	panic("discovery collaborator blew up")
}

func TestCollectionPanicDoesNotAbortSiblings(t *testing.T) {
	bad := &Collection{DisplayName: "bad", Cases: []types.TestCase{brokenClassCase{passing("C", "M", "broken")}}}
	good := &Collection{DisplayName: "good", Cases: []types.TestCase{passing("C", "M", "ok")}}

	r, rec := newTestRunner(types.ExecutionOptions{MaxParallelThreads: 2})
	var (
		summary types.RunSummary
		err     error
	)
	require.NotPanics(t, func() {
		summary, err = r.Run(context.Background(), &Assembly{Name: "asm", Collections: []*Collection{bad, good}})
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Passed())
	assert.Equal(t, StateFaulted, bad.State())
	assert.Equal(t, StateCompleted, good.State())

	failures := sinks.Filter[types.CollectionCleanupFailure](rec)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Failure.Message(), "discovery collaborator blew up")
	assert.Len(t, sinks.Filter[types.CollectionFinished](rec), 2)
	assert.Len(t, sinks.Filter[types.AssemblyFinished](rec), 1)
}

type panickingCaseOrderer struct{}

func (panickingCaseOrderer) OrderTestCases([]types.TestCase) []types.TestCase {
	panic("case orderer blew up")
}

type panickingCollectionOrderer struct{}

func (panickingCollectionOrderer) OrderCollections([]*Collection) []*Collection {
	panic("collection orderer blew up")
}

func TestFailingOrderersFallBackToDeclarationOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		ran []string
	)
	record := func(name string) *types.FuncTestCase {
		return withBody(passing("", "", name), func(context.Context, *types.TestContext) error {
			mu.Lock()
			defer mu.Unlock()
			ran = append(ran, name)
			return nil
		})
	}
	collections := []*Collection{
		{DisplayName: "first", Cases: []types.TestCase{record("b"), record("a")}},
		{DisplayName: "second", Cases: []types.TestCase{record("c")}},
	}

	r, rec := newTestRunner(types.ExecutionOptions{MaxParallelThreads: 1},
		WithTestCaseOrderer(panickingCaseOrderer{}), WithCollectionOrderer(panickingCollectionOrderer{}))
	summary, err := r.Run(context.Background(), &Assembly{Name: "asm", Collections: collections})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Passed())
	assert.Equal(t, []string{"b", "a", "c"}, ran)

	diagnostics := sinks.Filter[types.DiagnosticMessage](rec)
	require.Len(t, diagnostics, 3)
	assert.Contains(t, diagnostics[0].Message, "collection orderer blew up")
	assert.Contains(t, diagnostics[1].Message, "case orderer blew up")
	assert.Empty(t, sinks.Filter[types.CollectionCleanupFailure](rec))
}
