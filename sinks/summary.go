package sinks

import (
	"sync"

	"github.com/ethereum-optimism/infra/op-testexec/metrics"
	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// SummarySink tallies the outcome of a run. The summary is the one reported
// by AssemblyFinished; the sink also counts errors and cleanup failures seen
// along the way.
type SummarySink struct {
	inner Sink
	runID string

	mu       sync.Mutex
	summary  types.RunSummary
	errors   int
	failures []types.TestFailed

	finished     chan struct{}
	finishedOnce sync.Once
}

func NewSummarySink(inner Sink, runID string) *SummarySink {
	return &SummarySink{inner: inner, runID: runID, finished: make(chan struct{})}
}

func (s *SummarySink) OnMessage(msg types.Message) bool {
	s.record(msg)
	result := deliver(s.inner, msg)
	if _, ok := msg.(types.AssemblyFinished); ok {
		s.finishedOnce.Do(func() { close(s.finished) })
	}
	return result
}

func (s *SummarySink) record(msg types.Message) {
	switch m := msg.(type) {
	case types.TestPassed:
		metrics.RecordTestResult(s.runID, "pass", m.ExecutionTime)
	case types.TestFailed:
		metrics.RecordTestResult(s.runID, "fail", m.ExecutionTime)
		s.mu.Lock()
		s.failures = append(s.failures, m)
		s.mu.Unlock()
	case types.TestSkipped:
		metrics.RecordTestResult(s.runID, "skip", m.ExecutionTime)
	case types.TestNotRun:
		metrics.RecordTestResult(s.runID, "not_run", 0)
	case types.ErrorMessage, types.AssemblyCleanupFailure, types.CollectionCleanupFailure,
		types.ClassCleanupFailure, types.TestCleanupFailure:
		s.mu.Lock()
		s.errors++
		s.mu.Unlock()
	case types.AssemblyFinished:
		s.mu.Lock()
		s.summary = m.Summary
		s.mu.Unlock()
		metrics.RecordRun(s.runID, m.Summary)
	}
}

// Finished is closed once AssemblyFinished has been delivered.
func (s *SummarySink) Finished() <-chan struct{} {
	return s.finished
}

func (s *SummarySink) Summary() types.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Errors returns the number of error and cleanup failure messages seen.
func (s *SummarySink) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

func (s *SummarySink) Failures() []types.TestFailed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TestFailed(nil), s.failures...)
}
