package sinks

import (
	"sync"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

const warningsFailureType = "FailOnWarnings"

// FailWarnSink turns passing tests that recorded warnings into failures and
// adjusts the failed counts of the enclosing finished messages to match.
type FailWarnSink struct {
	inner Sink

	mu sync.Mutex
	// extra failures per scope ID, applied when that scope finishes
	converted map[string]int
}

func NewFailWarnSink(inner Sink) *FailWarnSink {
	return &FailWarnSink{inner: inner, converted: make(map[string]int)}
}

func (s *FailWarnSink) OnMessage(msg types.Message) bool {
	switch m := msg.(type) {
	case types.TestPassed:
		if len(m.Warnings) > 0 {
			msg = s.convert(m)
		}
	case types.TestCaseFinished:
		m.Summary.Failed += s.take(m.TestCaseID)
		msg = m
	case types.MethodFinished:
		m.Summary.Failed += s.take(m.MethodID)
		msg = m
	case types.ClassFinished:
		m.Summary.Failed += s.take(m.ClassID)
		msg = m
	case types.CollectionFinished:
		m.Summary.Failed += s.take(m.CollectionID)
		msg = m
	case types.AssemblyFinished:
		m.Summary.Failed += s.take(m.AssemblyID)
		msg = m
	}
	return deliver(s.inner, msg)
}

func (s *FailWarnSink) convert(m types.TestPassed) types.TestFailed {
	s.mu.Lock()
	for _, id := range []string{m.TestCaseID, m.MethodID, m.ClassID, m.CollectionID, m.AssemblyID} {
		if id != "" {
			s.converted[id]++
		}
	}
	s.mu.Unlock()

	return types.TestFailed{
		Scope:         m.Scope,
		ExecutionTime: m.ExecutionTime,
		Output:        m.Output,
		Warnings:      m.Warnings,
		Cause:         types.FailureCauseOther,
		Failure: types.FailureInfo{
			ExceptionTypes: []string{warningsFailureType},
			Messages:       []string{"This test failed due to one or more warnings"},
			StackTraces:    []string{""},
			ParentIndices:  []int{-1},
		},
	}
}

func (s *FailWarnSink) take(id string) int {
	if id == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.converted[id]
	delete(s.converted, id)
	return n
}
