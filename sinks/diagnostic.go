package sinks

import (
	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// IsDiagnostic reports whether msg belongs on the diagnostic channel rather
// than the execution channel.
func IsDiagnostic(msg types.Message) bool {
	switch msg.(type) {
	case types.DiagnosticMessage, types.LongRunningTests, types.ErrorMessage:
		return true
	default:
		return false
	}
}

type diagnosticSplitter struct {
	inner       Sink
	diagnostics Sink
}

// DiagnosticSplitter forwards every message to inner and additionally copies
// diagnostic, long running and error messages to diagnostics when it is set.
// Only inner decides the result.
func DiagnosticSplitter(inner, diagnostics Sink) Sink {
	return &diagnosticSplitter{inner: inner, diagnostics: diagnostics}
}

func (s *diagnosticSplitter) OnMessage(msg types.Message) bool {
	if s.diagnostics != nil && IsDiagnostic(msg) {
		s.diagnostics.OnMessage(msg)
	}
	return deliver(s.inner, msg)
}
