package sinks

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// ErrStopRequested is the cancellation cause used when a sink asks the run to stop.
var ErrStopRequested = errors.New("stop requested by message sink")

// CancellationSink cancels a run the first time pred matches a message or the
// inner sink returns false.
type CancellationSink struct {
	inner  Sink
	cancel context.CancelCauseFunc
	pred   func(types.Message) bool
	once   sync.Once
}

func NewCancellationSink(inner Sink, cancel context.CancelCauseFunc, pred func(types.Message) bool) *CancellationSink {
	return &CancellationSink{inner: inner, cancel: cancel, pred: pred}
}

func (s *CancellationSink) OnMessage(msg types.Message) bool {
	result := deliver(s.inner, msg)
	if !result || (s.pred != nil && s.pred(msg)) {
		s.once.Do(func() { s.cancel(ErrStopRequested) })
	}
	return result
}

// CancelOnFailure matches failed tests, and cleanup failures when
// includeCleanup is set.
func CancelOnFailure(includeCleanup bool) func(types.Message) bool {
	return func(msg types.Message) bool {
		if _, ok := msg.(types.TestFailed); ok {
			return true
		}
		return includeCleanup && types.IsCleanupFailure(msg)
	}
}
