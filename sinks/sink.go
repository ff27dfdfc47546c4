// Package sinks holds the message sink contract and the decorators that are
// composed in front of the final results consumer.
package sinks

import (
	"sync"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// Sink consumes lifecycle messages. Returning false asks the producer to
// stop initiating new work; it does not stop delivery of queued messages.
type Sink interface {
	OnMessage(msg types.Message) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(msg types.Message) bool

func (f SinkFunc) OnMessage(msg types.Message) bool {
	return f(msg)
}

// Discard accepts every message and does nothing with it.
var Discard Sink = SinkFunc(func(types.Message) bool { return true })

type multiSink []Sink

// Multi fans every message out to all sinks in order. The result is false if
// any sink returned false; every sink still sees the message.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) OnMessage(msg types.Message) bool {
	result := true
	for _, s := range m {
		if !s.OnMessage(msg) {
			result = false
		}
	}
	return result
}

func deliver(s Sink, msg types.Message) bool {
	if s == nil {
		return true
	}
	return s.OnMessage(msg)
}

// Recorder keeps every message it receives. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []types.Message
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) OnMessage(msg types.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return true
}

// Messages returns a copy of the recorded messages in delivery order.
func (r *Recorder) Messages() []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Message(nil), r.messages...)
}

// Kinds returns the kinds of the recorded messages in delivery order.
func (r *Recorder) Kinds() []types.MessageKind {
	msgs := r.Messages()
	kinds := make([]types.MessageKind, len(msgs))
	for i, msg := range msgs {
		kinds[i] = msg.Kind()
	}
	return kinds
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Filter returns the recorded messages of type T.
func Filter[T types.Message](r *Recorder) []T {
	var out []T
	for _, msg := range r.Messages() {
		if m, ok := msg.(T); ok {
			out = append(out, m)
		}
	}
	return out
}
