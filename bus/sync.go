package bus

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testexec/sinks"
	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// SynchronousMessageBus delivers each message on the calling goroutine before
// QueueMessage returns. Concurrent producers are serialized through the sink.
type SynchronousMessageBus struct {
	log    log.Logger
	sink   sinks.Sink
	policy *stopPolicy

	mu     sync.Mutex
	closed bool
}

var _ Bus = (*SynchronousMessageBus)(nil)

func NewSynchronous(sink sinks.Sink, opts ...Option) *SynchronousMessageBus {
	cfg := newConfig(opts)
	return &SynchronousMessageBus{
		log:    cfg.log.New("component", "sync-message-bus"),
		sink:   sink,
		policy: &stopPolicy{cfg: cfg},
	}
}

func (b *SynchronousMessageBus) QueueMessage(msg types.Message) bool {
	if msg == nil {
		panic(ErrNilMessage)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic(ErrBusClosed)
	}
	result := b.policy.observe(msg)
	if !deliver(b.sink, msg, b.log) {
		b.policy.stop()
		result = false
	}
	return result
}

func (b *SynchronousMessageBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
