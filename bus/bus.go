// Package bus moves lifecycle messages from producers (running tests) to a
// single message sink, preserving order and containing sink failures.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testexec/aggregator"
	"github.com/ethereum-optimism/infra/op-testexec/metrics"
	"github.com/ethereum-optimism/infra/op-testexec/sinks"
	"github.com/ethereum-optimism/infra/op-testexec/types"
)

var (
	// ErrBusClosed is the panic value of QueueMessage after Close.
	ErrBusClosed = errors.New("message bus is closed")
	// ErrNilMessage is the panic value of QueueMessage(nil).
	ErrNilMessage = errors.New("message must not be nil")
)

// Bus accepts messages for delivery to a sink.
type Bus interface {
	// QueueMessage accepts msg for delivery. It returns false once the bus has
	// observed a condition that should stop producers from starting new work.
	// Calling it after Close is a programmer error and panics with ErrBusClosed.
	QueueMessage(msg types.Message) bool
	// Close stops accepting messages and returns after every queued message
	// has been delivered. It is safe to call more than once.
	Close() error
}

type config struct {
	stopOnFail           bool
	stopOnCleanupFailure bool
	log                  log.Logger
}

type Option func(*config)

func WithStopOnFail(stop bool) Option {
	return func(c *config) { c.stopOnFail = stop }
}

// WithStopOnCleanupFailure makes cleanup failures terminal as well. It only
// takes effect together with WithStopOnFail.
func WithStopOnCleanupFailure(stop bool) Option {
	return func(c *config) { c.stopOnCleanupFailure = stop }
}

func WithLogger(l log.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithExecutionOptions applies the stop policy of opts.
func WithExecutionOptions(opts types.ExecutionOptions) Option {
	return func(c *config) {
		c.stopOnFail = opts.StopOnTestFail
		c.stopOnCleanupFailure = opts.StopOnCleanupFailure
	}
}

func newConfig(opts []Option) config {
	cfg := config{log: log.Root()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// stopPolicy tracks whether a terminal condition has been observed.
type stopPolicy struct {
	cfg     config
	stopped atomic.Bool
}

func (p *stopPolicy) observe(msg types.Message) bool {
	if p.cfg.stopOnFail {
		if _, failed := msg.(types.TestFailed); failed {
			p.stopped.Store(true)
		} else if p.cfg.stopOnCleanupFailure && types.IsCleanupFailure(msg) {
			p.stopped.Store(true)
		}
	}
	return !p.stopped.Load()
}

func (p *stopPolicy) stop() {
	p.stopped.Store(true)
}

// deliver hands msg to the sink. A panicking sink is turned into an
// ErrorMessage that is delivered in its place; if that panics too the
// failure is only logged.
func deliver(sink sinks.Sink, msg types.Message, l log.Logger) bool {
	accepted, err := safeOnMessage(sink, msg)
	if err == nil {
		metrics.RecordMessageDelivered(msg.Kind())
		return accepted
	}

	metrics.RecordListenerFailure()
	l.Error("Message sink failed", "kind", msg.Kind(), "err", err)
	errMsg := types.NewErrorMessage(msg.MessageScope(), fmt.Errorf("message sink failed on %s: %w", msg.Kind(), err))
	if _, err := safeOnMessage(sink, errMsg); err != nil {
		metrics.RecordListenerFailure()
		l.Error("Message sink failed while reporting a sink failure", "err", err)
	}
	return true
}

func safeOnMessage(sink sinks.Sink, msg types.Message) (bool, error) {
	agg := aggregator.New()
	accepted := aggregator.RunValue(agg, func() (bool, error) {
		return sink.OnMessage(msg), nil
	}, true)
	return accepted, agg.ToError()
}

// MessageBus delivers messages on a dedicated goroutine in the order they
// were queued.
type MessageBus struct {
	log    log.Logger
	sink   sinks.Sink
	policy *stopPolicy

	mu     sync.Mutex
	queue  *linkedlistqueue.Queue
	closed bool

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ Bus = (*MessageBus)(nil)

// New starts a message bus delivering to sink.
func New(sink sinks.Sink, opts ...Option) *MessageBus {
	cfg := newConfig(opts)
	b := &MessageBus{
		log:    cfg.log.New("component", "message-bus"),
		sink:   sink,
		policy: &stopPolicy{cfg: cfg},
		queue:  linkedlistqueue.New(),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *MessageBus) QueueMessage(msg types.Message) bool {
	if msg == nil {
		panic(ErrNilMessage)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		panic(ErrBusClosed)
	}
	b.queue.Enqueue(msg)
	depth := b.queue.Size()
	b.mu.Unlock()

	metrics.RecordQueueDepth(depth)
	b.wake()
	return b.policy.observe(msg)
}

func (b *MessageBus) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *MessageBus) next() (msg types.Message, ok bool, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.queue.Dequeue()
	if !ok {
		return nil, false, b.closed
	}
	return value.(types.Message), true, b.closed
}

func (b *MessageBus) loop() {
	defer close(b.done)
	for {
		msg, ok, closed := b.next()
		if !ok {
			if closed {
				return
			}
			<-b.signal
			continue
		}
		if !deliver(b.sink, msg, b.log) {
			b.policy.stop()
		}
	}
}

func (b *MessageBus) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.wake()
	})
	<-b.done
	metrics.RecordQueueDepth(0)
	return nil
}
