package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testexec/bus"
	"github.com/ethereum-optimism/infra/op-testexec/metrics"
	"github.com/ethereum-optimism/infra/op-testexec/types"
)

type runningTest struct {
	testCaseID string
	name       string
	start      time.Time
}

// runKey identifies an in-flight case. Test case IDs are only required to be
// unique within a collection.
type runKey struct {
	collectionID string
	testCaseID   string
}

// LongRunningMonitor watches in-flight test cases and queues a
// LongRunningTests message whenever a scan finds cases over the threshold.
// A case that keeps running is reported again on later scans.
type LongRunningMonitor struct {
	log       log.Logger
	bus       bus.Bus
	threshold time.Duration
	interval  time.Duration
	scope     types.Scope
	now       func() time.Time

	mu      sync.Mutex
	running map[runKey]runningTest

	lifecycle sync.Mutex
	started   bool
	stopped   bool
	stopCh    chan struct{}
	done      chan struct{}
}

// NewLongRunningMonitor creates a monitor. An interval of 0 scans every
// threshold/2.
func NewLongRunningMonitor(threshold, interval time.Duration, b bus.Bus, logger log.Logger) *LongRunningMonitor {
	if interval <= 0 {
		interval = threshold / 2
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &LongRunningMonitor{
		log:       logger.New("component", "long-running-monitor"),
		bus:       b,
		threshold: threshold,
		interval:  interval,
		now:       time.Now,
		running:   make(map[runKey]runningTest),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (m *LongRunningMonitor) TestStarted(collectionID, testCaseID, displayName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[runKey{collectionID, testCaseID}] = runningTest{testCaseID: testCaseID, name: displayName, start: m.now()}
}

func (m *LongRunningMonitor) TestFinished(collectionID, testCaseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, runKey{collectionID, testCaseID})
}

// Start launches the scan loop. It stops on Stop or when ctx is done. The
// assembly runner passes a context that outlives run cancellation, so cases
// still executing after a stop request keep being watched.
func (m *LongRunningMonitor) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	m.log.Debug("Starting long running test monitor", "threshold", m.threshold, "interval", m.interval)
	go m.loop(ctx)
}

func (m *LongRunningMonitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.scan()
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

// Stop ends the scan loop and waits for it to exit. No message is queued
// after Stop returns.
func (m *LongRunningMonitor) Stop() {
	m.lifecycle.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
	started := m.started
	m.lifecycle.Unlock()
	if started {
		<-m.done
	}
}

// scan queues one notification listing every case over the threshold,
// longest first. It returns the queued message, if any.
func (m *LongRunningMonitor) scan() *types.LongRunningTests {
	now := m.now()
	m.mu.Lock()
	var over []types.LongRunningTest
	for _, rt := range m.running {
		if elapsed := now.Sub(rt.start); elapsed >= m.threshold {
			over = append(over, types.LongRunningTest{TestCaseID: rt.testCaseID, DisplayName: rt.name, Elapsed: elapsed})
		}
	}
	m.mu.Unlock()

	if len(over) == 0 {
		return nil
	}
	sort.Slice(over, func(i, j int) bool {
		if over[i].Elapsed != over[j].Elapsed {
			return over[i].Elapsed > over[j].Elapsed
		}
		return over[i].TestCaseID < over[j].TestCaseID
	})

	msg := types.LongRunningTests{Scope: m.scope, Threshold: m.threshold, Tests: over}
	m.log.Warn("Long running tests detected", "count", len(over), "longestRunning", formatLongRunning(over, 3))
	metrics.RecordLongRunningNotification()
	m.bus.QueueMessage(msg)
	return &msg
}

func formatLongRunning(tests []types.LongRunningTest, maxShow int) string {
	var parts []string
	for i, test := range tests {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", test.DisplayName, test.Elapsed.Truncate(time.Second)))
	}
	if len(tests) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(tests)-maxShow))
	}
	return strings.Join(parts, ", ")
}
