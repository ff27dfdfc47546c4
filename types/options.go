package types

import (
	"fmt"
	"runtime"
	"time"
)

// Unlimited is the effective parallelism value meaning "no worker cap".
const Unlimited = -1

// ExecutionOptions is the named configuration consumed by a run. It is passed
// explicitly to the runner and bus; there is no process-wide copy.
type ExecutionOptions struct {
	// MaxParallelThreads caps concurrent collections. 0 uses the number of
	// CPUs, a negative value removes the cap.
	MaxParallelThreads int `yaml:"max_parallel_threads" toml:"max_parallel_threads" json:"maxParallelThreads"`
	// DisableParallelization runs every collection one at a time.
	DisableParallelization bool `yaml:"disable_parallelization" toml:"disable_parallelization" json:"disableParallelization"`
	// StopOnTestFail makes the bus ask producers to stop after the first failed test.
	StopOnTestFail bool `yaml:"stop_on_test_fail" toml:"stop_on_test_fail" json:"stopOnTestFail"`
	// StopOnCleanupFailure extends StopOnTestFail to fixture cleanup failures.
	StopOnCleanupFailure bool `yaml:"stop_on_cleanup_failure" toml:"stop_on_cleanup_failure" json:"stopOnCleanupFailure"`
	// LongRunningTestSeconds is the watchdog threshold; 0 disables the watchdog.
	LongRunningTestSeconds int `yaml:"long_running_test_seconds" toml:"long_running_test_seconds" json:"longRunningTestSeconds"`
	// LongRunningScanInterval overrides the watchdog scan period (default threshold/2).
	LongRunningScanInterval time.Duration `yaml:"long_running_scan_interval" toml:"long_running_scan_interval" json:"longRunningScanInterval"`
	// FailOnWarnings turns passing tests with warnings into failures.
	FailOnWarnings bool `yaml:"fail_on_warnings" toml:"fail_on_warnings" json:"failOnWarnings"`
}

// EffectiveParallelism resolves MaxParallelThreads and DisableParallelization
// into a worker count, returning Unlimited when there is no cap.
func (o ExecutionOptions) EffectiveParallelism() int {
	if o.DisableParallelization {
		return 1
	}
	switch {
	case o.MaxParallelThreads == 0:
		return runtime.NumCPU()
	case o.MaxParallelThreads < 0:
		return Unlimited
	default:
		return o.MaxParallelThreads
	}
}

// LongRunningThreshold returns the watchdog threshold, or 0 when disabled.
func (o ExecutionOptions) LongRunningThreshold() time.Duration {
	if o.LongRunningTestSeconds <= 0 {
		return 0
	}
	return time.Duration(o.LongRunningTestSeconds) * time.Second
}

// Validate rejects option combinations that cannot be honoured.
func (o ExecutionOptions) Validate() error {
	if o.LongRunningTestSeconds < 0 {
		return fmt.Errorf("long running test seconds cannot be negative: %d", o.LongRunningTestSeconds)
	}
	if o.LongRunningScanInterval < 0 {
		return fmt.Errorf("long running scan interval cannot be negative: %s", o.LongRunningScanInterval)
	}
	return nil
}
