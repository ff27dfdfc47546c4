package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"

	testexec "github.com/ethereum-optimism/infra/op-testexec"
	"github.com/ethereum-optimism/infra/op-testexec/exitcodes"
	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// TestExitCodes verifies the exit codes of run-once mode:
// - Exit code 0 when all tests pass
// - Exit code 1 when any tests fail
// - Exit code 2 when there's a runtime error
func TestExitCodes(t *testing.T) {
	failedRun := &testexec.RunResult{RunID: "run", Summary: types.RunSummary{Total: 2, Failed: 1}}
	testCases := []struct {
		name     string
		err      error
		expected int
	}{
		{"success", nil, exitcodes.Success},
		{"test failure", testexec.NewTestFailureError(failedRun), exitcodes.TestFailure},
		{"wrapped test failure", fmt.Errorf("failed to start: %w", testexec.NewTestFailureError(failedRun)), exitcodes.TestFailure},
		{"runtime error", testexec.NewRuntimeError(errors.New("bad plan")), exitcodes.RuntimeErr},
		{"joined runtime error", errors.Join(errors.New("failed to setup"), testexec.NewRuntimeError(errors.New("bad plan"))), exitcodes.RuntimeErr},
		{"explicit exit code", cli.Exit("custom", 7), 7},
		{"unknown error", errors.New("boom"), exitcodes.TestFailure},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, exitCode(tc.err))
		})
	}
}

func TestNewApp(t *testing.T) {
	app := newApp()
	assert.Equal(t, "op-testexec", app.Name)
	assert.Contains(t, app.Version, Version)

	names := make(map[string]bool)
	for _, f := range app.Flags {
		names[f.Names()[0]] = true
	}
	for _, name := range []string{"plan", "run-interval", "stop-on-fail", "json-output", "log.level", "metrics.enabled"} {
		assert.True(t, names[name], "missing flag %s", name)
	}
}
