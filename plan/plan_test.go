package plan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testexec/bus"
	"github.com/ethereum-optimism/infra/op-testexec/runner"
	"github.com/ethereum-optimism/infra/op-testexec/sinks"
	"github.com/ethereum-optimism/infra/op-testexec/types"
)

const yamlPlan = `name: smoke
timeout: 30s
env:
  GREETING: hello
options:
  max_parallel_threads: 2
  long_running_scan_interval: 500ms
fixtures:
  - name: network
    setup: "echo up"
    teardown: "echo down"
collections:
  - name: basics
    traits:
      area: [core]
    class_fixtures:
      Smoke:
        - name: class-fixture
          setup: "true"
    cases:
      - name: passes
        class: Smoke
        method: Echo
        run: 'echo "$GREETING"'
      - name: fails
        class: Smoke
        method: Exit
        run: "echo broken; exit 3"
      - name: skipped
        class: Smoke
        method: Exit
        skip: "not ready"
      - name: skip-by-code
        run: "exit 77"
        skip_exit_code: 77
      - name: warns
        run: "echo '::warning:: deprecated flag'"
        traits:
          speed: [fast]
  - name: serial
    disable_parallelization: true
    cases:
      - name: env
        run: 'test "$CASE_VAR" = yes'
        env:
          CASE_VAR: "yes"
`

const tomlPlan = `name = "toml-plan"
timeout = "1m"

[options]
stop_on_test_fail = true

[[collections]]
name = "only"

[[collections.cases]]
name = "ok"
run = "true"

[[collections.cases]]
name = "slow"
run = "exec sleep 5"
timeout = "100ms"
`

func writePlan(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func runPlan(t *testing.T, p *Plan) (*sinks.Recorder, types.RunSummary) {
	t.Helper()
	rec := sinks.NewRecorder()
	b := bus.NewSynchronous(rec, bus.WithLogger(testLogger()), bus.WithExecutionOptions(p.Options()))
	summary, err := runner.NewAssemblyRunner(b, p.Options(), testLogger()).Run(context.Background(), p.Assembly(testLogger()))
	require.NoError(t, err)
	return rec, summary
}

func TestLoadYAML(t *testing.T) {
	path := writePlan(t, "plan.yaml", yamlPlan)
	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "smoke", p.File.Name)
	assert.Equal(t, 30*time.Second, p.File.Timeout)
	assert.Equal(t, DefaultShell, p.File.Shell)
	assert.Equal(t, filepath.Dir(path), p.File.WorkDir)
	assert.Equal(t, 2, p.Options().MaxParallelThreads)
	assert.Equal(t, 500*time.Millisecond, p.Options().LongRunningScanInterval)

	asm := p.Assembly(testLogger())
	assert.Equal(t, path, asm.Path)
	require.Len(t, asm.Fixtures, 1)
	require.Len(t, asm.Collections, 2)
	assert.True(t, asm.Collections[1].DisableParallelization)
	assert.Len(t, asm.Collections[0].ClassFixtures["Smoke"], 1)

	cases := asm.Collections[0].Cases
	require.Len(t, cases, 5)
	assert.Equal(t, "Smoke.Echo.passes", cases[0].DisplayName())
	assert.Equal(t, "not ready", cases[2].SkipReason())
	assert.Equal(t, map[string][]string{"speed": {"fast"}}, cases[4].(types.TraitProvider).Traits())

	// ids are deterministic
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cases[0].UniqueID(), again.Assembly(testLogger()).Collections[0].Cases[0].UniqueID())
}

func TestRunYAMLPlan(t *testing.T) {
	p, err := Load(writePlan(t, "plan.yaml", yamlPlan))
	require.NoError(t, err)

	rec, summary := runPlan(t, p)
	assert.Equal(t, types.RunSummary{Total: 6, Failed: 1, Skipped: 2, Time: summary.Time}, summary)

	passed := sinks.Filter[types.TestPassed](rec)
	require.Len(t, passed, 3)
	assert.Equal(t, "hello\n", passed[0].Output)
	assert.Equal(t, []string{"deprecated flag"}, passed[1].Warnings)

	failed := sinks.Filter[types.TestFailed](rec)
	require.Len(t, failed, 1)
	assert.Equal(t, "broken\n", failed[0].Output)
	assert.Equal(t, "command exited with code 3", failed[0].Failure.Message())

	skipped := sinks.Filter[types.TestSkipped](rec)
	require.Len(t, skipped, 2)
	assert.Equal(t, "not ready", skipped[0].Reason)
	assert.Contains(t, skipped[1].Reason, "77")
}

func TestLoadTOML(t *testing.T) {
	p, err := Load(writePlan(t, "plan.toml", tomlPlan))
	require.NoError(t, err)
	assert.True(t, p.Options().StopOnTestFail)
	assert.Equal(t, time.Minute, p.File.Timeout)

	rec, summary := runPlan(t, p)
	assert.Equal(t, 1, summary.Passed())
	assert.Equal(t, 1, summary.Failed)

	failed := sinks.Filter[types.TestFailed](rec)
	require.Len(t, failed, 1)
	assert.Equal(t, types.FailureCauseTimeout, failed[0].Cause)
	assert.Less(t, failed[0].ExecutionTime, 5*time.Second)
}

func TestTOMLPlanHasNoSourceLines(t *testing.T) {
	p, err := Load(writePlan(t, "plan.toml", tomlPlan))
	require.NoError(t, err)

	for _, c := range p.Assembly(testLogger()).Collections {
		for _, tc := range c.Cases {
			_, ok := p.SourceInformation(types.TestCaseStarting{Scope: types.Scope{TestCaseID: tc.UniqueID()}})
			assert.False(t, ok, tc.DisplayName())
		}
	}
}

func TestFixtureFailureFailsCases(t *testing.T) {
	plan := `name: broken
collections:
  - name: c
    fixtures:
      - name: db
        setup: "echo cannot connect; exit 1"
    cases:
      - name: a
        run: "true"
`
	p, err := Load(writePlan(t, "plan.yml", plan))
	require.NoError(t, err)

	rec, summary := runPlan(t, p)
	assert.Equal(t, 1, summary.Failed)
	failed := sinks.Filter[types.TestFailed](rec)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Failure.Message(), `collection fixture "db" setup failed`)
	assert.Contains(t, failed[0].Failure.Message(), "cannot connect")
}

func TestSourceInformation(t *testing.T) {
	path := writePlan(t, "plan.yaml", yamlPlan)
	p, err := Load(path)
	require.NoError(t, err)

	rec := sinks.NewRecorder()
	sink, err := sinks.NewSourceInfoSink(rec, p, 0)
	require.NoError(t, err)
	b := bus.NewSynchronous(sink, bus.WithLogger(testLogger()))
	_, err = runner.NewAssemblyRunner(b, p.Options(), testLogger()).Run(context.Background(), p.Assembly(testLogger()))
	require.NoError(t, err)

	starting := sinks.Filter[types.TestCaseStarting](rec)
	require.Len(t, starting, 6)
	assert.Equal(t, path, starting[0].SourceFile)
	// "- name: passes" is on line 21 of the plan
	assert.Equal(t, 21, starting[0].SourceLine)
	assert.Greater(t, starting[1].SourceLine, starting[0].SourceLine)

	_, ok := p.SourceInformation(types.TestCaseStarting{Scope: types.Scope{TestCaseID: "unknown"}})
	assert.False(t, ok)
}

func TestInvalidPlans(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		errMsg  string
	}{
		{
			name:    "unknown extension",
			file:    "plan.json",
			content: "{}",
			errMsg:  "unsupported plan file extension",
		},
		{
			name:    "missing collections",
			file:    "plan.yaml",
			content: "name: x\n",
			errMsg:  "plan validation failed",
		},
		{
			name:    "unknown field",
			file:    "plan.yaml",
			content: "name: x\nbogus: true\ncollections:\n  - name: c\n    cases: []\n",
			errMsg:  "plan validation failed",
		},
		{
			name:    "bad duration",
			file:    "plan.yaml",
			content: "name: x\ntimeout: forever\ncollections:\n  - name: c\n    cases: []\n",
			errMsg:  "plan validation failed",
		},
		{
			name:    "duplicate collection",
			file:    "plan.yaml",
			content: "name: x\ncollections:\n  - name: c\n    cases: []\n  - name: c\n    cases: []\n",
			errMsg:  `duplicate collection "c"`,
		},
		{
			name:    "duplicate case",
			file:    "plan.yaml",
			content: "name: x\ncollections:\n  - name: c\n    cases:\n      - name: a\n        run: 'true'\n      - name: a\n        run: 'true'\n",
			errMsg:  `duplicate case "a"`,
		},
		{
			name:    "nothing to run",
			file:    "plan.yaml",
			content: "name: x\ncollections:\n  - name: c\n    cases:\n      - name: a\n",
			errMsg:  "has nothing to run",
		},
		{
			name:    "invalid toml",
			file:    "plan.toml",
			content: "name = ",
			errMsg:  "failed to parse TOML plan",
		},
		{
			name:    "negative long running threshold",
			file:    "plan.yaml",
			content: "name: x\noptions:\n  long_running_test_seconds: -1\ncollections:\n  - name: c\n    cases: []\n",
			errMsg:  "plan validation failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writePlan(t, tt.file, tt.content))
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read plan file")
}

func TestRecordOutput(t *testing.T) {
	tc := types.NewTestContext("id", "name")
	recordOutput(tc, "plain\n  ::warning:: one\n::warning::two")

	assert.Equal(t, "plain\n  ::warning:: one\n::warning::two\n", tc.Output())
	assert.Equal(t, []string{"one", "two"}, tc.Warnings())
}

func TestRecordOutputLongLines(t *testing.T) {
	tc := types.NewTestContext("id", "name")
	long := strings.Repeat("x", 256*1024)
	recordOutput(tc, long+"\n::warning:: after a long line\n")

	assert.Equal(t, []string{"after a long line"}, tc.Warnings())
	assert.Len(t, tc.Output(), len(long)+len("\n::warning:: after a long line\n"))
}

func TestCommandRunnerStripsANSI(t *testing.T) {
	cmds := &commandRunner{log: testLogger(), shell: DefaultShell, workDir: t.TempDir()}
	out, err := cmds.run(context.Background(), `printf '\033[31mred\033[0m\n'`, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "red\n", out)
}
