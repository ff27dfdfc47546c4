package plan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// WarningPrefix marks an output line of a command as a test warning.
const WarningPrefix = "::warning::"

const waitDelay = 5 * time.Second

// commandRunner runs plan commands through a shell.
type commandRunner struct {
	log     log.Logger
	shell   string
	workDir string
	env     map[string]string
}

// ExitError reports a command that ran to completion with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// run executes script and returns its ANSI-stripped combined output.
func (c *commandRunner) run(ctx context.Context, script string, timeout time.Duration, extraEnv map[string]string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.shell, "-c", script)
	cmd.Dir = c.workDir
	cmd.Env = telemetry.InstrumentEnvironment(ctx, c.environ(extraEnv))
	cmd.WaitDelay = waitDelay

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	runErr := cmd.Run()
	out := stripansi.Strip(output.String())
	c.log.Debug("Command finished", "script", script, "duration", time.Since(start), "err", runErr)

	if runErr == nil {
		return out, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out, fmt.Errorf("command timed out after %s: %w", timeout, context.DeadlineExceeded)
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && exitErr.ExitCode() >= 0 {
		return out, &ExitError{Code: exitErr.ExitCode()}
	}
	return out, fmt.Errorf("failed to run command: %w", runErr)
}

func (c *commandRunner) environ(extra map[string]string) []string {
	env := os.Environ()
	for _, vars := range []map[string]string{c.env, extra} {
		keys := make([]string, 0, len(vars))
		for k := range vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+vars[k])
		}
	}
	return env
}

// CommandTestCase is a test case that passes when its command exits 0.
type CommandTestCase struct {
	id      string
	spec    CaseSpec
	timeout time.Duration
	cmds    *commandRunner
}

var (
	_ types.TestCase      = (*CommandTestCase)(nil)
	_ types.TraitProvider = (*CommandTestCase)(nil)
)

func (c *CommandTestCase) UniqueID() string            { return c.id }
func (c *CommandTestCase) DisplayName() string         { return c.spec.displayName() }
func (c *CommandTestCase) Class() string               { return c.spec.Class }
func (c *CommandTestCase) Method() string              { return c.spec.Method }
func (c *CommandTestCase) SkipReason() string          { return c.spec.Skip }
func (c *CommandTestCase) Traits() map[string][]string { return c.spec.Traits }
func (c *CommandTestCase) Timeout() time.Duration      { return c.timeout }
func (c *CommandTestCase) Command() string             { return c.spec.Run }

func (c *CommandTestCase) Run(ctx context.Context, tc *types.TestContext) error {
	env := map[string]string{
		"TESTEXEC_TEST_NAME": c.DisplayName(),
		"TESTEXEC_TEST_ID":   tc.TestID,
	}
	for k, v := range c.spec.Env {
		env[k] = v
	}

	output, err := c.cmds.run(ctx, c.spec.Run, c.timeout, env)
	recordOutput(tc, output)

	var exitErr *ExitError
	if c.spec.SkipExitCode != 0 && errors.As(err, &exitErr) && exitErr.Code == c.spec.SkipExitCode {
		return types.Skip(fmt.Sprintf("command exited with skip code %d", exitErr.Code))
	}
	return err
}

// recordOutput copies output into the test context, turning warning lines
// into warnings.
func recordOutput(tc *types.TestContext, output string) {
	if output == "" {
		return
	}
	_, _ = tc.Write([]byte(output))
	if !strings.HasSuffix(output, "\n") {
		_, _ = tc.Write([]byte("\n"))
	}
	for line := range strings.Lines(output) {
		if warning, ok := strings.CutPrefix(strings.TrimSpace(line), WarningPrefix); ok {
			tc.Warn(strings.TrimSpace(warning))
		}
	}
}

// CommandFixture runs a setup command before and a teardown command after
// the scope it belongs to.
type CommandFixture struct {
	spec    FixtureSpec
	level   string
	timeout time.Duration
	cmds    *commandRunner
}

var _ types.Fixture = (*CommandFixture)(nil)

func (f *CommandFixture) Name() string { return f.spec.Name }

func (f *CommandFixture) Setup(ctx context.Context) error {
	return f.exec(ctx, "setup", f.spec.Setup)
}

func (f *CommandFixture) Teardown(ctx context.Context) error {
	return f.exec(ctx, "teardown", f.spec.Teardown)
}

func (f *CommandFixture) exec(ctx context.Context, phase, script string) error {
	if script == "" {
		return nil
	}
	output, err := f.cmds.run(ctx, script, f.timeout, map[string]string{"TESTEXEC_FIXTURE": f.spec.Name})
	if err != nil {
		f.cmds.log.Error("Fixture command failed", "level", f.level, "fixture", f.spec.Name, "phase", phase, "output", output, "err", err)
		if out := strings.TrimSpace(output); out != "" {
			return fmt.Errorf("%w\n%s", err, out)
		}
		return err
	}
	return nil
}
