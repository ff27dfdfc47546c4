package testexec

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testexec/flags"
	"github.com/ethereum-optimism/infra/op-testexec/service"
	"github.com/ethereum-optimism/infra/op-testexec/types"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

// OptionOverrides replaces plan options that were set on the command line.
// A nil field leaves the plan's value in place.
type OptionOverrides struct {
	MaxParallelThreads     *int
	DisableParallelization *bool
	StopOnTestFail         *bool
	StopOnCleanupFailure   *bool
	LongRunningTestSeconds *int
	FailOnWarnings         *bool
}

// Apply returns opts with the overrides applied.
func (o OptionOverrides) Apply(opts types.ExecutionOptions) types.ExecutionOptions {
	if o.MaxParallelThreads != nil {
		opts.MaxParallelThreads = *o.MaxParallelThreads
	}
	if o.DisableParallelization != nil {
		opts.DisableParallelization = *o.DisableParallelization
	}
	if o.StopOnTestFail != nil {
		opts.StopOnTestFail = *o.StopOnTestFail
	}
	if o.StopOnCleanupFailure != nil {
		opts.StopOnCleanupFailure = *o.StopOnCleanupFailure
	}
	if o.LongRunningTestSeconds != nil {
		opts.LongRunningTestSeconds = *o.LongRunningTestSeconds
	}
	if o.FailOnWarnings != nil {
		opts.FailOnWarnings = *o.FailOnWarnings
	}
	return opts
}

// Config holds the application configuration
type Config struct {
	PlanPath          string
	RunInterval       time.Duration   // Interval between test runs
	RunOnce           bool            // Indicates if the service should exit after one test run
	Overrides         OptionOverrides // Command line replacements for plan options
	JSONOutput        string          // File receiving every message as JSON lines
	DiagnosticsOutput string          // File receiving diagnostic messages as JSON lines
	ShowTestRows      bool            // List individual tests in the results table
	Output            io.Writer       // Destination of the results table, stdout when nil
	Service           service.Config
	Log               log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	planPath := ctx.String(flags.Plan.Name)
	if planPath == "" {
		return nil, errors.New("plan file is required")
	}
	absPlan, err := filepath.Abs(planPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for plan '%s': %w", planPath, err)
	}

	jsonOutput, err := absIfSet(ctx.String(flags.JSONOutput.Name))
	if err != nil {
		return nil, err
	}
	diagnosticsOutput, err := absIfSet(ctx.String(flags.DiagnosticsOutput.Name))
	if err != nil {
		return nil, err
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	if runInterval < 0 {
		return nil, fmt.Errorf("run interval cannot be negative: %s", runInterval)
	}

	return &Config{
		PlanPath:          absPlan,
		RunInterval:       runInterval,
		RunOnce:           runInterval == 0,
		Overrides:         readOverrides(ctx),
		JSONOutput:        jsonOutput,
		DiagnosticsOutput: diagnosticsOutput,
		ShowTestRows:      ctx.Bool(flags.ShowTestRows.Name),
		Service: service.Config{
			HealthzEnabled: ctx.Bool(flags.HealthzEnabled.Name),
			HealthzAddr:    ctx.String(flags.HealthzAddr.Name),
			MetricsEnabled: metricsCfg.Enabled,
			MetricsHost:    metricsCfg.ListenAddr,
			MetricsPort:    metricsCfg.ListenPort,
		},
		Log: log,
	}, nil
}

func readOverrides(ctx *cli.Context) OptionOverrides {
	var o OptionOverrides
	if ctx.IsSet(flags.MaxParallelThreads.Name) {
		o.MaxParallelThreads = ptr(ctx.Int(flags.MaxParallelThreads.Name))
	}
	if ctx.IsSet(flags.DisableParallelization.Name) {
		o.DisableParallelization = ptr(ctx.Bool(flags.DisableParallelization.Name))
	}
	if ctx.IsSet(flags.StopOnFail.Name) {
		o.StopOnTestFail = ptr(ctx.Bool(flags.StopOnFail.Name))
	}
	if ctx.IsSet(flags.StopOnCleanupFailure.Name) {
		o.StopOnCleanupFailure = ptr(ctx.Bool(flags.StopOnCleanupFailure.Name))
	}
	if ctx.IsSet(flags.LongRunningTestSeconds.Name) {
		o.LongRunningTestSeconds = ptr(ctx.Int(flags.LongRunningTestSeconds.Name))
	}
	if ctx.IsSet(flags.FailOnWarnings.Name) {
		o.FailOnWarnings = ptr(ctx.Bool(flags.FailOnWarnings.Name))
	}
	return o
}

func absIfSet(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for '%s': %w", path, err)
	}
	return abs, nil
}

func ptr[T any](v T) *T {
	return &v
}
