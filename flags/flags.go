package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_TESTEXEC"

var (
	Plan = &cli.StringFlag{
		Name:     "plan",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "PLAN"),
		Usage:    "Path to the test plan (eg. 'plan.yaml' or 'plan.toml')",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	MaxParallelThreads = &cli.IntFlag{
		Name:    "max-parallel-threads",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_PARALLEL_THREADS"),
		Usage:   "Maximum number of collections run at once. 0 uses the number of CPUs, -1 removes the limit. Overrides the plan.",
	}
	DisableParallelization = &cli.BoolFlag{
		Name:    "disable-parallelization",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DISABLE_PARALLELIZATION"),
		Usage:   "Run collections one at a time. Overrides the plan.",
	}
	StopOnFail = &cli.BoolFlag{
		Name:    "stop-on-fail",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STOP_ON_FAIL"),
		Usage:   "Stop starting new tests after the first failure. Overrides the plan.",
	}
	StopOnCleanupFailure = &cli.BoolFlag{
		Name:    "stop-on-cleanup-failure",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STOP_ON_CLEANUP_FAILURE"),
		Usage:   "With --stop-on-fail, also stop after a fixture cleanup failure. Overrides the plan.",
	}
	LongRunningTestSeconds = &cli.IntFlag{
		Name:    "long-running-test-seconds",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LONG_RUNNING_TEST_SECONDS"),
		Usage:   "Report tests running longer than this many seconds. 0 disables. Overrides the plan.",
	}
	FailOnWarnings = &cli.BoolFlag{
		Name:    "fail-on-warnings",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAIL_ON_WARNINGS"),
		Usage:   "Treat passing tests that emitted warnings as failures. Overrides the plan.",
	}
	JSONOutput = &cli.StringFlag{
		Name:    "json-output",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "JSON_OUTPUT"),
		Usage:   "Write every message of a run to this file as JSON lines",
	}
	DiagnosticsOutput = &cli.StringFlag{
		Name:    "diagnostics-output",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DIAGNOSTICS_OUTPUT"),
		Usage:   "Write diagnostic, long running and error messages to this file as JSON lines",
	}
	ShowTestRows = &cli.BoolFlag{
		Name:    "show-test-rows",
		Value:   true,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_TEST_ROWS"),
		Usage:   "List individual tests in the results table",
	}
	HealthzEnabled = &cli.BoolFlag{
		Name:    "healthz.enabled",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ENABLED"),
		Usage:   "Serve /healthz and run status over HTTP",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the healthz server",
	}
)

var requiredFlags = []cli.Flag{
	Plan,
}

var optionalFlags = []cli.Flag{
	RunInterval,
	MaxParallelThreads,
	DisableParallelization,
	StopOnFail,
	StopOnCleanupFailure,
	LongRunningTestSeconds,
	FailOnWarnings,
	JSONOutput,
	DiagnosticsOutput,
	ShowTestRows,
	HealthzEnabled,
	HealthzAddr,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
