// Package exitcodes holds the process exit codes of op-testexec. Scripts and
// CI jobs running a plan in run-once mode branch on them.
package exitcodes

const (
	// Success: the assembly finished with no failed test and no cleanup failure.
	Success = 0
	// TestFailure: the assembly finished, but a test failed, a fixture or
	// cleanup failed, or a warning was promoted to a failure.
	TestFailure = 1
	// RuntimeErr: the plan never produced an assembly summary, because of a
	// bad flag, an invalid plan, an unwritable output or a panic.
	RuntimeErr = 2
)
