// Package reporting renders the message stream of a run for humans and
// machines.
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

type status int

const (
	statusPass status = iota
	statusSkip
	statusFail
	statusNotRun
)

func (s status) String() string {
	switch s {
	case statusPass:
		return "✓ pass"
	case statusSkip:
		return "- skip"
	case statusNotRun:
		return "· not run"
	default:
		return "✗ fail"
	}
}

type testRow struct {
	name     string
	duration time.Duration
	status   status
	error    string
}

type collectionRow struct {
	name    string
	summary types.RunSummary
	tests   []string
}

// ConsoleReporter logs significant messages as they arrive and prints a
// results table when the assembly finishes.
type ConsoleReporter struct {
	log       log.Logger
	out       io.Writer
	showTests bool

	mu          sync.Mutex
	assembly    string
	collections map[string]*collectionRow
	order       []string
	tests       map[string]*testRow
}

type ConsoleOption func(*ConsoleReporter)

// WithOutput sets where the results table is written. Defaults to stdout.
func WithOutput(w io.Writer) ConsoleOption {
	return func(r *ConsoleReporter) { r.out = w }
}

// WithTestRows controls whether individual test cases are listed under each
// collection in the results table.
func WithTestRows(show bool) ConsoleOption {
	return func(r *ConsoleReporter) { r.showTests = show }
}

func NewConsoleReporter(logger log.Logger, opts ...ConsoleOption) *ConsoleReporter {
	r := &ConsoleReporter{
		log:         logger,
		out:         os.Stdout,
		showTests:   true,
		collections: make(map[string]*collectionRow),
		tests:       make(map[string]*testRow),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ConsoleReporter) OnMessage(msg types.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case types.AssemblyStarting:
		r.assembly = m.AssemblyName
		r.log.Info("Starting test run", "assembly", m.AssemblyName, "config", m.ConfigFilePath)
	case types.CollectionStarting:
		r.collections[m.CollectionID] = &collectionRow{name: m.DisplayName}
		r.order = append(r.order, m.CollectionID)
		r.log.Debug("Collection starting", "collection", m.DisplayName)
	case types.TestCaseStarting:
		r.tests[m.TestCaseID] = &testRow{name: m.DisplayName, status: statusNotRun}
		if c, ok := r.collections[m.CollectionID]; ok {
			c.tests = append(c.tests, m.TestCaseID)
		}
	case types.TestPassed:
		row := r.test(m.TestCaseID)
		row.status, row.duration = statusPass, m.ExecutionTime
		r.log.Info("Test passed", "test", row.name, "duration", m.ExecutionTime)
		for _, w := range m.Warnings {
			r.log.Warn("Test warning", "test", row.name, "warning", w)
		}
	case types.TestFailed:
		row := r.test(m.TestCaseID)
		row.status, row.duration = statusFail, m.ExecutionTime
		row.error = firstLine(m.Failure.Message())
		r.log.Error("Test failed", "test", row.name, "duration", m.ExecutionTime, "cause", m.Cause, "err", m.Failure.Message())
		if m.Output != "" {
			r.log.Debug("Test output", "test", row.name, "output", m.Output)
		}
	case types.TestSkipped:
		row := r.test(m.TestCaseID)
		row.status, row.duration = statusSkip, m.ExecutionTime
		row.error = m.Reason
		r.log.Info("Test skipped", "test", row.name, "reason", m.Reason)
	case types.TestNotRun:
		row := r.test(m.TestCaseID)
		row.status = statusNotRun
		row.error = m.Reason
		r.log.Debug("Test not run", "test", row.name, "reason", m.Reason)
	case types.CollectionFinished:
		if c, ok := r.collections[m.CollectionID]; ok {
			c.summary = m.Summary
		}
		r.log.Debug("Collection finished", "collection", m.CollectionID, "summary", m.Summary)
	case types.AssemblyCleanupFailure:
		r.log.Error("Assembly cleanup failed", "err", m.Failure.Message())
	case types.CollectionCleanupFailure:
		r.log.Error("Collection cleanup failed", "collection", r.collectionName(m.CollectionID), "err", m.Failure.Message())
	case types.ClassCleanupFailure:
		r.log.Error("Class cleanup failed", "collection", r.collectionName(m.CollectionID), "err", m.Failure.Message())
	case types.TestCleanupFailure:
		r.log.Error("Test cleanup failed", "test", r.test(m.TestCaseID).name, "err", m.Failure.Message())
	case types.DiagnosticMessage:
		r.log.Info(m.Message)
	case types.LongRunningTests:
		for _, test := range m.Tests {
			r.log.Warn(FormatLongRunningTest(test))
		}
	case types.ErrorMessage:
		r.log.Warn("Internal error", "err", m.Failure.Message())
	case types.AssemblyFinished:
		r.render(m.Summary)
	}
	return true
}

func (r *ConsoleReporter) test(id string) *testRow {
	row, ok := r.tests[id]
	if !ok {
		row = &testRow{name: id, status: statusNotRun}
		r.tests[id] = row
	}
	return row
}

func (r *ConsoleReporter) collectionName(id string) string {
	if c, ok := r.collections[id]; ok {
		return c.name
	}
	return id
}

func (r *ConsoleReporter) render(total types.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	title := "Test Results"
	if r.assembly != "" {
		title = fmt.Sprintf("%s: %s", title, r.assembly)
	}
	t.SetTitle(fmt.Sprintf("%s (%s)", title, formatDuration(total.Time)))

	t.AppendHeader(table.Row{
		"Collection", "Duration", "Tests", "Passed", "Failed", "Skipped", "Not Run", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Collection", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Not Run", Align: text.AlignRight},
		{Name: "Error", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, id := range r.order {
		c := r.collections[id]
		t.AppendRow(table.Row{
			c.name,
			formatDuration(c.summary.Time),
			c.summary.Total,
			c.summary.Passed(),
			c.summary.Failed,
			c.summary.Skipped,
			c.summary.NotRun,
			summaryStatus(c.summary),
			"",
		})
		if r.showTests {
			for i, testID := range c.tests {
				prefix := "├─"
				if i == len(c.tests)-1 {
					prefix = "└─"
				}
				test := r.tests[testID]
				t.AppendRow(table.Row{
					fmt.Sprintf("%s %s", prefix, test.name),
					formatDuration(test.duration),
					1,
					boolToInt(test.status == statusPass),
					boolToInt(test.status == statusFail),
					boolToInt(test.status == statusSkip),
					boolToInt(test.status == statusNotRun),
					test.status,
					test.error,
				})
			}
		}
		t.AppendSeparator()
	}

	switch summaryStatus(total) {
	case statusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case statusSkip, statusNotRun:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		formatDuration(total.Time),
		total.Total,
		total.Passed(),
		total.Failed,
		total.Skipped,
		total.NotRun,
		summaryStatus(total),
		"",
	})

	t.Render()
	r.log.Info("Test run finished", "summary", total)
}

func summaryStatus(s types.RunSummary) status {
	switch {
	case s.Failed > 0:
		return statusFail
	case s.Total > 0 && s.NotRun == s.Total:
		return statusNotRun
	case s.Total > 0 && s.Skipped+s.NotRun == s.Total:
		return statusSkip
	default:
		return statusPass
	}
}

// FormatLongRunningTest renders a watchdog entry as
// "[Long Running Test] 'name', Elapsed: hh:mm:ss".
func FormatLongRunningTest(test types.LongRunningTest) string {
	return fmt.Sprintf("[Long Running Test] '%s', Elapsed: %s", test.DisplayName, formatElapsed(test.Elapsed))
}

func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, d/time.Second)
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
