package types

import (
	"fmt"
	"time"
)

// RunSummary counts test outcomes for a scope.
type RunSummary struct {
	Total   int           `json:"total"`
	Failed  int           `json:"failed"`
	Skipped int           `json:"skipped"`
	NotRun  int           `json:"notRun"`
	Time    time.Duration `json:"time"`
}

// Aggregate adds other into s.
func (s *RunSummary) Aggregate(other RunSummary) {
	s.Total += other.Total
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.NotRun += other.NotRun
	s.Time += other.Time
}

// Passed returns the number of tests that ran and passed.
func (s RunSummary) Passed() int {
	return s.Total - s.Failed - s.Skipped - s.NotRun
}

func (s RunSummary) String() string {
	return fmt.Sprintf("total=%d passed=%d failed=%d skipped=%d notRun=%d time=%s",
		s.Total, s.Passed(), s.Failed, s.Skipped, s.NotRun, s.Time.Truncate(time.Millisecond))
}
