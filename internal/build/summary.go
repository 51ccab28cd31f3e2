package build

import (
	"fmt"
	"regexp"
	"strconv"
)

// TestSummary holds the counts reported by a test run.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	// Parsed is false when no counts were found in the output.
	Parsed bool `json:"parsed"`
}

// String renders "N passed, M failed" or a fallback.
func (s TestSummary) String() string {
	if !s.Parsed {
		return "no test summary found"
	}
	out := fmt.Sprintf("%d passed, %d failed", s.Passed, s.Failed)
	if s.Skipped > 0 {
		out += fmt.Sprintf(", %d skipped", s.Skipped)
	}
	return out
}

var (
	// "Failed!  - Failed:     2, Passed:    10, Skipped:     0, Total:    12, Duration: 1 s"
	summaryLineRe = regexp.MustCompile(`Failed:\s*(\d+),\s*Passed:\s*(\d+),\s*Skipped:\s*(\d+),\s*Total:\s*(\d+)`)
	// Older runners print one count per line.
	totalRe   = regexp.MustCompile(`(?m)^\s*Total tests:\s*(\d+)`)
	passedRe  = regexp.MustCompile(`(?m)^\s*Passed:\s*(\d+)\s*$`)
	failedRe  = regexp.MustCompile(`(?m)^\s*Failed:\s*(\d+)\s*$`)
	skippedRe = regexp.MustCompile(`(?m)^\s*Skipped:\s*(\d+)\s*$`)
)

// ParseTestSummary extracts counts from dotnet test output. Counts from
// multiple summary lines (one per test assembly) are summed.
func ParseTestSummary(output string) TestSummary {
	var s TestSummary
	for _, m := range summaryLineRe.FindAllStringSubmatch(output, -1) {
		s.Failed += atoi(m[1])
		s.Passed += atoi(m[2])
		s.Skipped += atoi(m[3])
		s.Total += atoi(m[4])
		s.Parsed = true
	}
	if s.Parsed {
		return s
	}

	if m := totalRe.FindStringSubmatch(output); m != nil {
		s.Total = atoi(m[1])
		s.Parsed = true
	}
	if m := passedRe.FindStringSubmatch(output); m != nil {
		s.Passed = atoi(m[1])
		s.Parsed = true
	}
	if m := failedRe.FindStringSubmatch(output); m != nil {
		s.Failed = atoi(m[1])
		s.Parsed = true
	}
	if m := skippedRe.FindStringSubmatch(output); m != nil {
		s.Skipped = atoi(m[1])
	}
	return s
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
