package scheduler

import (
	"fmt"
	"strings"

	"github.com/smith3v/wa-word-reminder/pkg/notify"
)

const maxReportedProblems = 20

// Report formats the summary for operators, listing failed and partial
// subscriptions first.
func Report(s *Summary) notify.Report {
	subject := fmt.Sprintf("Word schedule %s: %d/%d scheduled", s.Day, s.Scheduled, s.Considered-s.Skipped)
	if s.LowSuccess {
		subject += " (low success)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s\n", s.RunID)
	fmt.Fprintf(&b, "Considered: %d\n", s.Considered)
	fmt.Fprintf(&b, "Scheduled: %d\n", s.Scheduled)
	fmt.Fprintf(&b, "Partial: %d\n", s.Partial)
	fmt.Fprintf(&b, "Failed: %d\n", s.Failed)
	fmt.Fprintf(&b, "Skipped: %d\n", s.Skipped)
	fmt.Fprintf(&b, "Rows inserted: %d\n", s.RowsInserted)
	fmt.Fprintf(&b, "Success rate: %.1f%%\n", s.SuccessRate*100)

	listed := 0
	for _, r := range s.Results {
		if r.Status != StatusFailed && r.Status != StatusPartial {
			continue
		}
		if listed == 0 {
			b.WriteString("\nProblems:\n")
		}
		if listed == maxReportedProblems {
			fmt.Fprintf(&b, "... and %d more\n", s.Failed+s.Partial-listed)
			break
		}
		fmt.Fprintf(&b, "- %s %s (%d/%d): %s\n", r.Phone, r.Status, r.Inserted, r.Expected, r.Reason)
		listed++
	}

	return notify.Report{
		Subject: subject,
		Body:    strings.TrimRight(b.String(), "\n"),
		Alert:   s.LowSuccess,
	}
}
