// internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/walkthrough/api/schemas"
)

// TextReporter renders run summaries as human readable text as soon as they
// are written.
type TextReporter struct {
	writer io.WriteCloser
	mu     sync.Mutex
}

func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

func (r *TextReporter) Write(summary *schemas.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := io.WriteString(r.writer, RenderText(summary)); err != nil {
		return fmt.Errorf("failed to write text report: %w", err)
	}
	return nil
}

func (r *TextReporter) Close() error {
	return r.writer.Close()
}

func statusLabel(s schemas.Status) string {
	switch s {
	case schemas.StatusPassed:
		return "PASS"
	case schemas.StatusFailed:
		return "FAIL"
	case schemas.StatusErrored:
		return "ERROR"
	case schemas.StatusCancelled:
		return "CANCEL"
	default:
		return strings.ToUpper(string(s))
	}
}

// RenderText renders a run summary as text.
func RenderText(summary *schemas.RunSummary) string {
	var b strings.Builder

	total := summary.Total()
	fmt.Fprintf(&b, "Running %d scenario", total)
	if total != 1 {
		b.WriteString("s")
	}
	fmt.Fprintf(&b, " (run %s)...\n\n", summary.RunID)

	for _, res := range summary.Results {
		fmt.Fprintf(&b, "  %-6s %s (%d/%d steps, %s)\n",
			statusLabel(res.Status), res.ScenarioName, passedSteps(res), len(res.Steps),
			res.Duration.Round(time.Millisecond))
		if res.Passed {
			continue
		}
		if step, ok := firstFailure(res); ok && res.Status != schemas.StatusCancelled {
			fmt.Fprintf(&b, "    step %d: %s\n", step.Index, step.Description)
		}
		if res.FailureMessage != "" {
			fmt.Fprintf(&b, "    %s\n", res.FailureMessage)
		}
	}

	passed := summary.Count(schemas.StatusPassed)
	fmt.Fprintf(&b, "\n%d of %d scenarios passed.", passed, total)
	if passed != total {
		fmt.Fprintf(&b, " %d failed, %d errored, %d cancelled.",
			summary.Count(schemas.StatusFailed),
			summary.Count(schemas.StatusErrored),
			summary.Count(schemas.StatusCancelled))
	}
	fmt.Fprintf(&b, " (%s)\n", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
	return b.String()
}
