// internal/reporting/junit_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/walkthrough/api/schemas"
)

// JUnitReporter collects run summaries and writes them as JUnit XML on Close:
// one testsuite per run and one testcase per scenario.
type JUnitReporter struct {
	writer    io.WriteCloser
	mu        sync.Mutex
	summaries []*schemas.RunSummary
}

func NewJUnitReporter(writer io.WriteCloser) *JUnitReporter {
	return &JUnitReporter{writer: writer}
}

func (r *JUnitReporter) Write(summary *schemas.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, summary)
	return nil
}

func (r *JUnitReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := BuildJUnit(r.summaries)
	_, writeErr := doc.WriteTo(r.writer)
	closeErr := r.writer.Close()
	if writeErr != nil {
		return fmt.Errorf("failed to write JUnit report: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// BuildJUnit renders summaries as a JUnit XML document.
func BuildJUnit(summaries []*schemas.RunSummary) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("testsuites")
	root.CreateAttr("name", "walkthrough")

	var tests, failures, errs, skipped int
	var total time.Duration
	for _, s := range summaries {
		suite := root.CreateElement("testsuite")
		elapsed := s.FinishedAt.Sub(s.StartedAt)
		suite.CreateAttr("name", "walkthrough run "+s.RunID)
		suite.CreateAttr("id", s.RunID)
		suite.CreateAttr("timestamp", s.StartedAt.UTC().Format(time.RFC3339))
		suite.CreateAttr("tests", strconv.Itoa(s.Total()))
		suite.CreateAttr("failures", strconv.Itoa(s.Count(schemas.StatusFailed)))
		suite.CreateAttr("errors", strconv.Itoa(s.Count(schemas.StatusErrored)))
		suite.CreateAttr("skipped", strconv.Itoa(s.Count(schemas.StatusCancelled)))
		suite.CreateAttr("time", seconds(elapsed))

		for _, res := range s.Results {
			addTestCase(suite, res)
		}

		tests += s.Total()
		failures += s.Count(schemas.StatusFailed)
		errs += s.Count(schemas.StatusErrored)
		skipped += s.Count(schemas.StatusCancelled)
		total += elapsed
	}

	root.CreateAttr("tests", strconv.Itoa(tests))
	root.CreateAttr("failures", strconv.Itoa(failures))
	root.CreateAttr("errors", strconv.Itoa(errs))
	root.CreateAttr("skipped", strconv.Itoa(skipped))
	root.CreateAttr("time", seconds(total))

	doc.Indent(2)
	return doc
}

func addTestCase(suite *etree.Element, res schemas.ExecutionResult) {
	tc := suite.CreateElement("testcase")
	tc.CreateAttr("name", res.ScenarioName)
	classname := res.Source
	if classname == "" {
		classname = "walkthrough"
	}
	tc.CreateAttr("classname", classname)
	tc.CreateAttr("time", seconds(res.Duration))

	var tag string
	switch res.Status {
	case schemas.StatusPassed:
		return
	case schemas.StatusFailed:
		tag = "failure"
	case schemas.StatusErrored:
		tag = "error"
	case schemas.StatusCancelled:
		skip := tc.CreateElement("skipped")
		skip.CreateAttr("message", res.FailureMessage)
		return
	default:
		tag = "error"
	}

	el := tc.CreateElement(tag)
	el.CreateAttr("message", res.FailureMessage)
	el.CreateAttr("type", string(res.FailureKind))
	el.SetText(stepTrace(res))
}

// stepTrace lists every step with its outcome for the failure body.
func stepTrace(res schemas.ExecutionResult) string {
	var b strings.Builder
	for _, s := range res.Steps {
		fmt.Fprintf(&b, "[%s] step %d: %s", s.Status, s.Index, s.Description)
		if s.Message != "" {
			fmt.Fprintf(&b, ": %s", s.Message)
		}
		b.WriteString("\n")
	}
	return b.String()
}
