// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xkilldash9x/walkthrough/api/schemas"
)

// Supported output formats.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatJUnit = "junit"
	FormatSARIF = "sarif"
)

// Reporter defines the interface for writing run results to an output.
type Reporter interface {
	// Write processes the summary of one batch run. It may be called more
	// than once, for example on every re-run in watch mode.
	Write(summary *schemas.RunSummary) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// NopWriteCloser returns a WriteCloser whose Close does not close w.
func NopWriteCloser(w io.Writer) io.WriteCloser {
	return &nopWriteCloser{w}
}

// New creates a new reporter based on the specified format and output path.
// An empty path or "stdout" writes to standard output.
func New(format, outputPath, toolVersion string) (Reporter, error) {
	format = strings.ToLower(format)
	if !IsSupported(format) {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWithWriter(format, writer, toolVersion)
}

// NewWithWriter creates a reporter that takes ownership of writer.
func NewWithWriter(format string, writer io.WriteCloser, toolVersion string) (Reporter, error) {
	switch strings.ToLower(format) {
	case FormatText:
		return NewTextReporter(writer), nil
	case FormatJSON:
		return NewJSONReporter(writer), nil
	case FormatJUnit:
		return NewJUnitReporter(writer), nil
	case FormatSARIF:
		return NewSARIFReporter(writer, toolVersion), nil
	default:
		writer.Close()
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// IsSupported reports whether format names a known reporter.
func IsSupported(format string) bool {
	switch strings.ToLower(format) {
	case FormatText, FormatJSON, FormatJUnit, FormatSARIF:
		return true
	}
	return false
}

// firstFailure returns the step result at the failed index, if any.
func firstFailure(res schemas.ExecutionResult) (schemas.StepResult, bool) {
	if res.FailedStepIndex == nil {
		return schemas.StepResult{}, false
	}
	i := *res.FailedStepIndex
	if i < 0 || i >= len(res.Steps) {
		return schemas.StepResult{}, false
	}
	return res.Steps[i], true
}

func passedSteps(res schemas.ExecutionResult) int {
	n := 0
	for _, s := range res.Steps {
		if s.Status == schemas.StatusPassed {
			n++
		}
	}
	return n
}
