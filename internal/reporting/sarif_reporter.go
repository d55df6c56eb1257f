// internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/walkthrough/api/schemas"
	"github.com/xkilldash9x/walkthrough/internal/observability"
	"github.com/xkilldash9x/walkthrough/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "walkthrough"
	ToolInfoURI  = "https://github.com/xkilldash9x/walkthrough"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleIDSanitizer replaces characters not allowed in SARIF rule IDs. Hyphens
// are replaced too so that sequences collapse into one.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

var ruleDescriptions = map[schemas.FailureKind]string{
	schemas.FailureAction:          "An action step could not be performed.",
	schemas.FailureAssertion:       "An assertion was still false when its polling window elapsed.",
	schemas.FailureInvalidSelector: "A step used a selector the driver rejected as invalid.",
	schemas.FailureDriver:          "The automation driver failed while the scenario was running.",
	schemas.FailureCancelled:       "The scenario was cancelled before it finished.",
}

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format.
// Every scenario that did not pass becomes one result, with a rule per
// failure kind. It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the rule index.
	mu    sync.Mutex
	rules map[schemas.FailureKind]string
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string) *SARIFReporter {
	logger := observability.GetLogger().Named("sarif_reporter")
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						// Empty, not nil, so they marshal as [].
						Rules: []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer: writer,
		logger: logger,
		log:    log,
		rules:  make(map[schemas.FailureKind]string),
	}
}

// Write converts the non-passing results of a run into SARIF results.
func (r *SARIFReporter) Write(summary *schemas.RunSummary) error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	run.Invocations = append(run.Invocations, &sarif.Invocation{
		ExecutionSuccessful: summary.AllPassed(),
		StartTimeUTC:        pString(summary.StartedAt.UTC().Format(time.RFC3339)),
		EndTimeUTC:          pString(summary.FinishedAt.UTC().Format(time.RFC3339)),
		Properties:          &sarif.PropertyBag{"runId": summary.RunID},
	})

	written := 0
	for _, res := range summary.Results {
		if res.Passed {
			continue
		}
		kind := res.FailureKind
		if kind == schemas.FailureNone {
			kind = schemas.FailureDriver
		}
		props := sarif.PropertyBag{
			"runId":    summary.RunID,
			"resultId": res.ID,
			"status":   string(res.Status),
		}
		if res.FailedStepIndex != nil {
			props["failedStepIndex"] = *res.FailedStepIndex
		}
		run.Results = append(run.Results, &sarif.Result{
			RuleID:     r.ensureRule(kind),
			Message:    &sarif.Message{Text: pString(res.FailureMessage)},
			Level:      mapStatusToSARIFLevel(res.Status),
			Locations:  r.createLocations(res),
			Properties: &props,
		})
		written++
	}

	if written > 0 {
		r.logger.Debug("Wrote scenario failures to SARIF buffer",
			zap.Int("results_count", written),
			zap.Duration("duration_ms", time.Since(startTime)),
		)
	}
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Debug("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

// ruleID derives the rule ID for a failure kind, e.g. WALKTHROUGH-INVALID_SELECTOR.
func ruleID(kind schemas.FailureKind) string {
	name := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToUpper(string(kind)), "-"), "-")
	if name == "" {
		name = "UNKNOWN"
	}
	return "WALKTHROUGH-" + name
}

// ensureRule registers the rule for kind once and returns its ID.
// Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(kind schemas.FailureKind) string {
	if id, ok := r.rules[kind]; ok {
		return id
	}
	id := ruleID(kind)
	desc := ruleDescriptions[kind]
	if desc == "" {
		desc = fmt.Sprintf("Scenario failure of kind %q.", kind)
	}

	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               id,
		Name:             pString(string(kind)),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(desc)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(desc)},
		Properties: &sarif.PropertyBag{
			"tags": []string{"ui-scenario", "walkthrough"},
		},
	})
	r.rules[kind] = id
	r.logger.Debug("Registered SARIF rule definition", zap.String("rule_id", id))
	return id
}

// createLocations points at the scenario file and, logically, the failing step.
func (r *SARIFReporter) createLocations(res schemas.ExecutionResult) []*sarif.Location {
	fqn := res.ScenarioName
	kind := "scenario"
	msg := fmt.Sprintf("Scenario %q did not pass", res.ScenarioName)
	if step, ok := firstFailure(res); ok {
		fqn = fmt.Sprintf("%s/steps[%d]", res.ScenarioName, step.Index)
		kind = "step"
		msg = fmt.Sprintf("Step %d (%s) of scenario %q", step.Index, step.Description, res.ScenarioName)
	}

	loc := &sarif.Location{
		LogicalLocations: []*sarif.LogicalLocation{{
			Name:               pString(res.ScenarioName),
			FullyQualifiedName: pString(fqn),
			Kind:               pString(kind),
		}},
		Message: &sarif.Message{Text: pString(msg)},
	}
	if res.Source != "" {
		loc.PhysicalLocation = &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(res.Source)},
		}
	}
	return []*sarif.Location{loc}
}

// mapStatusToSARIFLevel converts a scenario status to the SARIF standard.
func mapStatusToSARIFLevel(status schemas.Status) sarif.Level {
	switch status {
	case schemas.StatusFailed, schemas.StatusErrored:
		return sarif.LevelError
	case schemas.StatusCancelled:
		return sarif.LevelNote
	default:
		return sarif.LevelWarning
	}
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}
