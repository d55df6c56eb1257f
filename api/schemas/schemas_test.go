package schemas_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/walkthrough/api/schemas"
)

// -- Test Cases --

// TestConstants verifies that all defined constants hold their expected string values.
// These values appear in scenario files, reports and the database.
func TestConstants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		constant interface{}
		expected string
	}{
		{"ActionNavigate", schemas.ActionNavigate, "navigate"},
		{"ActionClick", schemas.ActionClick, "click"},
		{"ActionType", schemas.ActionType, "type"},
		{"ActionLogin", schemas.ActionLogin, "login"},
		{"AssertExists", schemas.AssertExists, "exists"},
		{"AssertNotExists", schemas.AssertNotExists, "notExists"},
		{"AssertContainsText", schemas.AssertContainsText, "containsText"},
		{"AssertNotContainsText", schemas.AssertNotContainsText, "notContainsText"},
		{"AssertURLContains", schemas.AssertURLContains, "urlContains"},
		{"AssertCountAtLeast", schemas.AssertCountAtLeast, "countAtLeast"},
		{"AssertCountEquals", schemas.AssertCountEquals, "countEquals"},
		{"StatusPassed", schemas.StatusPassed, "passed"},
		{"StatusFailed", schemas.StatusFailed, "failed"},
		{"StatusCancelled", schemas.StatusCancelled, "cancelled"},
		{"StatusErrored", schemas.StatusErrored, "errored"},
		{"StatusSkipped", schemas.StatusSkipped, "skipped"},
		{"FailureAction", schemas.FailureAction, "action"},
		{"FailureAssertion", schemas.FailureAssertion, "assertion"},
		{"FailureInvalidSelector", schemas.FailureInvalidSelector, "invalid_selector"},
		{"FailureDriver", schemas.FailureDriver, "driver"},
		{"FailureCancelled", schemas.FailureCancelled, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, reflect.ValueOf(tt.constant).String())
		})
	}
}

func TestKindLists(t *testing.T) {
	assert.Len(t, schemas.ActionKinds, 4)
	assert.Len(t, schemas.AssertionKinds, 7)
	for _, k := range schemas.AssertionKinds {
		assert.Equal(t, k == schemas.AssertCountAtLeast || k == schemas.AssertCountEquals, k.IsCount(), string(k))
	}
}

func TestStepDescribe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		step schemas.Step
		want string
	}{
		{"named step", schemas.Step{Name: "open the catalog", Action: &schemas.Action{Kind: schemas.ActionNavigate, Target: "https://x.test"}}, "open the catalog"},
		{"navigate", schemas.Step{Action: &schemas.Action{Kind: schemas.ActionNavigate, Target: "https://x.test"}}, "navigate https://x.test"},
		{"click with text", schemas.Step{Action: &schemas.Action{Kind: schemas.ActionClick, Target: ".grid-tile", Text: "API Gateway"}}, `click .grid-tile containing "API Gateway"`},
		{"page-wide click", schemas.Step{Action: &schemas.Action{Kind: schemas.ActionClick, Text: "API Gateway"}}, `click page containing "API Gateway"`},
		{"type", schemas.Step{Action: &schemas.Action{Kind: schemas.ActionType, Target: "#search", Payload: "gateway"}}, `type #search "gateway"`},
		{"exists", schemas.Step{Assertion: &schemas.Assertion{Kind: schemas.AssertExists, Target: "#go-back-button"}}, "exists #go-back-button"},
		{"page text", schemas.Step{Assertion: &schemas.Assertion{Kind: schemas.AssertContainsText, Expected: "Welcome"}}, `containsText page "Welcome"`},
		{"url", schemas.Step{Assertion: &schemas.Assertion{Kind: schemas.AssertURLContains, Expected: "/service/apiml2"}}, `urlContains url "/service/apiml2"`},
		{"count", schemas.Step{Assertion: &schemas.Assertion{Kind: schemas.AssertCountEquals, Target: ".grid-tile", Count: 3}}, `countEquals .grid-tile "3"`},
		{"empty", schemas.Step{}, "empty step"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.step.Describe())
		})
	}
}

func TestScenarioHasTag(t *testing.T) {
	sc := &schemas.Scenario{Name: "s", Tags: []string{"smoke", "gateway"}}
	assert.True(t, sc.HasTag("smoke"))
	assert.False(t, sc.HasTag("Smoke"), "tags are case sensitive")
	assert.False(t, (&schemas.Scenario{}).HasTag("smoke"))
}

func TestRunSummaryCounts(t *testing.T) {
	summary := &schemas.RunSummary{Results: []schemas.ExecutionResult{
		{Status: schemas.StatusPassed},
		{Status: schemas.StatusFailed},
		{Status: schemas.StatusPassed},
		{Status: schemas.StatusCancelled},
	}}
	assert.Equal(t, 4, summary.Total())
	assert.Equal(t, 2, summary.Count(schemas.StatusPassed))
	assert.Equal(t, 0, summary.Count(schemas.StatusErrored))
	assert.False(t, summary.AllPassed())

	summary.Results = summary.Results[:1]
	assert.True(t, summary.AllPassed())
	assert.True(t, (&schemas.RunSummary{}).AllPassed(), "an empty run has nothing that failed")
}

// TestStructJSONTags pins the field names of the JSON report.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "ExecutionResult",
			structRef: schemas.ExecutionResult{},
			expectedTags: map[string]string{
				"ID":              "id",
				"ScenarioName":    "scenario_name",
				"Status":          "status",
				"Passed":          "passed",
				"FailedStepIndex": "failed_step_index,omitempty",
				"FailureKind":     "failure_kind,omitempty",
				"FailureMessage":  "failure_message,omitempty",
				"Steps":           "steps",
			},
		},
		{
			name:      "RunSummary",
			structRef: schemas.RunSummary{},
			expectedTags: map[string]string{
				"RunID":      "run_id",
				"StartedAt":  "started_at",
				"FinishedAt": "finished_at",
				"Results":    "results",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			typ := reflect.TypeOf(tc.structRef)
			for field, want := range tc.expectedTags {
				f, ok := typ.FieldByName(field)
				require.True(t, ok, "field %s not found", field)
				assert.Equal(t, want, f.Tag.Get("json"), "json tag of %s", field)
			}
		})
	}
}

func TestExecutionResultJSON(t *testing.T) {
	idx := 1
	res := schemas.ExecutionResult{
		ID: "r1", ScenarioName: "detail", Status: schemas.StatusFailed,
		FailedStepIndex: &idx, FailureKind: schemas.FailureAssertion,
		StartedAt: time.Date(2025, 10, 26, 10, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"failed_step_index":1`)
	assert.Contains(t, string(data), `"failure_kind":"assertion"`)

	res.FailedStepIndex = nil
	res.FailureKind = schemas.FailureNone
	data, err = json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "failed_step_index")
	assert.NotContains(t, string(data), "failure_kind")
}
