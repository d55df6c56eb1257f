package schemas

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind identifies the driver operation an action step performs.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionClick    ActionKind = "click"
	ActionType     ActionKind = "type"
	ActionLogin    ActionKind = "login"
)

// AssertionKind identifies the predicate an assertion step evaluates.
type AssertionKind string

const (
	AssertExists          AssertionKind = "exists"
	AssertNotExists       AssertionKind = "notExists"
	AssertContainsText    AssertionKind = "containsText"
	AssertNotContainsText AssertionKind = "notContainsText"
	AssertURLContains     AssertionKind = "urlContains"
	AssertCountAtLeast    AssertionKind = "countAtLeast"
	AssertCountEquals     AssertionKind = "countEquals"
)

// ActionKinds lists every supported action kind.
var ActionKinds = []ActionKind{ActionNavigate, ActionClick, ActionType, ActionLogin}

// AssertionKinds lists every supported assertion kind.
var AssertionKinds = []AssertionKind{
	AssertExists, AssertNotExists,
	AssertContainsText, AssertNotContainsText,
	AssertURLContains,
	AssertCountAtLeast, AssertCountEquals,
}

// IsCount reports whether the kind compares a number of matching elements.
func (k AssertionKind) IsCount() bool {
	return k == AssertCountAtLeast || k == AssertCountEquals
}

// Action is a step that changes the state of the page.
type Action struct {
	Kind ActionKind `json:"kind" yaml:"kind"`
	// Target is a CSS selector for click/type and a URL for navigate/login.
	Target string `json:"target" yaml:"target"`
	// Text makes a click pick the innermost element inside Target whose text
	// contains it. Target may then be empty to search the whole page.
	Text string `json:"text,omitempty" yaml:"text,omitempty"`
	// Payload is the text to type, or "user:password" for login.
	Payload string `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Assertion is a step that checks the state of the page.
type Assertion struct {
	Kind AssertionKind `json:"kind" yaml:"kind"`
	// Target is a CSS selector. Empty means the whole page for text kinds
	// and the current URL for urlContains.
	Target   string `json:"target,omitempty" yaml:"target,omitempty"`
	Expected string `json:"expected,omitempty" yaml:"expected,omitempty"`
	Count    int    `json:"count,omitempty" yaml:"count,omitempty"`
}

// ExpectedString renders the expected value the way failure messages show it.
func (a *Assertion) ExpectedString() string {
	if a.Kind.IsCount() {
		return fmt.Sprintf("%d", a.Count)
	}
	return a.Expected
}

// Step is one action or one assertion. Exactly one of Action and Assertion is set.
type Step struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Timeout overrides the polling window for this step. Zero uses the runner default.
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Action    *Action       `json:"action,omitempty" yaml:"action,omitempty"`
	Assertion *Assertion    `json:"assertion,omitempty" yaml:"assertion,omitempty"`
}

// IsAction reports whether the step is an action.
func (s Step) IsAction() bool { return s.Action != nil }

// Describe returns a short human readable label for logs and reports.
func (s Step) Describe() string {
	if s.Name != "" {
		return s.Name
	}
	switch {
	case s.Action != nil:
		a := s.Action
		target := a.Target
		if target == "" && a.Text != "" {
			target = "page"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s %s", a.Kind, target)
		if a.Text != "" {
			fmt.Fprintf(&b, " containing %q", a.Text)
		}
		if a.Kind == ActionType {
			fmt.Fprintf(&b, " %q", a.Payload)
		}
		return b.String()
	case s.Assertion != nil:
		a := s.Assertion
		target := a.Target
		if target == "" {
			target = "page"
			if a.Kind == AssertURLContains {
				target = "url"
			}
		}
		if a.Kind == AssertExists || a.Kind == AssertNotExists {
			return fmt.Sprintf("%s %s", a.Kind, target)
		}
		return fmt.Sprintf("%s %s %q", a.Kind, target, a.ExpectedString())
	default:
		return "empty step"
	}
}

// Scenario is a named, ordered sequence of steps describing one user journey.
type Scenario struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Vars        map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"`
	Steps       []Step            `json:"steps" yaml:"steps"`
	// Source is the file the scenario was loaded from, if any.
	Source string `json:"source,omitempty" yaml:"-"`
}

// HasTag reports whether the scenario carries the given tag.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// -- Results --

// Status is the terminal state of a scenario or step.
type Status string

const (
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusErrored   Status = "errored"
	// StatusSkipped is only used for steps that never ran.
	StatusSkipped Status = "skipped"
)

// FailureKind classifies why a scenario did not pass.
type FailureKind string

const (
	FailureNone            FailureKind = ""
	FailureAction          FailureKind = "action"
	FailureAssertion       FailureKind = "assertion"
	FailureInvalidSelector FailureKind = "invalid_selector"
	FailureDriver          FailureKind = "driver"
	FailureCancelled       FailureKind = "cancelled"
)

// StepResult is the outcome of a single step.
type StepResult struct {
	Index       int           `json:"index"`
	Description string        `json:"description"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// ExecutionResult is the outcome of running one scenario.
type ExecutionResult struct {
	ID              string        `json:"id"`
	ScenarioName    string        `json:"scenario_name"`
	Source          string        `json:"source,omitempty"`
	Status          Status        `json:"status"`
	Passed          bool          `json:"passed"`
	FailedStepIndex *int          `json:"failed_step_index,omitempty"`
	FailureKind     FailureKind   `json:"failure_kind,omitempty"`
	FailureMessage  string        `json:"failure_message,omitempty"`
	Steps           []StepResult  `json:"steps"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
}

// RunSummary groups the results of one batch run.
type RunSummary struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Results    []ExecutionResult `json:"results"`
}

// Count returns how many results have the given status.
func (s *RunSummary) Count(status Status) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Total returns the number of scenarios in the run.
func (s *RunSummary) Total() int { return len(s.Results) }

// AllPassed reports whether every scenario passed.
func (s *RunSummary) AllPassed() bool {
	return s.Count(StatusPassed) == len(s.Results)
}
