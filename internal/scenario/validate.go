// internal/scenario/validate.go
package scenario

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/walkthrough/api/schemas"
)

// ErrInvalidScenario is wrapped by every ValidationError.
var ErrInvalidScenario = errors.New("invalid scenario")

// ValidationError describes why a scenario definition was rejected.
type ValidationError struct {
	Source   string
	Scenario string
	// Step is the zero-based step index, or -1 when the problem is not step specific.
	Step   int
	Reason string
	// Err is an optional sentinel the reason corresponds to.
	Err error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Source != "" {
		b.WriteString(e.Source)
		b.WriteString(": ")
	}
	if e.Scenario != "" {
		fmt.Fprintf(&b, "scenario %q: ", e.Scenario)
	}
	if e.Step >= 0 {
		fmt.Fprintf(&b, "step %d: ", e.Step)
	}
	b.WriteString(e.Reason)
	return b.String()
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidScenario, e.Err}
	}
	return []error{ErrInvalidScenario}
}

// Options tunes validation.
type Options struct {
	// RequireLogin demands that every scenario starts with a login action.
	RequireLogin bool
}

// Validate checks a fully built scenario. It is applied by the loader and can
// be used on scenarios constructed in code.
func Validate(sc *schemas.Scenario, opts Options) error {
	fail := func(step int, format string, args ...interface{}) error {
		return &ValidationError{Source: sc.Source, Scenario: sc.Name, Step: step, Reason: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(sc.Name) == "" {
		return fail(-1, "name is required")
	}
	if len(sc.Steps) == 0 {
		return &ValidationError{Source: sc.Source, Scenario: sc.Name, Step: -1, Reason: schemas.ErrEmptyScenario.Error(), Err: schemas.ErrEmptyScenario}
	}
	if opts.RequireLogin {
		first := sc.Steps[0]
		if first.Action == nil || first.Action.Kind != schemas.ActionLogin {
			return fail(0, "first step must be a login action")
		}
	}

	for i, step := range sc.Steps {
		if err := validateStep(step); err != nil {
			return fail(i, "%s", err.Error())
		}
	}
	return nil
}

func validateStep(step schemas.Step) error {
	if step.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	switch {
	case step.Action != nil && step.Assertion != nil:
		return fmt.Errorf("step is both an action and an assertion")
	case step.Action != nil:
		return validateAction(step.Action)
	case step.Assertion != nil:
		return validateAssertion(step.Assertion)
	default:
		return fmt.Errorf("step has no action or assertion")
	}
}

func validateAction(a *schemas.Action) error {
	if a.Target == "" && (a.Kind != schemas.ActionClick || a.Text == "") {
		return fmt.Errorf("%s requires a target", a.Kind)
	}
	switch a.Kind {
	case schemas.ActionNavigate, schemas.ActionClick:
	case schemas.ActionType:
		// An empty payload is legal: typing nothing into a field is a no-op.
	case schemas.ActionLogin:
		user, _, ok := strings.Cut(a.Payload, ":")
		if !ok || user == "" {
			return fmt.Errorf("login payload must be user:password")
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	if a.Text != "" && a.Kind != schemas.ActionClick {
		return fmt.Errorf("text is only supported on click")
	}
	return nil
}

func validateAssertion(a *schemas.Assertion) error {
	switch a.Kind {
	case schemas.AssertExists, schemas.AssertNotExists:
		if a.Target == "" {
			return fmt.Errorf("%s requires a target", a.Kind)
		}
	case schemas.AssertContainsText, schemas.AssertNotContainsText:
		if a.Expected == "" {
			return fmt.Errorf("%s requires an expected text", a.Kind)
		}
	case schemas.AssertURLContains:
		if a.Target != "" {
			return fmt.Errorf("urlContains takes no target")
		}
		if a.Expected == "" {
			return fmt.Errorf("urlContains requires an expected substring")
		}
	case schemas.AssertCountAtLeast, schemas.AssertCountEquals:
		if a.Target == "" {
			return fmt.Errorf("%s requires a target", a.Kind)
		}
		if a.Count < 0 {
			return fmt.Errorf("%s expects a non-negative count, got %d", a.Kind, a.Count)
		}
	default:
		return fmt.Errorf("unknown assertion kind %q", a.Kind)
	}
	return nil
}
