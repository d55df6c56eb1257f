// internal/runner/errors.go
package runner

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/walkthrough/api/schemas"
)

// ActionError reports an action step that could not be performed, either
// because its target never resolved or because the driver primitive failed.
type ActionError struct {
	StepIndex int
	Kind      schemas.ActionKind
	Target    string
	Reason    string
	Err       error
}

func (e *ActionError) Error() string {
	msg := fmt.Sprintf("%s action failed at step %d (target %q): %s", e.Kind, e.StepIndex, e.Target, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ActionError) Unwrap() error { return e.Err }

// AssertionFailure reports an assertion whose predicate was still false when
// its polling window elapsed.
type AssertionFailure struct {
	StepIndex int
	Kind      schemas.AssertionKind
	Target    string
	Expected  string
	// Observed is the last value seen while polling, already formatted.
	Observed string
}

func (e *AssertionFailure) Error() string {
	return fmt.Sprintf("%s assertion failed at step %d: expected %s, observed %s",
		e.Kind, e.StepIndex, expectation(e.Kind, e.Target, e.Expected), e.Observed)
}

// expectation phrases what an assertion wanted, naming its selector.
func expectation(kind schemas.AssertionKind, target, expected string) string {
	subject := "page text"
	if target != "" {
		subject = fmt.Sprintf("text of %q", target)
	}
	switch kind {
	case schemas.AssertExists:
		return fmt.Sprintf("an element matching %q", target)
	case schemas.AssertNotExists:
		return fmt.Sprintf("no element matching %q", target)
	case schemas.AssertContainsText:
		return fmt.Sprintf("%s to contain %q", subject, expected)
	case schemas.AssertNotContainsText:
		return fmt.Sprintf("%s not to contain %q", subject, expected)
	case schemas.AssertURLContains:
		return fmt.Sprintf("url to contain %q", expected)
	case schemas.AssertCountAtLeast:
		return fmt.Sprintf("at least %s elements matching %q", expected, target)
	case schemas.AssertCountEquals:
		return fmt.Sprintf("exactly %s elements matching %q", expected, target)
	default:
		return fmt.Sprintf("%s %q %q", kind, target, expected)
	}
}

// SelectorError reports a selector the driver rejected as syntactically
// invalid. It is never polled.
type SelectorError struct {
	StepIndex int
	Selector  string
	Err       error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("invalid selector %q at step %d: %v", e.Selector, e.StepIndex, e.Err)
}

func (e *SelectorError) Unwrap() error { return e.Err }

// DriverError reports that the automation surface itself failed. It is an
// infrastructure failure, not a test outcome, and is returned from Run.
type DriverError struct {
	StepIndex int
	Op        string
	Err       error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver failure during %s at step %d: %v", e.Op, e.StepIndex, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// classify maps a step error to the status and failure kind recorded in the result.
func classify(err error) (schemas.Status, schemas.FailureKind) {
	var (
		selErr    *SelectorError
		actErr    *ActionError
		assertErr *AssertionFailure
		drvErr    *DriverError
	)
	switch {
	case errors.As(err, &drvErr):
		return schemas.StatusErrored, schemas.FailureDriver
	case errors.As(err, &selErr):
		return schemas.StatusFailed, schemas.FailureInvalidSelector
	case errors.As(err, &assertErr):
		return schemas.StatusFailed, schemas.FailureAssertion
	case errors.As(err, &actErr):
		return schemas.StatusFailed, schemas.FailureAction
	default:
		// Anything unexpected is treated as an infrastructure problem.
		return schemas.StatusErrored, schemas.FailureDriver
	}
}
