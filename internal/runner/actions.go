// internal/runner/actions.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/walkthrough/api/schemas"
)

// pollResult is the outcome of a polling loop.
type pollResult struct {
	satisfied bool
	// fatal is set when the check returned an error that polling cannot fix.
	fatal error
	// lastErr is the most recent transient check error, if any.
	lastErr error
}

// isFatal reports whether a driver error must end polling immediately.
func isFatal(err error) bool {
	return errors.Is(err, schemas.ErrInvalidSelector) || errors.Is(err, schemas.ErrDriverUnavailable)
}

// poll calls check until it reports success, fails fatally, or window elapses.
// The check always runs at least once.
func (r *Runner) poll(ctx context.Context, window time.Duration, check func(context.Context) (bool, error)) pollResult {
	pollCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	var res pollResult
	for {
		ok, err := check(pollCtx)
		switch {
		case err == nil && ok:
			res.satisfied = true
			return res
		case err != nil && isFatal(err):
			res.fatal = err
			return res
		case err != nil && pollCtx.Err() == nil:
			// Errors caused by the window closing are not interesting.
			res.lastErr = err
		}

		select {
		case <-pollCtx.Done():
			return res
		case <-ticker.C:
		}
	}
}

// fatalError converts a fatal driver error into the typed step error.
func fatalError(index int, op, selector string, err error) error {
	if errors.Is(err, schemas.ErrInvalidSelector) {
		return &SelectorError{StepIndex: index, Selector: selector, Err: err}
	}
	return &DriverError{StepIndex: index, Op: op, Err: err}
}

// actionTarget identifies what an action is operating on, for error reporting.
type actionTarget struct {
	index int
	kind  schemas.ActionKind
	// label prefixes reasons, e.g. "username field" inside a login.
	label string
}

func (t actionTarget) reason(format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if t.label != "" {
		return t.label + ": " + msg
	}
	return msg
}

func (r *Runner) runAction(ctx context.Context, driver schemas.UiDriver, index int, step schemas.Step) error {
	a := step.Action
	window := r.window(step)
	at := actionTarget{index: index, kind: a.Kind}

	switch a.Kind {
	case schemas.ActionNavigate:
		return r.perform(ctx, at, a.Target, "navigate", func(ctx context.Context) error {
			return driver.Navigate(ctx, a.Target)
		})

	case schemas.ActionClick:
		el, err := r.resolve(ctx, driver, at, window, a.Target, a.Text)
		if err != nil {
			return err
		}
		return r.perform(ctx, at, a.Target, "click", func(ctx context.Context) error {
			return driver.Click(ctx, el)
		})

	case schemas.ActionType:
		el, err := r.resolve(ctx, driver, at, window, a.Target, "")
		if err != nil {
			return err
		}
		return r.perform(ctx, at, a.Target, "type", func(ctx context.Context) error {
			return driver.Type(ctx, el, a.Payload)
		})

	case schemas.ActionLogin:
		return r.login(ctx, driver, at, window, a)

	default:
		return &ActionError{StepIndex: index, Kind: a.Kind, Target: a.Target, Reason: "unsupported action kind"}
	}
}

// login navigates to the login page, fills in the configured credential
// fields and submits the form. The payload is "user:password".
func (r *Runner) login(ctx context.Context, driver schemas.UiDriver, at actionTarget, window time.Duration, a *schemas.Action) error {
	user, password, ok := strings.Cut(a.Payload, ":")
	if !ok {
		return &ActionError{StepIndex: at.index, Kind: a.Kind, Target: a.Target, Reason: "credentials must be user:password"}
	}

	if err := r.perform(ctx, at, a.Target, "navigate", func(ctx context.Context) error {
		return driver.Navigate(ctx, a.Target)
	}); err != nil {
		return err
	}

	fields := []struct {
		label    string
		selector string
		value    string
	}{
		{"username field", r.opts.Login.UsernameSelector, user},
		{"password field", r.opts.Login.PasswordSelector, password},
	}
	for _, f := range fields {
		sub := at
		sub.label = f.label
		el, err := r.resolve(ctx, driver, sub, window, f.selector, "")
		if err != nil {
			return err
		}
		value := f.value
		if err := r.perform(ctx, sub, f.selector, "type", func(ctx context.Context) error {
			return driver.Type(ctx, el, value)
		}); err != nil {
			return err
		}
	}

	submit := at
	submit.label = "submit button"
	el, err := r.resolve(ctx, driver, submit, window, r.opts.Login.SubmitSelector, "")
	if err != nil {
		return err
	}
	return r.perform(ctx, submit, r.opts.Login.SubmitSelector, "click", func(ctx context.Context) error {
		return driver.Click(ctx, el)
	})
}

// resolve polls until selector matches an element. With text set, the
// innermost element under selector whose text contains text is chosen, and an
// empty selector searches the whole page.
func (r *Runner) resolve(ctx context.Context, driver schemas.UiDriver, at actionTarget, window time.Duration, selector, text string) (schemas.ElementHandle, error) {
	var found schemas.ElementHandle
	res := r.poll(ctx, window, func(ctx context.Context) (bool, error) {
		var (
			el  schemas.ElementHandle
			err error
		)
		if text == "" {
			el, err = driver.Find(ctx, selector)
		} else {
			el, err = findContaining(ctx, driver, selector, text)
		}
		if err != nil {
			return false, err
		}
		found = el
		return el != nil, nil
	})

	scope := selector
	if scope == "" {
		scope = "page"
	}
	switch {
	case res.fatal != nil:
		return nil, fatalError(at.index, "find", selector, res.fatal)
	case !res.satisfied:
		reason := at.reason("no element matching %q within %s", scope, window)
		if text != "" {
			reason = at.reason("no element in %q containing %q within %s", scope, text, window)
		}
		return nil, &ActionError{StepIndex: at.index, Kind: at.kind, Target: selector, Reason: reason, Err: res.lastErr}
	}
	return found, nil
}

// findContaining returns the deepest element inside scope whose text contains
// text, falling back to the first scope element itself. Drivers implementing
// schemas.TextFinder answer natively.
func findContaining(ctx context.Context, driver schemas.UiDriver, scope, text string) (schemas.ElementHandle, error) {
	if f, ok := driver.(schemas.TextFinder); ok {
		return f.FindContaining(ctx, scope, text)
	}
	if scope == "" {
		scope = "body"
	}

	descendants, err := driver.FindAll(ctx, descendantSelector(scope))
	if err != nil {
		return nil, err
	}
	// Document order puts an ancestor before its descendants, and a
	// descendant's text is part of its ancestor's. Follow the first chain of
	// matches down until a match falls outside it.
	var best schemas.ElementHandle
	var bestText string
	for _, el := range descendants {
		content, err := driver.TextOf(ctx, el)
		if err != nil {
			if isFatal(err) {
				return nil, err
			}
			continue
		}
		if !strings.Contains(content, text) {
			continue
		}
		if best != nil && !strings.Contains(bestText, content) {
			break
		}
		best, bestText = el, content
	}
	if best != nil {
		return best, nil
	}

	subjects, err := driver.FindAll(ctx, scope)
	if err != nil {
		return nil, err
	}
	for _, el := range subjects {
		content, err := driver.TextOf(ctx, el)
		if err != nil {
			if isFatal(err) {
				return nil, err
			}
			continue
		}
		if strings.Contains(content, text) {
			return el, nil
		}
	}
	return nil, nil
}

// descendantSelector turns a selector list into one matching every
// descendant of its elements: "a, b" becomes "a *, b *".
func descendantSelector(selector string) string {
	parts := splitSelectorList(selector)
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p) + " *"
	}
	return strings.Join(parts, ", ")
}

// splitSelectorList splits on top level commas, leaving commas inside
// brackets, parentheses and quoted strings alone.
func splitSelectorList(selector string) []string {
	var (
		parts []string
		depth int
		quote rune
		start int
	)
	escaped := false
	for i, c := range selector {
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			if depth > 0 {
				depth--
			}
		case c == ',' && depth == 0:
			parts = append(parts, selector[start:i])
			start = i + 1
		}
	}
	return append(parts, selector[start:])
}

// perform runs a driver primitive bounded by the action timeout.
func (r *Runner) perform(ctx context.Context, at actionTarget, target, op string, fn func(context.Context) error) error {
	actCtx, cancel := context.WithTimeout(ctx, r.opts.ActionTimeout)
	defer cancel()

	err := fn(actCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, schemas.ErrDriverUnavailable) {
		return &DriverError{StepIndex: at.index, Op: op, Err: err}
	}
	return &ActionError{StepIndex: at.index, Kind: at.kind, Target: target, Reason: at.reason("%s failed", op), Err: err}
}
