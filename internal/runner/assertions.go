// internal/runner/assertions.go
package runner

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/walkthrough/api/schemas"
)

// maxObservedText caps how much element or page text ends up in a failure
// message, and maxObservedTexts how many elements are quoted.
const (
	maxObservedText  = 200
	maxObservedTexts = 5
)

func (r *Runner) runAssertion(ctx context.Context, driver schemas.UiDriver, index int, step schemas.Step) error {
	a := step.Assertion

	var observed string
	res := r.poll(ctx, r.window(step), func(ctx context.Context) (bool, error) {
		ok, obs, err := evaluate(ctx, driver, a)
		if err != nil {
			return false, err
		}
		observed = obs
		return ok, nil
	})

	if res.fatal != nil {
		return fatalError(index, string(a.Kind), a.Target, res.fatal)
	}
	if res.satisfied {
		return nil
	}

	if observed == "" {
		observed = "nothing"
		if res.lastErr != nil {
			observed = "error: " + res.lastErr.Error()
		}
	}
	return &AssertionFailure{
		StepIndex: index,
		Kind:      a.Kind,
		Target:    a.Target,
		Expected:  a.ExpectedString(),
		Observed:  observed,
	}
}

// evaluate checks the predicate once and describes what it saw.
func evaluate(ctx context.Context, driver schemas.UiDriver, a *schemas.Assertion) (ok bool, observed string, err error) {
	switch a.Kind {
	case schemas.AssertExists:
		el, err := driver.Find(ctx, a.Target)
		if err != nil {
			return false, "", err
		}
		if el == nil {
			return false, "no matching element", nil
		}
		return true, "a matching element", nil

	case schemas.AssertNotExists:
		els, err := driver.FindAll(ctx, a.Target)
		if err != nil {
			return false, "", err
		}
		return len(els) == 0, fmt.Sprintf("%d matching element(s)", len(els)), nil

	case schemas.AssertContainsText, schemas.AssertNotContainsText:
		texts, err := textsFor(ctx, driver, a.Target)
		if err != nil {
			return false, "", err
		}
		if len(texts) == 0 {
			return false, fmt.Sprintf("no element matching %q", a.Target), nil
		}
		// The subject contains the text when any one of its elements does.
		contains := false
		for _, text := range texts {
			if strings.Contains(text, a.Expected) {
				contains = true
				break
			}
		}
		if a.Kind == schemas.AssertNotContainsText {
			return !contains, describeTexts(texts), nil
		}
		return contains, describeTexts(texts), nil

	case schemas.AssertURLContains:
		url, err := driver.CurrentURL(ctx)
		if err != nil {
			return false, "", err
		}
		return strings.Contains(url, a.Expected), strconv.Quote(url), nil

	case schemas.AssertCountAtLeast, schemas.AssertCountEquals:
		els, err := driver.FindAll(ctx, a.Target)
		if err != nil {
			return false, "", err
		}
		n := len(els)
		observed := strconv.Itoa(n)
		if a.Kind == schemas.AssertCountEquals {
			return n == a.Count, observed, nil
		}
		return n >= a.Count, observed, nil

	default:
		return false, "", fmt.Errorf("unsupported assertion kind %q", a.Kind)
	}
}

// textsFor returns the text of every element matching target, or the page
// text when target is empty. It is empty when nothing matched.
func textsFor(ctx context.Context, driver schemas.UiDriver, target string) ([]string, error) {
	if target == "" {
		text, err := driver.PageText(ctx)
		if err != nil {
			return nil, err
		}
		return []string{text}, nil
	}
	els, err := driver.FindAll(ctx, target)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(els))
	for _, el := range els {
		text, err := driver.TextOf(ctx, el)
		if err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// describeTexts quotes each observed text for a failure message.
func describeTexts(texts []string) string {
	shown := texts
	if len(shown) > maxObservedTexts {
		shown = shown[:maxObservedTexts]
	}
	quoted := make([]string, len(shown))
	for i, text := range shown {
		quoted[i] = quoteText(text)
	}
	out := strings.Join(quoted, ", ")
	if n := len(texts) - len(shown); n > 0 {
		out += fmt.Sprintf(" and %d more", n)
	}
	return out
}

func quoteText(s string) string {
	if len(s) > maxObservedText {
		// Cut on a rune boundary.
		cut := maxObservedText
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return strconv.Quote(s[:cut]) + "..."
	}
	return strconv.Quote(s)
}
