package schemas

import (
	"context"
	"errors"
)

// -- Driver Interfaces --

// ElementHandle is an opaque reference to an element resolved by a UiDriver.
// Handles are only valid for the driver that produced them.
type ElementHandle interface {
	String() string
}

// UiDriver is the automation surface a scenario runs against. Every method may
// block until the page settles or the context expires.
type UiDriver interface {
	// Navigate loads url in the current page.
	Navigate(ctx context.Context, url string) error
	// Find returns the first element matching selector, or nil when nothing matches.
	Find(ctx context.Context, selector string) (ElementHandle, error)
	// FindAll returns every element matching selector, possibly none.
	FindAll(ctx context.Context, selector string) ([]ElementHandle, error)
	Click(ctx context.Context, el ElementHandle) error
	Type(ctx context.Context, el ElementHandle, text string) error
	CurrentURL(ctx context.Context) (string, error)
	TextOf(ctx context.Context, el ElementHandle) (string, error)
	// PageText returns the visible text of the whole document.
	PageText(ctx context.Context) (string, error)
}

// TextFinder is implemented by drivers that can locate an element by its text
// natively. FindContaining returns the deepest element inside the elements
// matching scope (the whole page when scope is empty) whose text contains
// text, the first scope element itself when no descendant does, or nil.
type TextFinder interface {
	FindContaining(ctx context.Context, scope, text string) (ElementHandle, error)
}

// Session is an isolated driver instance, such as a fresh browser tab.
type Session interface {
	UiDriver
	ID() string
	Close(ctx context.Context) error
}

// SessionFactory creates fresh, isolated sessions. Each scenario in a batch
// gets its own session.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// -- Store Interface --

// Store persists run summaries so they can be reported on later.
type Store interface {
	SaveSummary(ctx context.Context, summary *RunSummary) error
	GetSummary(ctx context.Context, runID string) (*RunSummary, error)
}

// -- Sentinel Errors --

var (
	// ErrInvalidSelector is returned by a driver when a selector is not
	// syntactically valid, as opposed to valid but matching nothing.
	ErrInvalidSelector = errors.New("invalid selector")
	// ErrDriverUnavailable is returned when the automation surface itself is
	// unreachable or has crashed.
	ErrDriverUnavailable = errors.New("driver unavailable")
	// ErrElementDetached is returned when a handle no longer refers to a live element.
	ErrElementDetached = errors.New("element detached from document")
	// ErrEmptyScenario is returned for scenarios without steps.
	ErrEmptyScenario = errors.New("scenario has no steps")
)
