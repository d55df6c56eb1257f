// File: internal/mocks/fake_driver.go
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/xkilldash9x/walkthrough/api/schemas"
)

// FakeElement is an element on a FakePage.
type FakeElement struct {
	ID string
	// Matches lists the selectors this element answers to.
	Matches []string
	Text    string
	// Href, when set, is navigated to on click.
	Href string
	// OnClick runs after Href handling, with the driver lock released.
	OnClick func(d *FakeDriver)
}

func (e *FakeElement) matches(selector string) bool {
	for _, m := range e.Matches {
		if m == selector {
			return true
		}
	}
	return false
}

// FakePage is the DOM served for a URL.
type FakePage struct {
	Elements []*FakeElement
}

type fakeHandle struct {
	el *FakeElement
	// generation is the page load the handle belongs to.
	generation int64
}

func (h fakeHandle) String() string { return h.el.ID }

// FakeDriver is an in-memory UiDriver backed by a map of pages. Selectors
// match by exact string against FakeElement.Matches. Every call is recorded.
type FakeDriver struct {
	mu         sync.Mutex
	id         string
	pages      map[string]*FakePage
	url        string
	current    *FakePage
	generation int64
	typed      map[string]string
	calls      []string

	// InvalidSelectors are rejected with schemas.ErrInvalidSelector.
	InvalidSelectors map[string]bool
	// BeforeQuery runs before every Find/FindAll with the number of queries
	// made so far, letting tests change the page while a step is polling.
	BeforeQuery func(d *FakeDriver, queries int)
	// Fail makes the named method return the error, e.g. Fail["Navigate"].
	Fail map[string]error

	queries atomic.Int64
	closed  atomic.Bool
}

// NewFakeDriver creates a driver serving pages, starting at startURL.
func NewFakeDriver(pages map[string]*FakePage, startURL string) *FakeDriver {
	d := &FakeDriver{
		id:    uuid.NewString(),
		pages: pages,
		typed: map[string]string{},
	}
	d.load(startURL)
	return d
}

var _ schemas.Session = (*FakeDriver)(nil)

func (d *FakeDriver) load(url string) {
	d.url = url
	d.current = d.pages[url]
	if d.current == nil {
		d.current = &FakePage{}
	}
	d.generation++
}

func (d *FakeDriver) record(format string, args ...interface{}) error {
	call := fmt.Sprintf(format, args...)
	d.calls = append(d.calls, call)
	if d.closed.Load() {
		return fmt.Errorf("session %s closed: %w", d.id, schemas.ErrDriverUnavailable)
	}
	name, _, _ := strings.Cut(call, "(")
	if err := d.Fail[name]; err != nil {
		return err
	}
	return nil
}

// Calls returns a copy of the recorded call log.
func (d *FakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Typed returns what has been typed into the element with the given ID.
func (d *FakeDriver) Typed(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typed[id]
}

// SetPage replaces the page served at url. If url is current, it is reloaded.
func (d *FakeDriver) SetPage(url string, page *FakePage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[url] = page
	if d.url == url {
		d.load(url)
	}
}

// SetURL changes the current URL without navigating, as a client side router would.
func (d *FakeDriver) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

func (d *FakeDriver) ID() string { return d.id }

func (d *FakeDriver) Close(ctx context.Context) error {
	d.closed.Store(true)
	return nil
}

// Closed reports whether Close has been called.
func (d *FakeDriver) Closed() bool { return d.closed.Load() }

func (d *FakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("Navigate(%s)", url); err != nil {
		return err
	}
	d.load(url)
	return nil
}

func (d *FakeDriver) query(selector string) ([]*FakeElement, error) {
	n := d.queries.Add(1)
	if hook := d.BeforeQuery; hook != nil {
		hook(d, int(n))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("Query(%s)", selector); err != nil {
		return nil, err
	}
	if d.InvalidSelectors[selector] {
		return nil, fmt.Errorf("%q: %w", selector, schemas.ErrInvalidSelector)
	}
	var out []*FakeElement
	for _, el := range d.current.Elements {
		if el.matches(selector) {
			out = append(out, el)
		}
	}
	return out, nil
}

func (d *FakeDriver) Find(ctx context.Context, selector string) (schemas.ElementHandle, error) {
	els, err := d.query(selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return fakeHandle{el: els[0], generation: d.generation}, nil
}

func (d *FakeDriver) FindAll(ctx context.Context, selector string) ([]schemas.ElementHandle, error) {
	els, err := d.query(selector)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]schemas.ElementHandle, len(els))
	for i, el := range els {
		out[i] = fakeHandle{el: el, generation: d.generation}
	}
	return out, nil
}

func (d *FakeDriver) handle(el schemas.ElementHandle) (*FakeElement, error) {
	h, ok := el.(fakeHandle)
	if !ok {
		return nil, fmt.Errorf("foreign element handle %v", el)
	}
	if h.generation != d.generation {
		return nil, fmt.Errorf("element %s: %w", h.el.ID, schemas.ErrElementDetached)
	}
	return h.el, nil
}

func (d *FakeDriver) Click(ctx context.Context, handle schemas.ElementHandle) error {
	d.mu.Lock()
	if err := d.record("Click(%s)", handle); err != nil {
		d.mu.Unlock()
		return err
	}
	el, err := d.handle(handle)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if el.Href != "" {
		d.load(el.Href)
	}
	d.mu.Unlock()

	if el.OnClick != nil {
		el.OnClick(d)
	}
	return nil
}

func (d *FakeDriver) Type(ctx context.Context, handle schemas.ElementHandle, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("Type(%s)", handle); err != nil {
		return err
	}
	el, err := d.handle(handle)
	if err != nil {
		return err
	}
	d.typed[el.ID] += text
	return nil
}

func (d *FakeDriver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("CurrentURL()"); err != nil {
		return "", err
	}
	return d.url, nil
}

func (d *FakeDriver) TextOf(ctx context.Context, handle schemas.ElementHandle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("TextOf(%s)", handle); err != nil {
		return "", err
	}
	el, err := d.handle(handle)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (d *FakeDriver) PageText(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("PageText()"); err != nil {
		return "", err
	}
	texts := make([]string, 0, len(d.current.Elements))
	for _, el := range d.current.Elements {
		if el.Text != "" {
			texts = append(texts, el.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// FakeSessionFactory hands out FakeDrivers built by New and remembers them.
type FakeSessionFactory struct {
	New func() *FakeDriver

	mu       sync.Mutex
	sessions []*FakeDriver
	// Err, when set, is returned instead of a session.
	Err error
}

var _ schemas.SessionFactory = (*FakeSessionFactory)(nil)

func (f *FakeSessionFactory) NewSession(ctx context.Context) (schemas.Session, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	d := f.New()
	f.mu.Lock()
	f.sessions = append(f.sessions, d)
	f.mu.Unlock()
	return d, nil
}

// Sessions returns every session created so far.
func (f *FakeSessionFactory) Sessions() []*FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeDriver(nil), f.sessions...)
}
