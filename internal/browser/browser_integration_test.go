// internal/browser/browser_integration_test.go
package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/walkthrough/api/schemas"
	"github.com/xkilldash9x/walkthrough/internal/browser"
	"github.com/xkilldash9x/walkthrough/internal/config"
	"github.com/xkilldash9x/walkthrough/internal/runner"
)

const defaultBrowserTestTimeout = 120 * time.Second

const catalogPage = `<!doctype html>
<html><body>
  <h1>Catalog</h1>
  <div class="card-tile"><h4>apiml1</h4><a href="/detail/apiml1">open</a></div>
  <div class="card-tile"><h4>apiml2</h4><a href="/detail/apiml2">open</a></div>
  <input id="search" />
</body></html>`

func findChrome(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome or Chromium binary found; skipping browser integration test")
	return ""
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, catalogPage)
	})
	mux.HandleFunc("/detail/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><h4>%s</h4><p>Service detail</p></body></html>`, r.URL.Path[len("/detail/"):])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestManager(t *testing.T) *browser.Manager {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	execPath := findChrome(t)

	m, err := browser.NewManager(context.Background(), config.BrowserConfig{
		Headless:          true,
		DisableGPU:        true,
		ExecPath:          execPath,
		PostLoadWait:      10 * time.Millisecond,
		NavigationTimeout: 30 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		assert.NoError(t, m.Shutdown(ctx))
	})
	return m
}

func testContext(t *testing.T) context.Context {
	deadline, ok := t.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultBrowserTestTimeout)
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	t.Cleanup(cancel)
	return ctx
}

func TestSession_DriverPrimitives(t *testing.T) {
	m := newTestManager(t)
	srv := newTestServer(t)
	ctx := testContext(t)

	s, err := m.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close(context.Background())

	require.NoError(t, s.Navigate(ctx, srv.URL+"/"))

	url, err := s.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/", url)

	tiles, err := s.FindAll(ctx, ".card-tile")
	require.NoError(t, err)
	assert.Len(t, tiles, 2)

	none, err := s.Find(ctx, ".does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = s.FindAll(ctx, "div[[")
	assert.ErrorIs(t, err, schemas.ErrInvalidSelector)

	heading, err := s.Find(ctx, "h4")
	require.NoError(t, err)
	text, err := s.TextOf(ctx, heading)
	require.NoError(t, err)
	assert.Equal(t, "apiml1", text)

	input, err := s.Find(ctx, "#search")
	require.NoError(t, err)
	require.NoError(t, s.Type(ctx, input, "hello"))

	page, err := s.PageText(ctx)
	require.NoError(t, err)
	assert.Contains(t, page, "Catalog")

	link, err := s.Find(ctx, ".card-tile a")
	require.NoError(t, err)
	require.NoError(t, s.Click(ctx, link))
}

func TestSession_FindContaining(t *testing.T) {
	m := newTestManager(t)
	srv := newTestServer(t)
	ctx := testContext(t)

	s, err := m.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close(context.Background())
	require.NoError(t, s.Navigate(ctx, srv.URL+"/"))

	finder, ok := s.(schemas.TextFinder)
	require.True(t, ok, "browser sessions find elements by text natively")

	for _, scope := range []string{".card-tile", ""} {
		el, err := finder.FindContaining(ctx, scope, "apiml2")
		require.NoError(t, err, scope)
		require.NotNil(t, el, scope)
		assert.Contains(t, el.String(), "h4", "the innermost element holding the text is chosen")
	}

	el, err := finder.FindContaining(ctx, ".card-tile", "apiml9")
	require.NoError(t, err)
	assert.Nil(t, el)

	_, err = finder.FindContaining(ctx, ".card-tile[", "apiml2")
	assert.ErrorIs(t, err, schemas.ErrInvalidSelector)
}

func TestSession_RunsScenario(t *testing.T) {
	m := newTestManager(t)
	srv := newTestServer(t)
	ctx := testContext(t)

	s, err := m.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close(context.Background())

	sc := &schemas.Scenario{
		Name: "detail page",
		Steps: []schemas.Step{
			{Action: &schemas.Action{Kind: schemas.ActionNavigate, Target: srv.URL + "/"}},
			{Assertion: &schemas.Assertion{Kind: schemas.AssertCountEquals, Target: ".card-tile", Count: 2}},
			{Action: &schemas.Action{Kind: schemas.ActionClick, Target: ".card-tile a"}},
			{Assertion: &schemas.Assertion{Kind: schemas.AssertURLContains, Expected: "/detail/apiml1"}},
			{Assertion: &schemas.Assertion{Kind: schemas.AssertContainsText, Target: "h4", Expected: "apiml1"}},
		},
	}

	r := runner.New(runner.Options{DefaultTimeout: 5 * time.Second}, zaptest.NewLogger(t))
	res, err := r.Run(ctx, sc, s)
	require.NoError(t, err)
	assert.True(t, res.Passed, res.FailureMessage)
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m := newTestManager(t)
	srv := newTestServer(t)
	ctx := testContext(t)

	a, err := m.NewSession(ctx)
	require.NoError(t, err)
	b, err := m.NewSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, m.ActiveSessions())

	require.NoError(t, a.Navigate(ctx, srv.URL+"/detail/x"))
	urlB, err := b.CurrentURL(ctx)
	require.NoError(t, err)
	assert.NotContains(t, urlB, "/detail/x")

	require.NoError(t, a.Close(ctx))
	_, err = a.CurrentURL(ctx)
	assert.ErrorIs(t, err, schemas.ErrDriverUnavailable)
	assert.Equal(t, 1, m.ActiveSessions())
	require.NoError(t, b.Close(ctx))
}
