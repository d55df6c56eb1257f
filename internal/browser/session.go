// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/walkthrough/api/schemas"
	"github.com/xkilldash9x/walkthrough/internal/config"
	"github.com/xkilldash9x/walkthrough/internal/ctxutil"
)

// Session is a single isolated browser tab driven over CDP. It implements
// schemas.Session.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	onClose   func()
	closeOnce sync.Once
	closeErr  error
}

var (
	_ schemas.Session    = (*Session)(nil)
	_ schemas.TextFinder = (*Session)(nil)
)

// elementHandle refers to a DOM node of the page it was resolved on.
type elementHandle struct {
	node *cdp.Node
}

func (h elementHandle) String() string {
	if h.node == nil {
		return "<nil node>"
	}
	return fmt.Sprintf("%s#%d", strings.ToLower(h.node.NodeName), h.node.NodeID)
}

func newSession(ctx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		logger: logger.With(zap.String("session_id", id)),
	}
}

func (s *Session) ID() string { return s.id }

// Close closes the tab and its browser context. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing session.")
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("failed to close browser tab: %w", err)
			}
		case <-ctx.Done():
			s.closeErr = fmt.Errorf("timed out closing browser tab: %w", ctx.Err())
		}
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}

// run executes actions on the tab, bounded by both the session lifetime and ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("session %s: %w", s.id, schemas.ErrDriverUnavailable)
	}
	opCtx, cancel := ctxutil.CombineContext(s.ctx, ctx)
	defer cancel()
	return s.mapError(chromedp.Run(opCtx, actions...))
}

// mapError translates chromedp and CDP failures into the driver sentinels.
func (s *Session) mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case s.ctx.Err() != nil,
		errors.Is(err, chromedp.ErrInvalidContext),
		errors.Is(err, chromedp.ErrChannelClosed),
		errors.Is(err, chromedp.ErrInvalidTarget):
		return fmt.Errorf("session %s: %v: %w", s.id, err, schemas.ErrDriverUnavailable)
	case isDetached(err):
		return fmt.Errorf("%v: %w", err, schemas.ErrElementDetached)
	}
	return err
}

func isDetached(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "No node with given id") ||
		strings.Contains(msg, "Could not find node with given id") ||
		strings.Contains(msg, "Node is detached from document")
}

// -- Navigation --

// Navigate loads url and waits for the document body plus the configured settle delay.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()
	}

	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.cfg.PostLoadWait > 0 {
		actions = append(actions, chromedp.Sleep(s.cfg.PostLoadWait))
	}
	if err := s.run(ctx, actions...); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// -- Queries --

// selectorCheckScript returns JS that reports whether selector parses.
func selectorCheckScript(selector string) (string, error) {
	lit, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(selector)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => { try { document.createDocumentFragment().querySelector(%s); return true; } catch (e) { return false; } })()`, lit), nil
}

func (s *Session) checkSelector(ctx context.Context, selector string) error {
	if strings.TrimSpace(selector) == "" {
		return fmt.Errorf("empty selector: %w", schemas.ErrInvalidSelector)
	}
	script, err := selectorCheckScript(selector)
	if err != nil {
		return fmt.Errorf("%q: %v: %w", selector, err, schemas.ErrInvalidSelector)
	}
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q: %w", selector, schemas.ErrInvalidSelector)
	}
	return nil
}

func (s *Session) FindAll(ctx context.Context, selector string) ([]schemas.ElementHandle, error) {
	if err := s.checkSelector(ctx, selector); err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	out := make([]schemas.ElementHandle, len(nodes))
	for i, n := range nodes {
		out[i] = elementHandle{node: n}
	}
	return out, nil
}

func (s *Session) Find(ctx context.Context, selector string) (schemas.ElementHandle, error) {
	els, err := s.FindAll(ctx, selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

// containsScript returns JS that finds the deepest element under scope (or
// the body) whose text contains text and parks it on window for
// containsFetchScript. It reports whether one was found.
func containsScript(scope, text string) (string, error) {
	scopeLit, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(scope)
	if err != nil {
		return "", err
	}
	textLit, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
  const scope = %s, text = %s;
  const roots = scope ? Array.from(document.querySelectorAll(scope)) : (document.body ? [document.body] : []);
  const has = (el) => el.tagName !== "SCRIPT" && el.tagName !== "STYLE" && (el.innerText || el.textContent || "").includes(text);
  let best = null;
  for (const root of roots) {
    for (const el of root.querySelectorAll("*")) {
      if (!has(el)) continue;
      if (best && !best.contains(el)) break;
      best = el;
    }
    if (best) break;
  }
  window.__walkthroughContains = best || roots.find(has) || null;
  return window.__walkthroughContains !== null;
})()`, scopeLit, textLit), nil
}

const containsFetchScript = `(() => { const el = window.__walkthroughContains; delete window.__walkthroughContains; return el; })()`

// FindContaining returns the deepest element inside scope whose text contains
// text, or nil when there is none.
func (s *Session) FindContaining(ctx context.Context, scope, text string) (schemas.ElementHandle, error) {
	if scope != "" {
		if err := s.checkSelector(ctx, scope); err != nil {
			return nil, err
		}
	}
	script, err := containsScript(scope, text)
	if err != nil {
		return nil, err
	}
	var found bool
	if err := s.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(containsFetchScript, &nodes, chromedp.ByJSPath, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return elementHandle{node: nodes[0]}, nil
}

func nodeID(el schemas.ElementHandle) ([]cdp.NodeID, error) {
	h, ok := el.(elementHandle)
	if !ok || h.node == nil {
		return nil, fmt.Errorf("element handle %v was not created by this driver", el)
	}
	return []cdp.NodeID{h.node.NodeID}, nil
}

// -- Interaction --

func (s *Session) Click(ctx context.Context, el schemas.ElementHandle) error {
	ids, err := nodeID(el)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.Click(ids, chromedp.ByNodeID))
}

func (s *Session) Type(ctx context.Context, el schemas.ElementHandle, text string) error {
	ids, err := nodeID(el)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.SendKeys(ids, text, chromedp.ByNodeID))
}

func (s *Session) TextOf(ctx context.Context, el schemas.ElementHandle) (string, error) {
	ids, err := nodeID(el)
	if err != nil {
		return "", err
	}
	// innerText rather than chromedp.Text, which waits for the node to be visible.
	var text string
	if err := s.run(ctx, chromedp.JavascriptAttribute(ids, "innerText", &text, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return text, nil
}

const pageTextScript = `document.body ? document.body.innerText : ""`

func (s *Session) PageText(ctx context.Context) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Evaluate(pageTextScript, &text)); err != nil {
		return "", err
	}
	return text, nil
}
