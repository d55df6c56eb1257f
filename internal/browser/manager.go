// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/walkthrough/api/schemas"
	"github.com/xkilldash9x/walkthrough/internal/config"
	"github.com/xkilldash9x/walkthrough/internal/ctxutil"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the browser process and hands out isolated sessions. Each
// session lives in its own browser context, so cookies and storage never leak
// between scenarios.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	browserCtx    context.Context
	browserCancel context.CancelFunc

	sessions map[string]*Session
	mu       sync.RWMutex
	wg       sync.WaitGroup
	closed   bool

	// Initialization state management
	initOnce sync.Once
	initErr  error
}

var _ schemas.SessionFactory = (*Manager)(nil)

// NewManager creates a browser manager. The browser is launched, or the remote
// one connected to, when the first session is requested.
//
// The browser outlives cancellation of ctx so that in-flight steps can finish;
// Shutdown releases it.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}

	root := ctxutil.Detach(ctx)
	if cfg.RemoteURL != "" {
		m.allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(root, cfg.RemoteURL)
		m.logger.Info("Browser manager created for remote browser.", zap.String("remote_url", cfg.RemoteURL))
	} else {
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(root, DefaultAllocatorOptions(cfg)...)
		m.logger.Info("Browser manager created (launch deferred).", zap.Bool("headless", cfg.Headless))
	}
	return m, nil
}

func (m *Manager) contextOptions() []chromedp.ContextOption {
	sugar := m.logger.Sugar()
	return []chromedp.ContextOption{
		chromedp.WithLogf(sugar.Debugf),
		// CDP event decoding errors are frequent and harmless across Chrome versions.
		chromedp.WithErrorf(sugar.Debugf),
	}
}

// initialize starts the browser and returns its context. The first Run on a
// fresh chromedp context allocates the browser, so it must use that context
// directly.
func (m *Manager) initialize() (context.Context, error) {
	m.initOnce.Do(func() {
		m.logger.Info("Starting browser...")
		browserCtx, browserCancel := chromedp.NewContext(m.allocCtx, m.contextOptions()...)
		err := chromedp.Run(browserCtx)

		m.mu.Lock()
		defer m.mu.Unlock()
		switch {
		case err != nil:
			browserCancel()
			m.initErr = fmt.Errorf("failed to start browser: %v: %w", err, schemas.ErrDriverUnavailable)
		case m.closed:
			// Shutdown ran while the browser was starting.
			browserCancel()
			m.initErr = fmt.Errorf("browser manager is shut down: %w", schemas.ErrDriverUnavailable)
		default:
			m.browserCtx, m.browserCancel = browserCtx, browserCancel
			m.logger.Info("Browser started.")
		}
	})

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browserCtx, m.initErr
}

// NewSession opens a fresh tab in a new browser context.
func (m *Manager) NewSession(ctx context.Context) (schemas.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("browser manager is shut down: %w", schemas.ErrDriverUnavailable)
	}
	browserCtx, err := m.initialize()
	if err != nil {
		return nil, err
	}

	opts := append(m.contextOptions(), chromedp.WithNewBrowserContext())
	tabCtx, tabCancel := chromedp.NewContext(browserCtx, opts...)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open browser tab: %v: %w", err, schemas.ErrDriverUnavailable)
	}

	session := newSession(tabCtx, tabCancel, m.cfg, m.logger)
	if err := m.register(session); err != nil {
		tabCancel()
		return nil, err
	}

	m.logger.Debug("New session created.", zap.String("session_id", session.ID()))
	return session, nil
}

// register tracks session until it is closed. onClose is wired before the
// session becomes visible to Shutdown.
func (m *Manager) register(session *Session) error {
	session.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, session.ID())
		m.mu.Unlock()
		m.wg.Done()
		m.logger.Debug("Session removed from manager.", zap.String("session_id", session.ID()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("browser manager is shut down: %w", schemas.ErrDriverUnavailable)
	}
	m.wg.Add(1)
	m.sessions[session.ID()] = session
	return nil
}

// ActiveSessions returns the number of sessions not yet closed.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes all sessions and then the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.mu.Lock()
	m.closed = true
	sessionsToClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessionsToClose = append(sessionsToClose, s)
	}
	browserCtx, browserCancel := m.browserCtx, m.browserCancel
	m.mu.Unlock()

	for _, s := range sessionsToClose {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				m.logger.Warn("Error during session close in shutdown.", zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Debug("All sessions closed gracefully.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	}

	var shutdownErr error
	if browserCtx != nil {
		cancelDone := make(chan error, 1)
		go func() { cancelDone <- chromedp.Cancel(browserCtx) }()
		select {
		case err := <-cancelDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("Failed to close browser.", zap.Error(err))
				shutdownErr = fmt.Errorf("failed to close browser: %w", err)
			}
		case <-time.After(shutdownGracePeriod):
			shutdownErr = errors.New("timed out closing browser")
		}
		browserCancel()
	}
	m.allocCancel()

	m.logger.Info("Browser manager shutdown complete.")
	return shutdownErr
}
