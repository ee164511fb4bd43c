// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

const launchTimeout = 60 * time.Second

// Manager launches one browser instance per agent session and tracks them by id.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocate creates the chromedp context for a new instance. Replaced in tests.
	allocate func(parent context.Context) (context.Context, context.CancelFunc)

	sessions map[string]*Session
	// launching reserves ids whose browser is still starting.
	launching map[string]struct{}
	mu        sync.RWMutex
	wg        sync.WaitGroup
}

var _ schemas.SessionProvider = (*Manager)(nil)

// NewManager creates a browser manager. No browser is started until CreateSession.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		logger:    logger.Named("browser_manager"),
		cfg:       cfg,
		sessions:  make(map[string]*Session),
		launching: make(map[string]struct{}),
	}
	m.allocate = m.execAllocate
	return m
}

func (m *Manager) execAllocate(parent context.Context) (context.Context, context.CancelFunc) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, DefaultAllocatorOptions(m.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)
	return tabCtx, func() {
		tabCancel()
		allocCancel()
	}
}

// CreateSession launches a new browser instance registered under id.
func (m *Manager) CreateSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	_, exists := m.sessions[id]
	_, starting := m.launching[id]
	if exists || starting {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser session %q already exists", id)
	}
	m.launching[id] = struct{}{}
	m.mu.Unlock()

	// The browser lives as long as the session, not as long as the request that created it.
	tabCtx, cancel := m.allocate(context.Background())

	m.wg.Add(1)
	var session *Session
	session = NewSession(tabCtx, cancel, id, m.cfg, m.logger, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.sessions[id] == session {
			delete(m.sessions, id)
		}
		m.wg.Done()
		m.logger.Debug("Browser session removed from manager.", zap.String("session_id", id))
	})

	launchCtx, launchCancel := context.WithTimeout(ctx, launchTimeout)
	defer launchCancel()

	if err := session.Initialize(launchCtx); err != nil {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		_ = session.Close(cleanupCtx)
		m.mu.Lock()
		delete(m.launching, id)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	m.mu.Lock()
	delete(m.launching, id)
	m.sessions[id] = session
	m.mu.Unlock()

	m.logger.Info("Browser session created.", zap.String("session_id", id))
	return session, nil
}

// Launch is CreateSession behind the schemas.BrowserSession interface.
func (m *Manager) Launch(ctx context.Context, id string) (schemas.BrowserSession, error) {
	s, err := m.CreateSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Session returns the live browser session for id.
func (m *Manager) Session(id string) (schemas.BrowserSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// CloseSession closes and unregisters the browser session for id.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.Close(ctx)
}

// Count returns the number of live browser sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every session concurrently and waits for them, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.mu.RLock()
	toClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		toClose = append(toClose, s)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range toClose {
		g.Go(func() error {
			return s.Close(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("Error during session close in shutdown.", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All browser sessions closed.")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for browser sessions to close.", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
