// internal/browser/session.go
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

const (
	defaultElementWait       = 5 * time.Second
	defaultNavigationTimeout = 30 * time.Second
	elementPollInterval      = 100 * time.Millisecond
)

// Session drives exactly one browser instance (one allocator, one tab).
type Session struct {
	id     string
	ctx    context.Context // chromedp tab context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.BrowserSession = (*Session)(nil)

// NewSession wraps an already allocated chromedp context. cancel must release the tab and its allocator.
func NewSession(ctx context.Context, cancel context.CancelFunc, id string, cfg config.BrowserConfig, logger *zap.Logger, onClose func()) *Session {
	return &Session{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(zap.String("session_id", id)),
		cfg:     cfg,
		onClose: onClose,
	}
}

// Initialize starts the browser, sets the viewport and applies configured headers.
func (s *Session) Initialize(ctx context.Context) error {
	width, height := s.cfg.ViewportSize()

	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
	}
	if len(s.cfg.Headers) > 0 {
		headers := make(network.Headers, len(s.cfg.Headers))
		for k, v := range s.cfg.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(headers))
	}

	if err := s.runActions(ctx, tasks); err != nil {
		return fmt.Errorf("failed to initialize browser session: %w", err)
	}
	s.logger.Debug("Browser session initialized.", zap.Int("width", width), zap.Int("height", height))
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Close terminates the browser instance. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	// Give chromedp a chance to close the tab cleanly before the allocator is torn down.
	closeCtx, cancel := CombineContext(Detach(s.ctx), ctx)
	if err := chromedp.Cancel(closeCtx); err != nil && ctx.Err() == nil {
		s.logger.Debug("Graceful browser close failed.", zap.Error(err))
	}
	cancel()

	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

// runActions executes chromedp actions bound to both the session lifetime and ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed() {
		return ErrSessionClosed
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

// waitForNodes polls for the selector until at least one node exists or the element wait elapses.
// Absence is reported as ErrElementNotFound; cancellation of ctx is returned as is.
func (s *Session) waitForNodes(ctx context.Context, sel schemas.Selector) (string, chromedp.QueryOption, []*cdp.Node, error) {
	query, strategy, err := resolveSelector(sel)
	if err != nil {
		return "", nil, nil, err
	}
	by := strategy.option()

	wait := s.cfg.ElementWait
	if wait <= 0 {
		wait = defaultElementWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(elementPollInterval)
	defer ticker.Stop()

	for {
		var nodes []*cdp.Node
		err := s.runActions(ctx, chromedp.Nodes(query, &nodes, by, chromedp.AtLeast(0)))
		if err == nil && len(nodes) > 0 {
			return query, by, nodes, nil
		}
		if ctx.Err() != nil {
			return "", nil, nil, ctx.Err()
		}
		if errors.Is(err, ErrSessionClosed) {
			return "", nil, nil, err
		}

		select {
		case <-ctx.Done():
			return "", nil, nil, ctx.Err()
		case <-timer.C:
			if err != nil {
				return "", nil, nil, fmt.Errorf("%w: %s %q (last error: %v)", ErrElementNotFound, sel.Type, sel.Value, err)
			}
			return "", nil, nil, fmt.Errorf("%w: %s %q", ErrElementNotFound, sel.Type, sel.Value)
		case <-ticker.C:
		}
	}
}

// WaitForSelector blocks until the selector matches a visible element.
func (s *Session) WaitForSelector(ctx context.Context, sel schemas.Selector) error {
	query, by, _, err := s.waitForNodes(ctx, sel)
	if err != nil {
		return err
	}
	return s.runActions(ctx, chromedp.WaitVisible(query, by))
}

// WaitForLoad waits until the document body is ready.
func (s *Session) WaitForLoad(ctx context.Context) error {
	return s.runActions(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
}

// Sleep pauses for d, returning early if ctx is canceled.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSessionClosed
	case <-timer.C:
		return nil
	}
}

// ExtractText returns the visible text of the first element matching sel.
func (s *Session) ExtractText(ctx context.Context, sel schemas.Selector) (string, error) {
	query, by, _, err := s.waitForNodes(ctx, sel)
	if err != nil {
		return "", err
	}
	var text string
	if err := s.runActions(ctx, chromedp.Text(query, &text, by, chromedp.NodeReady)); err != nil {
		return "", fmt.Errorf("failed to extract text from %q: %w", sel.Value, err)
	}
	return text, nil
}

// Screenshot captures the viewport as a base64-encoded PNG.
func (s *Session) Screenshot(ctx context.Context) (string, error) {
	var buf []byte
	if err := s.runActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// CurrentURL returns the location of the current page.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := s.runActions(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// Title returns the document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.runActions(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}
