// internal/executor/engine.go
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/browser"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

const (
	defaultActionTimeout = 30 * time.Second
	defaultScrollAmount  = 500
	// Bounds the best-effort captures taken after an attempt finishes.
	captureTimeout = 10 * time.Second
)

// URLValidator vets navigation targets before the browser sees them.
type URLValidator interface {
	ValidateURL(ctx context.Context, raw string) error
}

// Observer receives one call per executed action. Implemented by the metrics package.
type Observer interface {
	ObserveAction(actionType string, success bool, errorCode string, attempts int, duration time.Duration)
}

// Engine executes abstract actions against a browser session with uniform retry,
// timeout and screenshot policy.
type Engine struct {
	sessions  schemas.SessionProvider
	validator URLValidator
	cfg       config.ExecutorConfig
	logger    *zap.Logger
	observer  Observer
	handlers  map[schemas.ActionType]actionHandler
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers an action observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New creates an Engine.
func New(sessions schemas.SessionProvider, validator URLValidator, cfg config.ExecutorConfig, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		sessions:  sessions,
		validator: validator,
		cfg:       cfg,
		logger:    logger.Named("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.registerHandlers()
	return e
}

// Execute runs one action, retrying transient failures. It never returns nil.
func (e *Engine) Execute(ctx context.Context, sessionID string, action schemas.Action) *schemas.ActionResult {
	start := time.Now()
	logger := e.logger.With(zap.String("session_id", sessionID), zap.String("action", string(action.Type)), zap.String("action_id", action.ID))

	result := &schemas.ActionResult{ActionID: action.ID, Timestamp: start}

	session, err := e.sessions.Session(sessionID)
	if err != nil {
		e.fail(result, err, Classify(err), start)
		e.observe(action, result)
		return result
	}

	maxRetries := e.cfg.MaxRetries
	if action.RetryCount != nil && *action.RetryCount >= 0 {
		maxRetries = *action.RetryCount
	}

	var lastErr error
	exhausted := false
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * e.cfg.RetryBackoff
			logger.Debug("Retrying action after backoff.", zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff))
			if err := sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		result.Attempts = attempt + 1
		data, err := e.attempt(ctx, session, action)
		if err == nil {
			result.Success = true
			result.Data = data
			if e.cfg.ScreenshotOnAction {
				result.Screenshot = e.capture(ctx, session)
			}
			result.URL = e.currentURL(ctx, session)
			result.Duration = time.Since(start)
			e.observe(action, result)
			logger.Debug("Action succeeded.", zap.Int("attempts", result.Attempts), zap.Duration("duration", result.Duration))
			return result
		}

		lastErr = err
		if ctx.Err() != nil || permanent(err) {
			break
		}
		logger.Debug("Action attempt failed.", zap.Int("attempt", attempt+1), zap.Error(err))
		exhausted = attempt == maxRetries
	}

	code := Classify(lastErr)
	if ctx.Err() != nil {
		code = Classify(ctx.Err())
	}
	if exhausted && maxRetries > 0 {
		result.Data = map[string]any{"lastErrorCode": string(code)}
		lastErr = fmt.Errorf("max retries exceeded after %d attempts: %w", result.Attempts, lastErr)
		code = ErrCodeMaxRetries
	}

	if e.cfg.ScreenshotOnError {
		result.Screenshot = e.capture(ctx, session)
	}
	result.URL = e.currentURL(ctx, session)
	e.fail(result, lastErr, code, start)
	e.observe(action, result)

	logger.Warn("Browser action execution failed",
		zap.String("error_code", result.ErrorCode),
		zap.Int("attempts", result.Attempts),
		zap.Error(lastErr))
	return result
}

// ExecuteSequence runs actions in order and stops after the first failure.
func (e *Engine) ExecuteSequence(ctx context.Context, sessionID string, actions []schemas.Action) []*schemas.ActionResult {
	results := make([]*schemas.ActionResult, 0, len(actions))
	for _, action := range actions {
		result := e.Execute(ctx, sessionID, action)
		results = append(results, result)
		if !result.Success {
			break
		}
	}
	return results
}

// attempt runs a single try under the per-attempt timeout.
func (e *Engine) attempt(ctx context.Context, session schemas.BrowserSession, action schemas.Action) (any, error) {
	timeout := e.cfg.ActionTimeout
	if action.TimeoutMs > 0 {
		timeout = time.Duration(action.TimeoutMs) * time.Millisecond
	}
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.dispatch(attemptCtx, session, action)
}

func (e *Engine) fail(result *schemas.ActionResult, err error, code ErrorCode, start time.Time) {
	result.Success = false
	result.ErrorCode = string(code)
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)
}

func (e *Engine) observe(action schemas.Action, result *schemas.ActionResult) {
	if e.observer == nil {
		return
	}
	e.observer.ObserveAction(string(action.Type), result.Success, result.ErrorCode, result.Attempts, result.Duration)
}

// capture takes a best-effort screenshot. It survives cancellation of ctx so the
// final state of a canceled action is still recorded.
func (e *Engine) capture(ctx context.Context, session schemas.BrowserSession) string {
	shotCtx, cancel := context.WithTimeout(browser.Detach(ctx), captureTimeout)
	defer cancel()
	shot, err := session.Screenshot(shotCtx)
	if err != nil {
		e.logger.Debug("Could not capture screenshot.", zap.Error(err))
		return ""
	}
	return shot
}

func (e *Engine) currentURL(ctx context.Context, session schemas.BrowserSession) string {
	urlCtx, cancel := context.WithTimeout(browser.Detach(ctx), captureTimeout)
	defer cancel()
	u, _ := session.CurrentURL(urlCtx)
	return u
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
