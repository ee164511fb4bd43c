// internal/agent/service.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/livelog"
	"github.com/xkilldash9x/pilot-cli/internal/reasoning"
	"github.com/xkilldash9x/pilot-cli/internal/safety"
)

// uuidNewString is a package-level variable so tests can pin session ids.
var uuidNewString = uuid.NewString

// BrowserLauncher starts the browser instance owned by a session. Implemented by browser.Manager.
type BrowserLauncher interface {
	Launch(ctx context.Context, id string) (schemas.BrowserSession, error)
}

// ActionExecutor runs one action against the browser registered under sessionID.
// Implemented by executor.Engine.
type ActionExecutor interface {
	Execute(ctx context.Context, sessionID string, action schemas.Action) *schemas.ActionResult
}

// AdapterFactory builds a fresh reasoning adapter for a new session.
type AdapterFactory func(mode schemas.AgentMode) (reasoning.Adapter, error)

// Recorder receives session level measurements. Implemented by metrics.Collector.
type Recorder interface {
	SessionStarted()
	SessionFinished(mode, status string, turns int, duration time.Duration)
	ObserveReasoning(mode string, success bool, duration time.Duration)
}

// LiveMirror republishes live views outside the process. Implemented by livecache.Mirror.
type LiveMirror interface {
	Attach(sink *livelog.Sink)
}

// URLValidator screens start URLs before a session is registered. Implemented by
// safety.Validator.
type URLValidator interface {
	ValidateURL(ctx context.Context, raw string) error
}

type schemeValidator struct{}

func (schemeValidator) ValidateURL(_ context.Context, raw string) error { return safety.ValidateURL(raw) }

type nopRecorder struct{}

func (nopRecorder) SessionStarted() {}
func (nopRecorder) SessionFinished(string, string, int, time.Duration) {}
func (nopRecorder) ObserveReasoning(string, bool, time.Duration) {}

// CreateSessionRequest describes a new session. An empty Mode uses agent.mode.
type CreateSessionRequest struct {
	WorkspaceID string
	UserID      string
	Objective   string
	StartURL    string
	Mode        schemas.AgentMode
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder registers session metrics.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLiveMirror attaches every new session's live view to m.
func WithLiveMirror(m LiveMirror) Option {
	return func(s *Service) { s.mirror = m }
}

// WithURLValidator checks start URLs against the configured domain policy. Without
// it only the scheme and internal address checks apply.
func WithURLValidator(v URLValidator) Option {
	return func(s *Service) { s.urls = v }
}

// Service owns every agent session of the process. Each session is driven by its
// own actor goroutine; the Service methods only send it commands.
type Service struct {
	cfg      config.AgentConfig
	browsers BrowserLauncher
	executor ActionExecutor
	adapters AdapterFactory
	store    schemas.Store
	recorder Recorder
	mirror   LiveMirror
	urls     URLValidator
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

// NewService wires the orchestrator to its collaborators.
func NewService(
	cfg config.AgentConfig,
	browsers BrowserLauncher,
	executor ActionExecutor,
	adapters AdapterFactory,
	store schemas.Store,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		cfg:      cfg,
		browsers: browsers,
		executor: executor,
		adapters: adapters,
		store:    store,
		recorder: nopRecorder{},
		urls:     schemeValidator{},
		logger:   logger.Named("agent"),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession registers an idle session and returns its id. Nothing touches the
// browser until Start.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	objective := strings.TrimSpace(req.Objective)
	if objective == "" {
		return "", errors.New("objective is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = schemas.AgentMode(s.cfg.Mode)
	}
	if mode != schemas.ModePlanning && mode != schemas.ModeVision {
		return "", fmt.Errorf("unsupported agent mode '%s'", mode)
	}
	if req.StartURL != "" {
		if err := s.urls.ValidateURL(ctx, req.StartURL); err != nil {
			return "", fmt.Errorf("invalid start url: %w", err)
		}
	}

	adapter, err := s.adapters(mode)
	if err != nil {
		return "", fmt.Errorf("failed to create %s adapter: %w", mode, err)
	}

	id := uuidNewString()
	record := schemas.AgentSession{
		ID:          id,
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
		Objective:   objective,
		StartURL:    req.StartURL,
		Mode:        mode,
		Status:      schemas.StatusIdle,
		MaxTurns:    s.cfg.MaxTurns,
		CreatedAt:   time.Now().UTC(),
	}

	sink := livelog.New(id, s.cfg.MaxTurns, s.logger)
	sess := newSession(s, record, adapter, sink)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrServiceClosed
	}
	s.sessions[id] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	if s.mirror != nil {
		s.mirror.Attach(sink)
	}
	if err := s.store.CreateSession(ctx, &record); err != nil {
		sess.logger.Error("Failed to persist new session.", zap.Error(err))
	}
	sess.log(schemas.LogInfo, fmt.Sprintf("Session created in %s mode: %s", mode, objective))

	go sess.run()
	return id, nil
}

// Start launches the browser and begins the reasoning loop.
func (s *Service) Start(ctx context.Context, id string) error {
	return s.dispatch(ctx, id, cmdStart, "")
}

// Pause parks a running session at its next boundary.
func (s *Service) Pause(ctx context.Context, id string) error {
	return s.dispatch(ctx, id, cmdPause, "")
}

// Resume continues a paused session from a fresh observation.
func (s *Service) Resume(ctx context.Context, id string) error {
	return s.dispatch(ctx, id, cmdResume, "")
}

// Confirm executes the batch a session is waiting on.
func (s *Service) Confirm(ctx context.Context, id string) error {
	return s.dispatch(ctx, id, cmdConfirm, "")
}

// Deny rejects the pending batch and cancels the session.
func (s *Service) Deny(ctx context.Context, id string) error {
	return s.dispatch(ctx, id, cmdDeny, "")
}

// SendInstruction hands free text to the reasoning engine on its next call.
func (s *Service) SendInstruction(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("instruction text is required")
	}
	return s.dispatch(ctx, id, cmdInstruct, text)
}

// Cancel stops a session from any goroutine and waits until it has ended.
func (s *Service) Cancel(ctx context.Context, id string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	if status := sess.status(); status.IsTerminal() {
		return fmt.Errorf("%w: session is %s", ErrInvalidStateTransition, status)
	}

	sess.requestCancel()
	select {
	case <-sess.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if status := sess.status(); status != schemas.StatusCancelled {
		return fmt.Errorf("%w: session ended %s", ErrInvalidStateTransition, status)
	}
	return nil
}

// LiveView returns the current live snapshot of a session.
func (s *Service) LiveView(id string) (schemas.LiveView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return schemas.LiveView{}, err
	}
	return sess.sink.Snapshot(), nil
}

// Session returns a copy of the session record.
func (s *Service) Session(id string) (schemas.AgentSession, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return schemas.AgentSession{}, err
	}
	return sess.snapshot(), nil
}

// Done returns a channel closed once the session has reached a terminal status.
func (s *Service) Done(id string) (<-chan struct{}, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return sess.done, nil
}

// Shutdown cancels every live session and waits for their actors to exit, bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	s.logger.Info("Shutting down agent service.", zap.Int("sessions", len(sessions)))

	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		sess.requestCancel()
		g.Go(func() error {
			select {
			case <-sess.done:
				return nil
			case <-gctx.Done():
				return fmt.Errorf("session %s did not stop: %w", sess.id, gctx.Err())
			}
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("Timed out waiting for sessions to stop.", zap.Error(err))
		return err
	}
	s.wg.Wait()
	return nil
}

func (s *Service) lookup(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

func (s *Service) dispatch(ctx context.Context, id string, kind commandKind, text string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	if status := sess.status(); status.IsTerminal() {
		return fmt.Errorf("%w: cannot %s a %s session", ErrInvalidStateTransition, kind, status)
	}
	if s.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CommandTimeout)
		defer cancel()
	}
	return sess.send(ctx, command{kind: kind, text: text})
}
