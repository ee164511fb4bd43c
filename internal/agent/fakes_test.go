package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/livelog"
	"github.com/xkilldash9x/pilot-cli/internal/reasoning"
	"github.com/xkilldash9x/pilot-cli/internal/safety"
	"github.com/xkilldash9x/pilot-cli/internal/store"
)

const testScreenshot = "iVBORw0KGgo="

// -- Browser --

// fakeBrowser implements the observation and lifecycle calls the orchestrator makes
// directly. Action methods are never reached because actions go through fakeExecutor.
type fakeBrowser struct {
	schemas.BrowserSession

	mu    sync.Mutex
	url   string
	count map[string]int
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{url: "https://example.com/", count: make(map[string]int)}
}

func (b *fakeBrowser) hit(method string) {
	b.mu.Lock()
	b.count[method]++
	b.mu.Unlock()
}

func (b *fakeBrowser) CallCount(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count[method]
}

func (b *fakeBrowser) ID() string { return "fake" }

func (b *fakeBrowser) Screenshot(ctx context.Context) (string, error) {
	b.hit("Screenshot")
	return testScreenshot, ctx.Err()
}

func (b *fakeBrowser) CurrentURL(ctx context.Context) (string, error) {
	b.hit("CurrentURL")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url, ctx.Err()
}

func (b *fakeBrowser) Title(ctx context.Context) (string, error) {
	b.hit("Title")
	return "Example Domain", ctx.Err()
}

func (b *fakeBrowser) AnalyzePage(ctx context.Context) (*schemas.PageAnalysis, error) {
	b.hit("AnalyzePage")
	return &schemas.PageAnalysis{URL: "https://example.com/", Title: "Example Domain"}, ctx.Err()
}

func (b *fakeBrowser) Close(context.Context) error {
	b.hit("Close")
	return nil
}

type fakeLauncher struct {
	browser *fakeBrowser
	err     error

	mu       sync.Mutex
	launched []string
}

func (l *fakeLauncher) Launch(_ context.Context, id string) (schemas.BrowserSession, error) {
	l.mu.Lock()
	l.launched = append(l.launched, id)
	l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.browser, nil
}

// -- Executor --

type fakeExecutor struct {
	mu      sync.Mutex
	actions []schemas.Action

	// result overrides the default success result.
	result func(action schemas.Action) *schemas.ActionResult
	// entered receives every action before it runs, when set.
	entered chan schemas.Action
	// release, when set, holds each action until it can be received from.
	release chan struct{}
}

func (e *fakeExecutor) Execute(ctx context.Context, _ string, action schemas.Action) *schemas.ActionResult {
	e.mu.Lock()
	e.actions = append(e.actions, action)
	e.mu.Unlock()

	if e.entered != nil {
		e.entered <- action
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return &schemas.ActionResult{ActionID: action.ID, Error: ctx.Err().Error(), ErrorCode: "CANCELLED"}
		}
	}
	if e.result != nil {
		return e.result(action)
	}
	return &schemas.ActionResult{ActionID: action.ID, Success: true, URL: "https://example.com/next", Attempts: 1}
}

func (e *fakeExecutor) Actions() []schemas.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]schemas.Action(nil), e.actions...)
}

// -- Reasoning --

// scriptedAdapter replays decisions in order. Once the script runs out it returns
// then, or a completion when then is nil.
type scriptedAdapter struct {
	mode      schemas.AgentMode
	decisions []*reasoning.Decision
	then      *reasoning.Decision
	tasks     []schemas.AgentTask

	mu         sync.Mutex
	objectives []string
	feedback   []reasoning.Feedback
}

func (s *scriptedAdapter) Mode() schemas.AgentMode {
	if s.mode == "" {
		return schemas.ModeVision
	}
	return s.mode
}

func (s *scriptedAdapter) NeedsPageAnalysis() bool { return s.Mode() == schemas.ModePlanning }

func (s *scriptedAdapter) Begin(ctx context.Context, objective string, _ reasoning.Observation) (*reasoning.Decision, error) {
	s.mu.Lock()
	s.objectives = append(s.objectives, objective)
	s.mu.Unlock()
	return s.next(ctx)
}

func (s *scriptedAdapter) Next(ctx context.Context, fb reasoning.Feedback) (*reasoning.Decision, error) {
	s.mu.Lock()
	s.feedback = append(s.feedback, fb)
	s.mu.Unlock()
	return s.next(ctx)
}

func (s *scriptedAdapter) Tasks() []schemas.AgentTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.AgentTask(nil), s.tasks...)
}

func (s *scriptedAdapter) Feedback() []reasoning.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reasoning.Feedback(nil), s.feedback...)
}

func (s *scriptedAdapter) next(ctx context.Context) (*reasoning.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.decisions) > 0 {
		d := s.decisions[0]
		s.decisions = s.decisions[1:]
		return d, nil
	}
	if s.then != nil {
		d := *s.then
		return &d, nil
	}
	return &reasoning.Decision{Complete: true, Text: "Done.", Safety: safety.DecisionRegular}, nil
}

func act(id string) schemas.Action {
	return schemas.Action{ID: id, Type: schemas.ActionClick, Selector: &schemas.Selector{Type: schemas.SelectorCSS, Value: "#" + id}}
}

func actions(ids ...string) *reasoning.Decision {
	d := &reasoning.Decision{Safety: safety.DecisionRegular}
	for _, id := range ids {
		d.Actions = append(d.Actions, act(id))
	}
	return d
}

// -- Metrics and live mirror --

type fakeRecorder struct {
	mu        sync.Mutex
	started   int
	finished  []string
	reasoning int
}

func (r *fakeRecorder) SessionStarted() {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *fakeRecorder) SessionFinished(_, status string, _ int, _ time.Duration) {
	r.mu.Lock()
	r.finished = append(r.finished, status)
	r.mu.Unlock()
}

func (r *fakeRecorder) ObserveReasoning(string, bool, time.Duration) {
	r.mu.Lock()
	r.reasoning++
	r.mu.Unlock()
}

// statusMirror records every distinct status a live view passes through.
type statusMirror struct {
	mu       sync.Mutex
	statuses []schemas.SessionStatus
}

func (m *statusMirror) Attach(sink *livelog.Sink) {
	sink.OnUpdate(func(view schemas.LiveView) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if n := len(m.statuses); n == 0 || m.statuses[n-1] != view.Status {
			m.statuses = append(m.statuses, view.Status)
		}
	})
}

func (m *statusMirror) Statuses() []schemas.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schemas.SessionStatus(nil), m.statuses...)
}

// -- Harness --

type harness struct {
	svc      *Service
	adapter  *scriptedAdapter
	exec     *fakeExecutor
	browser  *fakeBrowser
	launcher *fakeLauncher
	store    *store.MemoryStore
	recorder *fakeRecorder
	mirror   *statusMirror
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		Mode:               "vision",
		MaxTurns:           10,
		MaxSessionDuration: 5 * time.Second,
		CommandTimeout:     2 * time.Second,
	}
}

func newHarness(t *testing.T, adapter *scriptedAdapter, tweak ...func(*config.AgentConfig)) *harness {
	t.Helper()
	cfg := testAgentConfig()
	for _, fn := range tweak {
		fn(&cfg)
	}

	browser := newFakeBrowser()
	h := &harness{
		adapter:  adapter,
		exec:     &fakeExecutor{},
		browser:  browser,
		launcher: &fakeLauncher{browser: browser},
		store:    store.NewMemoryStore(),
		recorder: &fakeRecorder{},
		mirror:   &statusMirror{},
	}
	factory := func(schemas.AgentMode) (reasoning.Adapter, error) { return adapter, nil }
	h.svc = NewService(cfg, h.launcher, h.exec, factory, h.store, zaptest.NewLogger(t),
		WithRecorder(h.recorder), WithLiveMirror(h.mirror))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.svc.Shutdown(ctx))
	})
	return h
}

func (h *harness) create(t *testing.T, req CreateSessionRequest) string {
	t.Helper()
	if req.Objective == "" {
		req.Objective = "Find the contact page"
	}
	id, err := h.svc.CreateSession(context.Background(), req)
	require.NoError(t, err)
	return id
}

func (h *harness) start(t *testing.T, req CreateSessionRequest) string {
	t.Helper()
	id := h.create(t, req)
	require.NoError(t, h.svc.Start(context.Background(), id))
	return id
}

// wait blocks until the session reaches a terminal status and returns its record.
func (h *harness) wait(t *testing.T, id string) schemas.AgentSession {
	t.Helper()
	done, err := h.svc.Done(id)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("session %s did not finish", id)
	}
	rec, err := h.svc.Session(id)
	require.NoError(t, err)
	return rec
}

func (h *harness) waitForStatus(t *testing.T, id string, want schemas.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, err := h.svc.Session(id)
		return err == nil && rec.Status == want
	}, 5*time.Second, 5*time.Millisecond, "session never reached %s", want)
}

func hasLog(logs []schemas.LogEntry, level schemas.LogLevel, substr string) bool {
	for _, l := range logs {
		if l.Level == level && strings.Contains(l.Message, substr) {
			return true
		}
	}
	return false
}
