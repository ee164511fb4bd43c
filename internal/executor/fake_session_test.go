package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/browser"
)

// recordingSession is a BrowserSession that records every call and lets tests
// script failures per method.
type recordingSession struct {
	mu     sync.Mutex
	calls  []string
	sleeps []time.Duration
	typed  []schemas.TypeOptions
	// fail returns the error for the nth (1-based) call of method, or nil.
	fail func(method string, n int) error
	// block makes the named method wait for ctx cancellation.
	block string
	count map[string]int
}

func newRecordingSession() *recordingSession {
	return &recordingSession{count: make(map[string]int)}
}

func (r *recordingSession) record(ctx context.Context, method string) error {
	r.mu.Lock()
	r.calls = append(r.calls, method)
	r.count[method]++
	n := r.count[method]
	fail := r.fail
	block := r.block
	r.mu.Unlock()

	if block == method {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail != nil {
		return fail(method, n)
	}
	return nil
}

func (r *recordingSession) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingSession) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[method]
}

func (r *recordingSession) ID() string { return "fake" }
func (r *recordingSession) Navigate(ctx context.Context, url string) error {
	return r.record(ctx, "Navigate")
}
func (r *recordingSession) GoBack(ctx context.Context) error    { return r.record(ctx, "GoBack") }
func (r *recordingSession) GoForward(ctx context.Context) error { return r.record(ctx, "GoForward") }
func (r *recordingSession) Click(ctx context.Context, sel schemas.Selector) error {
	return r.record(ctx, "Click")
}
func (r *recordingSession) Type(ctx context.Context, sel schemas.Selector, text string, opts schemas.TypeOptions) error {
	r.mu.Lock()
	r.typed = append(r.typed, opts)
	r.mu.Unlock()
	return r.record(ctx, "Type")
}
func (r *recordingSession) Hover(ctx context.Context, sel schemas.Selector) error {
	return r.record(ctx, "Hover")
}
func (r *recordingSession) Select(ctx context.Context, sel schemas.Selector, value string) error {
	return r.record(ctx, "Select")
}
func (r *recordingSession) PressKey(ctx context.Context, combo string) error {
	return r.record(ctx, "PressKey")
}
func (r *recordingSession) Scroll(ctx context.Context, direction string, amount int) error {
	return r.record(ctx, "Scroll")
}
func (r *recordingSession) ClickAt(ctx context.Context, x, y float64) error {
	return r.record(ctx, "ClickAt")
}
func (r *recordingSession) HoverAt(ctx context.Context, x, y float64) error {
	return r.record(ctx, "HoverAt")
}
func (r *recordingSession) TypeAt(ctx context.Context, x, y float64, text string, opts schemas.TypeOptions) error {
	r.mu.Lock()
	r.typed = append(r.typed, opts)
	r.mu.Unlock()
	return r.record(ctx, "TypeAt")
}
func (r *recordingSession) ScrollAt(ctx context.Context, x, y float64, direction string, amount int) error {
	return r.record(ctx, "ScrollAt")
}
func (r *recordingSession) WaitForSelector(ctx context.Context, sel schemas.Selector) error {
	return r.record(ctx, "WaitForSelector")
}
func (r *recordingSession) WaitForLoad(ctx context.Context) error {
	return r.record(ctx, "WaitForLoad")
}
func (r *recordingSession) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return r.record(ctx, "Sleep")
}
func (r *recordingSession) ExtractText(ctx context.Context, sel schemas.Selector) (string, error) {
	return "extracted text", r.record(ctx, "ExtractText")
}
func (r *recordingSession) Screenshot(ctx context.Context) (string, error) {
	return "c2NyZWVu", r.record(ctx, "Screenshot")
}
func (r *recordingSession) AnalyzePage(ctx context.Context) (*schemas.PageAnalysis, error) {
	return &schemas.PageAnalysis{URL: "https://example.com/", Title: "Example"}, r.record(ctx, "AnalyzePage")
}
func (r *recordingSession) CurrentURL(ctx context.Context) (string, error) {
	return "https://example.com/", nil
}
func (r *recordingSession) Title(ctx context.Context) (string, error) { return "Example", nil }
func (r *recordingSession) Close(ctx context.Context) error          { return nil }

// staticProvider serves a fixed set of sessions.
type staticProvider map[string]schemas.BrowserSession

func (p staticProvider) Session(id string) (schemas.BrowserSession, error) {
	s, ok := p[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", browser.ErrSessionNotFound, id)
	}
	return s, nil
}

var _ schemas.BrowserSession = (*recordingSession)(nil)
