// internal/executor/handlers.go
package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// actionHandler performs one action type against a session and returns its result data.
type actionHandler func(ctx context.Context, s schemas.BrowserSession, a schemas.Action) (any, error)

// registerHandlers populates the handler map.
func (e *Engine) registerHandlers() {
	e.handlers = map[schemas.ActionType]actionHandler{
		schemas.ActionNavigate:   e.handleNavigate,
		schemas.ActionClick:      e.handleClick,
		schemas.ActionTypeText:   e.handleType,
		schemas.ActionScroll:     e.handleScroll,
		schemas.ActionWait:       e.handleWait,
		schemas.ActionScreenshot: e.handleScreenshot,
		schemas.ActionExtract:    e.handleExtract,
		schemas.ActionHover:      e.handleHover,
		schemas.ActionSelect:     e.handleSelect,
		schemas.ActionPressKey:   e.handlePressKey,
		schemas.ActionGoBack:     e.handleGoBack,
		schemas.ActionGoForward:  e.handleGoForward,
		schemas.ActionDrag:       e.handleDrag,
	}
}

// dispatch looks up and runs the handler for the action type.
func (e *Engine) dispatch(ctx context.Context, s schemas.BrowserSession, a schemas.Action) (any, error) {
	handler, ok := e.handlers[a.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
	return handler(ctx, s, a)
}

func invalidParams(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}

func hasSelector(a schemas.Action) bool {
	return a.Selector != nil && a.Selector.Value != ""
}

func (e *Engine) handleNavigate(ctx context.Context, s schemas.BrowserSession, a schemas.Action) (any, error) {
	if a.Value == "" {
		return nil, invalidParams("navigate requires a URL value")
	}
	if e.validator != nil {
		if err := e.validator.ValidateURL(ctx, a.Value); err != nil {
			return nil, err
		}
	}
	if err := s.Navigate(ctx, a.Value); err != nil {
		return nil, err
	}
	return map[string]any{"url": a.Value}, nil
}

func (e *Engine) handleClick(ctx context.Context, s schemas.BrowserSession, a schemas.Action) (any, error) {
	var err error
	switch {
	case a.Coordinates != nil:
		err = s.ClickAt(ctx, a.Coordinates.X, a.Coordinates.Y)
	case hasSelector(a):
		err = s.Click(ctx, *a.Selector)
	default:
		return nil, invalidParams("click requires a selector or coordinates")
	}
	if err != nil {
		return nil, err
	}
	if err := e.waitAfter(ctx, s, a.Options.WaitFor); err != nil {
		return nil, err
	}
	return map[string]any{"clicked": target(a)}, nil
}

func (e *Engine) handleType(ctx context.Context, s schemas.BrowserSession, a schemas.Action) (any, error) {
	if !a.HasTarget() {
		return nil, invalidParams("type requires a selector or coordinates")
	}
	if a.Value == "" && !a.Options.ClearBefore {
		return nil, invalidParams("type requires a value")
	}

	opts := schemas.TypeOptions{
		Delay:      e.cfg.TypeDelay,
		Clear:      a.Options.ClearBefore,
		PressEnter: a.Options.PressEnter,
	}
	if a.Options.Delay > 0 {
		opts.Delay = time.Duration(a.Options.Delay) * time.Millisecond
	}

	var err error
	if a.Coordinates != nil {
		err = s.TypeAt(ctx, a.Coordinates.X, a.Coordinates.Y, a.Value, opts)
	} else {
		err = s.Type(ctx, *a.Selector, a.Value, opts)
	}
	if err != nil {
		return nil, err
	}
	if err := e.waitAfter(ctx, s, a.Options.WaitFor); err != nil {
		return nil, err
	}
	return map[string]any{"typed": a.Value, "into": target(a)}, nil
}

func (e *Engine) handleScroll(ctx context.Context, s schemas.BrowserSession, a schemas.Action) (any, error) {
	amount := a.Options.ScrollAmount
	if amount <= 0 {
		amount = e.cfg.ScrollAmount
	}
	if amount <= 0 {
		amount = defaultScrollAmount
	}
	direction := strings.ToLower(a.Options.Direction)
	if direction == "" {
		direction = "down"
	}

	var err error
	if a.Coordinates != nil {
		err = s.ScrollAt(ctx, a.Coordinates.X, a.Coordinates.Y, direction, amount)
	} else {
		err = s.Scroll(ctx, direction, amount)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"scrolled": amount, "direction": direction}, nil
}

func (e *Engine) handleWait(ctx context.Context, s schemas.BrowserSession, a schemas.Action) (any, error) {
	if hasSelector(a) {
		if err := s.WaitForSelector(ctx, *a.Selector); err != nil {
			return nil, err
		}
		return map[string]any{"waitedFor": a.Selector.Value}, nil
	}

	ms, ok := millis(a.Options.WaitFor)
	if !ok && a.Options.Delay > 0 {
		ms, ok = a.Options.Delay, true
	}
	if !ok {
		return nil, invalidParams("wait requires a selector or delay duration")
	}
	if err := s.Sleep(ctx, time.Duration(ms)*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{"waited": ms}, nil
}

func (e *Engine) handleScreenshot(ctx context.Context, s schemas.BrowserSession, _ schemas.Action) (any, error) {
	shot, err := s.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"screenshot": shot}, nil
}

func (e *Engine) handleExtract(ctx context.Context, s schemas.BrowserSession, a schemas.Action) (any, error) {
	if hasSelector(a) {
		text, err := s.ExtractText(ctx, *a.Selector)
		if err != nil {
			return nil, err
		}
		return map[string]any{"text": text}, nil
	}
	if len(a.Options.ExtractFields) == 0 {
		return nil, invalidParams("extract requires a selector or extractFields")
	}
	analysis, err := s.AnalyzePage(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"analysis": analysis, "fields": a.Options.ExtractFields}, nil
}

func (e *Engine) handleHover(ctx context.Context, s schemas.BrowserSession, a schemas.Action) (any, error) {
	var err error
	switch {
	case a.Coordinates != nil:
		err = s.HoverAt(ctx, a.Coordinates.X, a.Coordinates.Y)
	case hasSelector(a):
		err = s.Hover(ctx, *a.Selector)
	default:
		return nil, invalidParams("hover requires a selector or coordinates")
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"hovered": target(a)}, nil
}

func (e *Engine) handleSelect(ctx context.Context, s schemas.BrowserSession, a schemas.Action) (any, error) {
	if !hasSelector(a) || a.Value == "" {
		return nil, invalidParams("select requires a selector and a value")
	}
	if err := s.Select(ctx, *a.Selector, a.Value); err != nil {
		return nil, err
	}
	return map[string]any{"selected": a.Value}, nil
}

func (e *Engine) handlePressKey(ctx context.Context, s schemas.BrowserSession, a schemas.Action) (any, error) {
	key := a.Options.Key
	if key == "" {
		key = a.Value
	}
	if key == "" {
		return nil, invalidParams("press_key requires a key")
	}
	if err := s.PressKey(ctx, key); err != nil {
		return nil, err
	}
	return map[string]any{"pressed": key}, nil
}

func (e *Engine) handleGoBack(ctx context.Context, s schemas.BrowserSession, _ schemas.Action) (any, error) {
	if err := s.GoBack(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"navigated": "back"}, nil
}

func (e *Engine) handleGoForward(ctx context.Context, s schemas.BrowserSession, _ schemas.Action) (any, error) {
	if err := s.GoForward(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"navigated": "forward"}, nil
}

func (e *Engine) handleDrag(context.Context, schemas.BrowserSession, schemas.Action) (any, error) {
	return nil, fmt.Errorf("%w: drag is not implemented", ErrUnsupportedAction)
}

// waitAfter honors options.waitFor after an interaction. A number is a delay in
// milliseconds; any other value waits for the page to load. A page that never
// navigates is not an error.
func (e *Engine) waitAfter(ctx context.Context, s schemas.BrowserSession, waitFor any) error {
	if waitFor == nil {
		return nil
	}
	if ms, ok := millis(waitFor); ok {
		return s.Sleep(ctx, time.Duration(ms)*time.Millisecond)
	}
	if str, ok := waitFor.(string); ok && str == "" {
		return nil
	}
	if err := s.WaitForLoad(ctx); err != nil && ctx.Err() == nil {
		e.logger.Debug("No navigation followed the interaction.", zap.Error(err))
	}
	return nil
}

// millis interprets v as a millisecond count. Decoded JSON numbers arrive as float64.
func millis(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, n >= 0
	case int64:
		return int(n), n >= 0
	case float64:
		return int(n), n >= 0
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, i >= 0
	}
	return 0, false
}

func target(a schemas.Action) string {
	if hasSelector(a) {
		return a.Selector.Value
	}
	if a.Coordinates != nil {
		return fmt.Sprintf("(%.0f, %.0f)", a.Coordinates.X, a.Coordinates.Y)
	}
	return ""
}
