// internal/browser/interaction.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// Navigate loads url and waits for the page to settle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating to URL", zap.String("url", url))

	opCtx, opCancel := CombineContext(s.ctx, ctx)
	defer opCancel()

	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	navCtx, navCancel := context.WithTimeout(opCtx, navTimeout)
	defer navCancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", ctx.Err())
		}
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: timed out after %s: %w", ErrNavigation, navTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrNavigation, err)
	}

	return s.settle(opCtx)
}

// GoBack navigates one entry back in history.
func (s *Session) GoBack(ctx context.Context) error {
	if err := s.runActions(ctx, chromedp.NavigateBack()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: go back: %w", ErrNavigation, err)
	}
	return s.settle(ctx)
}

// GoForward navigates one entry forward in history.
func (s *Session) GoForward(ctx context.Context) error {
	if err := s.runActions(ctx, chromedp.NavigateForward()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: go forward: %w", ErrNavigation, err)
	}
	return s.settle(ctx)
}

// settle waits for the body and then the configured post-load quiet period.
// A body that never becomes ready is logged, not returned.
func (s *Session) settle(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.WaitForLoad(readyCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("Page did not report ready after navigation.", zap.Error(err))
	}
	return s.Sleep(ctx, s.cfg.PostLoadWait)
}

// Click clicks the first element matching sel.
func (s *Session) Click(ctx context.Context, sel schemas.Selector) error {
	s.logger.Debug("Clicking element", zap.String("selector", sel.Value))

	query, by, _, err := s.waitForNodes(ctx, sel)
	if err != nil {
		return err
	}
	err = s.runActions(ctx, chromedp.Tasks{
		chromedp.ScrollIntoView(query, by),
		chromedp.WaitVisible(query, by),
		chromedp.Click(query, by),
	})
	if err != nil {
		return fmt.Errorf("click failed for %q: %w", sel.Value, err)
	}
	return nil
}

// Type focuses the element matching sel and enters text.
func (s *Session) Type(ctx context.Context, sel schemas.Selector, text string, opts schemas.TypeOptions) error {
	s.logger.Debug("Typing into element", zap.String("selector", sel.Value), zap.Int("text_length", len(text)))

	query, by, _, err := s.waitForNodes(ctx, sel)
	if err != nil {
		return err
	}

	tasks := chromedp.Tasks{
		chromedp.ScrollIntoView(query, by),
		chromedp.WaitVisible(query, by),
		chromedp.Focus(query, by),
	}
	if opts.Clear {
		tasks = append(tasks, chromedp.SetValue(query, "", by))
	}
	tasks = append(tasks, keystrokes(text, opts.Delay, func(chunk string) chromedp.Action {
		return chromedp.SendKeys(query, chunk, by)
	})...)
	if opts.PressEnter {
		tasks = append(tasks, chromedp.SendKeys(query, kb.Enter, by))
	}

	if err := s.runActions(ctx, tasks); err != nil {
		return fmt.Errorf("type failed for %q: %w", sel.Value, err)
	}
	return nil
}

// keystrokes sends text in one action, or one rune at a time with delay in between.
func keystrokes(text string, delay time.Duration, send func(string) chromedp.Action) chromedp.Tasks {
	if text == "" {
		return nil
	}
	if delay <= 0 {
		return chromedp.Tasks{send(text)}
	}
	var tasks chromedp.Tasks
	for _, r := range text {
		tasks = append(tasks, send(string(r)), chromedp.Sleep(delay))
	}
	return tasks
}

// Hover moves the pointer to the center of the first element matching sel.
func (s *Session) Hover(ctx context.Context, sel schemas.Selector) error {
	query, by, nodes, err := s.waitForNodes(ctx, sel)
	if err != nil {
		return err
	}
	err = s.runActions(ctx,
		chromedp.ScrollIntoView(query, by),
		chromedp.ActionFunc(func(c context.Context) error {
			x, y, err := nodeCenter(c, nodes[0])
			if err != nil {
				return err
			}
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(c)
		}),
	)
	if err != nil {
		return fmt.Errorf("hover failed for %q: %w", sel.Value, err)
	}
	return nil
}

func nodeCenter(ctx context.Context, node *cdp.Node) (float64, float64, error) {
	box, err := dom.GetBoxModel().WithNodeID(node.NodeID).Do(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("could not get box model: %w", err)
	}
	if len(box.Content) < 8 {
		return 0, 0, fmt.Errorf("element has no layout box")
	}
	q := box.Content
	return (q[0] + q[2] + q[4] + q[6]) / 4, (q[1] + q[3] + q[5] + q[7]) / 4, nil
}

const selectOptionFn = `function() {
	const want = %s;
	if (this.tagName !== 'SELECT') { return false; }
	const opt = Array.from(this.options).find(o => o.value === want || o.text.trim() === want);
	if (!opt) { return false; }
	this.value = opt.value;
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

// Select chooses the option of a <select> whose value or visible text equals value.
func (s *Session) Select(ctx context.Context, sel schemas.Selector, value string) error {
	_, _, nodes, err := s.waitForNodes(ctx, sel)
	if err != nil {
		return err
	}
	literal, err := json.MarshalToString(value)
	if err != nil {
		return err
	}

	var selected bool
	err = s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(nodes[0].NodeID).Do(c)
		if err != nil {
			return err
		}
		res, exc, err := runtime.CallFunctionOn(fmt.Sprintf(selectOptionFn, literal)).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("select script raised: %s", exc.Text)
		}
		selected = res != nil && string(res.Value) == "true"
		return nil
	}))
	if err != nil {
		return fmt.Errorf("select failed for %q: %w", sel.Value, err)
	}
	if !selected {
		return fmt.Errorf("%w: no option %q in %q", ErrElementNotFound, value, sel.Value)
	}
	return nil
}

// PressKey sends a key combination such as "Enter" or "Control+A" to the focused element.
func (s *Session) PressKey(ctx context.Context, combo string) error {
	k, err := parseKeyCombo(combo)
	if err != nil {
		return err
	}
	return s.runActions(ctx, chromedp.KeyEvent(k.Key, chromedp.KeyModifiers(k.Modifiers...)))
}

// scrollScript builds the page scroll script for a direction.
func scrollScript(direction string, amount int) (string, error) {
	switch direction {
	case "down", "":
		return fmt.Sprintf(`window.scrollBy({top: %d, left: 0, behavior: 'instant'});`, amount), nil
	case "up":
		return fmt.Sprintf(`window.scrollBy({top: -%d, left: 0, behavior: 'instant'});`, amount), nil
	case "right":
		return fmt.Sprintf(`window.scrollBy({top: 0, left: %d, behavior: 'instant'});`, amount), nil
	case "left":
		return fmt.Sprintf(`window.scrollBy({top: 0, left: -%d, behavior: 'instant'});`, amount), nil
	case "bottom":
		return `window.scrollTo({top: document.body.scrollHeight, behavior: 'instant'});`, nil
	case "top":
		return `window.scrollTo({top: 0, behavior: 'instant'});`, nil
	default:
		return "", fmt.Errorf("%w: scroll direction %q (supported: up, down, left, right, top, bottom)", ErrInvalidInput, direction)
	}
}

// Scroll scrolls the page by amount pixels in direction.
func (s *Session) Scroll(ctx context.Context, direction string, amount int) error {
	script, err := scrollScript(direction, amount)
	if err != nil {
		return err
	}
	if err := s.runActions(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

// ClickAt clicks at viewport pixel coordinates.
func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	s.logger.Debug("Clicking at coordinates", zap.Float64("x", x), zap.Float64("y", y))
	if err := s.runActions(ctx, chromedp.MouseClickXY(x, y)); err != nil {
		return fmt.Errorf("click at (%.0f, %.0f) failed: %w", x, y, err)
	}
	return nil
}

// HoverAt moves the pointer to viewport pixel coordinates.
func (s *Session) HoverAt(ctx context.Context, x, y float64) error {
	if err := s.runActions(ctx, input.DispatchMouseEvent(input.MouseMoved, x, y)); err != nil {
		return fmt.Errorf("hover at (%.0f, %.0f) failed: %w", x, y, err)
	}
	return nil
}

// TypeAt clicks at the coordinates to focus, then types text.
func (s *Session) TypeAt(ctx context.Context, x, y float64, text string, opts schemas.TypeOptions) error {
	tasks := chromedp.Tasks{chromedp.MouseClickXY(x, y)}
	if opts.Clear {
		tasks = append(tasks,
			chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)),
			chromedp.KeyEvent(kb.Backspace),
		)
	}
	tasks = append(tasks, keystrokes(text, opts.Delay, func(chunk string) chromedp.Action {
		return chromedp.KeyEvent(chunk)
	})...)
	if opts.PressEnter {
		tasks = append(tasks, chromedp.KeyEvent(kb.Enter))
	}

	if err := s.runActions(ctx, tasks); err != nil {
		return fmt.Errorf("type at (%.0f, %.0f) failed: %w", x, y, err)
	}
	return nil
}

// scrollDelta converts a direction and amount to wheel deltas.
func scrollDelta(direction string, amount int) (float64, float64, error) {
	a := float64(amount)
	switch direction {
	case "down", "":
		return 0, a, nil
	case "up":
		return 0, -a, nil
	case "right":
		return a, 0, nil
	case "left":
		return -a, 0, nil
	default:
		return 0, 0, fmt.Errorf("%w: scroll direction %q (supported: up, down, left, right)", ErrInvalidInput, direction)
	}
}

// ScrollAt dispatches a mouse wheel event at the coordinates.
func (s *Session) ScrollAt(ctx context.Context, x, y float64, direction string, amount int) error {
	dx, dy, err := scrollDelta(direction, amount)
	if err != nil {
		return err
	}
	err = s.runActions(ctx, input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(dx).WithDeltaY(dy))
	if err != nil {
		return fmt.Errorf("scroll at (%.0f, %.0f) failed: %w", x, y, err)
	}
	return nil
}
