// internal/reasoning/vision_actions.go
package reasoning

import (
	encodingjson "encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

const (
	// The computer-use model addresses the screen on a 1000x1000 grid.
	normalizedScale        = 1000.0
	defaultScrollMagnitude = 800.0
	documentScrollAmount   = 500
	waitFunctionMillis     = 5000
	searchURL              = "https://www.google.com"
)

// ErrUnknownFunction is returned for function calls outside the browser function set.
var ErrUnknownFunction = errors.New("unknown browser function")

// Screen is the pixel size the normalized grid maps onto.
type Screen struct {
	Width  int
	Height int
}

// Denormalize converts a 0-1000 grid position to viewport pixels, rounding to the
// nearest pixel and clamping to the screen.
func (s Screen) Denormalize(x, y float64) (float64, float64) {
	return denormalize(x, s.Width), denormalize(y, s.Height)
}

func denormalize(v float64, dim int) float64 {
	if dim <= 0 {
		return 0
	}
	px := math.Round(v / normalizedScale * float64(dim))
	return math.Max(0, math.Min(px, float64(dim-1)))
}

var keyAliases = map[string]string{
	"control":    "Control",
	"ctrl":       "Control",
	"alt":        "Alt",
	"shift":      "Shift",
	"meta":       "Meta",
	"command":    "Meta",
	"cmd":        "Meta",
	"enter":      "Enter",
	"return":     "Enter",
	"tab":        "Tab",
	"escape":     "Escape",
	"esc":        "Escape",
	"backspace":  "Backspace",
	"delete":     "Delete",
	"arrowup":    "ArrowUp",
	"arrowdown":  "ArrowDown",
	"arrowleft":  "ArrowLeft",
	"arrowright": "ArrowRight",
	"home":       "Home",
	"end":        "End",
	"pageup":     "PageUp",
	"pagedown":   "PageDown",
	"space":      "Space",
}

// NormalizeKeyCombination maps model key names ("ctrl+a", "cmd+Enter") to browser key names.
func NormalizeKeyCombination(combo string) string {
	if combo == " " {
		return "Space"
	}
	parts := strings.Split(combo, "+")
	for i, k := range parts {
		trimmed := strings.TrimSpace(k)
		if trimmed == "" && k != "" {
			parts[i] = "Space"
			continue
		}
		if alias, ok := keyAliases[strings.ToLower(trimmed)]; ok {
			parts[i] = alias
			continue
		}
		parts[i] = trimmed
	}
	return strings.Join(parts, "+")
}

// TranslateCall maps one computer-use function call to an executor action.
// Vision actions are never retried by the executor; the model sees the failure and decides.
func TranslateCall(call schemas.FunctionCall, screen Screen) (schemas.Action, error) {
	noRetry := 0
	action := schemas.Action{ID: call.ID, RetryCount: &noRetry}
	if action.ID == "" {
		action.ID = uuidNewString()
	}
	args := call.Args

	switch call.Name {
	case "open_web_browser":
		action.Type = schemas.ActionScreenshot
		action.Description = "Capture the current screen"

	case "wait_5_seconds":
		action.Type = schemas.ActionWait
		action.Options.WaitFor = waitFunctionMillis
		action.Description = "Wait 5 seconds"

	case "go_back":
		action.Type = schemas.ActionGoBack
		action.Description = "Go back"

	case "go_forward":
		action.Type = schemas.ActionGoForward
		action.Description = "Go forward"

	case "search":
		action.Type = schemas.ActionNavigate
		action.Value = searchURL
		action.Description = "Open search engine"

	case "navigate":
		raw, ok := stringArg(args, "url")
		if !ok || raw == "" {
			return action, fmt.Errorf("navigate requires a url argument")
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return action, fmt.Errorf("navigate only supports http and https URLs, got %q", raw)
		}
		action.Type = schemas.ActionNavigate
		action.Value = raw
		action.Description = "Navigate to " + raw

	case "click_at", "hover_at":
		coords, err := coordinatesArg(args, "x", "y", screen)
		if err != nil {
			return action, fmt.Errorf("%s: %w", call.Name, err)
		}
		action.Coordinates = coords
		if call.Name == "click_at" {
			action.Type = schemas.ActionClick
			action.Description = fmt.Sprintf("Click at (%.0f, %.0f)", coords.X, coords.Y)
		} else {
			action.Type = schemas.ActionHover
			action.Description = fmt.Sprintf("Hover at (%.0f, %.0f)", coords.X, coords.Y)
		}

	case "type_text_at":
		coords, err := coordinatesArg(args, "x", "y", screen)
		if err != nil {
			return action, fmt.Errorf("type_text_at: %w", err)
		}
		text, ok := stringArg(args, "text")
		if !ok {
			return action, fmt.Errorf("type_text_at requires a text argument")
		}
		action.Type = schemas.ActionTypeText
		action.Coordinates = coords
		action.Value = text
		action.Options.PressEnter = boolArg(args, "press_enter", true)
		action.Options.ClearBefore = boolArg(args, "clear_before_typing", true)
		action.Description = fmt.Sprintf("Type %q at (%.0f, %.0f)", text, coords.X, coords.Y)

	case "key_combination":
		keys, ok := stringArg(args, "keys")
		if !ok || keys == "" {
			return action, fmt.Errorf("key_combination requires a keys argument")
		}
		action.Type = schemas.ActionPressKey
		action.Options.Key = NormalizeKeyCombination(keys)
		action.Description = "Press " + action.Options.Key

	case "scroll_document":
		action.Type = schemas.ActionScroll
		action.Options.Direction = directionArg(args)
		action.Options.ScrollAmount = documentScrollAmount
		action.Description = "Scroll " + action.Options.Direction

	case "scroll_at":
		coords, err := coordinatesArg(args, "x", "y", screen)
		if err != nil {
			return action, fmt.Errorf("scroll_at: %w", err)
		}
		magnitude, ok := numberArg(args, "magnitude")
		if !ok {
			magnitude = defaultScrollMagnitude
		}
		action.Type = schemas.ActionScroll
		action.Coordinates = coords
		action.Options.Direction = directionArg(args)
		action.Options.ScrollAmount = int(math.Round(magnitude / normalizedScale * float64(screen.Height)))
		action.Description = fmt.Sprintf("Scroll %s at (%.0f, %.0f)", action.Options.Direction, coords.X, coords.Y)

	case "drag_and_drop":
		from, err := coordinatesArg(args, "x", "y", screen)
		if err != nil {
			return action, fmt.Errorf("drag_and_drop: %w", err)
		}
		to, err := coordinatesArg(args, "destination_x", "destination_y", screen)
		if err != nil {
			return action, fmt.Errorf("drag_and_drop: %w", err)
		}
		action.Type = schemas.ActionDrag
		action.Coordinates = from
		action.Description = fmt.Sprintf("Drag from (%.0f, %.0f) to (%.0f, %.0f)", from.X, from.Y, to.X, to.Y)

	default:
		return action, fmt.Errorf("%w: %s", ErrUnknownFunction, call.Name)
	}
	return action, nil
}

func coordinatesArg(args map[string]any, xKey, yKey string, screen Screen) (*schemas.Coordinates, error) {
	x, okX := numberArg(args, xKey)
	y, okY := numberArg(args, yKey)
	if !okX || !okY {
		return nil, fmt.Errorf("missing or invalid %s/%s coordinates", xKey, yKey)
	}
	px, py := screen.Denormalize(x, y)
	return &schemas.Coordinates{X: px, Y: py}, nil
}

func numberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case encodingjson.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func boolArg(args map[string]any, key string, def bool) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func directionArg(args map[string]any) string {
	dir, _ := stringArg(args, "direction")
	switch dir = strings.ToLower(strings.TrimSpace(dir)); dir {
	case "up", "down", "left", "right":
		return dir
	}
	return "down"
}
