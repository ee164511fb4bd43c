// internal/browser/keys.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
)

var modifierAliases = map[string]input.Modifier{
	"control": input.ModifierCtrl,
	"ctrl":    input.ModifierCtrl,
	"shift":   input.ModifierShift,
	"alt":     input.ModifierAlt,
	"option":  input.ModifierAlt,
	"meta":    input.ModifierMeta,
	"cmd":     input.ModifierMeta,
	"command": input.ModifierMeta,
	"super":   input.ModifierMeta,
}

var keyAliases = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"del":        kb.Delete,
	"space":      " ",
	"arrowup":    kb.ArrowUp,
	"up":         kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"down":       kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"left":       kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"right":      kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"insert":     kb.Insert,
}

// keyCombo is a parsed key combination such as "Control+Shift+T".
type keyCombo struct {
	Key       string
	Modifiers []input.Modifier
}

// parseKeyCombo parses "+"-separated combos. Modifier and key names are case-insensitive;
// a single printable character is sent as typed, lowercased when modifiers are held.
func parseKeyCombo(combo string) (keyCombo, error) {
	combo = strings.TrimSpace(combo)
	if combo == "" {
		return keyCombo{}, fmt.Errorf("%w: empty key combination", ErrInvalidInput)
	}

	var tokens []string
	if combo == "+" {
		tokens = []string{"+"}
	} else {
		tokens = strings.Split(combo, "+")
		// "Control++" presses the plus key.
		if strings.HasSuffix(combo, "++") {
			tokens = append(tokens[:len(tokens)-2], "+")
		}
	}

	var out keyCombo
	for i, raw := range tokens {
		tok := strings.TrimSpace(raw)
		last := i == len(tokens)-1
		if !last {
			mod, ok := modifierAliases[strings.ToLower(tok)]
			if !ok {
				return keyCombo{}, fmt.Errorf("%w: unknown modifier %q in %q", ErrInvalidInput, tok, combo)
			}
			out.Modifiers = append(out.Modifiers, mod)
			continue
		}

		if key, ok := keyAliases[strings.ToLower(tok)]; ok {
			out.Key = key
			break
		}
		if mod, ok := modifierAliases[strings.ToLower(tok)]; ok && len(tokens) == 1 {
			// A lone modifier press, e.g. "Shift".
			out.Modifiers = append(out.Modifiers, mod)
			out.Key = modifierKey(mod)
			break
		}
		if len([]rune(tok)) != 1 {
			return keyCombo{}, fmt.Errorf("%w: unsupported key %q in %q", ErrInvalidInput, tok, combo)
		}
		if len(out.Modifiers) > 0 {
			tok = strings.ToLower(tok)
		}
		out.Key = tok
	}
	return out, nil
}

func modifierKey(m input.Modifier) string {
	switch m {
	case input.ModifierCtrl:
		return kb.Control
	case input.ModifierShift:
		return kb.Shift
	case input.ModifierAlt:
		return kb.Alt
	default:
		return kb.Meta
	}
}
