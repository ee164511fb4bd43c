// internal/browser/selectors.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// queryStrategy is the chromedp query mode a selector resolves to.
type queryStrategy int

const (
	byQuery queryStrategy = iota
	byID
	bySearch
)

func (q queryStrategy) option() chromedp.QueryOption {
	switch q {
	case byID:
		return chromedp.ByID
	case bySearch:
		return chromedp.BySearch
	default:
		return chromedp.ByQuery
	}
}

// resolveSelector maps a typed selector to a query string and strategy.
func resolveSelector(sel schemas.Selector) (string, queryStrategy, error) {
	value := strings.TrimSpace(sel.Value)
	if value == "" {
		return "", byQuery, fmt.Errorf("%w: empty %s selector", ErrInvalidSelector, sel.Type)
	}

	switch sel.Type {
	case schemas.SelectorCSS, "":
		return value, byQuery, nil
	case schemas.SelectorID:
		return strings.TrimPrefix(value, "#"), byID, nil
	case schemas.SelectorXPath:
		return value, bySearch, nil
	case schemas.SelectorText:
		return fmt.Sprintf("//*[contains(normalize-space(.), %s)][not(*[contains(normalize-space(.), %s)])]",
			xpathLiteral(value), xpathLiteral(value)), bySearch, nil
	case schemas.SelectorAria:
		return fmt.Sprintf(`[aria-label="%s"]`, cssEscape(value)), byQuery, nil
	default:
		return "", byQuery, fmt.Errorf("%w: unknown selector type %q", ErrInvalidSelector, sel.Type)
	}
}

// xpathLiteral quotes s as an XPath 1.0 string literal. XPath has no escape
// sequences, so strings holding both quote kinds are built with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

func cssEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
