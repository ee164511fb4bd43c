// internal/safety/decision.go
package safety

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Decision is the safety verdict attached to a proposed batch of actions.
type Decision string

const (
	DecisionRegular             Decision = "regular"
	DecisionRequireConfirmation Decision = "require_confirmation"
	DecisionBlock               Decision = "block"
)

func (d Decision) rank() int {
	switch d {
	case DecisionBlock:
		return 2
	case DecisionRequireConfirmation:
		return 1
	default:
		return 0
	}
}

// ParseDecision maps an engine-supplied verdict to a Decision. Unknown values are regular.
func ParseDecision(s string) Decision {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "require_confirmation", "requires_confirmation", "confirm":
		return DecisionRequireConfirmation
	case "block", "blocked", "deny":
		return DecisionBlock
	default:
		return DecisionRegular
	}
}

// Classify returns the strictest of decisions, regular when there are none.
func Classify(decisions ...Decision) Decision {
	out := DecisionRegular
	for _, d := range decisions {
		if d.rank() > out.rank() {
			out = d
		}
	}
	return out
}

// IsExternalLink reports whether href, resolved against base, leaves the registrable domain of base.
// Non-web links (mailto:, javascript:, fragments) are never external.
func IsExternalLink(base, href string) bool {
	baseURL, err := url.Parse(base)
	if err != nil {
		return false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	target := baseURL.ResolveReference(ref)
	if target.Scheme != "http" && target.Scheme != "https" {
		return false
	}

	baseHost := strings.ToLower(baseURL.Hostname())
	targetHost := strings.ToLower(target.Hostname())
	if baseHost == targetHost {
		return false
	}
	return registrableDomain(baseHost) != registrableDomain(targetHost)
}

// registrableDomain returns the eTLD+1 of host, or host itself for IPs and single labels.
func registrableDomain(host string) string {
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
