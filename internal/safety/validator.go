// internal/safety/validator.go
package safety

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/xkilldash9x/pilot-cli/internal/config"
)

// ErrValidation marks a target the agent must never load. It is never retried.
var ErrValidation = errors.New("validation error")

// blockedSchemes get a specific message. Anything else that is not http(s) is rejected too.
var blockedSchemes = map[string]bool{
	"file":        true,
	"ftp":         true,
	"data":        true,
	"javascript":  true,
	"chrome":      true,
	"about":       true,
	"view-source": true,
}

// "this network" is not covered by netip's predicates.
var thisNetwork = netip.MustParsePrefix("0.0.0.0/8")

const resolveTimeout = 3 * time.Second

// Resolver looks up the addresses of a host.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Validator decides whether a URL may be navigated to.
type Validator struct {
	allowed      []glob.Glob
	blocked      []glob.Glob
	resolveHosts bool
	resolver     Resolver
}

// NewValidator compiles the domain policy in cfg.
func NewValidator(cfg config.SafetyConfig) (*Validator, error) {
	v := &Validator{
		resolveHosts: cfg.ResolveHosts,
		resolver:     net.DefaultResolver,
	}
	for _, pattern := range cfg.AllowedDomains {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid allowed domain pattern '%s': %w", pattern, err)
		}
		v.allowed = append(v.allowed, g)
	}
	for _, pattern := range cfg.BlockedDomains {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid blocked domain pattern '%s': %w", pattern, err)
		}
		v.blocked = append(v.blocked, g)
	}
	return v, nil
}

// WithResolver replaces the DNS resolver used when resolve_hosts is enabled.
func (v *Validator) WithResolver(r Resolver) *Validator {
	v.resolver = r
	return v
}

var defaultValidator = &Validator{}

// ValidateURL applies the built-in rules only: scheme, host presence and internal addresses.
func ValidateURL(raw string) error {
	return defaultValidator.ValidateURL(context.Background(), raw)
}

// ValidateURL returns an error wrapping ErrValidation if raw must not be loaded.
func (v *Validator) ValidateURL(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: URL is empty", ErrValidation)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrValidation, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if blockedSchemes[scheme] {
		return fmt.Errorf("%w: %s: URLs are not allowed", ErrValidation, scheme)
	}
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q (only http and https are allowed)", ErrValidation, u.Scheme)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: URL has no host", ErrValidation)
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: localhost is not allowed", ErrValidation)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isInternal(addr) {
			return fmt.Errorf("%w: internal address %s is not allowed", ErrValidation, addr)
		}
	} else if looksNumeric(host) {
		// Browsers accept forms like "2130706433" or "0x7f.1" for 127.0.0.1.
		return fmt.Errorf("%w: ambiguous numeric host %q", ErrValidation, host)
	}

	if err := v.checkDomainPolicy(host); err != nil {
		return err
	}

	if v.resolveHosts && v.resolver != nil {
		if _, err := netip.ParseAddr(host); err != nil {
			return v.checkResolved(ctx, host)
		}
	}
	return nil
}

func (v *Validator) checkDomainPolicy(host string) error {
	for _, g := range v.blocked {
		if g.Match(host) {
			return fmt.Errorf("%w: domain %s is blocked", ErrValidation, host)
		}
	}
	if len(v.allowed) == 0 {
		return nil
	}
	for _, g := range v.allowed {
		if g.Match(host) {
			return nil
		}
	}
	return fmt.Errorf("%w: domain %s is not in the allowed list", ErrValidation, host)
}

// checkResolved rejects hosts whose DNS records point at internal addresses.
// Lookup failures are left for the navigation itself to report.
func (v *Validator) checkResolved(ctx context.Context, host string) error {
	lookupCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	addrs, err := v.resolver.LookupNetIP(lookupCtx, "ip", host)
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		if isInternal(addr) {
			return fmt.Errorf("%w: %s resolves to internal address %s", ErrValidation, host, addr)
		}
	}
	return nil
}

func isInternal(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() ||
		(addr.Is4() && thisNetwork.Contains(addr))
}

func looksNumeric(host string) bool {
	if host == "" {
		return false
	}
	last := host[strings.LastIndexByte(host, '.')+1:]
	if last == "" {
		return false
	}
	if strings.HasPrefix(last, "0x") {
		return true
	}
	for _, r := range last {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
