// internal/safety/validator_test.go
package safety

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/xkilldash9x/pilot-cli/internal/config"
)

func TestValidateURL(t *testing.T) {
	rejected := map[string]string{
		"empty":              "",
		"unparseable":        "http://[::1",
		"file scheme":        "file:///etc/passwd",
		"javascript":         "javascript:alert(1)",
		"data":               "data:text/html,<b>hi</b>",
		"chrome":             "chrome://settings",
		"about":              "about:blank",
		"view-source":        "view-source:https://example.com",
		"ftp":                "ftp://example.com/file",
		"custom scheme":      "gopher://example.com",
		"no host":            "http:///path",
		"localhost":          "http://localhost:8080",
		"sub localhost":      "http://api.localhost/",
		"loopback v4":        "http://127.0.0.1/",
		"loopback v6":        "http://[::1]/",
		"private 10":         "http://10.1.2.3/",
		"private 172":        "https://172.16.0.1/",
		"private 192":        "http://192.168.1.1/admin",
		"link local":         "http://169.254.169.254/latest/meta-data",
		"unspecified":        "http://0.0.0.0/",
		"this network":       "http://0.1.2.3/",
		"mapped loopback":    "http://[::ffff:127.0.0.1]/",
		"ula v6":             "http://[fd00::1]/",
		"decimal ip":         "http://2130706433/",
		"hex ip":             "http://0x7f.1/",
		"trailing dot local": "http://LOCALHOST./",
	}
	for name, raw := range rejected {
		t.Run("rejects "+name, func(t *testing.T) {
			err := ValidateURL(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	accepted := []string{
		"https://www.google.com",
		"http://example.com/path?q=1#frag",
		"https://8.8.8.8/",
		"https://[2606:4700:4700::1111]/",
		"HTTPS://Example.COM",
		"https://172.32.0.1/",
	}
	for _, raw := range accepted {
		t.Run("accepts "+raw, func(t *testing.T) {
			assert.NoError(t, ValidateURL(raw))
		})
	}
}

func TestValidatorDomainPolicy(t *testing.T) {
	v, err := NewValidator(config.SafetyConfig{
		AllowedDomains: []string{"*.example.com", "example.com"},
		BlockedDomains: []string{"admin.example.com"},
	})
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, v.ValidateURL(ctx, "https://example.com"))
	assert.NoError(t, v.ValidateURL(ctx, "https://shop.Example.com/cart"))
	assert.ErrorIs(t, v.ValidateURL(ctx, "https://admin.example.com"), ErrValidation, "blocked wins over allowed")
	assert.ErrorIs(t, v.ValidateURL(ctx, "https://example.org"), ErrValidation, "not in the allow list")
	assert.ErrorIs(t, v.ValidateURL(ctx, "http://10.0.0.1"), ErrValidation, "built-in rules still apply")

	_, err = NewValidator(config.SafetyConfig{BlockedDomains: []string{"[unclosed"}})
	assert.Error(t, err)
}

type fakeResolver map[string][]netip.Addr

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	addrs, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func TestValidatorResolveHosts(t *testing.T) {
	v, err := NewValidator(config.SafetyConfig{ResolveHosts: true})
	require.NoError(t, err)
	v.WithResolver(fakeResolver{
		"rebind.example.net": {netip.MustParseAddr("93.184.216.34"), netip.MustParseAddr("192.168.0.10")},
		"public.example.net": {netip.MustParseAddr("93.184.216.34")},
	})
	ctx := context.Background()

	assert.ErrorIs(t, v.ValidateURL(ctx, "https://rebind.example.net"), ErrValidation)
	assert.NoError(t, v.ValidateURL(ctx, "https://public.example.net"))
	assert.NoError(t, v.ValidateURL(ctx, "https://unknown.example.net"), "lookup failures are left to navigation")
}

func TestValidateURLProperties(t *testing.T) {
	t.Run("private IPv4 literals are always rejected", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			b := rapid.IntRange(0, 255)
			host := fmt.Sprintf("10.%d.%d.%d", b.Draw(t, "b"), b.Draw(t, "c"), b.Draw(t, "d"))
			if err := ValidateURL("http://" + host + "/"); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected %s to be rejected, got %v", host, err)
			}
		})
	})

	t.Run("non-web schemes are always rejected", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			scheme := rapid.StringMatching(`[a-z][a-z0-9+.-]{0,10}`).Draw(t, "scheme")
			if scheme == "http" || scheme == "https" {
				t.Skip("web scheme")
			}
			if err := ValidateURL(scheme + "://example.com/"); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected scheme %q to be rejected, got %v", scheme, err)
			}
		})
	})

	t.Run("public hostnames are accepted", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			label := rapid.StringMatching(`[a-z][a-z0-9-]{0,20}[a-z0-9]`).Draw(t, "label")
			tld := rapid.SampledFrom([]string{"com", "org", "io", "co.uk"}).Draw(t, "tld")
			raw := "https://" + label + "." + tld + "/"
			if err := ValidateURL(raw); err != nil {
				t.Fatalf("expected %s to be accepted, got %v", raw, err)
			}
		})
	})
}
