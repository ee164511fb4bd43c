// internal/browser/browser_setup_test.go
package browser_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pilot-cli/internal/browser"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

// testFixture holds the environment for browser integration tests.
type testFixture struct {
	Manager *browser.Manager
	Logger  *zap.Logger
	Config  config.BrowserConfig
}

// requireChrome skips the test when no Chrome or Chromium binary is installed.
func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no Chrome or Chromium binary found in PATH")
}

func setupBrowserManager(t *testing.T) *testFixture {
	t.Helper()
	requireChrome(t)

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	cfg := config.BrowserConfig{
		Headless:          true,
		DisableCache:      true,
		Viewport:          map[string]int{"width": 1280, "height": 800},
		ElementWait:       2 * time.Second,
		NavigationTimeout: 20 * time.Second,
		PostLoadWait:      20 * time.Millisecond,
	}

	fixture := &testFixture{
		Manager: browser.NewManager(cfg, logger),
		Logger:  logger,
		Config:  cfg,
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = fixture.Manager.Shutdown(ctx)
	})
	return fixture
}

func (f *testFixture) newSession(t *testing.T, id string) *browser.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	session, err := f.Manager.CreateSession(ctx, id)
	require.NoError(t, err)
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		_ = session.Close(closeCtx)
	})
	return session
}

func createTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func htmlHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}
