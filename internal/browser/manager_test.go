// internal/browser/manager_test.go
package browser

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pilot-cli/internal/config"
)

func TestManagerUnknownSession(t *testing.T) {
	m := NewManager(config.BrowserConfig{Headless: true}, zaptest.NewLogger(t))

	_, err := m.Session("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = m.CloseSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.Shutdown(ctx))
}

func TestManagerFailedLaunchIsUnregistered(t *testing.T) {
	m := NewManager(config.BrowserConfig{Headless: true}, zaptest.NewLogger(t))

	// A context without a chromedp target makes Initialize fail without a browser.
	released := make(chan struct{}, 1)
	m.allocate = func(parent context.Context) (context.Context, context.CancelFunc) {
		ctx, cancel := context.WithCancel(parent)
		return ctx, func() {
			cancel()
			released <- struct{}{}
		}
	}

	_, err := m.CreateSession(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to launch browser")
	assert.Equal(t, 0, m.Count())

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("allocator was not released after a failed launch")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.Shutdown(ctx), "the wait group must be balanced after a failed launch")
}

func TestManagerDuplicateIDWhileLaunching(t *testing.T) {
	m := NewManager(config.BrowserConfig{Headless: true}, zaptest.NewLogger(t))

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var allocations atomic.Int32
	m.allocate = func(parent context.Context) (context.Context, context.CancelFunc) {
		if allocations.Add(1) == 1 {
			close(entered)
			<-proceed
		}
		return context.WithCancel(parent)
	}

	first := make(chan error, 1)
	go func() {
		_, err := m.CreateSession(context.Background(), "dup")
		first <- err
	}()
	<-entered

	_, err := m.CreateSession(context.Background(), "dup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	assert.Equal(t, int32(1), allocations.Load(), "the duplicate must not start a second browser")

	close(proceed)
	select {
	case err := <-first:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to launch browser")
	case <-time.After(5 * time.Second):
		t.Fatal("first launch did not return")
	}

	// A failed launch releases the id.
	_, err = m.CreateSession(context.Background(), "dup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to launch browser")
	assert.Equal(t, 0, m.Count())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.Shutdown(ctx))
}
