// internal/browser/context_utils_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey string

const testKey ctxKey = "target"

func TestCombineContext(t *testing.T) {
	t.Run("InheritsValuesFromPrimary", func(t *testing.T) {
		primary := context.WithValue(context.Background(), testKey, "tab-1")
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", combined.Value(testKey))
		assert.NoError(t, combined.Err())
	})

	cases := []struct {
		name          string
		cancelPrimary bool
	}{
		{name: "CanceledByPrimary", cancelPrimary: true},
		{name: "CanceledBySecondary", cancelPrimary: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			primary, cancelPrimary := context.WithCancel(context.Background())
			defer cancelPrimary()
			secondary, cancelSecondary := context.WithCancel(context.Background())
			defer cancelSecondary()

			combined, cancel := CombineContext(primary, secondary)
			defer cancel()

			if tc.cancelPrimary {
				cancelPrimary()
			} else {
				cancelSecondary()
			}

			assert.Eventually(t, func() bool { return combined.Err() != nil },
				time.Second, 5*time.Millisecond)
			assert.ErrorIs(t, combined.Err(), context.Canceled)
		})
	}

	t.Run("DeadlineFromPrimary", func(t *testing.T) {
		deadline := time.Now().Add(50 * time.Millisecond)
		primary, cancelPrimary := context.WithDeadline(context.Background(), deadline)
		defer cancelPrimary()

		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		got, ok := combined.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, deadline, got, 10*time.Millisecond)

		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.DeadlineExceeded)
	})

	t.Run("SecondaryDeadlineSurfacesAsCanceled", func(t *testing.T) {
		secondary, cancelSecondary := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancelSecondary()

		combined, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		<-combined.Done()
		assert.ErrorIs(t, secondary.Err(), context.DeadlineExceeded)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}

func TestDetach(t *testing.T) {
	parent, cancelParent := context.WithTimeout(context.WithValue(context.Background(), testKey, "tab-1"), 10*time.Millisecond)
	detached := Detach(parent)
	cancelParent()

	assert.Equal(t, "tab-1", detached.Value(testKey))
	assert.ErrorIs(t, parent.Err(), context.Canceled)
	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())

	_, ok := detached.Deadline()
	assert.False(t, ok)

	derived, cancel := context.WithTimeout(detached, 20*time.Millisecond)
	defer cancel()
	<-derived.Done()
	assert.ErrorIs(t, derived.Err(), context.DeadlineExceeded)
}
