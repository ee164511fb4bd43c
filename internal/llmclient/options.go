// internal/llmclient/options.go
package llmclient

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

type clientOptions struct {
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
}

// ClientOption tunes a provider client.
type ClientOption func(*clientOptions)

// WithLimiter throttles outgoing requests. Clients built from the same router share one.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(o *clientOptions) { o.limiter = l }
}

// WithBackOff replaces the retry policy for transient API failures.
func WithBackOff(f func() backoff.BackOff) ClientOption {
	return func(o *clientOptions) { o.newBackOff = f }
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second
	return b
}

func buildOptions(opts []ClientOption) clientOptions {
	o := clientOptions{newBackOff: defaultBackOff}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewLimiter converts a requests-per-minute budget into a token bucket.
// A non-positive budget disables throttling.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), 1)
}

func (o clientOptions) wait(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	return o.limiter.Wait(ctx)
}
