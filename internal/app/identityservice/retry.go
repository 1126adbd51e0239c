package identityservice

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// statusErrorLimited is returned by ESI when the client has exhausted
// its error budget and must back off for the remainder of the window.
const statusErrorLimited = 420

// RetryPolicy describes how failed requests to external APIs are retried.
// The delay doubles after each attempt up to MaxDelay, except for
// error-limited responses which always wait for RateLimitWait.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	RateLimitWait time.Duration
}

// DefaultRetryPolicy returns the policy used in production.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     2 * time.Second,
		MaxDelay:      30 * time.Second,
		RateLimitWait: 60 * time.Second,
	}
}

// withRetry runs fn until it succeeds or the service policy is exhausted.
func (s *IdentityService) withRetry(ctx context.Context, operation string, fn func() (*http.Response, error)) error {
	return s.withPolicy(ctx, s.retry, operation, fn)
}

// withPolicy runs fn until it succeeds or the policy is exhausted.
// Each attempt first waits on the service's rate limiter.
// fn returns the HTTP response alongside the error, so that
// error-limited responses can be recognized.
func (s *IdentityService) withPolicy(ctx context.Context, p RetryPolicy, operation string, fn func() (*http.Response, error)) error {
	delay := p.BaseDelay
	for attempt := 1; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(resp) || attempt >= p.MaxAttempts {
			return err
		}
		wait := delay
		if resp != nil && resp.StatusCode == statusErrorLimited {
			wait = p.RateLimitWait
		}
		slog.Warn("Request failed. Retrying.",
			"operation", operation, "attempt", attempt, "wait", wait, "error", err,
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, p.MaxDelay)
	}
}

// isRetryable reports whether a failed request is worth repeating.
// Client errors are final, except for the error limit and 429.
func isRetryable(resp *http.Response) bool {
	if resp == nil {
		return true
	}
	c := resp.StatusCode
	if c == statusErrorLimited || c == http.StatusTooManyRequests {
		return true
	}
	return c < 400 || c >= 500
}
