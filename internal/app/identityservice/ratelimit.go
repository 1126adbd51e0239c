package identityservice

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter throttles outgoing requests to external APIs.
// Production code uses a token bucket, tests can inject NoLimit.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLimiter returns a limiter allowing the given number of requests per second.
func NewLimiter(requestsPerSecond float64) Limiter {
	return rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
}

type unlimited struct{}

func (unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}

// NoLimit is a limiter that never throttles.
var NoLimit Limiter = unlimited{}
