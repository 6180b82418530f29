// Package server throttles inbound messages per session with a token bucket
// so one chatty client cannot flood everyone else.
package server

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

type rateLimiter struct {
	limiter *rate.Limiter
	clock   clockwork.Clock
}

// newRateLimiter allows bursts of capacity messages, refilled at capacity
// tokens per interval.
func newRateLimiter(capacity int, interval time.Duration, clock clockwork.Clock) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	perSecond := rate.Limit(float64(capacity) / interval.Seconds())
	return &rateLimiter{
		limiter: rate.NewLimiter(perSecond, capacity),
		clock:   clock,
	}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.AllowN(rl.clock.Now(), 1)
}
