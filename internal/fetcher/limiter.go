package fetcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter is a per-host rate limiter that speeds up by 20% after each
// success (capped at its ceiling) and halves after a 429 (floored at a quarter
// of the initial rate).
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	initial rate.Limit
	ceiling rate.Limit
	current rate.Limit
}

// NewAdaptiveLimiter creates a limiter starting at r events per second that
// may ramp up to twice r.
func NewAdaptiveLimiter(r rate.Limit, burst int) *AdaptiveLimiter {
	return NewCappedLimiter(r, burst, r*2)
}

// NewCappedLimiter creates a limiter starting at r events per second that
// never exceeds ceiling. A ceiling below r is raised to r.
func NewCappedLimiter(r rate.Limit, burst int, ceiling rate.Limit) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(r, burst),
		initial: r,
		ceiling: max(ceiling, r),
		current: r,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.set(min(a.Limit()*1.2, a.ceiling))
}

// OnRateLimit lowers the rate after the host answered 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	next := max(a.Limit()*0.5, a.initial/4)
	a.set(next)
	zap.L().Warn("fetcher: reducing rate after 429", zap.Float64("new_rate", float64(next)))
}

func (a *AdaptiveLimiter) set(r rate.Limit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = r
	a.limiter.SetLimit(r)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// secMaxRate is the published SEC ceiling in requests per second.
const secMaxRate rate.Limit = 10

// DefaultLimiters returns limiters for the hosts polled every cycle. SEC hosts
// start at and stay at or below secMaxRate.
func DefaultLimiters() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		"data.sec.gov":       NewCappedLimiter(secMaxRate, 10, secMaxRate),
		"www.sec.gov":        NewCappedLimiter(secMaxRate, 10, secMaxRate),
		"clinicaltrials.gov": NewAdaptiveLimiter(5, 5),
	}
}
