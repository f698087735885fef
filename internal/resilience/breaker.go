package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrBreakerOpen is returned without calling through while a breaker is open.
var ErrBreakerOpen = eris.New("resilience: circuit open")

// Breaker stops calling a failing dependency after Threshold consecutive
// failures. After Cooldown one probe call is let through; its result closes
// or re-opens the breaker.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{Threshold: threshold, Cooldown: cooldown, now: time.Now}
}

// Open reports whether calls are currently being rejected.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openLocked()
}

func (b *Breaker) openLocked() bool {
	return b.failures >= b.Threshold && b.now().Sub(b.openedAt) < b.Cooldown
}

// Call runs fn unless the breaker is open.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	b.mu.Lock()
	if b.openLocked() {
		b.mu.Unlock()
		return zero, ErrBreakerOpen
	}
	b.mu.Unlock()

	val, err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.failures >= b.Threshold {
			b.openedAt = b.now()
		}
		return zero, err
	}
	b.failures = 0
	return val, nil
}
