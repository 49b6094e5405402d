package puddle

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultRateCapacity = 5
	DefaultRateInterval = time.Second
)

// RateLimiter is a token bucket with a coarse refill: the bucket goes back
// to exactly capacity once interval has passed since the window started.
// There is no partial refill, so bursts of up to capacity are allowed.
type RateLimiter struct {
	mu          sync.Mutex
	capacity    int
	interval    time.Duration
	tokens      int
	windowStart time.Time

	now func() time.Time
}

type RateLimiterOption func(*RateLimiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(l *RateLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewRateLimiter returns a full bucket. Non-positive values fall back to
// DefaultRateCapacity and DefaultRateInterval.
func NewRateLimiter(capacity int, interval time.Duration, opts ...RateLimiterOption) *RateLimiter {
	if capacity < 1 {
		capacity = DefaultRateCapacity
	}
	if interval <= 0 {
		interval = DefaultRateInterval
	}
	l := &RateLimiter{capacity: capacity, interval: interval, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	l.tokens = capacity
	l.windowStart = l.now()
	return l
}

func (l *RateLimiter) Capacity() int { return l.capacity }

func (l *RateLimiter) Interval() time.Duration { return l.interval }

// refill must be called with mu held.
func (l *RateLimiter) refill(now time.Time) {
	if !now.Before(l.windowStart.Add(l.interval)) {
		l.tokens = l.capacity
		l.windowStart = now
	}
}

// Available returns the tokens left after any due refill.
func (l *RateLimiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(l.now())
	return l.tokens
}

// TryAcquire takes a token if one is available right now.
func (l *RateLimiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(l.now())
	if l.tokens == 0 {
		return false
	}
	l.tokens--
	return true
}

// Acquire blocks until a token is available and takes it. On cancellation
// it returns ctx.Err() without taking a token.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		now := l.now()
		l.refill(now)
		if l.tokens > 0 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := l.windowStart.Add(l.interval).Sub(now)
		l.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
