package infra

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle enforces a minimum interval between outbound requests. One
// Throttle is owned by each plugin instance and shared by all of that
// plugin's workers.
type Throttle struct {
	limiter *rate.Limiter
	clock   Clock
	delay   time.Duration
}

// NewThrottle creates a throttle allowing one request per delay. A
// non-positive delay disables throttling.
func NewThrottle(delay time.Duration, clock Clock) *Throttle {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Throttle{
		limiter: rate.NewLimiter(limit, 1),
		clock:   OrReal(clock),
		delay:   delay,
	}
}

// Delay returns the configured minimum interval.
func (t *Throttle) Delay() time.Duration { return t.delay }

// Wait blocks until the next request slot is due or ctx is cancelled.
// The reservation is taken atomically inside the limiter, so concurrent
// callers queue up one interval apart instead of bursting.
func (t *Throttle) Wait(ctx context.Context) error {
	now := t.clock.Now()
	r := t.limiter.ReserveN(now, 1)
	d := r.DelayFrom(now)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		r.CancelAt(t.clock.Now())
		return ctx.Err()
	case <-t.clock.After(d):
		return nil
	}
}
