// Package clock provides the monotonic host-time source all other Harmonia
// subsystems schedule against. Every beat/tempo calculation ultimately
// bottoms out in microseconds read from here.
package clock

import (
	"context"
	"time"
)

// Clock is a monotonic microsecond-resolution time source. It never steps
// backwards and is never adjusted by NTP within a process lifetime — Go's
// time.Now() already carries a monotonic reading alongside the wall clock,
// and time.Since/Sub use it automatically, which is exactly the guarantee
// this type needs.
type Clock struct {
	origin time.Time
}

// New returns a Clock whose epoch is the moment of construction.
func New() *Clock {
	return &Clock{origin: time.Now()}
}

// NowMicros returns microseconds elapsed since the clock was constructed.
func (c *Clock) NowMicros() uint64 {
	return uint64(time.Since(c.origin).Microseconds())
}

// SleepUntil blocks until the clock reaches tUs, or ctx is cancelled first.
// Returns nil if it slept to completion, ctx.Err() if cancelled early —
// callers use this as a cooperative cancellation point (§5).
func (c *Clock) SleepUntil(ctx context.Context, tUs uint64) error {
	for {
		now := c.NowMicros()
		if now >= tUs {
			return nil
		}
		remaining := time.Duration(tUs-now) * time.Microsecond
		// Cap the sleep so a concurrent re-anchor (tempo change) is
		// noticed promptly rather than oversleeping a stale target.
		if remaining > 5*time.Millisecond {
			remaining = 5 * time.Millisecond
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
