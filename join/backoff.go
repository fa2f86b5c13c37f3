package join

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Backoff implements the exponential backoff described in spec.md 5:
// initial 50ms, doubling up to a cap of 750ms, with total elapsed time
// capped at 60s before resetting back to the initial interval. Rather
// than a hand-rolled timer, each step is paced by a one-shot
// golang.org/x/time/rate.Limiter reservation -- the same token-bucket
// primitive the teacher's go.mod already carries as an indirect
// dependency, promoted to direct use here (see SPEC_FULL.md 11).
type Backoff struct {
	initial time.Duration
	max     time.Duration
	capElapsed time.Duration

	cur     time.Duration
	elapsed time.Duration
}

// NewBackoff creates a Backoff with the spec's default timings.
func NewBackoff() *Backoff {
	return &Backoff{
		initial:    50 * time.Millisecond,
		max:        750 * time.Millisecond,
		capElapsed: 60 * time.Second,
		cur:        50 * time.Millisecond,
	}
}

// Wait blocks for the current backoff interval (or until ctx is done),
// then advances the interval: doubling it up to max, or resetting to
// initial once the cumulative elapsed wait reaches capElapsed (spec.md 5:
// "capped elapsed 60 s; reset after cap is hit").
func (b *Backoff) Wait(ctx context.Context) error {
	lim := rate.NewLimiter(rate.Every(b.cur), 1)
	lim.Allow() // consume the initial burst token so Reserve reflects a fresh interval
	res := lim.ReserveN(time.Now(), 1)
	d := res.Delay()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.elapsed += d
	if b.elapsed >= b.capElapsed {
		b.cur = b.initial
		b.elapsed = 0
		return nil
	}
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return nil
}

// Reset returns the backoff to its initial interval with no elapsed time,
// for use when a Driver restarts its join attempt from scratch.
func (b *Backoff) Reset() {
	b.cur = b.initial
	b.elapsed = 0
}
