package machine

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before the n-th retry attempt. Growth is
// exponential with a jitter component so concurrent failures do not retry
// in lockstep. Attempts whose schedule has reached Max return Max exactly,
// with no jitter, so with the default factor and jitter the delays never
// decrease across attempts.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
	// Jitter is the fraction of the computed delay randomized in either
	// direction, e.g. 0.25 for ±25%.
	Jitter float64
	// Rand returns a value in [0,1). Injected for deterministic tests;
	// nil uses math/rand.
	Rand func() float64
}

// DefaultBackoff is the tuning used by the daemon.
var DefaultBackoff = Backoff{
	Base:   500 * time.Millisecond,
	Factor: 2,
	Max:    30 * time.Second,
	Jitter: 0.25,
}

// Delay returns the backoff before retry attempt n, where n starts at 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			// Capped attempts return Max exactly, jitter skipped, so
			// the sequence of delays never decreases.
			return b.Max
		}
	}
	if b.Jitter > 0 {
		r := rand.Float64
		if b.Rand != nil {
			r = b.Rand
		}
		d += d * b.Jitter * (2*r() - 1)
	}
	if d < 0 {
		d = 0
	}
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}
