// Package backoff provides the exponential delay policy shared by the
// connection reconnect loop and the optimistic request retry loop. The two
// consumers hold independent Policy values so attempt counters never mix.
package backoff

import (
	"math/rand"
	"time"
)

// Policy maps an attempt count to a delay: min(Base * 2^(attempt-1), Cap).
type Policy struct {
	Base time.Duration
	Cap  time.Duration
	// Jitter scales a random offset in [-Jitter, +Jitter] of the computed
	// delay. Zero disables jitter and makes Delay deterministic.
	Jitter float64
}

// Delay returns the backoff delay for the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	cap := p.Cap
	if cap <= 0 {
		cap = base
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap || delay < 0 {
			delay = cap
			break
		}
	}
	if delay > cap {
		delay = cap
	}
	if p.Jitter > 0 {
		offset := time.Duration((rand.Float64()*2 - 1) * p.Jitter * float64(delay))
		delay += offset
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
