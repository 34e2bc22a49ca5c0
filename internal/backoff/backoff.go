// Package backoff computes exponential-backoff-with-jitter delays shared by
// the graph executor's node retry policy and the provider gateway's retry
// layer, so the two components agree on one formula instead of drifting.
package backoff

import (
	"math/rand"
	"time"
)

// Policy configures exponential backoff: delay_k = min(initial * factor^(k-1), max),
// optionally scaled by a uniform jitter multiplier in [0.5, 1.5).
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       bool
}

// Delay returns the backoff duration before retry attempt k (1-indexed: the
// delay before the first retry is Delay(1)).
func (p Policy) Delay(k int, rng *rand.Rand) time.Duration {
	if k < 1 {
		k = 1
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	d := float64(p.InitialDelay)
	for i := 1; i < k; i++ {
		d *= factor
	}
	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter {
		var mult float64
		if rng != nil {
			mult = 0.5 + rng.Float64()
		} else {
			mult = 0.5 + rand.Float64() // #nosec G404 -- jitter timing, not security sensitive
		}
		delay = time.Duration(float64(delay) * mult)
	}
	return delay
}

// Sleep blocks for d (typically a Delay result) or until stop fires,
// whichever comes first. Returns true at once when d <= 0, and false if stop
// fired before the delay elapsed.
func Sleep(d time.Duration, stop <-chan struct{}) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}
