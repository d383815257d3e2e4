package backoff

import (
	"math/rand/v2"
	"time"
)

// Default reconnect delays.
const (
	DefaultBase = 1 * time.Second
	DefaultMax  = 30 * time.Second
)

// Policy is an exponential backoff: Base * 2^attempt, capped at Max.
//
// Jitter, when set, spreads each delay uniformly over
// [delay*(1-Jitter), delay*(1+Jitter)] and is still capped at Max. It is off
// by default.
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// Default returns the 1s/30s policy without jitter.
func Default() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax}
}

// NextDelay returns the delay before retry number attempt (0-based).
func (p Policy) NextDelay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	max := p.Max
	if max <= 0 {
		max = DefaultMax
	}
	if max < base {
		max = base
	}
	if attempt < 0 {
		attempt = 0
	}

	wait := base
	for i := 0; i < attempt; i++ {
		if wait >= max/2 {
			wait = max
			break
		}
		wait *= 2
	}
	if wait > max {
		wait = max
	}

	if p.Jitter <= 0 {
		return wait
	}
	jitter := p.Jitter
	if jitter > 1 {
		jitter = 1
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	delta := float64(wait) * jitter
	jittered := wait - time.Duration(delta) + time.Duration(rnd()*2*delta)
	if jittered > max {
		jittered = max
	}
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}
