package realtime

import (
	"math/rand"
	"time"
)

// backoffExponentCap bounds the shift so large attempt counts cannot
// overflow before the Max clamp applies.
const backoffExponentCap = 10

// BackoffPolicy computes the delay before a reconnect attempt:
// Base doubled per attempt, clamped to Max, with ±25% jitter.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration

	rng *rand.Rand
}

func NewBackoffPolicy(base, max time.Duration) BackoffPolicy {
	return NewBackoffPolicyWithSource(base, max, rand.NewSource(time.Now().UnixNano()))
}

// NewBackoffPolicyWithSource takes an explicit randomness source so the
// jitter distribution can be pinned in tests.
func NewBackoffPolicyWithSource(base, max time.Duration, src rand.Source) BackoffPolicy {
	return BackoffPolicy{Base: base, Max: max, rng: rand.New(src)}
}

// NextDelay returns the delay for the given zero-based attempt count.
// The result always lies within [0.75·d, 1.25·d] where
// d = min(Base·2^min(attempt, 10), Max).
func (p BackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	exp := attempt
	if exp > backoffExponentCap {
		exp = backoffExponentCap
	}

	delay := p.Base << uint(exp)
	if delay > p.Max || delay <= 0 {
		delay = p.Max
	}

	// literal-constructed policies have no source; fall back so the
	// zero-ish value stays usable
	rng := p.rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	jitter := 0.75 + 0.5*rng.Float64()
	return time.Duration(float64(delay) * jitter)
}
