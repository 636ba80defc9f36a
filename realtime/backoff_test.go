package realtime

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectedDelay(base, max time.Duration, attempt int) time.Duration {
	exp := attempt
	if exp > backoffExponentCap {
		exp = backoffExponentCap
	}
	d := base << uint(exp)
	if d > max || d <= 0 {
		d = max
	}
	return d
}

func TestNextDelayWithinJitterBounds(t *testing.T) {
	base := 3 * time.Second
	max := 5 * time.Minute
	policy := NewBackoffPolicyWithSource(base, max, rand.NewSource(42))

	for attempt := 0; attempt <= 30; attempt++ {
		expected := expectedDelay(base, max, attempt)
		got := policy.NextDelay(attempt)

		ratio := float64(got) / float64(expected)
		assert.GreaterOrEqual(t, ratio, 0.7499, "attempt %d: delay %s below jitter floor of %s", attempt, got, expected)
		assert.LessOrEqual(t, ratio, 1.2501, "attempt %d: delay %s above jitter ceiling of %s", attempt, got, expected)
	}
}

func TestNextDelayFirstAttempt(t *testing.T) {
	base := 4 * time.Second
	policy := NewBackoffPolicyWithSource(base, 5*time.Minute, rand.NewSource(1))

	for i := 0; i < 100; i++ {
		got := policy.NextDelay(0)
		require.GreaterOrEqual(t, got, time.Duration(0.7499*float64(base)))
		require.LessOrEqual(t, got, time.Duration(1.2501*float64(base)))
	}
}

func TestNextDelaySaturatesAtMax(t *testing.T) {
	base := 3 * time.Second
	max := 5 * time.Minute
	policy := NewBackoffPolicyWithSource(base, max, rand.NewSource(7))

	for _, attempt := range []int{10, 11, 100, 1 << 20} {
		got := policy.NextDelay(attempt)
		ratio := float64(got) / float64(max)
		assert.GreaterOrEqual(t, ratio, 0.7499, "attempt %d", attempt)
		assert.LessOrEqual(t, ratio, 1.2501, "attempt %d", attempt)
	}
}

func TestNextDelayNegativeAttemptTreatedAsZero(t *testing.T) {
	base := 3 * time.Second
	policy := NewBackoffPolicyWithSource(base, time.Minute, rand.NewSource(3))

	got := policy.NextDelay(-5)
	require.GreaterOrEqual(t, got, time.Duration(0.7499*float64(base)))
	require.LessOrEqual(t, got, time.Duration(1.2501*float64(base)))
}

func TestNextDelayLiteralPolicyIsUsable(t *testing.T) {
	policy := BackoffPolicy{Base: time.Second, Max: time.Minute}

	for attempt := 0; attempt < 5; attempt++ {
		expected := expectedDelay(policy.Base, policy.Max, attempt)
		got := policy.NextDelay(attempt)

		ratio := float64(got) / float64(expected)
		assert.GreaterOrEqual(t, ratio, 0.7499, "attempt %d", attempt)
		assert.LessOrEqual(t, ratio, 1.2501, "attempt %d", attempt)
	}
}

func TestNextDelayJitterVaries(t *testing.T) {
	policy := NewBackoffPolicyWithSource(time.Second, time.Minute, rand.NewSource(9))

	seen := make(map[time.Duration]struct{})
	for i := 0; i < 20; i++ {
		seen[policy.NextDelay(3)] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "jitter should perturb repeated calls")
}
