// Package retry holds the per-class retry schedule table: one fixed
// delay sequence (or exponential formula) per classify.Class, each with
// a 25% uniform jitter band.
package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/wifiloc/wifiloc/internal/ingest/classify"
)

const jitterFraction = 0.25

// schedule describes one class's retry behaviour: either a fixed list
// of delays (one per attempt, the last entry repeating for attempts
// beyond the list) or an exponential formula from expBase capped at
// expCap.
type schedule struct {
	maxAttempts int
	fixedDelays []time.Duration
	expBase     time.Duration
	expCap      time.Duration
}

var schedules = map[classify.Class]schedule{
	classify.BufferFull: {
		maxAttempts: 7,
		fixedDelays: []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second, 2 * time.Minute, 5 * time.Minute},
	},
	classify.RateLimit: {
		maxAttempts: 5,
		expBase:     1 * time.Second,
		expCap:      30 * time.Second,
	},
	classify.NetworkIssue: {
		maxAttempts: 3,
		fixedDelays: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
	},
	classify.GenericFailure: {
		maxAttempts: 5,
		expBase:     2 * time.Second,
		expCap:      30 * time.Second,
	},
}

// ShouldRetry reports whether another attempt is permitted after
// `attempt` attempts have already been made; maxAttempts caps the total
// attempt count for the class.
func ShouldRetry(class classify.Class, attempt int) bool {
	s, ok := schedules[class]
	if !ok {
		return false
	}
	return attempt < s.maxAttempts
}

// MaxAttempts returns the configured attempt cap for class.
func MaxAttempts(class classify.Class) int {
	return schedules[class].maxAttempts
}

// Delay returns the scheduled delay for the given 0-indexed attempt,
// with ±25% uniform jitter applied.
func Delay(class classify.Class, attempt int) time.Duration {
	s, ok := schedules[class]
	if !ok {
		return 0
	}

	var base time.Duration
	if attempt < len(s.fixedDelays) {
		base = s.fixedDelays[attempt]
	} else if len(s.fixedDelays) > 0 {
		base = s.fixedDelays[len(s.fixedDelays)-1]
	} else {
		base = exponentialDelay(s.expBase, s.expCap, attempt)
	}

	return jitter(base)
}

func exponentialDelay(base, capDelay time.Duration, attempt int) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(capDelay) {
		d = float64(capDelay)
	}
	return time.Duration(d)
}

// jitter applies uniform jitter within [0.75x, 1.25x] of base.
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	factor := 1 - jitterFraction + rand.Float64()*2*jitterFraction
	return time.Duration(float64(base) * factor)
}
