package errors

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures adaptive retry behavior.
type RetryPolicy struct {
	MaxAttempts  int           // retries after the first attempt (default: 3)
	BaseDelay    time.Duration // base delay for backoff (default: 1s)
	MaxDelay     time.Duration // cap on any single delay (default: 30s)
	JitterFactor float64       // symmetric jitter, 0.3 = ±30% (default: 0.3)
}

// DefaultRetryPolicy returns sensible defaults
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.3,
	}
}

// Multiplier returns the exponential growth factor for class.
func Multiplier(class RetryClass) float64 {
	if class == ClassThrottled {
		return 3
	}
	return 2
}

// Backoff computes per-attempt delays for a RetryPolicy.
type Backoff struct {
	Policy RetryPolicy
	// Rand returns values in [0,1); nil uses math/rand.
	Rand func() float64
}

// Delay returns the wait before retry number attempt (0-based) for class.
// The delay is base * m^attempt with m from Multiplier, jittered and capped at
// MaxDelay. A provider Retry-After hint raises the floor.
func (b Backoff) Delay(class RetryClass, attempt int, retryAfter time.Duration) time.Duration {
	p := b.Policy
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(Multiplier(class), float64(attempt)))
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay < 0) {
		delay = p.MaxDelay
	}

	if p.JitterFactor > 0 {
		random := b.Rand
		if random == nil {
			random = rand.Float64
		}
		jitter := float64(delay) * p.JitterFactor
		delay = time.Duration(float64(delay) + (random()*2-1)*jitter)
		if delay < 0 {
			delay = 0
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}
