package transport

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy decides how long to wait between connection attempts.
type BackoffStrategy interface {
	// NextDelay returns the delay before the given attempt (1-based).
	NextDelay(attempt int) time.Duration
	// MaxAttempts returns the total number of attempts allowed.
	MaxAttempts() int
}

// ExponentialBackoff implements BackoffStrategy with exponential delay between attempts
type ExponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	jitter       float64
	maxAttempts  int
	randomSource *rand.Rand
}

// NewExponentialBackoff creates a new exponential backoff strategy
func NewExponentialBackoff(initialDelay, maxDelay time.Duration, maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		factor:       2.0,
		jitter:       0.2,
		maxAttempts:  maxAttempts,
		randomSource: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithFactor sets the exponential factor (default 2.0)
func (b *ExponentialBackoff) WithFactor(factor float64) *ExponentialBackoff {
	b.factor = factor
	return b
}

// WithJitter sets the jitter factor to randomize delays (default 0.2 - 20%)
func (b *ExponentialBackoff) WithJitter(jitter float64) *ExponentialBackoff {
	b.jitter = jitter
	return b
}

// NextDelay implements BackoffStrategy.NextDelay
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delayFloat := float64(b.initialDelay) * math.Pow(b.factor, float64(attempt-2))

	if b.jitter > 0 {
		jitterRange := delayFloat * b.jitter
		delayFloat += (b.randomSource.Float64() - 0.5) * jitterRange
	}

	if delayFloat > float64(b.maxDelay) {
		delayFloat = float64(b.maxDelay)
	}

	return time.Duration(delayFloat)
}

// MaxAttempts implements BackoffStrategy.MaxAttempts
func (b *ExponentialBackoff) MaxAttempts() int {
	return b.maxAttempts
}

// NoBackoff makes a fixed number of attempts with no delay.
type NoBackoff struct {
	maxAttempts int
}

// NewNoBackoff creates a new no-backoff strategy
func NewNoBackoff(maxAttempts int) *NoBackoff {
	return &NoBackoff{maxAttempts: maxAttempts}
}

// NextDelay implements BackoffStrategy.NextDelay
func (b *NoBackoff) NextDelay(int) time.Duration {
	return 0
}

// MaxAttempts implements BackoffStrategy.MaxAttempts
func (b *NoBackoff) MaxAttempts() int {
	return b.maxAttempts
}

// Retry calls fn until it succeeds, the strategy runs out of attempts, or ctx
// is done. The first attempt runs immediately. The last error is returned.
func Retry(ctx context.Context, strategy BackoffStrategy, fn func(attempt int) error) error {
	attempts := 1
	if strategy != nil && strategy.MaxAttempts() > 1 {
		attempts = strategy.MaxAttempts()
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && strategy != nil {
			if delay := strategy.NextDelay(attempt); delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err = fn(attempt); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
