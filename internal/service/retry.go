package service

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

// RetryPolicy defines deployment retry behavior as data: how many
// attempts, how to back off, and which classifications are retryable.
// One policy value is passed into the coordinator at construction;
// there is no other retry control flow in the system.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64 // exponential factor
	JitterFactor   float64 // 0.0 to 1.0
	RequestTimeout time.Duration
}

// DefaultRetryPolicy returns the default deployment policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFactor:   0.2,
		RequestTimeout: 30 * time.Second,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxAttempts = n
	}
}

// WithBaseDelay sets the initial delay.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.BaseDelay = d
	}
}

// WithMaxDelay sets the maximum delay.
func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxDelay = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.JitterFactor = factor
	}
}

// WithRequestTimeout sets the per-submission timeout.
func WithRequestTimeout(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.RequestTimeout = d
	}
}

// NewRetryPolicy creates a new retry policy.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ShouldRetry reports whether another submission is permitted for the
// classification and the attempt just finished.
func (p *RetryPolicy) ShouldRetry(c core.Classification, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return c.Retryable()
}

// Delay computes the backoff before the attempt following the given one.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		jitter := delay * p.JitterFactor
		delay += (rand.Float64()*2 - 1) * jitter
	}
	return time.Duration(delay)
}

// DelayNoJitter computes the delay without jitter (for testing).
func (p *RetryPolicy) DelayNoJitter(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Wait sleeps the backoff for the given attempt, returning early with
// the context error if the caller cancels.
func (p *RetryPolicy) Wait(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.Delay(attempt)):
		return nil
	}
}
