package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/types"
)

// Backoff selects how the delay between attempts grows.
type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
	BackoffConstant    Backoff = "constant"
)

// RetryPolicy configures the retry loop.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	// (0 means a single attempt with no retry).
	MaxRetries int

	// Backoff selects the delay growth curve.
	Backoff Backoff

	// InitialDelay is the base delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// RetryablePatterns, when non-empty, replaces the default transient
	// classifier: an error is retried only if its message contains one of
	// these substrings (case-insensitive).
	RetryablePatterns []string

	// OnRetry is invoked before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy returns the policy used for LLM calls.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		Backoff:      BackoffExponential,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// defaultTransientPatterns match the failures worth retrying when no
// explicit classifier is supplied.
var defaultTransientPatterns = []string{
	"timeout",
	"timed out",
	"network",
	"connection refused",
	"connection reset",
	"rate limit",
	"too many requests",
	"502",
	"503",
	"504",
}

// Retryer executes operations with bounded retries.
type Retryer interface {
	// Do executes fn, retrying per policy.
	Do(ctx context.Context, fn func() error) error

	// DoWithResult executes fn and returns its result, retrying per policy.
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

type backoffRetryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewRetryer creates a retryer. A nil policy selects DefaultRetryPolicy.
func NewRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Backoff == "" {
		policy.Backoff = BackoffExponential
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: policy, logger: logger}
}

// Do implements Retryer.Do.
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult implements Retryer.DoWithResult. The operation runs at most
// MaxRetries+1 times; the last error surfaces unchanged.
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delayFor(attempt - 1)

			r.logger.Debug("retrying operation",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.isRetryable(err) {
			r.logger.Debug("error not retryable", zap.Error(err))
			return nil, err
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

// delayFor computes the delay after the given zero-based failed attempt:
// exponential = initial·2^attempt, linear = initial·(attempt+1), constant =
// initial; plus 0–20% jitter, clamped to MaxDelay.
func (r *backoffRetryer) delayFor(attempt int) time.Duration {
	base := float64(r.policy.InitialDelay)
	var delay float64
	switch r.policy.Backoff {
	case BackoffLinear:
		delay = base * float64(attempt+1)
	case BackoffConstant:
		delay = base
	default:
		delay = base * float64(uint64(1)<<uint(attempt))
	}

	delay += delay * 0.2 * rand.Float64()

	if max := float64(r.policy.MaxDelay); delay > max {
		delay = max
	}
	return time.Duration(delay)
}

func (r *backoffRetryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if types.IsFatal(err) {
		return false
	}
	if e, ok := err.(*types.Error); ok {
		return e.Retryable
	}

	patterns := r.policy.RetryablePatterns
	if len(patterns) == 0 {
		patterns = defaultTransientPatterns
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
