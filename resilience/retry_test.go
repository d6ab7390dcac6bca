package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/kestrelqa/kestrel/types"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		Backoff:      BackoffConstant,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
	}
}

func TestRetryer_SuccessFirstTry(t *testing.T) {
	retryer := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_RetryThenSuccess(t *testing.T) {
	retryer := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryer_ExactAttemptCount(t *testing.T) {
	// A permanently failing retryable operation runs exactly N+1 times
	// and the last error surfaces unchanged.
	retryer := NewRetryer(fastPolicy(4), zap.NewNop())

	calls := 0
	wantErr := errors.New("request timeout")
	err := retryer.Do(context.Background(), func() error {
		calls++
		return wantErr
	})

	assert.Equal(t, 5, calls)
	assert.Same(t, wantErr, err)
}

func TestRetryer_FatalStopsImmediately(t *testing.T) {
	retryer := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return types.NewError(types.ErrFatal, "do not retry")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_NonMatchingErrorStops(t *testing.T) {
	retryer := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return errors.New("invalid selector syntax")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_ExplicitPatterns(t *testing.T) {
	policy := fastPolicy(2)
	policy.RetryablePatterns = []string{"flaky"}
	retryer := NewRetryer(policy, zap.NewNop())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return errors.New("flaky widget")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)

	// Default-transient messages are no longer retryable once an explicit
	// pattern list is supplied.
	calls = 0
	err = retryer.Do(context.Background(), func() error {
		calls++
		return errors.New("request timeout")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_ContextCanceledDuringSleep(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries:   3,
		Backoff:      BackoffConstant,
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
	}
	retryer := NewRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := retryer.Do(ctx, func() error {
		calls++
		return errors.New("network down")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	policy := fastPolicy(2)
	var attempts []int
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	retryer := NewRetryer(policy, zap.NewNop())

	_ = retryer.Do(context.Background(), func() error {
		return errors.New("503 service unavailable")
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDelayFor_BackoffBounds(t *testing.T) {
	// Exponential delay after failed attempt i lies in
	// [base·2^i, base·2^i·1.2], capped at MaxDelay.
	rapid.Check(t, func(t *rapid.T) {
		base := time.Duration(rapid.Int64Range(int64(time.Millisecond), int64(100*time.Millisecond)).Draw(t, "base"))
		maxDelay := 10 * time.Second
		attempt := rapid.IntRange(0, 6).Draw(t, "attempt")

		r := &backoffRetryer{policy: &RetryPolicy{
			Backoff:      BackoffExponential,
			InitialDelay: base,
			MaxDelay:     maxDelay,
		}}
		delay := r.delayFor(attempt)

		lower := time.Duration(float64(base) * float64(uint64(1)<<uint(attempt)))
		upper := time.Duration(float64(lower) * 1.2)
		if lower > maxDelay {
			lower = maxDelay
		}
		if upper > maxDelay {
			upper = maxDelay
		}
		if delay < lower || delay > upper {
			t.Fatalf("delay %v outside [%v, %v] for attempt %d", delay, lower, upper, attempt)
		}
	})
}

func TestDelayFor_LinearAndConstant(t *testing.T) {
	r := &backoffRetryer{policy: &RetryPolicy{
		Backoff:      BackoffLinear,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
	}}
	d := r.delayFor(2)
	assert.GreaterOrEqual(t, d, 30*time.Millisecond)
	assert.LessOrEqual(t, d, 36*time.Millisecond)

	r.policy.Backoff = BackoffConstant
	d = r.delayFor(5)
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.LessOrEqual(t, d, 12*time.Millisecond)
}
