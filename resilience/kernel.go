package resilience

import (
	"context"

	"go.uber.org/zap"
)

// Kernel bundles a retryer with the shared breaker registry. Callers name
// the protected operation with a key; the breaker state for that key is
// shared across every concurrent execution in the process.
type Kernel struct {
	Breakers *BreakerRegistry
	policy   *RetryPolicy
	logger   *zap.Logger
}

// NewKernel creates a kernel with a fresh breaker registry.
func NewKernel(breakerCfg *BreakerConfig, logger *zap.Logger) *Kernel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kernel{
		Breakers: NewBreakerRegistry(breakerCfg, logger),
		logger:   logger,
	}
}

// WithDefaultPolicy sets the policy used when Execute is called with a nil
// policy. Returns the kernel for chaining.
func (k *Kernel) WithDefaultPolicy(policy *RetryPolicy) *Kernel {
	k.policy = policy
	return k
}

// Execute runs fn with retries, each attempt guarded by the circuit for
// key. A circuit-open rejection is fatal and ends the retry loop
// immediately, so an open breaker fails fast instead of sleeping through
// the backoff schedule.
func (k *Kernel) Execute(ctx context.Context, key string, policy *RetryPolicy, fn func() (any, error)) (any, error) {
	if policy == nil {
		policy = k.policy
	}
	retryer := NewRetryer(policy, k.logger)
	return retryer.DoWithResult(ctx, func() (any, error) {
		return k.Breakers.Execute(ctx, key, fn)
	})
}
