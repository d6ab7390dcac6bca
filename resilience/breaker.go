package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/types"
)

// State is a circuit breaker state.
type State int

const (
	// StateClosed allows calls through.
	StateClosed State = iota
	// StateOpen rejects calls without invoking the operation.
	StateOpen
	// StateHalfOpen probes whether the upstream has recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures all breakers in a registry.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a
	// closed circuit.
	FailureThreshold int

	// SuccessThreshold is the consecutive-success count that closes a
	// half-open circuit.
	SuccessThreshold int

	// Timeout is how long an open circuit rejects calls before letting a
	// probe through.
	Timeout time.Duration

	// OnStateChange is invoked on every transition.
	OnStateChange func(key string, from, to State)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

// circuit is the per-key state machine.
type circuit struct {
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	nextAttemptTime time.Time
}

// BreakerRegistry holds one lazily created circuit per operation key. The
// registry is shared across all concurrent executions so a degraded
// upstream fails fast for everyone.
type BreakerRegistry struct {
	config *BreakerConfig
	logger *zap.Logger

	mu       sync.Mutex
	circuits map[string]*circuit
}

// NewBreakerRegistry creates a registry. A nil config selects defaults.
func NewBreakerRegistry(config *BreakerConfig, logger *zap.Logger) *BreakerRegistry {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		config:   config,
		logger:   logger.With(zap.String("component", "circuit_breaker")),
		circuits: make(map[string]*circuit),
	}
}

// Execute runs fn under the circuit for key. An open circuit rejects the
// call with a fatal CIRCUIT_OPEN error before fn is invoked.
func (r *BreakerRegistry) Execute(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	if err := r.beforeCall(key); err != nil {
		return nil, err
	}

	result, err := fn()
	r.afterCall(key, err == nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// State returns the current state for key (closed if never used).
func (r *BreakerRegistry) State(key string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// Reset forces the circuit for key back to closed.
func (r *BreakerRegistry) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.circuits[key]; ok {
		r.transition(key, c, StateClosed)
		c.failures = 0
		c.successes = 0
	}
}

// ResetAll forces every circuit back to closed.
func (r *BreakerRegistry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, c := range r.circuits {
		r.transition(key, c, StateClosed)
		c.failures = 0
		c.successes = 0
	}
}

func (r *BreakerRegistry) get(key string) *circuit {
	c, ok := r.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[key] = c
	}
	return c
}

func (r *BreakerRegistry) beforeCall(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(key)
	switch c.state {
	case StateClosed, StateHalfOpen:
		return nil

	case StateOpen:
		if time.Now().Before(c.nextAttemptTime) {
			wait := time.Until(c.nextAttemptTime).Round(time.Second)
			return types.Errorf(types.ErrCircuitOpen,
				"circuit %q open, retry in %s", key, wait)
		}
		r.transition(key, c, StateHalfOpen)
		c.successes = 0
		return nil
	}
	return nil
}

func (r *BreakerRegistry) afterCall(key string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(key)
	if success {
		switch c.state {
		case StateClosed:
			c.failures = 0
		case StateHalfOpen:
			c.successes++
			if c.successes >= r.config.SuccessThreshold {
				r.logger.Info("circuit recovered",
					zap.String("key", key),
					zap.Int("successes", c.successes))
				r.transition(key, c, StateClosed)
				c.failures = 0
				c.successes = 0
			}
		}
		return
	}

	c.failures++
	c.lastFailureTime = time.Now()

	switch c.state {
	case StateClosed:
		if c.failures >= r.config.FailureThreshold {
			r.logger.Warn("circuit opened",
				zap.String("key", key),
				zap.Int("failures", c.failures))
			c.nextAttemptTime = time.Now().Add(r.config.Timeout)
			r.transition(key, c, StateOpen)
		}
	case StateHalfOpen:
		r.logger.Warn("probe failed, circuit reopened", zap.String("key", key))
		c.nextAttemptTime = time.Now().Add(r.config.Timeout)
		c.successes = 0
		r.transition(key, c, StateOpen)
	}
}

// transition must be called with the registry lock held.
func (r *BreakerRegistry) transition(key string, c *circuit, next State) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	if r.config.OnStateChange != nil {
		go r.config.OnStateChange(key, prev, next)
	}
}
