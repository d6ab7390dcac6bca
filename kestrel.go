// Package kestrel provides a top-level convenience entry point for running
// natural-language browser test scenarios with minimal boilerplate.
//
// Usage:
//
//	import "github.com/kestrelqa/kestrel"
//
//	s, err := kestrel.New(kestrel.WithAPIKey(key))
//	defer s.Close()
//	report, err := s.Run(ctx, &planner.Scenario{
//	    Name:      "login",
//	    Objective: "log in and verify the dashboard heading",
//	    StartURL:  "https://example.test",
//	})
//
// Breaker state, the structure cache, and metrics collectors are shared by
// every session in the process; per-session state is the browser and the
// components bound to it.
package kestrel

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/browser"
	"github.com/kestrelqa/kestrel/config"
	"github.com/kestrelqa/kestrel/discovery"
	"github.com/kestrelqa/kestrel/executor"
	"github.com/kestrelqa/kestrel/internal/cache"
	"github.com/kestrelqa/kestrel/internal/metrics"
	"github.com/kestrelqa/kestrel/llm"
	"github.com/kestrelqa/kestrel/planner"
	"github.com/kestrelqa/kestrel/resilience"
	"github.com/kestrelqa/kestrel/runner"
)

var (
	sharedOnce       sync.Once
	sharedKernel     *resilience.Kernel
	sharedStructures *cache.StructureCache
	sharedMetrics    *metrics.Collector
)

// shared builds the process-wide kernel, cache, and metric collectors on
// first use. The first session's config wins; later sessions reuse what it
// built.
func shared(cfg *config.Config, logger *zap.Logger) (*resilience.Kernel, *cache.StructureCache, *metrics.Collector) {
	sharedOnce.Do(func() {
		collector := metrics.NewCollector("kestrel", logger)
		sharedMetrics = collector
		sharedKernel = resilience.NewKernel(&resilience.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			Timeout:          cfg.Breaker.Timeout,
			OnStateChange: func(key string, from, to resilience.State) {
				collector.RecordBreakerTransition(key, from.String(), to.String())
			},
		}, logger).WithDefaultPolicy(&resilience.RetryPolicy{
			MaxRetries:   cfg.Retry.MaxRetries,
			Backoff:      resilience.Backoff(cfg.Retry.Backoff),
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
		})
		sharedStructures = cache.New(cache.Config{
			MaxSize:      cfg.Cache.MaxSize,
			TTL:          cfg.Cache.TTL,
			MaxEntrySize: cfg.Cache.MaxEntrySize,
			OnLookup: func(hit bool) {
				if hit {
					collector.RecordCacheHit("structure")
				} else {
					collector.RecordCacheMiss("structure")
				}
			},
		}, logger)
	})
	return sharedKernel, sharedStructures, sharedMetrics
}

type options struct {
	cfg      *config.Config
	logger   *zap.Logger
	client   llm.Client
	driver   browser.Driver
	vision   executor.VisionChecker
	apiKey   string
	model    string
	failFast bool
}

// Option configures the session created by [New].
type Option func(*options)

// WithConfig supplies a full config instead of the defaults.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClient sets a pre-built completion client.
func WithClient(c llm.Client) Option {
	return func(o *options) { o.client = c }
}

// WithDriver sets a pre-built browser session. The caller keeps ownership;
// Close will not touch it.
func WithDriver(d browser.Driver) Option {
	return func(o *options) { o.driver = d }
}

// WithVision enables the perceptual verification path.
func WithVision(v executor.VisionChecker) Option {
	return func(o *options) { o.vision = v }
}

// WithAPIKey overrides the completion API key. Defaults to OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithModel overrides the completion model name.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithFailFast stops a run at the first step that stays failed.
func WithFailFast() Option {
	return func(o *options) { o.failFast = true }
}

// Session bundles everything needed to run scenarios against one browser.
type Session struct {
	cfg      *config.Config
	driver   browser.Driver
	owned    bool
	runner   *runner.Runner
	planner  *planner.AdaptivePlanner
	executor *executor.Executor
	logger   *zap.Logger
}

// New creates a session. With no options it starts a headless browser and
// an OpenAI-compatible client keyed from the OPENAI_API_KEY environment
// variable.
func New(opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	kernel, structures, collector := shared(cfg, logger)

	client := o.client
	if client == nil {
		apiKey := o.apiKey
		if apiKey == "" {
			apiKey = cfg.LLM.APIKey
		}
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		model := o.model
		if model == "" {
			model = cfg.LLM.Model
		}
		client = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:            apiKey,
			BaseURL:           cfg.LLM.BaseURL,
			DefaultModel:      model,
			Timeout:           cfg.LLM.Timeout,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
			OnRequest: func(model string, duration time.Duration, err error) {
				status := "success"
				if err != nil {
					status = "error"
				}
				collector.RecordLLMRequest(model, status, duration)
			},
		}, logger)
	}

	drv := o.driver
	owned := false
	if drv == nil {
		d, err := browser.NewChromeDriver(browser.Config{
			Headless:       cfg.Browser.Headless,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			UserAgent:      cfg.Browser.UserAgent,
			NavTimeout:     cfg.Browser.NavTimeout,
			ActionTimeout:  cfg.Browser.ActionTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		drv = d
		owned = true
	}

	engine := discovery.NewEngine(drv, cfg.Discovery.Thresholds, logger,
		discovery.WithStrategies(discovery.NewLLMStrategy(client, kernel, structures, logger)),
		discovery.WithMetrics(collector),
	)

	execOpts := []executor.Option{executor.WithMetrics(collector)}
	if o.vision != nil {
		execOpts = append(execOpts, executor.WithVisionChecker(o.vision))
	}
	exec := executor.New(drv, engine, cfg.Executor, cfg.Discovery.Thresholds, logger, execOpts...)

	adaptive := planner.NewAdaptivePlanner(
		planner.NewLLMPlanner(client, logger),
		client, kernel, structures, engine, drv, cfg.Planner, logger,
		planner.WithMetrics(collector),
	)

	run := runner.New(adaptive, exec, runner.Config{FailFast: o.failFast}, logger)

	return &Session{
		cfg:      cfg,
		driver:   drv,
		owned:    owned,
		runner:   run,
		planner:  adaptive,
		executor: exec,
		logger:   logger,
	}, nil
}

// Run executes one scenario end to end.
func (s *Session) Run(ctx context.Context, scenario *planner.Scenario) (*runner.Report, error) {
	return s.runner.Run(ctx, scenario)
}

// Planner exposes the session's adaptive planner for callers that drive
// the loop themselves.
func (s *Session) Planner() *planner.AdaptivePlanner { return s.planner }

// Executor exposes the session's step executor.
func (s *Session) Executor() *executor.Executor { return s.executor }

// Close releases the browser if the session started it.
func (s *Session) Close() error {
	if !s.owned {
		return nil
	}
	return s.driver.Close()
}
