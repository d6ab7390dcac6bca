// Package config provides unified configuration loading for kestrel:
// defaults → YAML file → environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("kestrel.yaml").
//	    WithEnvPrefix("KESTREL").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete kestrel configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" env:"LOG"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Browser   BrowserConfig   `yaml:"browser" env:"BROWSER"`
	Retry     RetryConfig     `yaml:"retry" env:"RETRY"`
	Breaker   BreakerConfig   `yaml:"breaker" env:"BREAKER"`
	Cache     CacheConfig     `yaml:"cache" env:"CACHE"`
	Planner   PlannerConfig   `yaml:"planner" env:"PLANNER"`
	Executor  ExecutorConfig  `yaml:"executor" env:"EXECUTOR"`
	Discovery DiscoveryConfig `yaml:"discovery" env:"DISCOVERY"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT"`
}

// LLMConfig configures the completion client.
type LLMConfig struct {
	APIKey            string        `yaml:"api_key" env:"API_KEY"`
	BaseURL           string        `yaml:"base_url" env:"BASE_URL"`
	Model             string        `yaml:"model" env:"MODEL"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// BrowserConfig configures browser sessions.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" env:"HEADLESS"`
	ViewportWidth  int           `yaml:"viewport_width" env:"VIEWPORT_WIDTH"`
	ViewportHeight int           `yaml:"viewport_height" env:"VIEWPORT_HEIGHT"`
	UserAgent      string        `yaml:"user_agent" env:"USER_AGENT"`
	NavTimeout     time.Duration `yaml:"nav_timeout" env:"NAV_TIMEOUT"`
	ActionTimeout  time.Duration `yaml:"action_timeout" env:"ACTION_TIMEOUT"`
}

// RetryConfig configures the resilience kernel's retry loop.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	Backoff      string        `yaml:"backoff" env:"BACKOFF"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// BreakerConfig configures the shared circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	SuccessThreshold int           `yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CacheConfig configures the shared structure cache.
type CacheConfig struct {
	MaxSize      int           `yaml:"max_size" env:"MAX_SIZE"`
	TTL          time.Duration `yaml:"ttl" env:"TTL"`
	MaxEntrySize int           `yaml:"max_entry_size" env:"MAX_ENTRY_SIZE"`
}

// PlannerConfig configures the adaptive planner.
type PlannerConfig struct {
	// MaxRefinementHistory caps the plan's refinement audit trail.
	MaxRefinementHistory int `yaml:"max_refinement_history" env:"MAX_REFINEMENT_HISTORY"`
	// MinRefinementConfidence gates applying an LLM-suggested selector.
	MinRefinementConfidence float64 `yaml:"min_refinement_confidence" env:"MIN_REFINEMENT_CONFIDENCE"`
	// StructureTokenBudget caps the structure summary embedded in
	// refinement prompts, in model tokens.
	StructureTokenBudget int `yaml:"structure_token_budget" env:"STRUCTURE_TOKEN_BUDGET"`
}

// ExecutorConfig configures the unified action executor.
type ExecutorConfig struct {
	// MaxRecursionDepth bounds DOM↔perceptual fallback cycles per action.
	MaxRecursionDepth int `yaml:"max_recursion_depth" env:"MAX_RECURSION_DEPTH"`
	// StabilizationDelay is the brief wait before fallback rediscovery.
	StabilizationDelay time.Duration `yaml:"stabilization_delay" env:"STABILIZATION_DELAY"`
	// NavTimeout is the navigation load timeout.
	NavTimeout time.Duration `yaml:"nav_timeout" env:"NAV_TIMEOUT"`
	// WaitTimeout is the default wait-for-selector timeout.
	WaitTimeout time.Duration `yaml:"wait_timeout" env:"WAIT_TIMEOUT"`
}

// DiscoveryConfig carries the per-action-kind confidence thresholds.
type DiscoveryConfig struct {
	Thresholds Thresholds `yaml:"thresholds" env:"THRESHOLDS"`
}

// Thresholds is the confidence threshold policy: the minimum confidence a
// discovered locator needs before an action kind will act on it.
type Thresholds struct {
	Click   float64 `yaml:"click" env:"CLICK"`
	Type    float64 `yaml:"type" env:"TYPE"`
	Hover   float64 `yaml:"hover" env:"HOVER"`
	Verify  float64 `yaml:"verify" env:"VERIFY"`
	Default float64 `yaml:"default" env:"DEFAULT"`
}

// For returns the threshold for an action kind name.
func (t Thresholds) For(kind string) float64 {
	switch kind {
	case "click":
		return t.Click
	case "type":
		return t.Type
	case "hover":
		return t.Hover
	case "verify":
		return t.Verify
	}
	return t.Default
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		LLM: LLMConfig{
			BaseURL:           "https://api.openai.com",
			Model:             "gpt-4o-mini",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 5,
		},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			NavTimeout:     30 * time.Second,
			ActionTimeout:  10 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			Backoff:      "exponential",
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          60 * time.Second,
		},
		Cache: CacheConfig{
			MaxSize:      100,
			TTL:          5 * time.Minute,
			MaxEntrySize: 64 * 1024,
		},
		Planner: PlannerConfig{
			MaxRefinementHistory:    20,
			MinRefinementConfidence: 0.6,
			StructureTokenBudget:    2000,
		},
		Executor: ExecutorConfig{
			MaxRecursionDepth:  2,
			StabilizationDelay: 500 * time.Millisecond,
			NavTimeout:         30 * time.Second,
			WaitTimeout:        10 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Thresholds: Thresholds{
				Click:   0.5,
				Type:    0.7,
				Hover:   0.7,
				Verify:  0.7,
				Default: 0.6,
			},
		},
	}
}

// Loader loads configuration (builder pattern).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the KESTREL env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "KESTREL"}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults → YAML file → env overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}
