// Command kestrel runs natural-language browser test scenarios.
//
// Usage:
//
//	kestrel run --scenarios tests.yaml            # run a scenario file
//	kestrel run --config kestrel.yaml --scenarios tests.yaml
//	kestrel config                                # print effective config
//	kestrel version                               # show version info
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/kestrelqa/kestrel"
	"github.com/kestrelqa/kestrel/config"
	"github.com/kestrelqa/kestrel/planner"
	"github.com/kestrelqa/kestrel/runner"
	"github.com/kestrelqa/kestrel/types"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runScenarios(os.Args[2:]))
	case "config":
		printConfig(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// scenarioFile is the on-disk shape of a scenario suite.
type scenarioFile struct {
	Scenarios []planner.Scenario `yaml:"scenarios"`
}

func runScenarios(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	scenarioPath := fs.String("scenarios", "", "Path to scenario file (YAML)")
	failFast := fs.Bool("fail-fast", false, "Stop a scenario at its first failed step")
	fs.Parse(args)

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "run requires --scenarios <file>")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	suite, err := loadScenarios(*scenarioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load scenarios: %v\n", err)
		return 1
	}

	logger.Info("starting kestrel",
		zap.String("version", Version),
		zap.Int("scenarios", len(suite.Scenarios)))

	opts := []kestrel.Option{kestrel.WithConfig(cfg), kestrel.WithLogger(logger)}
	if *failFast {
		opts = append(opts, kestrel.WithFailFast())
	}
	session, err := kestrel.New(opts...)
	if err != nil {
		logger.Error("failed to start session", zap.Error(err))
		return 1
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	for i := range suite.Scenarios {
		sc := &suite.Scenarios[i]
		if sc.ID == "" {
			sc.ID = fmt.Sprintf("scenario-%d", i+1)
		}
		report, err := session.Run(ctx, sc)
		if err != nil {
			logger.Error("scenario aborted",
				zap.String("scenario", sc.Name),
				zap.Error(err))
			exitCode = 1
			if ctx.Err() != nil {
				break
			}
			continue
		}
		printReport(report)
		if !report.Passed {
			exitCode = 1
		}
	}
	return exitCode
}

func printReport(r *runner.Report) {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	fmt.Printf("%s  %s  (%d steps, %s)\n", status, r.Scenario.Name, len(r.Results), r.Duration.Round(10*time.Millisecond))
	for _, res := range r.Results {
		mark := "ok"
		switch res.Status {
		case types.StatusFailure:
			mark = "failed"
		case types.StatusError:
			mark = "error"
		}
		line := fmt.Sprintf("  [%s] %s", mark, res.StepID)
		if res.Selector != "" {
			line += "  " + res.Selector
		}
		if res.Error != "" {
			line += "  " + res.Error
		}
		fmt.Println(line)
	}
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	return loader.Load()
}

func loadScenarios(path string) (*scenarioFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var suite scenarioFile
	if err := yaml.Unmarshal(raw, &suite); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(suite.Scenarios) == 0 {
		// a bare single scenario is also accepted
		var single planner.Scenario
		if err := yaml.Unmarshal(raw, &single); err == nil && single.Objective != "" {
			suite.Scenarios = []planner.Scenario{single}
		}
	}
	if len(suite.Scenarios) == 0 {
		return nil, fmt.Errorf("%s contains no scenarios", path)
	}
	for i, sc := range suite.Scenarios {
		if sc.Objective == "" {
			return nil, fmt.Errorf("scenario %d has no objective", i+1)
		}
	}
	return &suite, nil
}

func printConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
}

func printVersion() {
	fmt.Printf("kestrel %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`kestrel - adaptive browser test runner

Usage:
  kestrel <command> [options]

Commands:
  run       Execute a scenario file against a browser
  config    Print the effective configuration
  version   Show version information
  help      Show this help message

Options for 'run':
  --scenarios <path>   Scenario file (YAML, required)
  --config <path>      Configuration file (YAML)
  --fail-fast          Stop a scenario at its first failed step

Scenario file:
  scenarios:
    - name: login
      objective: log in with demo credentials and verify the dashboard
      start_url: https://example.test/login

Examples:
  kestrel run --scenarios smoke.yaml
  kestrel run --config kestrel.yaml --scenarios smoke.yaml --fail-fast
  kestrel config`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
