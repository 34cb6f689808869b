package perf

import (
	"context"

	"go.uber.org/zap"

	"github.com/wesleyorama2/spikeload/internal/performance"
	"github.com/wesleyorama2/spikeload/internal/performance/config"
	"github.com/wesleyorama2/spikeload/internal/performance/engine"
	"github.com/wesleyorama2/spikeload/internal/performance/executor"
	"github.com/wesleyorama2/spikeload/internal/performance/metrics"
)

type (
	// TestConfig describes a staged load test.
	TestConfig = config.TestConfig
	// StageConfig is one stage of the load profile.
	StageConfig = config.StageConfig
	// RequestConfig is one HTTP GET issued by every iteration.
	RequestConfig = config.RequestConfig
	// Duration is a config duration that also accepts bare seconds.
	Duration = config.Duration

	// TestResult contains the complete results of a run.
	TestResult = engine.TestResult
	// ThresholdResult is the outcome of one threshold.
	ThresholdResult = engine.ThresholdResult

	// Snapshot is a point-in-time view of the metrics.
	Snapshot = metrics.Snapshot
	// Stats are live executor statistics.
	Stats = executor.Stats

	// VirtualUser is a simulated user running iterations.
	VirtualUser = performance.VirtualUser
	// IterationFunc is the body of one iteration.
	IterationFunc = performance.IterationFunc
)

// LoadConfig loads a YAML or JSON test configuration.
func LoadConfig(path string) (*TestConfig, error) {
	return config.LoadConfig(path)
}

// SpikeProfile returns the built-in sudden-spike test against url.
func SpikeProfile(url string) *TestConfig {
	return config.SpikeProfile(url)
}

// Option configures a Runner.
type Option = engine.Option

// WithLogger sets the logger used during the run.
func WithLogger(logger *zap.Logger) Option {
	return engine.WithLogger(logger)
}

// WithIteration replaces the configured requests with fn.
func WithIteration(fn IterationFunc) Option {
	return engine.WithIteration(fn)
}

// Runner provides a high-level API for running load tests.
//
//	cfg, _ := perf.LoadConfig("spike.yaml")
//	runner, _ := perf.NewRunner(cfg)
//	result, _ := runner.Run(context.Background())
type Runner struct {
	engine *engine.Engine
}

// NewRunner creates a runner for cfg. Defaults are applied to cfg and it is
// validated.
func NewRunner(cfg *TestConfig, opts ...Option) (*Runner, error) {
	eng, err := engine.NewEngine(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Runner{engine: eng}, nil
}

// Run executes the load profile. Cancelling ctx ends it early.
func (r *Runner) Run(ctx context.Context) (*TestResult, error) {
	return r.engine.Run(ctx)
}

// Stop ends a run early and waits for it to wind down or ctx to expire.
func (r *Runner) Stop(ctx context.Context) error {
	return r.engine.Stop(ctx)
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (r *Runner) GetMetrics() *Snapshot {
	return r.engine.GetMetrics()
}

// GetStats returns live executor statistics, or nil before Run.
func (r *Runner) GetStats() *Stats {
	return r.engine.GetStats()
}

// GetProgress returns run progress from 0.0 to 1.0.
func (r *Runner) GetProgress() float64 {
	return r.engine.GetProgress()
}

// RunTest is shorthand for NewRunner followed by Run.
func RunTest(ctx context.Context, cfg *TestConfig, opts ...Option) (*TestResult, error) {
	runner, err := NewRunner(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx)
}
