// Package engine runs a staged load test end to end.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/spikeload/internal/performance"
	"github.com/wesleyorama2/spikeload/internal/performance/config"
	"github.com/wesleyorama2/spikeload/internal/performance/executor"
	"github.com/wesleyorama2/spikeload/internal/performance/metrics"
)

// Engine is the orchestrator for a single load test.
//
// It coordinates:
//   - Configuration defaults and validation
//   - The VU scheduler and the ramping-VUs executor
//   - Metrics collection
//   - Threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("spike.yaml")
//	eng, _ := engine.NewEngine(cfg, engine.WithLogger(logger))
//	result, _ := eng.Run(ctx)
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config        *config.TestConfig
	thresholds    []*config.Threshold
	httpConfig    performance.HTTPClientConfig
	logger        *zap.Logger
	iterate       performance.IterationFunc
	metricsConfig metrics.EngineConfig
	tickInterval  time.Duration

	mu            sync.RWMutex
	metricsEngine *metrics.Engine
	executor      executor.Executor
	runID         string
	startTime     time.Time
	running       bool
	cancelRun     context.CancelFunc
	runDone       chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine, scheduler and executor.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIteration replaces the configured HTTP requests with fn as the body
// of every iteration.
func WithIteration(fn performance.IterationFunc) Option {
	return func(e *Engine) {
		e.iterate = fn
	}
}

// WithMetricsConfig overrides the metrics engine configuration.
func WithMetricsConfig(cfg metrics.EngineConfig) Option {
	return func(e *Engine) {
		e.metricsConfig = cfg
	}
}

// WithTickInterval overrides how often the executor re-evaluates the VU target.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.tickInterval = d
	}
}

// RequestStats contains statistics for a specific request.
type RequestStats struct {
	Name    string               `json:"name"`
	Count   int64                `json:"count"`
	Latency metrics.LatencyStats `json:"latency"`
}

// TestResult contains the complete test results.
type TestResult struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	// Interrupted is set when the run was cancelled before the last stage ended.
	Interrupted bool `json:"interrupted"`

	Stages           []executor.Stage `json:"stages"`
	MaxVUs           int              `json:"maxVUs"`
	SpawnedVUs       int              `json:"spawnedVUs"`
	Iterations       int64            `json:"iterations"`
	FailedIterations int64            `json:"failedIterations"`

	Metrics      *metrics.Snapshot       `json:"metrics"`
	RequestStats map[string]RequestStats `json:"requestStats,omitempty"`
	Phases       []metrics.PhaseChange   `json:"phases,omitempty"`
	TimeSeries   []*metrics.TimeBucket   `json:"timeSeries,omitempty"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	// Error is set if the run failed outright.
	Error string `json:"error,omitempty"`
}

// NewEngine creates a new engine for cfg.
//
// Defaults are applied to cfg in place before validation. Returns an error
// if the configuration is invalid.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("invalid configuration: config is required")
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	thresholds, err := cfg.Thresholds.Parse()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		config:        cfg,
		thresholds:    thresholds,
		httpConfig:    cfg.HTTPClientConfig(),
		logger:        zap.NewNop(),
		metricsConfig: metrics.DefaultEngineConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes the load profile and returns the test results.
//
// Cancelling ctx ends the profile early; in-flight iterations still get the
// configured graceful stop period and the partial result is returned with
// Interrupted set.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	// Stop cancels runCtx, so a stop that lands before the executor has
	// started still ends the run.
	runCtx, cancelRun := context.WithCancel(ctx)
	runDone := make(chan struct{})

	e.running = true
	e.runID = uuid.New().String()
	e.startTime = time.Now()
	e.metricsEngine = metrics.NewEngineWithConfig(e.metricsConfig)
	e.executor = nil
	e.cancelRun = cancelRun
	e.runDone = runDone
	runID, startTime, metricsEngine := e.runID, e.startTime, e.metricsEngine
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancelRun = nil
		e.mu.Unlock()
		cancelRun()
		close(runDone)
	}()
	defer metricsEngine.Stop()

	logger := e.logger.With(zap.String("run_id", runID))

	execConfig := e.config.ToExecutorConfig()
	execConfig.TickInterval = e.tickInterval

	exec, err := executor.CreateAndInitExecutor(runCtx, execConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	schedulerOpts := []performance.SchedulerOption{
		performance.WithLogger(logger),
		performance.WithHTTPClient(performance.NewHTTPClient(e.httpConfig)),
		performance.WithRateLimit(e.config.Settings.MaxRPS),
	}
	if e.iterate != nil {
		schedulerOpts = append(schedulerOpts, performance.WithIteration(e.iterate))
	}
	scheduler := performance.NewVUScheduler(e.config.ToScenario(), metricsEngine, schedulerOpts...)
	defer scheduler.Shutdown()

	e.mu.Lock()
	e.executor = exec
	e.mu.Unlock()

	logger.Info("test started",
		zap.String("name", e.config.Name),
		zap.Int("stages", len(execConfig.Stages)),
		zap.Duration("duration", execConfig.TotalDuration()),
		zap.Int("maxVUs", executor.MaxVUs(execConfig.Stages, execConfig.StartVUs)),
		zap.Float64("maxRPS", e.config.Settings.MaxRPS))

	runErr := exec.Run(runCtx, scheduler, metricsEngine)

	// Flush the final time bucket before reading results.
	metricsEngine.Stop()

	result := e.buildResult(runID, startTime, execConfig, exec, metricsEngine)
	result.Interrupted = runCtx.Err() != nil
	if runErr != nil {
		result.Error = runErr.Error()
		result.Passed = false
	}

	logger.Info("test finished",
		zap.Duration("duration", result.Duration),
		zap.Int64("requests", result.Metrics.TotalRequests),
		zap.Int64("failed", result.Metrics.FailedRequests),
		zap.Bool("interrupted", result.Interrupted),
		zap.Bool("passed", result.Passed))

	return result, runErr
}

func (e *Engine) buildResult(runID string, startTime time.Time, execConfig *executor.Config, exec executor.Executor, metricsEngine *metrics.Engine) *TestResult {
	snapshot := metricsEngine.GetSnapshot()
	stats := exec.GetStats()

	requestStats := make(map[string]RequestStats)
	for name, latency := range metricsEngine.GetRequestStats() {
		requestStats[name] = RequestStats{
			Name:    name,
			Count:   latency.Count,
			Latency: latency,
		}
	}

	thresholdResults := evaluateThresholds(e.thresholds, snapshot)
	passed := true
	for _, tr := range thresholdResults {
		if !tr.Passed {
			passed = false
			break
		}
	}

	endTime := time.Now()
	return &TestResult{
		RunID:            runID,
		Name:             e.config.Name,
		Description:      e.config.Description,
		StartTime:        startTime,
		EndTime:          endTime,
		Duration:         endTime.Sub(startTime),
		Stages:           execConfig.Stages,
		MaxVUs:           stats.MaxVUs,
		SpawnedVUs:       stats.SpawnedVUs,
		Iterations:       stats.Iterations,
		FailedIterations: stats.FailedIterations,
		Metrics:          snapshot,
		RequestStats:     requestStats,
		Phases:           metricsEngine.GetPhaseHistory(),
		TimeSeries:       metricsEngine.GetTimeSeries(),
		Passed:           passed,
		Thresholds:       thresholdResults,
	}
}

// GetConfig returns the test configuration.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}

// RunID returns the ID of the current or last run, or "" before the first run.
func (e *Engine) RunID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runID
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	m := e.metricsEngine
	e.mu.RUnlock()

	if m == nil {
		return nil
	}
	return m.GetSnapshot()
}

// GetStats returns current executor statistics, or nil before Run.
func (e *Engine) GetStats() *executor.Stats {
	e.mu.RLock()
	exec := e.executor
	e.mu.RUnlock()

	if exec == nil {
		return nil
	}
	return exec.GetStats()
}

// GetProgress returns the test progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	exec := e.executor
	e.mu.RUnlock()

	if exec == nil {
		return 0.0
	}
	return exec.GetProgress()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends the profile early and waits for Run to wind down or ctx to
// expire. It is a no-op when no run is in progress.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	running, exec, cancelRun, done := e.running, e.executor, e.cancelRun, e.runDone
	e.mu.RUnlock()

	if !running || cancelRun == nil {
		return nil
	}
	cancelRun()

	if exec != nil {
		if err := exec.Stop(ctx); err != nil {
			return err
		}
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
