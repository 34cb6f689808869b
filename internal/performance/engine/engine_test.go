package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wesleyorama2/spikeload/internal/performance"
	"github.com/wesleyorama2/spikeload/internal/performance/config"
	"github.com/wesleyorama2/spikeload/internal/performance/metrics"
)

func newServer(t *testing.T, status int, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)
	return server
}

func shortConfig(url string, stages ...config.StageConfig) *config.TestConfig {
	sleep := config.Duration(10 * time.Millisecond)
	return &config.TestConfig{
		Name:     "short-spike",
		Stages:   stages,
		Sleep:    &sleep,
		Requests: []config.RequestConfig{{Name: "info", URL: url}},
	}
}

func stage(d time.Duration, target int) config.StageConfig {
	return config.StageConfig{Duration: config.Duration(d), Target: target}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	_, err := NewEngine(nil)
	assert.Error(t, err)

	_, err = NewEngine(&config.TestConfig{Requests: []config.RequestConfig{{URL: "http://localhost"}}})
	assert.ErrorContains(t, err, "invalid configuration")

	cfg := shortConfig("http://localhost", stage(time.Second, 1))
	cfg.Requests[0].Method = "POST"
	_, err = NewEngine(cfg)
	assert.ErrorContains(t, err, "only GET is supported")
}

func TestNewEngine_AppliesDefaults(t *testing.T) {
	cfg := &config.TestConfig{
		Stages:   []config.StageConfig{stage(time.Second, 1)},
		Requests: []config.RequestConfig{{URL: "http://localhost"}},
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultName, e.GetConfig().Name)
	require.NotNil(t, e.GetConfig().Sleep)
	assert.Equal(t, config.Duration(time.Second), *e.GetConfig().Sleep)
	assert.Equal(t, 30*time.Second, e.httpConfig.Timeout)
}

func TestEngine_BeforeRun(t *testing.T) {
	e, err := NewEngine(shortConfig("http://localhost", stage(time.Second, 1)))
	require.NoError(t, err)

	assert.False(t, e.IsRunning())
	assert.Equal(t, "", e.RunID())
	assert.Nil(t, e.GetMetrics())
	assert.Nil(t, e.GetStats())
	assert.Equal(t, 0.0, e.GetProgress())
	assert.NoError(t, e.Stop(context.Background()))
}

func TestEngine_Run(t *testing.T) {
	var hits atomic.Int64
	server := newServer(t, http.StatusOK, &hits)

	cfg := shortConfig(server.URL, stage(100*time.Millisecond, 3), stage(200*time.Millisecond, 3))
	cfg.Thresholds = &config.ThresholdsConfig{
		HTTPReqDuration: []string{"p95 < 5s"},
		HTTPReqFailed:   []string{"rate < 0.01"},
		HTTPReqs:        []string{"count > 0"},
	}

	e, err := NewEngine(cfg, WithLogger(zaptest.NewLogger(t)), WithTickInterval(10*time.Millisecond))
	require.NoError(t, err)

	result, err := e.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	_, err = uuid.Parse(result.RunID)
	assert.NoError(t, err, "run ID should be a UUID")
	assert.Equal(t, result.RunID, e.RunID())
	assert.Equal(t, "short-spike", result.Name)
	assert.False(t, result.Interrupted)
	assert.Empty(t, result.Error)
	assert.GreaterOrEqual(t, result.Duration, 300*time.Millisecond)

	assert.Equal(t, hits.Load(), result.Metrics.TotalRequests)
	assert.Equal(t, result.Metrics.TotalRequests, result.Iterations)
	assert.Equal(t, int64(0), result.FailedIterations)
	assert.Equal(t, 3, result.MaxVUs)
	assert.Equal(t, 3, result.SpawnedVUs)
	assert.Len(t, result.Stages, 2)
	assert.Contains(t, result.RequestStats, "info")
	assert.NotEmpty(t, result.TimeSeries)

	require.NotEmpty(t, result.Phases)
	assert.Equal(t, metrics.PhaseInit, result.Phases[0].Phase)
	assert.Equal(t, metrics.PhaseDone, result.Phases[len(result.Phases)-1].Phase)

	assert.True(t, result.Passed)
	require.Len(t, result.Thresholds, 3)
	for _, tr := range result.Thresholds {
		assert.True(t, tr.Passed, "%s %s: %s", tr.Metric, tr.Expression, tr.Message)
	}

	assert.False(t, e.IsRunning())
	assert.Equal(t, 1.0, e.GetProgress())
}

func TestEngine_Run_FailedThreshold(t *testing.T) {
	var hits atomic.Int64
	server := newServer(t, http.StatusInternalServerError, &hits)

	cfg := shortConfig(server.URL, stage(0, 2), stage(200*time.Millisecond, 2))
	cfg.Thresholds = &config.ThresholdsConfig{HTTPReqFailed: []string{"rate < 0.01"}}

	e, err := NewEngine(cfg, WithTickInterval(10*time.Millisecond))
	require.NoError(t, err)

	result, err := e.Run(context.Background())
	require.NoError(t, err, "failing requests are not a run error")

	assert.False(t, result.Passed)
	require.Len(t, result.Thresholds, 1)
	assert.False(t, result.Thresholds[0].Passed)
	assert.Equal(t, "1.0000", result.Thresholds[0].Value)
	assert.NotEmpty(t, result.Thresholds[0].Message)
	assert.Greater(t, result.Metrics.FailedRequests, int64(2))
}

func TestEngine_Run_Cancelled(t *testing.T) {
	var hits atomic.Int64
	server := newServer(t, http.StatusOK, &hits)

	e, err := NewEngine(shortConfig(server.URL, stage(0, 2), stage(time.Minute, 2)), WithTickInterval(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := e.Run(ctx)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, result.Interrupted)
	assert.Greater(t, hits.Load(), int64(0))
	assert.Equal(t, hits.Load(), result.Metrics.TotalRequests)
}

func TestEngine_Stop(t *testing.T) {
	e, err := NewEngine(shortConfig("http://localhost", stage(0, 2), stage(time.Minute, 2)),
		WithTickInterval(10*time.Millisecond),
		WithIteration(func(ctx context.Context, vu *performance.VirtualUser) error { return nil }))
	require.NoError(t, err)

	done := make(chan *TestResult, 1)
	go func() {
		result, _ := e.Run(context.Background())
		done <- result
	}()

	require.Eventually(t, e.IsRunning, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		stats := e.GetStats()
		return stats != nil && !stats.StartTime.IsZero() && stats.Iterations > 0
	}, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(stopCtx))

	select {
	case result := <-done:
		require.NotNil(t, result)
		assert.Greater(t, result.Iterations, int64(0))
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestEngine_StopRightAfterStart(t *testing.T) {
	e, err := NewEngine(shortConfig("http://localhost", stage(0, 2), stage(time.Minute, 2)),
		WithTickInterval(10*time.Millisecond),
		WithIteration(func(ctx context.Context, vu *performance.VirtualUser) error { return nil }))
	require.NoError(t, err)

	done := make(chan *TestResult, 1)
	go func() {
		result, _ := e.Run(context.Background())
		done <- result
	}()

	// Stop as soon as the run is visible, before the executor may have
	// started. The stop must not be dropped.
	require.Eventually(t, e.IsRunning, time.Second, time.Millisecond)
	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(stopCtx))

	select {
	case result := <-done:
		require.NotNil(t, result)
		assert.True(t, result.Interrupted)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.False(t, e.IsRunning())
}

func TestEngine_WithIteration(t *testing.T) {
	var calls atomic.Int64
	e, err := NewEngine(shortConfig("http://localhost", stage(0, 4), stage(150*time.Millisecond, 4)),
		WithTickInterval(10*time.Millisecond),
		WithIteration(func(ctx context.Context, vu *performance.VirtualUser) error {
			calls.Add(1)
			return nil
		}))
	require.NoError(t, err)

	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, calls.Load(), result.Iterations)
	assert.Greater(t, calls.Load(), int64(4))
	assert.Equal(t, int64(0), result.Metrics.TotalRequests, "custom iterations issue no HTTP requests")
}

func TestEngine_Run_MaxRPS(t *testing.T) {
	var hits atomic.Int64
	server := newServer(t, http.StatusOK, &hits)

	zero := config.Duration(0)
	cfg := shortConfig(server.URL, stage(0, 5), stage(500*time.Millisecond, 5))
	cfg.Sleep = &zero
	cfg.Settings.MaxRPS = 10

	e, err := NewEngine(cfg, WithTickInterval(10*time.Millisecond))
	require.NoError(t, err)

	result, err := e.Run(context.Background())
	require.NoError(t, err)

	// Burst of 10, 5 more over 500ms, and at most one queued wait per VU.
	assert.LessOrEqual(t, result.Metrics.TotalRequests, int64(20))
	assert.Greater(t, result.Metrics.TotalRequests, int64(0))
}

func TestEngine_RunTwice(t *testing.T) {
	e, err := NewEngine(shortConfig("http://localhost", stage(300*time.Millisecond, 1)),
		WithTickInterval(10*time.Millisecond),
		WithIteration(func(ctx context.Context, vu *performance.VirtualUser) error { return nil }))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background())
		done <- err
	}()
	require.Eventually(t, e.IsRunning, time.Second, 5*time.Millisecond)

	_, err = e.Run(context.Background())
	assert.ErrorContains(t, err, "already running")
	require.NoError(t, <-done)

	first := e.RunID()
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, e.RunID(), "each run gets a fresh ID")
}
