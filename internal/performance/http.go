package performance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/spikeload/internal/performance/metrics"
)

// Scenario defines the requests a VU issues on every iteration.
type Scenario struct {
	Name     string           `json:"name" yaml:"name"`
	Requests []*RequestConfig `json:"requests" yaml:"requests"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name is used as the metrics key.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Method  string            `json:"method" yaml:"method"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Timeout overrides the client timeout for this request when > 0.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// RequestResult contains the outcome of one HTTP request.
type RequestResult struct {
	VUID          int
	Iteration     int64
	RequestName   string
	StartTime     time.Time
	Duration      time.Duration
	StatusCode    int
	BytesReceived int64
	Error         error
}

// Success reports whether the request counts as successful: no transport
// error and a status in the 200-399 range.
func (r *RequestResult) Success() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 400
}

// HTTPIteration issues the scenario's requests in order and records each
// outcome in the metrics engine. Failed requests never abort the iteration.
type HTTPIteration struct {
	scenario *Scenario
	client   *http.Client
	metrics  *metrics.Engine
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewHTTPIteration creates an iteration body for scenario. limiter may be nil.
func NewHTTPIteration(scenario *Scenario, client *http.Client, metricsEngine *metrics.Engine, limiter *rate.Limiter, logger *zap.Logger) *HTTPIteration {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPIteration{
		scenario: scenario,
		client:   client,
		metrics:  metricsEngine,
		limiter:  limiter,
		logger:   logger,
	}
}

// Func returns the iteration as an IterationFunc.
func (h *HTTPIteration) Func() IterationFunc {
	return h.Run
}

// Run executes one iteration for vu. The returned error is the last request
// error, if any.
func (h *HTTPIteration) Run(ctx context.Context, vu *VirtualUser) error {
	var lastErr error
	for _, req := range h.scenario.Requests {
		if h.limiter != nil {
			if err := h.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		result := h.Execute(ctx, req)
		result.VUID = vu.ID
		result.Iteration = vu.GetIteration()

		if h.metrics != nil {
			h.metrics.RecordLatency(result.Duration, req.Name, result.Success(), result.BytesReceived)
		}
		if !result.Success() {
			lastErr = result.Error
			if lastErr == nil {
				lastErr = fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL, result.StatusCode)
			}
			h.logger.Debug("request failed",
				zap.Int("vu", vu.ID),
				zap.String("request", req.Name),
				zap.Int("status", result.StatusCode),
				zap.Error(lastErr))
		}
	}
	return lastErr
}

// Execute performs a single request. The response body is drained and
// discarded so the connection can be reused.
func (h *HTTPIteration) Execute(ctx context.Context, req *RequestConfig) *RequestResult {
	result := &RequestResult{
		RequestName: req.Name,
		StartTime:   time.Now(),
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		result.Duration = time.Since(result.StartTime)
		result.Error = fmt.Errorf("failed to build request: %w", err)
		return result
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		result.Duration = time.Since(result.StartTime)
		result.Error = err
		return result
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	result.Duration = time.Since(result.StartTime)
	result.StatusCode = resp.StatusCode
	result.BytesReceived = n
	if err != nil {
		result.Error = fmt.Errorf("failed to read response body: %w", err)
	}
	return result
}
