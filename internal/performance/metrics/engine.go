// Package metrics collects request results produced by virtual users and
// aggregates them into latency histograms, counters and a time series.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects and aggregates performance metrics using HDR histograms.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations,
// histograms are guarded by a mutex (hdrhistogram is not thread-safe), and
// the bucket emitter runs in its own goroutine until Stop is called.
type Engine struct {
	config EngineConfig

	histMu       sync.Mutex
	latencyHist  *hdrhistogram.Histogram
	requestHists map[string]*hdrhistogram.Histogram

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64
	activeVUs       atomic.Int32

	buckets *TimeBucketStore

	phaseMu      sync.RWMutex
	currentPhase Phase
	phaseHistory []PhaseChange

	startTime time.Time

	stopOnce      sync.Once
	emitterCancel context.CancelFunc
	emitterDone   chan struct{}
}

// NewEngine creates a metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a metrics engine and starts its bucket emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = defaults.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	e := &Engine{
		config:        config,
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		requestHists:  make(map[string]*hdrhistogram.Histogram),
		buckets:       NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  PhaseInit,
		phaseHistory:  []PhaseChange{{Phase: PhaseInit, Timestamp: now}},
		startTime:     now,
		emitterCancel: cancel,
		emitterDone:   make(chan struct{}),
	}

	go e.runEmitter(ctx)
	return e
}

// RecordLatency records the outcome of a single request.
//
// requestName may be empty to skip the per-request breakdown.
func (e *Engine) RecordLatency(duration time.Duration, requestName string, success bool, bytes int64) {
	micros := duration.Microseconds()
	if micros < e.config.HistogramMin {
		micros = e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		micros = e.config.HistogramMax
	}

	e.histMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	if requestName != "" {
		hist, ok := e.requestHists[requestName]
		if !ok {
			hist = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
			e.requestHists[requestName] = hist
		}
		_ = hist.RecordValue(micros)
	}
	e.histMu.Unlock()

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}

	e.buckets.RecordRequest(success)
}

// SetPhase records a phase transition. Setting the current phase again is a no-op.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}
	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns a copy of all phase transitions.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// SetActiveVUs updates the active VU gauge.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the active VU gauge.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

func (e *Engine) runEmitter(ctx context.Context) {
	defer close(e.emitterDone)

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.buckets.CreateBucket(e.counters(), e.GetLatencyPercentiles())
}

// counters returns a snapshot holding only the counters, gauge and phase.
func (e *Engine) counters() Snapshot {
	return Snapshot{
		TotalRequests:   e.totalRequests.Load(),
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  e.failedRequests.Load(),
		TotalBytes:      e.totalBytes.Load(),
		ActiveVUs:       e.GetActiveVUs(),
		CurrentPhase:    e.GetPhase(),
	}
}

// GetLatencyPercentiles returns the current overall latency percentiles.
func (e *Engine) GetLatencyPercentiles() LatencyPercentiles {
	e.histMu.Lock()
	defer e.histMu.Unlock()

	return LatencyPercentiles{
		Min: micros(e.latencyHist.Min()),
		Max: micros(e.latencyHist.Max()),
		P50: micros(e.latencyHist.ValueAtQuantile(50)),
		P90: micros(e.latencyHist.ValueAtQuantile(90)),
		P95: micros(e.latencyHist.ValueAtQuantile(95)),
		P99: micros(e.latencyHist.ValueAtQuantile(99)),
	}
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.histMu.Lock()
	latency := latencyStats(e.latencyHist)
	e.histMu.Unlock()

	snap := e.counters()
	snap.Latency = latency
	snap.StartTime = e.startTime
	snap.Timestamp = time.Now()
	snap.Elapsed = snap.Timestamp.Sub(e.startTime)

	if secs := snap.Elapsed.Seconds(); secs > 0 {
		snap.RPS = float64(snap.TotalRequests) / secs
	}
	if steady, n := e.buckets.SteadyStateRPS(); n > 0 {
		snap.SteadyStateRPS = steady
	}
	if snap.TotalRequests > 0 {
		snap.ErrorRate = float64(snap.FailedRequests) / float64(snap.TotalRequests)
	}

	return &snap
}

// GetRequestStats returns latency statistics keyed by request name.
func (e *Engine) GetRequestStats() map[string]LatencyStats {
	e.histMu.Lock()
	defer e.histMu.Unlock()

	result := make(map[string]LatencyStats, len(e.requestHists))
	for name, hist := range e.requestHists {
		result[name] = latencyStats(hist)
	}
	return result
}

// GetTimeSeries returns all emitted time buckets.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.buckets.GetBuckets()
}

// Stop stops the emitter and emits a final bucket. It is safe to call more
// than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		<-e.emitterDone
		e.emitBucket()
	})
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    micros(h.Min()),
		Max:    micros(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    micros(h.ValueAtQuantile(50)),
		P90:    micros(h.ValueAtQuantile(90)),
		P95:    micros(h.ValueAtQuantile(95)),
		P99:    micros(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
