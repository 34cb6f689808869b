package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/spikeload/internal/performance"
	"github.com/wesleyorama2/spikeload/internal/performance/metrics"
)

// RampingVUs ramps VU count up and down according to stages.
//
// A controller ticks every TickInterval, interpolates the target VU count
// for the elapsed time and spawns or retires VUs to match. Retired VUs
// finish their current iteration before exiting. Each VU loops: iterate,
// pause, repeat, until it is retired or the profile ends.
//
// Example stages:
//
//	stages:
//	  - duration: 1m
//	    target: 10     # Ramp from 0 to 10 VUs over 1m
//	  - duration: 1m
//	    target: 50     # Spike to 50 VUs over 1m
//	  - duration: 5m
//	    target: 50     # Hold 50 VUs for 5m
type RampingVUs struct {
	config    *Config
	scheduler *performance.VUScheduler
	metrics   *metrics.Engine
	logger    *zap.Logger

	mu        sync.RWMutex
	startTime time.Time
	done      chan struct{}

	// stopCh is closed by Stop. Run checks it on entry, so a Stop issued
	// before Run has started is not lost.
	stopOnce sync.Once
	stopCh   chan struct{}

	activeVUs        atomic.Int32
	targetVUs        atomic.Int32
	iterations       atomic.Int64
	failedIterations atomic.Int64
	currentStage     atomic.Int32
	running          atomic.Bool
	finished         atomic.Bool

	wg    sync.WaitGroup
	vus   []*performance.VirtualUser
	vusMu sync.Mutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{stopCh: make(chan struct{})}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config == nil {
		return &ValidationError{Field: "config", Message: "config is required"}
	}
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	if e.stopCh == nil {
		e.stopCh = make(chan struct{})
	}

	cfg := *config
	if cfg.GracefulStop == 0 {
		cfg.GracefulStop = DefaultGracefulStop
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	e.config = &cfg
	e.currentStage.Store(-1)
	return nil
}

// Run starts the executor and blocks until completion.
//
// The profile ends when the last stage elapses or ctx is cancelled. Either
// way no new iterations start afterwards; iterations already in flight run
// on a context detached from ctx and may finish within GracefulStop, after
// which they are cancelled. Run returns once every VU has exited.
func (e *RampingVUs) Run(ctx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return errors.New("executor not initialized")
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("executor is already running")
	}
	defer e.running.Store(false)

	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.logger = scheduler.Logger().With(zap.String("executor", e.config.Name))

	profileCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	defer cancel()
	go func() {
		select {
		case <-e.stopCh:
			cancel()
		case <-profileCtx.Done():
		}
	}()

	iterCtx, hardStop := context.WithCancel(context.WithoutCancel(ctx))
	defer hardStop()

	e.mu.Lock()
	e.startTime = time.Now()
	e.done = make(chan struct{})
	e.mu.Unlock()
	defer close(e.done)

	e.logger.Info("profile started",
		zap.Int("stages", len(e.config.Stages)),
		zap.Duration("duration", e.config.TotalDuration()),
		zap.Int("maxVUs", MaxVUs(e.config.Stages, e.config.StartVUs)))

	e.tick(profileCtx, iterCtx)
	e.vuController(profileCtx, iterCtx)

	e.gracefulShutdown(hardStop)

	e.scheduler.UpdateMetrics()
	e.metrics.SetPhase(metrics.PhaseDone)
	e.finished.Store(true)

	e.logger.Info("profile finished",
		zap.Int64("iterations", e.iterations.Load()),
		zap.Int64("failedIterations", e.failedIterations.Load()),
		zap.Bool("interrupted", ctx.Err() != nil))

	return nil
}

// vuController re-evaluates the VU target on every tick until the profile ends.
func (e *RampingVUs) vuController(profileCtx, iterCtx context.Context) {
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-profileCtx.Done():
			return
		case <-ticker.C:
			e.tick(profileCtx, iterCtx)
		}
	}
}

func (e *RampingVUs) tick(profileCtx, iterCtx context.Context) {
	elapsed := time.Since(e.getStartTime())
	target := TargetVUs(e.config.Stages, e.config.StartVUs, elapsed)
	e.targetVUs.Store(int32(target))
	e.updateStage(StageIndex(e.config.Stages, elapsed))
	e.adjustVUs(profileCtx, iterCtx, target)
}

// updateStage records stage transitions and the matching metrics phase.
func (e *RampingVUs) updateStage(idx int) {
	prev := int(e.currentStage.Swap(int32(idx)))
	if prev == idx {
		return
	}

	phase := StagePhase(e.config.Stages, e.config.StartVUs, idx)
	e.metrics.SetPhase(phase)

	stage := e.config.Stages[idx]
	e.logger.Info("stage started",
		zap.Int("stage", idx+1),
		zap.String("name", stage.Name),
		zap.Int("target", stage.Target),
		zap.Duration("duration", stage.Duration),
		zap.String("phase", string(phase)))
}

// adjustVUs spawns or retires VUs so that target of them are live.
// Excess VUs are retired newest first and drain their current iteration.
func (e *RampingVUs) adjustVUs(profileCtx, iterCtx context.Context, target int) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	if profileCtx.Err() != nil {
		return
	}

	current := len(e.vus)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			vu := e.scheduler.SpawnVU()
			e.vus = append(e.vus, vu)
			e.wg.Add(1)
			go e.runVU(profileCtx, iterCtx, vu)
			e.logger.Debug("vu spawned", zap.Int("vu", vu.ID))
		}
	case target < current:
		for i := current - 1; i >= target; i-- {
			e.vus[i].RequestStop()
			e.logger.Debug("vu retiring", zap.Int("vu", e.vus[i].ID))
			e.vus[i] = nil
		}
		e.vus = e.vus[:target]
	}

	e.scheduler.UpdateMetrics()
}

// runVU runs a single VU until it is retired or the profile ends.
func (e *RampingVUs) runVU(profileCtx, iterCtx context.Context, vu *performance.VirtualUser) {
	defer e.wg.Done()
	defer e.scheduler.RemoveVU(vu.ID)

	e.activeVUs.Add(1)
	defer e.activeVUs.Add(-1)

	for {
		if profileCtx.Err() != nil || vu.IsRetiring() {
			return
		}

		err := vu.RunIteration(iterCtx)
		if errors.Is(err, performance.ErrVUStopped) {
			return
		}
		e.iterations.Add(1)
		if err != nil {
			e.failedIterations.Add(1)
			start, end := vu.LastIteration()
			e.logger.Debug("iteration failed",
				zap.Int("vu", vu.ID),
				zap.Int64("iteration", vu.GetIteration()),
				zap.Duration("took", end.Sub(start)),
				zap.Error(err))
		}

		if !e.pause(profileCtx, vu) {
			return
		}
	}
}

// pause sleeps according to the pacing config. It returns false if the
// profile ended or the VU was retired while waiting.
func (e *RampingVUs) pause(profileCtx context.Context, vu *performance.VirtualUser) bool {
	wait := e.pacingDelay()
	if wait <= 0 {
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-profileCtx.Done():
		return false
	case <-vu.StopRequested():
		return false
	case <-timer.C:
		return true
	}
}

func (e *RampingVUs) pacingDelay() time.Duration {
	p := e.config.Pacing
	if p == nil {
		return 0
	}

	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		if diff := p.Max - p.Min; diff > 0 {
			return p.Min + time.Duration(rand.Int63n(int64(diff)))
		}
		return p.Min
	default:
		return 0
	}
}

// gracefulShutdown retires every VU, including ones already draining after
// an earlier ramp-down, and waits for them to exit. Iterations still running
// after GracefulStop are cancelled through hardStop.
func (e *RampingVUs) gracefulShutdown(hardStop context.CancelFunc) {
	e.vusMu.Lock()
	e.vus = nil
	pending := e.scheduler.StopAllVUs()
	e.vusMu.Unlock()

	deadline := time.Now().Add(e.config.GracefulStop)
	for _, vu := range pending {
		if vu.WaitForStop(time.Until(deadline)) {
			continue
		}
		e.logger.Warn("graceful stop expired, cancelling in-flight iterations",
			zap.Duration("gracefulStop", e.config.GracefulStop),
			zap.Int("vus", int(e.activeVUs.Load())))
		hardStop()
		break
	}

	e.wg.Wait()
}

func (e *RampingVUs) getStartTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.startTime
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	if e.finished.Load() {
		return 1.0
	}
	start := e.getStartTime()
	if start.IsZero() || e.config == nil {
		return 0.0
	}

	progress := float64(time.Since(start)) / float64(e.config.TotalDuration())
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the number of running VU goroutines, including VUs
// draining after retirement.
func (e *RampingVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	stats := &Stats{
		ActiveVUs:        int(e.activeVUs.Load()),
		TargetVUs:        int(e.targetVUs.Load()),
		Iterations:       e.iterations.Load(),
		FailedIterations: e.failedIterations.Load(),
		CurrentStage:     int(e.currentStage.Load()),
	}
	if e.config == nil {
		return stats
	}

	stats.StartTime = e.getStartTime()
	if !stats.StartTime.IsZero() {
		stats.Elapsed = time.Since(stats.StartTime)
	}
	stats.TotalDuration = e.config.TotalDuration()
	stats.TotalStages = len(e.config.Stages)
	stats.MaxVUs = MaxVUs(e.config.Stages, e.config.StartVUs)
	if e.scheduler != nil {
		stats.SpawnedVUs = e.scheduler.TotalSpawned()
	}
	if idx := stats.CurrentStage; idx >= 0 && idx < len(e.config.Stages) {
		stats.CurrentStageName = e.config.Stages[idx].Name
	}
	return stats
}

// Stop ends the profile early. In-flight iterations still get GracefulStop
// to finish. Stop waits until Run returns or ctx is done.
//
// A Stop before Run makes the next Run end immediately.
func (e *RampingVUs) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stopCh) })

	e.mu.RLock()
	done := e.done
	e.mu.RUnlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
