// Package output renders load test progress and results for humans and
// machines.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/spikeload/internal/performance/config"
	"github.com/wesleyorama2/spikeload/internal/performance/engine"
	"github.com/wesleyorama2/spikeload/internal/performance/executor"
	"github.com/wesleyorama2/spikeload/internal/performance/metrics"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	ruleWidth = 56
)

// ProgressSource is polled by Watch. *engine.Engine implements it.
type ProgressSource interface {
	GetMetrics() *metrics.Snapshot
	GetStats() *executor.Stats
	GetProgress() float64
}

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress float64
	Elapsed  time.Duration
	Total    time.Duration

	ActiveVUs int
	TargetVUs int

	Stage       int // 1-indexed, 0 before the first stage
	TotalStages int
	StageName   string
	Phase       string

	RPS       float64
	Requests  int64
	Errors    int64
	ErrorRate float64

	P95 time.Duration
	Avg time.Duration
}

// NewLiveStats combines a metrics snapshot and executor stats. Either may be nil.
func NewLiveStats(snapshot *metrics.Snapshot, stats *executor.Stats, progress float64) LiveStats {
	ls := LiveStats{Progress: progress, Phase: string(metrics.PhaseInit)}

	if stats != nil {
		ls.Elapsed = stats.Elapsed
		ls.Total = stats.TotalDuration
		ls.ActiveVUs = stats.ActiveVUs
		ls.TargetVUs = stats.TargetVUs
		ls.Stage = stats.CurrentStage + 1
		ls.TotalStages = stats.TotalStages
		ls.StageName = stats.CurrentStageName
	}

	if snapshot != nil {
		ls.RPS = snapshot.RPS
		ls.Requests = snapshot.TotalRequests
		ls.Errors = snapshot.FailedRequests
		ls.ErrorRate = snapshot.ErrorRate
		ls.P95 = snapshot.Latency.P95
		ls.Avg = snapshot.Latency.Mean
		ls.Phase = string(snapshot.CurrentPhase)
		if stats == nil {
			ls.Elapsed = snapshot.Elapsed
			ls.ActiveVUs = snapshot.ActiveVUs
		}
	}
	return ls
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer   io.Writer
	Quiet    bool
	NoColor  bool
	ForceTTY bool

	// Interval between live updates in Watch. Defaults to 1s on a terminal
	// and 10s otherwise.
	Interval time.Duration
}

// Console manages console output during a test run.
//
// On a terminal the live display is redrawn in place; otherwise Update
// prints one plain status line per call.
type Console struct {
	w        io.Writer
	colors   *Palette
	tty      bool
	quiet    bool
	interval time.Duration

	mu    sync.Mutex
	lines int
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	tty := cfg.ForceTTY || isTerminal(cfg.Writer)
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
		if tty {
			interval = time.Second
		}
	}

	return &Console{
		w:        cfg.Writer,
		colors:   NewPalette(!cfg.NoColor && tty && colorsSupported()),
		tty:      tty,
		quiet:    cfg.Quiet,
		interval: interval,
	}
}

// PrintPlan prints the load profile cfg describes: targets, stages and totals.
func (c *Console) PrintPlan(cfg *config.TestConfig) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.Dim.Sprint(strings.Repeat("━", ruleWidth))
	c.println(rule)
	c.println(c.colors.Title.Sprint(cfg.Name))
	if cfg.Description != "" {
		c.println(c.colors.Dim.Sprint(cfg.Description))
	}
	c.println(rule)

	for _, req := range cfg.ToScenario().Requests {
		c.printf("%s %s  %s\n", c.colors.Label.Sprint("Target:"), req.Method, c.colors.Value.Sprint(req.URL))
	}

	c.println(c.colors.Label.Sprint("Stages:"))
	prev := cfg.StartVUs
	var at time.Duration
	for i, st := range cfg.Stages {
		d := time.Duration(st.Duration)
		c.printf("  %d. %-10s %6s → %-6s %s\n",
			i+1, st.Name, formatDuration(at), formatDuration(at+d),
			c.colors.Accent.Sprint(stageAction(prev, st.Target, d)))
		at += d
		prev = st.Target
	}

	execCfg := cfg.ToExecutorConfig()
	c.printf("%s %s   %s %d   %s %s\n",
		c.colors.Label.Sprint("Duration:"), formatDuration(cfg.TotalDuration()),
		c.colors.Label.Sprint("Max VUs:"), executor.MaxVUs(execCfg.Stages, execCfg.StartVUs),
		c.colors.Label.Sprint("Pause:"), describePacing(execCfg.Pacing))
	if cfg.Settings.MaxRPS > 0 {
		c.printf("%s %.1f req/s\n", c.colors.Label.Sprint("Max RPS:"), cfg.Settings.MaxRPS)
	}
	c.println("")
}

func stageAction(from, to int, d time.Duration) string {
	switch {
	case d == 0:
		return fmt.Sprintf("jump to %d VUs", to)
	case from == to:
		return fmt.Sprintf("hold %d VUs", to)
	default:
		return fmt.Sprintf("ramp %d → %d VUs", from, to)
	}
}

func describePacing(p *executor.PacingConfig) string {
	if p == nil {
		return "none"
	}
	switch p.Type {
	case executor.PacingConstant:
		return formatDuration(p.Duration)
	case executor.PacingRandom:
		return fmt.Sprintf("%s-%s", formatDuration(p.Min), formatDuration(p.Max))
	}
	return "none"
}

// Update redraws the live display, or prints one status line when the
// output is not a terminal.
func (c *Console) Update(s LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tty {
		c.printf("[%s] %3.0f%% | stage %d/%d | VUs %d/%d | reqs %d | %.1f req/s | errors %d (%.1f%%) | p95 %s\n",
			formatDuration(s.Elapsed), s.Progress*100,
			s.Stage, s.TotalStages, s.ActiveVUs, s.TargetVUs,
			s.Requests, s.RPS, s.Errors, s.ErrorRate*100, formatLatency(s.P95))
		return
	}

	c.clearLive()
	lines := c.renderLive(s)
	for _, line := range lines {
		c.println(line)
	}
	c.lines = len(lines)
}

func (c *Console) renderLive(s LiveStats) []string {
	stage := s.Phase
	if s.TotalStages > 0 && s.Stage > 0 {
		stage = fmt.Sprintf("%s (%d/%d) %s", s.StageName, s.Stage, s.TotalStages, s.Phase)
	}
	errColor := c.colors.rate(s.ErrorRate)

	return []string{
		fmt.Sprintf("%s %s %s  %s",
			c.colors.Label.Sprint("Progress:"),
			c.colors.Good.Sprint(progressBar(s.Progress, 40)),
			c.colors.Label.Sprintf("%3.0f%%", s.Progress*100),
			c.colors.Dim.Sprintf("%s / %s", formatDuration(s.Elapsed), formatDuration(s.Total))),
		fmt.Sprintf("%s %s", c.colors.Label.Sprint("Stage:   "), c.colors.Accent.Sprint(stage)),
		fmt.Sprintf("%s %s / %d   %s %s   %s %s",
			c.colors.Label.Sprint("VUs:     "), c.colors.Value.Sprint(s.ActiveVUs), s.TargetVUs,
			c.colors.Label.Sprint("Requests:"), c.colors.Value.Sprint(formatCount(s.Requests)),
			c.colors.Label.Sprint("RPS:"), c.colors.Good.Sprintf("%.1f", s.RPS)),
		fmt.Sprintf("%s %s   %s %s   %s %s",
			c.colors.Label.Sprint("Errors:  "), errColor.Sprintf("%d (%.1f%%)", s.Errors, s.ErrorRate*100),
			c.colors.Label.Sprint("P95:"), formatLatency(s.P95),
			c.colors.Label.Sprint("Avg:"), formatLatency(s.Avg)),
	}
}

// clearLive erases the previous live display. Callers hold c.mu.
func (c *Console) clearLive() {
	if c.lines == 0 {
		return
	}
	c.printf(cursorUp, c.lines)
	for i := 0; i < c.lines; i++ {
		c.print(clearLine + "\n")
	}
	c.printf(cursorUp, c.lines)
	c.lines = 0
}

// Watch polls src and updates the display until ctx is done.
func (c *Console) Watch(ctx context.Context, src ProgressSource) {
	if c.quiet {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update(NewLiveStats(src.GetMetrics(), src.GetStats(), src.GetProgress()))
		}
	}
}

// PrintSummary prints the final result of a run.
func (c *Console) PrintSummary(r *engine.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if r.Passed {
			c.println(c.colors.Good.Sprint("PASSED"))
		} else {
			c.println(c.colors.Bad.Sprint("FAILED"))
		}
		return
	}

	c.clearLive()

	status := c.colors.Good.Sprint("PASSED ✓")
	if !r.Passed {
		status = c.colors.Bad.Sprint("FAILED ✗")
	}
	if r.Interrupted {
		status += c.colors.Warn.Sprint(" (interrupted)")
	}

	rule := c.colors.Dim.Sprint(strings.Repeat("━", ruleWidth))
	c.println("")
	c.println(rule)
	c.printf("%s - %s\n", c.colors.Title.Sprint(r.Name), status)
	c.println(rule)
	c.printf("Run ID:        %s\n", c.colors.Dim.Sprint(r.RunID))
	c.printf("Duration:      %s\n", c.colors.Value.Sprint(formatDuration(r.Duration)))
	c.printf("VUs:           %d max, %d spawned\n", r.MaxVUs, r.SpawnedVUs)
	c.printf("Iterations:    %s (%s failed)\n", formatCount(r.Iterations), formatCount(r.FailedIterations))

	if m := r.Metrics; m != nil {
		c.printf("Requests:      %s\n", c.colors.Value.Sprint(formatCount(m.TotalRequests)))
		c.printf("Success rate:  %s\n", c.colors.rate(m.ErrorRate).Sprintf("%.1f%%", (1-m.ErrorRate)*100))
		c.printf("Throughput:    %.1f req/s (steady %.1f req/s)\n", m.RPS, m.SteadyStateRPS)
		c.printf("Received:      %s\n", formatBytes(m.TotalBytes))
		c.println("")

		c.println(c.colors.Label.Sprint("Latency:"))
		c.printf("  min %s  avg %s  p50 %s  p90 %s  p95 %s  p99 %s  max %s\n",
			formatLatency(m.Latency.Min), formatLatency(m.Latency.Mean),
			formatLatency(m.Latency.P50), formatLatency(m.Latency.P90),
			formatLatency(m.Latency.P95), formatLatency(m.Latency.P99),
			formatLatency(m.Latency.Max))
	}

	if len(r.RequestStats) > 1 {
		names := make([]string, 0, len(r.RequestStats))
		for name := range r.RequestStats {
			names = append(names, name)
		}
		sort.Strings(names)

		c.println("")
		c.println(c.colors.Label.Sprint("Requests:"))
		for _, name := range names {
			rs := r.RequestStats[name]
			c.printf("  %-20s %8s  p95 %s\n", name, formatCount(rs.Count), formatLatency(rs.Latency.P95))
		}
	}

	if len(r.Thresholds) > 0 {
		c.println("")
		c.println(c.colors.Label.Sprint("Thresholds:"))
		for _, t := range r.Thresholds {
			mark := c.colors.Good.Sprint("✓")
			if !t.Passed {
				mark = c.colors.Bad.Sprint("✗")
			}
			c.printf("  %s %s %s (actual: %s)\n", mark, t.Metric, t.Expression, t.Value)
		}
	}

	if r.Error != "" {
		c.println("")
		c.printf("%s %s\n", c.colors.Bad.Sprint("Error:"), r.Error)
	}
	c.println("")
}

func (c *Console) print(s string) {
	fmt.Fprint(c.w, s)
}

func (c *Console) println(s string) {
	fmt.Fprintln(c.w, s)
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.w, format, args...)
}
