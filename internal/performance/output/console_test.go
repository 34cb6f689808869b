package output

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/spikeload/internal/performance/config"
	"github.com/wesleyorama2/spikeload/internal/performance/engine"
	"github.com/wesleyorama2/spikeload/internal/performance/executor"
	"github.com/wesleyorama2/spikeload/internal/performance/metrics"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{time.Second, "1.0s"},
		{time.Minute + 30*time.Second, "1m 30s"},
		{7 * time.Minute, "7m 00s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.duration); got != tt.expected {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.expected)
		}
	}
}

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0ms"},
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{1500 * time.Millisecond, "1.50s"},
		{90 * time.Second, "1.5m"},
	}

	for _, tt := range tests {
		if got := formatLatency(tt.duration); got != tt.expected {
			t.Errorf("formatLatency(%v) = %q, want %q", tt.duration, got, tt.expected)
		}
	}
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		n        int64
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}

	for _, tt := range tests {
		if got := formatCount(tt.n); got != tt.expected {
			t.Errorf("formatCount(%d) = %q, want %q", tt.n, got, tt.expected)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n        int64
		expected string
	}{
		{512, "512 B"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.expected {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.expected)
		}
	}
}

func TestProgressBar(t *testing.T) {
	if got := progressBar(0.5, 10); got != "[█████░░░░░]" {
		t.Errorf("progressBar(0.5) = %q", got)
	}
	if got := progressBar(-1, 4); got != "[░░░░]" {
		t.Errorf("progressBar(-1) = %q", got)
	}
	if got := progressBar(2, 4); got != "[████]" {
		t.Errorf("progressBar(2) = %q", got)
	}
}

func TestStageAction(t *testing.T) {
	if got := stageAction(0, 10, time.Minute); got != "ramp 0 → 10 VUs" {
		t.Errorf("ramp: %q", got)
	}
	if got := stageAction(50, 50, 5*time.Minute); got != "hold 50 VUs" {
		t.Errorf("hold: %q", got)
	}
	if got := stageAction(10, 50, 0); got != "jump to 50 VUs" {
		t.Errorf("jump: %q", got)
	}
}

func TestNewLiveStats(t *testing.T) {
	snap := &metrics.Snapshot{
		TotalRequests:  100,
		FailedRequests: 5,
		ErrorRate:      0.05,
		RPS:            12.5,
		CurrentPhase:   metrics.PhaseSteady,
		Latency:        metrics.LatencyStats{P95: 80 * time.Millisecond, Mean: 40 * time.Millisecond},
	}
	stats := &executor.Stats{
		Elapsed:          3 * time.Minute,
		TotalDuration:    7 * time.Minute,
		ActiveVUs:        48,
		TargetVUs:        50,
		CurrentStage:     2,
		CurrentStageName: "hold",
		TotalStages:      3,
	}

	ls := NewLiveStats(snap, stats, 0.43)
	if ls.Stage != 3 || ls.StageName != "hold" || ls.TotalStages != 3 {
		t.Errorf("stage = %d %q of %d", ls.Stage, ls.StageName, ls.TotalStages)
	}
	if ls.ActiveVUs != 48 || ls.TargetVUs != 50 {
		t.Errorf("VUs = %d/%d", ls.ActiveVUs, ls.TargetVUs)
	}
	if ls.Requests != 100 || ls.Errors != 5 || ls.P95 != 80*time.Millisecond {
		t.Errorf("unexpected request stats: %+v", ls)
	}
	if ls.Phase != string(metrics.PhaseSteady) {
		t.Errorf("phase = %q", ls.Phase)
	}

	empty := NewLiveStats(nil, nil, 0)
	if empty.Phase != string(metrics.PhaseInit) {
		t.Errorf("empty phase = %q", empty.Phase)
	}
}

func TestConsole_PrintPlan(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true})

	cfg := config.SpikeProfile("http://localhost/info")
	config.ApplyDefaults(cfg)
	c.PrintPlan(cfg)

	out := buf.String()
	for _, want := range []string{
		"sudden-spike",
		"GET  http://localhost/info",
		"warm-up",
		"ramp 0 → 10 VUs",
		"ramp 10 → 50 VUs",
		"hold 50 VUs",
		"Duration: 7m 00s",
		"Max VUs: 50",
		"Pause: 1.0s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("plan missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("plan contains escape codes with colors disabled")
	}
}

func TestConsole_Update_NonTTY(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true})
	if c.tty {
		t.Fatal("buffer should not be a TTY")
	}

	c.Update(LiveStats{Progress: 0.5, Elapsed: 30 * time.Second, Stage: 1, TotalStages: 3, ActiveVUs: 5, TargetVUs: 5, Requests: 120})
	c.Update(LiveStats{Progress: 0.6})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 status lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "stage 1/3") || !strings.Contains(lines[0], "reqs 120") {
		t.Errorf("unexpected status line: %q", lines[0])
	}
}

func TestConsole_Update_TTYRedraws(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true, ForceTTY: true})

	c.Update(LiveStats{Progress: 0.1})
	if strings.Contains(buf.String(), "\033[") {
		t.Error("first draw should not move the cursor")
	}

	c.Update(LiveStats{Progress: 0.2})
	if !strings.Contains(buf.String(), "\033[4A") {
		t.Errorf("second draw should move the cursor up 4 lines: %q", buf.String())
	}
}

func TestConsole_Quiet(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, Quiet: true})

	c.PrintPlan(config.SpikeProfile(""))
	c.Update(LiveStats{})
	if buf.Len() != 0 {
		t.Errorf("quiet console wrote %q", buf.String())
	}

	c.PrintSummary(&engine.TestResult{Passed: false})
	if strings.TrimSpace(buf.String()) != "FAILED" {
		t.Errorf("quiet summary = %q", buf.String())
	}
}

type fakeSource struct{}

func (fakeSource) GetMetrics() *metrics.Snapshot { return &metrics.Snapshot{TotalRequests: 7} }
func (fakeSource) GetStats() *executor.Stats     { return &executor.Stats{ActiveVUs: 2} }
func (fakeSource) GetProgress() float64          { return 0.25 }

func TestConsole_Watch(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	c.Watch(ctx, fakeSource{})

	out := buf.String()
	if !strings.Contains(out, "reqs 7") {
		t.Errorf("watch output missing request count: %q", out)
	}
	if n := strings.Count(out, "\n"); n < 2 {
		t.Errorf("expected several updates, got %d", n)
	}
}

func sampleResult() *engine.TestResult {
	return &engine.TestResult{
		RunID:      "5f2b7c1e-0000-4000-8000-000000000000",
		Name:       "sudden-spike",
		Duration:   7 * time.Minute,
		MaxVUs:     50,
		SpawnedVUs: 50,
		Iterations: 18000,
		Metrics: &metrics.Snapshot{
			TotalRequests:   18000,
			SuccessRequests: 17990,
			FailedRequests:  10,
			ErrorRate:       10.0 / 18000,
			RPS:             42.8,
			SteadyStateRPS:  49.1,
			TotalBytes:      3 * 1024 * 1024,
			Latency:         metrics.LatencyStats{P95: 120 * time.Millisecond, P99: 300 * time.Millisecond},
		},
		Passed: false,
		Thresholds: []engine.ThresholdResult{
			{Metric: "http_req_duration", Expression: "p95 < 100ms", Passed: false, Value: "120ms"},
			{Metric: "http_req_failed", Expression: "rate < 0.01", Passed: true, Value: "0.0006"},
		},
	}
}

func TestConsole_PrintSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true})
	c.PrintSummary(sampleResult())

	out := buf.String()
	for _, want := range []string{
		"sudden-spike - FAILED ✗",
		"Duration:      7m 00s",
		"Requests:      18,000",
		"Success rate:  99.9%",
		"steady 49.1 req/s",
		"3.0 MiB",
		"p95 120ms",
		"✗ http_req_duration p95 < 100ms (actual: 120ms)",
		"✓ http_req_failed rate < 0.01",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestConsole_PrintSummary_Interrupted(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true})

	r := sampleResult()
	r.Passed = true
	r.Interrupted = true
	r.Thresholds = nil
	c.PrintSummary(r)

	if !strings.Contains(buf.String(), "PASSED ✓ (interrupted)") {
		t.Errorf("summary should flag the interruption:\n%s", buf.String())
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleResult()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !json.Valid(buf.Bytes()) {
		t.Fatal("output is not valid JSON")
	}

	doc := buf.String()
	if got := gjson.Get(doc, "metrics.totalRequests").Int(); got != 18000 {
		t.Errorf("metrics.totalRequests = %d", got)
	}
	if got := gjson.Get(doc, "thresholds.0.passed").Bool(); got {
		t.Error("thresholds.0.passed should be false")
	}
	if got := gjson.Get(doc, "runId").String(); got != sampleResult().RunID {
		t.Errorf("runId = %q", got)
	}
}

func TestSaveJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "result.json")
	if err := SaveJSON(path, sampleResult()); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if gjson.GetBytes(data, "name").String() != "sudden-spike" {
		t.Errorf("unexpected content: %s", data)
	}
}
