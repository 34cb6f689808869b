package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Threshold metric names, following k6.
const (
	MetricHTTPReqDuration = "http_req_duration"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqs        = "http_reqs"
)

var thresholdStats = map[string][]string{
	MetricHTTPReqDuration: {"p50", "p90", "p95", "p99", "min", "max", "avg", "med"},
	MetricHTTPReqFailed:   {"rate"},
	MetricHTTPReqs:        {"count", "rate"},
}

// Operators are matched longest first.
var thresholdOps = []string{"<=", ">=", "==", "!=", "<", ">"}

// Threshold is a parsed threshold expression such as "p95 < 500ms".
type Threshold struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Stat       string `json:"stat"`
	Op         string `json:"op"`

	// Value is in milliseconds for http_req_duration, a 0..1 fraction for
	// http_req_failed rate, and a plain number otherwise.
	Value float64 `json:"value"`
}

// ParseThreshold parses expr for metric.
//
// Valid formats:
//   - "p95 < 500ms" (bare numbers are milliseconds)
//   - "avg < 200ms"
//   - "rate < 0.01"
//   - "count > 1000"
func ParseThreshold(metric, expr string) (*Threshold, error) {
	stats, ok := thresholdStats[metric]
	if !ok {
		return nil, fmt.Errorf("unknown threshold metric: %s", metric)
	}

	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("threshold expression cannot be empty")
	}

	var op string
	var idx int
	for _, candidate := range thresholdOps {
		if i := strings.Index(trimmed, candidate); i > 0 {
			op, idx = candidate, i
			break
		}
	}
	if op == "" {
		return nil, fmt.Errorf("threshold must contain a comparison operator (<, >, <=, >=, ==, !=)")
	}

	stat := strings.TrimSpace(trimmed[:idx])
	valueStr := strings.TrimSpace(trimmed[idx+len(op):])

	if !containsString(stats, stat) {
		return nil, fmt.Errorf("%s threshold must use one of %s, got %q", metric, strings.Join(stats, ", "), stat)
	}
	if valueStr == "" {
		return nil, fmt.Errorf("threshold %q has no value", expr)
	}

	var value float64
	if metric == MetricHTTPReqDuration {
		ms, err := parseMillis(valueStr)
		if err != nil {
			return nil, err
		}
		value = ms
	} else {
		v, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold value %q", valueStr)
		}
		value = v
	}

	return &Threshold{
		Metric:     metric,
		Expression: trimmed,
		Stat:       stat,
		Op:         op,
		Value:      value,
	}, nil
}

// Compare reports whether actual satisfies the threshold.
func (t *Threshold) Compare(actual float64) bool {
	switch t.Op {
	case "<":
		return actual < t.Value
	case "<=":
		return actual <= t.Value
	case ">":
		return actual > t.Value
	case ">=":
		return actual >= t.Value
	case "==":
		return actual == t.Value
	case "!=":
		return actual != t.Value
	default:
		return false
	}
}

// Parse parses every configured threshold in metric order.
func (c *ThresholdsConfig) Parse() ([]*Threshold, error) {
	if c == nil {
		return nil, nil
	}

	var out []*Threshold
	groups := []struct {
		metric string
		exprs  []string
	}{
		{MetricHTTPReqDuration, c.HTTPReqDuration},
		{MetricHTTPReqFailed, c.HTTPReqFailed},
		{MetricHTTPReqs, c.HTTPReqs},
	}
	for _, g := range groups {
		for _, expr := range g.exprs {
			t, err := ParseThreshold(g.metric, expr)
			if err != nil {
				return nil, fmt.Errorf("thresholds.%s: %w", g.metric, err)
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func parseMillis(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration threshold value %q", s)
	}
	return float64(d) / float64(time.Millisecond), nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
