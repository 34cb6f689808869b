package engine

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/spikeload/internal/performance/config"
	"github.com/wesleyorama2/spikeload/internal/performance/metrics"
)

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// evaluateThresholds checks every threshold against the final snapshot.
func evaluateThresholds(thresholds []*config.Threshold, snapshot *metrics.Snapshot) []ThresholdResult {
	if len(thresholds) == 0 {
		return nil
	}

	results := make([]ThresholdResult, 0, len(thresholds))
	for _, th := range thresholds {
		results = append(results, evaluateThreshold(th, snapshot))
	}
	return results
}

func evaluateThreshold(th *config.Threshold, snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{
		Metric:     th.Metric,
		Expression: th.Expression,
	}

	actual, display, err := thresholdActual(th, snapshot)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	result.Value = display
	result.Passed = th.Compare(actual)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s", th.Stat, display, th.Expression)
	}
	return result
}

// thresholdActual returns the observed value in the threshold's unit and a
// human-readable rendering of it.
func thresholdActual(th *config.Threshold, s *metrics.Snapshot) (float64, string, error) {
	switch th.Metric {
	case config.MetricHTTPReqDuration:
		var d time.Duration
		switch th.Stat {
		case "min":
			d = s.Latency.Min
		case "max":
			d = s.Latency.Max
		case "avg":
			d = s.Latency.Mean
		case "med", "p50":
			d = s.Latency.P50
		case "p90":
			d = s.Latency.P90
		case "p95":
			d = s.Latency.P95
		case "p99":
			d = s.Latency.P99
		default:
			return 0, "", fmt.Errorf("unknown stat for %s: %s", th.Metric, th.Stat)
		}
		return float64(d) / float64(time.Millisecond), d.String(), nil

	case config.MetricHTTPReqFailed:
		return s.ErrorRate, fmt.Sprintf("%.4f", s.ErrorRate), nil

	case config.MetricHTTPReqs:
		switch th.Stat {
		case "count":
			return float64(s.TotalRequests), fmt.Sprintf("%d", s.TotalRequests), nil
		case "rate":
			return s.RPS, fmt.Sprintf("%.2f/s", s.RPS), nil
		}
	}
	return 0, "", fmt.Errorf("unknown threshold %s %s", th.Metric, th.Stat)
}
