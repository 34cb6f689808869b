// Package perf runs staged HTTP load tests programmatically.
//
// A test drives a pool of virtual users (VUs) through a list of stages. The
// pool size is linearly interpolated toward each stage's target, and every
// VU repeatedly issues the configured GET requests and then pauses.
//
// # Quick Start
//
//	cfg := perf.SpikeProfile("https://api.example.com/info")
//	result, err := perf.RunTest(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Requests: %d\n", result.Metrics.TotalRequests)
//	fmt.Printf("P95: %v\n", result.Metrics.Latency.P95)
//	fmt.Printf("Passed: %v\n", result.Passed)
//
// # Custom Profiles
//
// Configurations can be loaded from YAML or JSON with LoadConfig, or built
// in code:
//
//	sleep := perf.Duration(time.Second)
//	cfg := &perf.TestConfig{
//	    Name: "checkout-spike",
//	    Stages: []perf.StageConfig{
//	        {Duration: perf.Duration(30 * time.Second), Target: 5},
//	        {Duration: perf.Duration(10 * time.Second), Target: 100},
//	        {Duration: perf.Duration(2 * time.Minute), Target: 100},
//	    },
//	    Sleep:    &sleep,
//	    Requests: []perf.RequestConfig{{URL: "https://shop.example.com/cart"}},
//	}
//
// # Live Progress
//
// A Runner exposes GetMetrics, GetStats and GetProgress while Run is in
// flight, and Stop ends a run early.
package perf
