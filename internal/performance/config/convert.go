package config

import (
	"time"

	"github.com/wesleyorama2/spikeload/internal/performance"
	"github.com/wesleyorama2/spikeload/internal/performance/executor"
)

// DefaultTargetURL is the endpoint the built-in spike profile hits when no
// URL is given.
const DefaultTargetURL = "https://demo-productservice-centralindia.thankfulriver-5ae45caf.centralindia.azurecontainerapps.io/swagger-ui/#/product-api-controller/infoUsingGET"

// SpikeProfile returns the built-in sudden-spike test: ramp to 10 VUs over
// 1m, spike to 50 over 1m, hold 50 for 5m. Every iteration issues one GET to
// targetURL and then sleeps 1s.
func SpikeProfile(targetURL string) *TestConfig {
	if targetURL == "" {
		targetURL = DefaultTargetURL
	}
	sleep := Duration(time.Second)
	return &TestConfig{
		Name:        "sudden-spike",
		Description: "Ramp to 10 VUs, spike to 50, hold for 5 minutes",
		Stages: []StageConfig{
			{Duration: Duration(time.Minute), Target: 10, Name: "warm-up"},
			{Duration: Duration(time.Minute), Target: 50, Name: "spike"},
			{Duration: Duration(5 * time.Minute), Target: 50, Name: "hold"},
		},
		Sleep: &sleep,
		Requests: []RequestConfig{
			{Name: "info", Method: "GET", URL: targetURL},
		},
	}
}

// ToExecutorConfig converts the profile part of c into an executor config.
func (c *TestConfig) ToExecutorConfig() *executor.Config {
	cfg := &executor.Config{
		Name:         c.Name,
		Type:         executor.TypeRampingVUs,
		StartVUs:     c.StartVUs,
		GracefulStop: time.Duration(c.GracefulStop),
	}

	for _, stage := range c.Stages {
		cfg.Stages = append(cfg.Stages, executor.Stage{
			Duration: time.Duration(stage.Duration),
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}

	switch {
	case c.Pacing != nil:
		cfg.Pacing = &executor.PacingConfig{
			Type:     executor.PacingType(c.Pacing.Type),
			Duration: time.Duration(c.Pacing.Duration),
			Min:      time.Duration(c.Pacing.Min),
			Max:      time.Duration(c.Pacing.Max),
		}
	case c.Sleep != nil && *c.Sleep > 0:
		cfg.Pacing = executor.ConstantPacing(time.Duration(*c.Sleep))
	}

	return cfg
}

// ToScenario builds the request list every VU runs. URLs are resolved
// against settings.baseUrl and default headers are merged under request
// headers.
func (c *TestConfig) ToScenario() *performance.Scenario {
	scenario := &performance.Scenario{Name: c.Name}

	for _, req := range c.Requests {
		headers := make(map[string]string, len(c.Settings.Headers)+len(req.Headers)+1)
		if c.Settings.UserAgent != "" {
			headers["User-Agent"] = c.Settings.UserAgent
		}
		for k, v := range c.Settings.Headers {
			headers[k] = v
		}
		for k, v := range req.Headers {
			headers[k] = v
		}

		scenario.Requests = append(scenario.Requests, &performance.RequestConfig{
			Name:    req.Name,
			Method:  req.Method,
			URL:     ResolveVariables(req.URL, &c.Settings),
			Headers: headers,
			Timeout: time.Duration(req.Timeout),
		})
	}

	return scenario
}

// HTTPClientConfig returns the shared client settings.
func (c *TestConfig) HTTPClientConfig() performance.HTTPClientConfig {
	cfg := performance.DefaultHTTPClientConfig()
	cfg.Timeout = c.Settings.Timeout.GetDuration(cfg.Timeout)
	if c.Settings.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = c.Settings.MaxIdleConnsPerHost
	}
	cfg.MaxConnsPerHost = c.Settings.MaxConnectionsPerHost
	cfg.InsecureSkipVerify = c.Settings.InsecureSkipVerify
	return cfg
}
