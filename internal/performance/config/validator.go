package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing all problems.
// Call it after ApplyDefaults so request methods are normalized.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateStages(c, errs)

	if c.StartVUs < 0 {
		errs.Add("startVUs", "cannot be negative")
	}
	if c.GracefulStop < 0 {
		errs.Add("gracefulStop", "cannot be negative")
	}
	if c.Sleep != nil && *c.Sleep < 0 {
		errs.Add("sleep", "cannot be negative")
	}
	if c.Sleep != nil && c.Pacing != nil {
		errs.Add("pacing", "use either sleep or pacing, not both")
	}
	if c.Pacing != nil {
		validatePacing("pacing", c.Pacing, errs)
	}

	if len(c.Requests) == 0 {
		errs.Add("requests", "at least one request is required")
	}
	for i := range c.Requests {
		validateRequest(fmt.Sprintf("requests[%d]", i), &c.Requests[i], &c.Settings, errs)
	}

	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateStages(c *TestConfig, errs *ValidationErrors) {
	if len(c.Stages) == 0 {
		errs.Add("stages", "at least one stage is required")
		return
	}

	for i, stage := range c.Stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if stage.Duration < 0 {
			errs.Add(prefix+".duration", "cannot be negative")
		}
		if stage.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
	}

	if c.TotalDuration() <= 0 {
		errs.Add("stages", "total duration must be greater than 0")
	}
}

// validateRequest validates a single request configuration.
func validateRequest(prefix string, req *RequestConfig, settings *GlobalSettings, errs *ValidationErrors) {
	method := strings.ToUpper(req.Method)
	if method != "" && method != "GET" {
		errs.Add(prefix+".method", fmt.Sprintf("only GET is supported, got %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else {
		resolved := ResolveVariables(req.URL, settings)
		if strings.Contains(resolved, "{{") {
			errs.Add(prefix+".url", "unresolved variable in url (is settings.baseUrl set?)")
		} else if err := validateAbsoluteURL(resolved); err != nil {
			errs.Add(prefix+".url", err.Error())
		}
	}

	if req.Timeout < 0 {
		errs.Add(prefix+".timeout", "cannot be negative")
	}
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https: %s", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host: %s", raw)
	}
	return nil
}

// validatePacing validates pacing configuration.
func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	switch pacing.Type {
	case "none":
	case "constant":
		if pacing.Duration <= 0 {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		}
	case "random":
		if pacing.Min < 0 {
			errs.Add(prefix+".min", "cannot be negative")
		}
		if pacing.Max <= 0 {
			errs.Add(prefix+".max", "max is required for random pacing")
		}
		if pacing.Min > pacing.Max {
			errs.Add(prefix, "min must be less than or equal to max")
		}
	default:
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}
}

// validateThresholds validates threshold configuration.
func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	check := func(metric string, exprs []string) {
		for i, expr := range exprs {
			if _, err := ParseThreshold(metric, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}

	check(MetricHTTPReqDuration, t.HTTPReqDuration)
	check(MetricHTTPReqFailed, t.HTTPReqFailed)
	check(MetricHTTPReqs, t.HTTPReqs)
}

// validateSettings validates global settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		if err := validateAbsoluteURL(s.BaseURL); err != nil {
			errs.Add("settings.baseUrl", err.Error())
		}
	}

	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
	if time.Duration(s.Timeout) > time.Hour {
		errs.Add("settings.timeout", "cannot exceed 1h")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
	if s.MaxRPS < 0 {
		errs.Add("settings.maxRPS", "cannot be negative")
	}
}
