package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/spikeload/pkg/jsonschema"
)

//go:embed testconfig.schema.json
var schemaJSON string

var schemaValidator = jsonschema.MustCompile("testconfig.schema.json", schemaJSON)

// Schema returns the JSON Schema test files are checked against.
func Schema() string {
	return schemaJSON
}

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// The returned config has not been validated or defaulted.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The raw document is first checked against the embedded JSON Schema;
// schema violations are returned as *ValidationErrors. The format is
// determined by the file extension in path, or defaults to YAML.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"

	var (
		doc interface{}
		err error
	)
	if isJSON {
		doc, err = jsonschema.DecodeJSON(data)
	} else {
		doc, err = jsonschema.DecodeYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if violations := schemaValidator.Validate(doc); len(violations) > 0 {
		errs := &ValidationErrors{}
		for _, v := range violations {
			errs.Add(v.Path, v.Message)
		}
		return nil, errs
	}

	var config TestConfig
	if isJSON {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &config, nil
}

// ParseStageList parses a compact stage list such as "1m:10,1m:50,5m:50".
// Each entry is duration:target.
func ParseStageList(s string) ([]StageConfig, error) {
	var stages []StageConfig
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		durStr, targetStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("stage %d (%q): expected duration:target", i+1, part)
		}
		dur, err := ParseDurationString(durStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%q): %w", i+1, part, err)
		}
		target, err := strconv.Atoi(strings.TrimSpace(targetStr))
		if err != nil {
			return nil, fmt.Errorf("stage %d (%q): invalid target: %w", i+1, part, err)
		}

		stages = append(stages, StageConfig{Duration: Duration(dur), Target: target})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages in %q", s)
	}
	return stages, nil
}

// ResolveVariables replaces {{baseUrl}} (or {{baseURL}}) in input.
// Unresolved variables are left as-is.
func ResolveVariables(input string, settings *GlobalSettings) string {
	if settings == nil || settings.BaseURL == "" {
		return input
	}
	base := strings.TrimSuffix(settings.BaseURL, "/")
	result := strings.ReplaceAll(input, "{{baseUrl}}", base)
	return strings.ReplaceAll(result, "{{baseURL}}", base)
}

// Defaults applied by ApplyDefaults.
const (
	DefaultName                = "spikeload"
	DefaultTimeout             = 30 * time.Second
	DefaultMaxIdleConnsPerHost = 100
	DefaultSleep               = time.Second
)

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Name == "" {
		config.Name = DefaultName
	}

	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(DefaultTimeout)
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}

	if config.Sleep == nil && config.Pacing == nil {
		sleep := Duration(DefaultSleep)
		config.Sleep = &sleep
	}

	for i := range config.Requests {
		req := &config.Requests[i]
		if req.Name == "" {
			req.Name = fmt.Sprintf("request_%d", i+1)
		}
		if req.Method == "" {
			req.Method = "GET"
		}
		req.Method = strings.ToUpper(req.Method)
	}

	for i := range config.Stages {
		if config.Stages[i].Name == "" {
			config.Stages[i].Name = fmt.Sprintf("stage_%d", i+1)
		}
	}
}

// TotalDuration returns the sum of all stage durations.
func (c *TestConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range c.Stages {
		total += time.Duration(stage.Duration)
	}
	return total
}
