// Package executor provides load generation strategies for performance testing.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/spikeload/internal/performance"
	"github.com/wesleyorama2/spikeload/internal/performance/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"
)

// DefaultGracefulStop is how long in-flight iterations may run after the
// profile ends before they are cancelled.
const DefaultGracefulStop = 30 * time.Second

// DefaultTickInterval is how often the ramping controller re-evaluates the
// VU target.
const DefaultTickInterval = 100 * time.Millisecond

// Executor defines the interface for load generation strategies.
//
// Executors control HOW load is generated. They grow and shrink a pool of
// virtual users obtained from a VUScheduler and report progress to a
// metrics engine.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init validates and stores the configuration. Called once before Run.
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until the profile completes or ctx
	// is cancelled. In-flight iterations are allowed to finish first.
	Run(ctx context.Context, scheduler *performance.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns the number of running VU goroutines.
	GetActiveVUs() int

	// GetStats returns executor statistics.
	GetStats() *Stats

	// Stop ends the profile early and waits for Run to return or ctx to expire.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`

	// Stages define the ramp/hold segments of the profile.
	Stages []Stage `json:"stages" yaml:"stages"`

	// StartVUs is the VU count the first stage ramps from (default 0).
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// GracefulStop bounds how long in-flight iterations may run once the
	// profile has ended (default 30s).
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pacing controls the pause after each iteration.
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// TickInterval is the controller period (default 100ms).
	TickInterval time.Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`
}

// Stage defines one ramp or hold segment.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for reporting
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls time between iterations.
type PacingConfig struct {
	Type PacingType `json:"type" yaml:"type"`

	// Duration for constant pacing
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min and Max for random pacing
	Min time.Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// ConstantPacing returns a pacing config that sleeps d after every iteration.
func ConstantPacing(d time.Duration) *PacingConfig {
	return &PacingConfig{Type: PacingConstant, Duration: d}
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs  int `json:"activeVUs"`
	TargetVUs  int `json:"targetVUs"`
	MaxVUs     int `json:"maxVUs"`
	SpawnedVUs int `json:"spawnedVUs"`

	Iterations       int64 `json:"iterations"`
	FailedIterations int64 `json:"failedIterations"`

	// CurrentStage is zero-based.
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName,omitempty"`
	TotalStages      int    `json:"totalStages"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}
	if c.Type != TypeRampingVUs {
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}
	if len(c.Stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	for i, stage := range c.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if stage.Duration < 0 {
			return &ValidationError{Field: field + ".duration", Message: "duration cannot be negative"}
		}
		if stage.Target < 0 {
			return &ValidationError{Field: field + ".target", Message: "target cannot be negative"}
		}
	}
	if c.TotalDuration() <= 0 {
		return &ValidationError{Field: "stages", Message: "total duration must be > 0"}
	}
	if c.StartVUs < 0 {
		return &ValidationError{Field: "startVUs", Message: "startVUs cannot be negative"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop cannot be negative"}
	}
	if c.TickInterval < 0 {
		return &ValidationError{Field: "tickInterval", Message: "tickInterval cannot be negative"}
	}
	if c.Pacing != nil {
		return c.Pacing.validate()
	}
	return nil
}

func (p *PacingConfig) validate() error {
	switch p.Type {
	case "", PacingNone:
	case PacingConstant:
		if p.Duration < 0 {
			return &ValidationError{Field: "pacing.duration", Message: "duration cannot be negative"}
		}
	case PacingRandom:
		if p.Min < 0 || p.Max < 0 {
			return &ValidationError{Field: "pacing", Message: "min and max cannot be negative"}
		}
		if p.Max < p.Min {
			return &ValidationError{Field: "pacing.max", Message: "max must be >= min"}
		}
	default:
		return &ValidationError{Field: "pacing.type", Message: "unknown pacing type: " + string(p.Type)}
	}
	return nil
}

// TotalDuration is the sum of all stage durations.
func (c *Config) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range c.Stages {
		total += stage.Duration
	}
	return total
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
