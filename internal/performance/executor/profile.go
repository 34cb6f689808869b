package executor

import (
	"math"
	"time"

	"github.com/wesleyorama2/spikeload/internal/performance/metrics"
)

// TargetVUs returns the desired VU count at elapsed time into the profile.
//
// Within a stage the count moves linearly from the previous stage's target
// (startVUs for the first stage) to the stage's own target, rounded to the
// nearest integer. Zero-length stages jump immediately. Past the end of the
// profile the last target is held.
func TargetVUs(stages []Stage, startVUs int, elapsed time.Duration) int {
	target, _ := stagePosition(stages, startVUs, elapsed)
	return target
}

// StageIndex returns the zero-based index of the stage active at elapsed.
// It returns len(stages)-1 once the profile has ended and -1 when there are
// no stages.
func StageIndex(stages []Stage, elapsed time.Duration) int {
	_, idx := stagePosition(stages, 0, elapsed)
	return idx
}

func stagePosition(stages []Stage, startVUs int, elapsed time.Duration) (int, int) {
	if elapsed < 0 {
		elapsed = 0
	}

	from := startVUs
	var stageStart time.Duration
	for i, stage := range stages {
		stageEnd := stageStart + stage.Duration
		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			return int(math.Round(float64(from) + float64(stage.Target-from)*progress)), i
		}
		from = stage.Target
		stageStart = stageEnd
	}

	return from, len(stages) - 1
}

// MaxVUs returns the largest VU count the profile will ask for.
func MaxVUs(stages []Stage, startVUs int) int {
	peak := startVUs
	for _, stage := range stages {
		if stage.Target > peak {
			peak = stage.Target
		}
	}
	return peak
}

// StagePhase classifies stage idx as a ramp-up, hold or ramp-down.
func StagePhase(stages []Stage, startVUs int, idx int) metrics.Phase {
	if idx < 0 || idx >= len(stages) {
		return metrics.PhaseInit
	}
	prev := startVUs
	if idx > 0 {
		prev = stages[idx-1].Target
	}
	switch target := stages[idx].Target; {
	case target > prev:
		return metrics.PhaseRampUp
	case target < prev:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}
