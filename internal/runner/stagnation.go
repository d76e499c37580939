package runner

import (
	"log/slog"
	"math"
)

// StagnationConfig defines when a run stops because the archive no longer
// grows.
type StagnationConfig struct {
	// Enabled controls whether stagnation detection is active
	Enabled bool

	// Patience is the number of iterations without significant QD score
	// growth before stopping
	Patience int

	// Threshold is the minimum relative growth required to count as progress
	// Example: 0.001 = 0.1% growth required
	// Relative growth = (newScore - lastScore) / |lastScore|
	Threshold float64
}

// DefaultStagnationConfig returns sensible defaults for stagnation detection
func DefaultStagnationConfig() StagnationConfig {
	return StagnationConfig{
		Enabled:   true,
		Patience:  50,
		Threshold: 0.0001,
	}
}

// DisabledStagnationConfig returns a config with stagnation detection disabled
func DisabledStagnationConfig() StagnationConfig {
	return StagnationConfig{
		Enabled: false,
	}
}

// StagnationTracker follows the archive's QD score and reports when it has
// stopped growing.
type StagnationTracker struct {
	config          StagnationConfig
	history         []float64
	bestScore       float64
	lastSignificant float64
	staleCount      int
}

// NewStagnationTracker creates a tracker with the given config
func NewStagnationTracker(config StagnationConfig) *StagnationTracker {
	return &StagnationTracker{
		config:          config,
		bestScore:       math.Inf(-1),
		lastSignificant: math.Inf(-1),
	}
}

// Update records a new QD score and returns true once the run has stagnated
func (s *StagnationTracker) Update(score float64) bool {
	if !s.config.Enabled {
		return false
	}

	s.history = append(s.history, score)
	if score > s.bestScore {
		s.bestScore = score
	}

	if len(s.history) == 1 {
		s.lastSignificant = score
		return false
	}

	growth := score - s.lastSignificant
	relative := growth
	if s.lastSignificant != 0 {
		relative = growth / math.Abs(s.lastSignificant)
	}

	if relative >= s.config.Threshold && growth > 0 {
		s.lastSignificant = score
		s.staleCount = 0
		return false
	}

	s.staleCount++
	if s.staleCount >= s.config.Patience {
		slog.Info("Stagnation detected - stopping early",
			"stale_count", s.staleCount,
			"patience", s.config.Patience,
			"best_qd_score", s.bestScore,
		)
		return true
	}
	return false
}

// BestScore returns the best QD score seen so far
func (s *StagnationTracker) BestScore() float64 {
	return s.bestScore
}

// History returns the full QD score history
func (s *StagnationTracker) History() []float64 {
	return append([]float64{}, s.history...)
}

// StaleCount returns the current number of iterations without growth
func (s *StagnationTracker) StaleCount() int {
	return s.staleCount
}

// Reset clears the tracker's state
func (s *StagnationTracker) Reset() {
	s.history = nil
	s.bestScore = math.Inf(-1)
	s.lastSignificant = math.Inf(-1)
	s.staleCount = 0
}
