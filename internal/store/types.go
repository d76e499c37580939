package store

import (
	"fmt"
	"time"

	"github.com/cwbudde/qdemitter/internal/archive"
)

// RunConfig holds the settings a run was started with (checkpoint copy).
// This avoids import cycles with the config package.
type RunConfig struct {
	Benchmark     string    `json:"benchmark"`
	Dim           int       `json:"dim"`
	Cells         []int     `json:"cells"`
	X0            []float64 `json:"x0"`
	Bounds        []Bound   `json:"bounds,omitempty"`
	Sigma0        float64   `json:"sigma0"`
	BatchSize     int       `json:"batchSize,omitempty"` // 0 = automatic
	SelectionRule string    `json:"selectionRule"`
	RestartRule   string    `json:"restartRule"`
	WeightRule    string    `json:"weightRule"`
	Iterations    int       `json:"iterations"`
	Seed          int64     `json:"seed"`

	// CheckpointEvery saves a checkpoint every N iterations (0 = only at the end)
	CheckpointEvery int `json:"checkpointEvery,omitempty"`
}

// Bound is one dimension's search bounds; nil sides are unbounded.
type Bound struct {
	Lower *float64 `json:"lower"`
	Upper *float64 `json:"upper"`
}

// Checkpoint is a saved run that can be resumed later.
//
// It stores the archive's elites, not the optimizer's distribution. On
// resume the archive is restored and a fresh emitter restarts from one of the
// restored elites, so a resumed run is not a bit-exact continuation.
type Checkpoint struct {
	// RunID is the unique identifier for this run
	RunID string `json:"runId"`

	// Iteration is the number of completed ask/tell cycles
	Iteration int `json:"iteration"`

	// Restarts is the emitter's restart counter at checkpoint time
	Restarts int `json:"restarts"`

	// Stats summarises the archive at checkpoint time
	Stats archive.Stats `json:"stats"`

	// Elites are the archive contents
	Elites []archive.Elite `json:"elites"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Config holds the run configuration, needed for validation during resume
	Config RunConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the elites.
type CheckpointInfo struct {
	RunID     string    `json:"runId"`
	Iteration int       `json:"iteration"`
	Restarts  int       `json:"restarts"`
	NumElites int       `json:"numElites"`
	QDScore   float64   `json:"qdScore"`
	Timestamp time.Time `json:"timestamp"`
	Benchmark string    `json:"benchmark"`
}

// NewCheckpoint creates a checkpoint from run state.
func NewCheckpoint(runID string, iteration, restarts int, stats archive.Stats, elites []archive.Elite, config RunConfig) *Checkpoint {
	return &Checkpoint{
		RunID:     runID,
		Iteration: iteration,
		Restarts:  restarts,
		Stats:     stats,
		Elites:    elites,
		Timestamp: time.Now(),
		Config:    config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		RunID:     c.RunID,
		Iteration: c.Iteration,
		Restarts:  c.Restarts,
		NumElites: c.Stats.NumElites,
		QDScore:   c.Stats.QDScore,
		Timestamp: c.Timestamp,
		Benchmark: c.Config.Benchmark,
	}
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Restarts < 0 {
		return &ValidationError{Field: "Restarts", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Benchmark == "" {
		return &ValidationError{Field: "Config.Benchmark", Reason: "cannot be empty"}
	}
	if c.Config.Dim < 2 {
		return &ValidationError{Field: "Config.Dim", Reason: "must be at least 2"}
	}
	if len(c.Config.Cells) == 0 {
		return &ValidationError{Field: "Config.Cells", Reason: "cannot be empty"}
	}
	if c.Config.Iterations <= 0 {
		return &ValidationError{Field: "Config.Iterations", Reason: "must be positive"}
	}
	if c.Config.Sigma0 <= 0 {
		return &ValidationError{Field: "Config.Sigma0", Reason: "must be positive"}
	}
	for i, e := range c.Elites {
		if len(e.Solution) != c.Config.Dim {
			return &ValidationError{
				Field:  fmt.Sprintf("Elites[%d].Solution", i),
				Reason: fmt.Sprintf("length mismatch: expected %d, got %d", c.Config.Dim, len(e.Solution)),
			}
		}
		if len(e.Behavior) != len(c.Config.Cells) {
			return &ValidationError{
				Field:  fmt.Sprintf("Elites[%d].Behavior", i),
				Reason: fmt.Sprintf("length mismatch: expected %d, got %d", len(c.Config.Cells), len(e.Behavior)),
			}
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
func (c *Checkpoint) IsCompatible(config RunConfig) error {
	if c.Config.Benchmark != config.Benchmark {
		return &CompatibilityError{
			Field:    "Benchmark",
			Expected: c.Config.Benchmark,
			Actual:   config.Benchmark,
		}
	}
	if c.Config.Dim != config.Dim {
		return &CompatibilityError{
			Field:    "Dim",
			Expected: fmt.Sprintf("%d", c.Config.Dim),
			Actual:   fmt.Sprintf("%d", config.Dim),
		}
	}
	if fmt.Sprint(c.Config.Cells) != fmt.Sprint(config.Cells) {
		return &CompatibilityError{
			Field:    "Cells",
			Expected: fmt.Sprint(c.Config.Cells),
			Actual:   fmt.Sprint(config.Cells),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
