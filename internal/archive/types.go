package archive

import (
	"errors"
	"fmt"
)

// AddStatus describes the outcome of inserting a solution into an archive.
// Values are ordered so that a larger status is a better outcome.
type AddStatus int

const (
	NotAdded        AddStatus = 0
	ImproveExisting AddStatus = 1
	New             AddStatus = 2
)

func (s AddStatus) String() string {
	switch s {
	case NotAdded:
		return "not_added"
	case ImproveExisting:
		return "improve_existing"
	case New:
		return "new"
	default:
		return fmt.Sprintf("AddStatus(%d)", int(s))
	}
}

// Added reports whether the solution entered the archive.
func (s AddStatus) Added() bool {
	return s == New || s == ImproveExisting
}

// AddResult is returned by Add for every inserted solution.
type AddResult struct {
	Status AddStatus
	// Value is the improvement value. For New it is the objective, otherwise
	// it is the objective minus the incumbent's objective.
	Value float64
	// Index identifies the cell the solution was mapped to.
	Index int
}

// Elite is a solution stored in one cell of the archive.
type Elite struct {
	Solution  []float64 `json:"solution"`
	Objective float64   `json:"objective"`
	Behavior  []float64 `json:"behavior"`
	Index     int       `json:"index"`
	Metadata  any       `json:"metadata,omitempty"`
}

// Stats summarises the archive contents.
type Stats struct {
	NumElites     int     `json:"numElites"`
	Coverage      float64 `json:"coverage"`
	QDScore       float64 `json:"qdScore"`
	BestObjective float64 `json:"bestObjective"`
}

// ErrEmptyArchive is returned when an elite is requested from an empty archive.
var ErrEmptyArchive = errors.New("archive is empty")

// ValidationError reports a malformed archive argument.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "archive: invalid " + e.Field + ": " + e.Reason
}
