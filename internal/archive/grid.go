package archive

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// GridArchive partitions a box-shaped behavior space into a uniform grid of
// cells and keeps the best solution found for each cell.
//
// All methods are safe for concurrent use, so several emitters may share one
// archive.
type GridArchive struct {
	mu          sync.RWMutex
	solutionDim int
	dims        []int
	lower       []float64
	upper       []float64
	cells       []*Elite
	occupied    []int // cell indices in insertion order
	rng         *rand.Rand
}

// NewGridArchive creates an archive with dims[i] cells along behavior
// dimension i, spanning ranges[i] = [low, high]. A nil seed draws one from the
// clock.
func NewGridArchive(solutionDim int, dims []int, ranges [][2]float64, seed *int64) (*GridArchive, error) {
	if solutionDim <= 0 {
		return nil, &ValidationError{Field: "solutionDim", Reason: fmt.Sprintf("must be positive, got %d", solutionDim)}
	}
	if len(dims) == 0 {
		return nil, &ValidationError{Field: "dims", Reason: "cannot be empty"}
	}
	if len(ranges) != len(dims) {
		return nil, &ValidationError{
			Field:  "ranges",
			Reason: fmt.Sprintf("expected %d ranges, got %d", len(dims), len(ranges)),
		}
	}

	total := 1
	lower := make([]float64, len(dims))
	upper := make([]float64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("dims[%d]", i), Reason: fmt.Sprintf("must be positive, got %d", d)}
		}
		lo, hi := ranges[i][0], ranges[i][1]
		if !(lo < hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("ranges[%d]", i),
				Reason: fmt.Sprintf("must be a finite interval with low < high, got [%g, %g]", lo, hi),
			}
		}
		lower[i], upper[i] = lo, hi
		total *= d
	}

	s := time.Now().UnixNano()
	if seed != nil {
		s = *seed
	}

	return &GridArchive{
		solutionDim: solutionDim,
		dims:        append([]int(nil), dims...),
		lower:       lower,
		upper:       upper,
		cells:       make([]*Elite, total),
		rng:         rand.New(rand.NewSource(s)),
	}, nil
}

// SolutionDim returns the expected solution length.
func (a *GridArchive) SolutionDim() int {
	return a.solutionDim
}

// BehaviorDim returns the number of behavior dimensions.
func (a *GridArchive) BehaviorDim() int {
	return len(a.dims)
}

// Cells returns the total number of cells in the grid.
func (a *GridArchive) Cells() int {
	return len(a.cells)
}

// Index maps a behavior vector to its cell. Behaviors outside the configured
// ranges are clipped to the boundary cells.
func (a *GridArchive) Index(behavior []float64) (int, error) {
	if len(behavior) != len(a.dims) {
		return 0, &ValidationError{
			Field:  "behavior",
			Reason: fmt.Sprintf("expected length %d, got %d", len(a.dims), len(behavior)),
		}
	}

	index := 0
	for i, b := range behavior {
		if math.IsNaN(b) {
			return 0, &ValidationError{Field: "behavior", Reason: fmt.Sprintf("component %d is NaN", i)}
		}
		// Clip before converting so huge or infinite values cannot overflow int.
		frac := (b - a.lower[i]) / (a.upper[i] - a.lower[i])
		var cell int
		switch {
		case frac <= 0:
			cell = 0
		case frac >= 1:
			cell = a.dims[i] - 1
		default:
			cell = min(int(frac*float64(a.dims[i])), a.dims[i]-1)
		}
		index = index*a.dims[i] + cell
	}
	return index, nil
}

// Add inserts a solution. A solution enters the archive when its cell is empty
// or when it beats the incumbent's objective.
func (a *GridArchive) Add(solution []float64, objective float64, behavior []float64, metadata any) (AddResult, error) {
	if len(solution) != a.solutionDim {
		return AddResult{}, &ValidationError{
			Field:  "solution",
			Reason: fmt.Sprintf("expected length %d, got %d", a.solutionDim, len(solution)),
		}
	}
	index, err := a.Index(behavior)
	if err != nil {
		return AddResult{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	incumbent := a.cells[index]
	if incumbent == nil {
		a.cells[index] = newElite(solution, objective, behavior, index, metadata)
		a.occupied = append(a.occupied, index)
		return AddResult{Status: New, Value: objective, Index: index}, nil
	}

	value := objective - incumbent.Objective
	if objective > incumbent.Objective {
		a.cells[index] = newElite(solution, objective, behavior, index, metadata)
		return AddResult{Status: ImproveExisting, Value: value, Index: index}, nil
	}
	return AddResult{Status: NotAdded, Value: value, Index: index}, nil
}

// RandomElite returns a copy of a uniformly chosen elite.
func (a *GridArchive) RandomElite() (Elite, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.occupied) == 0 {
		return Elite{}, ErrEmptyArchive
	}
	e := a.cells[a.occupied[a.rng.Intn(len(a.occupied))]]
	return e.clone(), nil
}

// Elite returns the elite stored at a cell index.
func (a *GridArchive) Elite(index int) (Elite, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if index < 0 || index >= len(a.cells) || a.cells[index] == nil {
		return Elite{}, false
	}
	return a.cells[index].clone(), true
}

// Elites returns copies of all elites in insertion order of their cells.
func (a *GridArchive) Elites() []Elite {
	a.mu.RLock()
	defer a.mu.RUnlock()

	elites := make([]Elite, 0, len(a.occupied))
	for _, idx := range a.occupied {
		elites = append(elites, a.cells[idx].clone())
	}
	return elites
}

// Stats computes summary statistics over the current elites.
func (a *GridArchive) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{
		NumElites:     len(a.occupied),
		Coverage:      float64(len(a.occupied)) / float64(len(a.cells)),
		BestObjective: math.Inf(-1),
	}
	for _, idx := range a.occupied {
		obj := a.cells[idx].Objective
		stats.QDScore += obj
		if obj > stats.BestObjective {
			stats.BestObjective = obj
		}
	}
	if stats.NumElites == 0 {
		stats.BestObjective = 0
	}
	return stats
}

// Clear removes all elites.
func (a *GridArchive) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.cells {
		a.cells[i] = nil
	}
	a.occupied = nil
}

// Restore replaces the archive contents with the given elites, typically
// loaded from a checkpoint. Cell indices are recomputed from the behaviors.
func (a *GridArchive) Restore(elites []Elite) error {
	a.Clear()
	for i, e := range elites {
		if _, err := a.Add(e.Solution, e.Objective, e.Behavior, e.Metadata); err != nil {
			return fmt.Errorf("failed to restore elite %d: %w", i, err)
		}
	}
	return nil
}

func newElite(solution []float64, objective float64, behavior []float64, index int, metadata any) *Elite {
	return &Elite{
		Solution:  append([]float64(nil), solution...),
		Objective: objective,
		Behavior:  append([]float64(nil), behavior...),
		Index:     index,
		Metadata:  metadata,
	}
}

func (e *Elite) clone() Elite {
	return Elite{
		Solution:  append([]float64(nil), e.Solution...),
		Objective: e.Objective,
		Behavior:  append([]float64(nil), e.Behavior...),
		Index:     e.Index,
		Metadata:  e.Metadata,
	}
}
