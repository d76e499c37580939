package opt

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the mayfly library as a Minimizer. It serves as a
// single-objective baseline next to the quality-diversity search.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly minimizer. popSize sets the male, female
// and offspring counts alike.
func NewMayfly(maxIters, popSize int, seed int64) (*MayflyAdapter, error) {
	if maxIters <= 0 {
		return nil, &ConfigError{Field: "max_iterations", Value: fmt.Sprint(maxIters), Reason: "must be positive"}
	}
	if popSize <= 0 {
		return nil, &ConfigError{Field: "population", Value: fmt.Sprint(popSize), Reason: "must be positive"}
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}, nil
}

// Run minimizes eval within the box [lower, upper].
//
// mayfly only supports one scalar range for every dimension, so the search
// runs over the envelope of all finite bounds and candidates are clamped to
// their own dimension's bounds before evaluation.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	lo, hi := envelope(lower, upper)

	clamped := func(x []float64) []float64 {
		y := append([]float64(nil), x...)
		clampInto(y, lower, upper)
		return y
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(x []float64) float64 { return eval(clamped(x)) }
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.NPopF = m.popSize
	config.NC = m.popSize
	config.LowerBound = lo
	config.UpperBound = hi
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		slog.Warn("Mayfly optimization failed, falling back to zero vector", "error", err)
		zero := clamped(make([]float64, dim))
		return zero, eval(zero)
	}

	best := clamped(result.GlobalBest.Position)
	return best, result.GlobalBest.Cost
}

// envelope returns the smallest scalar range covering every finite bound.
// Unbounded problems fall back to [-1, 1].
func envelope(lower, upper []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range lower {
		if !math.IsInf(v, 0) {
			lo = math.Min(lo, v)
		}
	}
	for _, v := range upper {
		if !math.IsInf(v, 0) {
			hi = math.Max(hi, v)
		}
	}
	switch {
	case math.IsInf(lo, 1) && math.IsInf(hi, -1):
		return -1, 1
	case math.IsInf(lo, 1):
		lo = math.Min(-1, hi-2)
	case math.IsInf(hi, -1):
		hi = math.Max(1, lo+2)
	}
	return lo, hi
}
