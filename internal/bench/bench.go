// Package bench provides quality-diversity benchmark problems: an objective
// to maximize and a two-dimensional behavior descriptor for every solution.
package bench

import (
	"fmt"
	"math"
)

// SearchLimit is the conventional half-width of the sphere and Rastrigin
// domains. Coordinates beyond it are folded back when computing behaviors.
const SearchLimit = 5.12

// Benchmark evaluates solutions for a QD search.
type Benchmark interface {
	Name() string
	Dim() int
	// Evaluate returns an objective in [0, 100] and a behavior vector for
	// each solution, in order.
	Evaluate(solutions [][]float64) ([]float64, [][]float64)
	// BehaviorRanges returns the range of every behavior dimension.
	BehaviorRanges() [][2]float64
	// Cost is the raw function value to minimize, used by baselines.
	Cost(x []float64) float64
}

// New returns the benchmark with the given name.
func New(name string, dim int) (Benchmark, error) {
	if dim < 2 {
		return nil, fmt.Errorf("benchmark dimension must be at least 2, got %d", dim)
	}
	switch name {
	case "sphere":
		return &function{name: name, dim: dim, raw: sphere}, nil
	case "rastrigin":
		return &function{name: name, dim: dim, raw: rastrigin}, nil
	default:
		return nil, fmt.Errorf("unknown benchmark: %s", name)
	}
}

// function turns a raw minimization function into a QD benchmark. The
// optimum is shifted away from the origin so that x0 = 0 is not optimal.
type function struct {
	name string
	dim  int
	raw  func([]float64) float64
}

func (f *function) Name() string { return f.name }
func (f *function) Dim() int     { return f.dim }

func (f *function) center() float64 {
	return SearchLimit * 0.4
}

func (f *function) Cost(x []float64) float64 {
	shifted := make([]float64, len(x))
	for i, v := range x {
		shifted[i] = v - f.center()
	}
	return f.raw(shifted)
}

// worstCost is the cost at the domain corner furthest from the optimum.
func (f *function) worstCost() float64 {
	corner := make([]float64, f.dim)
	for i := range corner {
		corner[i] = -SearchLimit
	}
	return f.Cost(corner)
}

func (f *function) Evaluate(solutions [][]float64) ([]float64, [][]float64) {
	worst := f.worstCost()
	objectives := make([]float64, len(solutions))
	behaviors := make([][]float64, len(solutions))
	for i, x := range solutions {
		objectives[i] = (f.Cost(x) - worst) / (0 - worst) * 100
		behaviors[i] = f.behavior(x)
	}
	return objectives, behaviors
}

// behavior sums the first and second halves of the clipped solution.
func (f *function) behavior(x []float64) []float64 {
	half := len(x) / 2
	var b0, b1 float64
	for i, v := range x {
		c := clip(v)
		if i < half {
			b0 += c
		} else {
			b1 += c
		}
	}
	return []float64{b0, b1}
}

func (f *function) BehaviorRanges() [][2]float64 {
	half := f.dim / 2
	return [][2]float64{
		{-SearchLimit * float64(half), SearchLimit * float64(half)},
		{-SearchLimit * float64(f.dim-half), SearchLimit * float64(f.dim-half)},
	}
}

// clip keeps coordinates inside the domain and folds the rest back in.
func clip(v float64) float64 {
	if math.Abs(v) <= SearchLimit {
		return v
	}
	return SearchLimit / v
}

func sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func rastrigin(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}
