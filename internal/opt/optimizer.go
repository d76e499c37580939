package opt

import "fmt"

// Optimizer is an adaptive search distribution driven through an ask/tell
// protocol.
type Optimizer interface {
	// Ask samples BatchSize() solutions. Finite entries of lower and upper
	// constrain the matching dimension; infinite entries leave it free.
	Ask(lower, upper []float64) [][]float64

	// Tell updates the distribution. ranked holds the last asked batch sorted
	// best first; only the first numParents rows are recombined.
	Tell(ranked [][]float64, numParents int)

	// Reset restarts the distribution around mean with the initial step size.
	Reset(mean []float64)

	// CheckStop reports whether the distribution has converged or degenerated.
	CheckStop(rankingValues []float64) bool

	// BatchSize is the number of solutions returned by Ask.
	BatchSize() int
}

// Minimizer runs a complete single-objective minimization.
type Minimizer interface {
	// Run executes the optimization
	// eval: objective function to minimize
	// lower, upper: parameter bounds
	// dim: dimensionality of parameter space
	// Returns: best parameters and best cost
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// WeightRule selects how recombination weights are assigned.
type WeightRule string

const (
	// WeightTruncation gives positive log weights to the parents only.
	WeightTruncation WeightRule = "truncation"
	// WeightActive additionally gives negative weights to the non-parents in
	// the covariance update.
	WeightActive WeightRule = "active"
)

// ParseWeightRule converts a configuration string into a WeightRule.
func ParseWeightRule(s string) (WeightRule, error) {
	switch r := WeightRule(s); r {
	case WeightTruncation, WeightActive:
		return r, nil
	default:
		return "", &ConfigError{Field: "weight_rule", Value: s, Reason: "must be truncation or active"}
	}
}

// ConfigError reports an invalid optimizer parameter.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}
