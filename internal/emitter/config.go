package emitter

import (
	"fmt"
	"math"

	"github.com/cwbudde/qdemitter/internal/opt"
)

// SelectionRule decides how many ranked solutions become parents.
type SelectionRule string

const (
	// SelectionMu always selects the top half of the batch.
	SelectionMu SelectionRule = "mu"
	// SelectionFilter selects every solution that entered the archive.
	SelectionFilter SelectionRule = "filter"
)

// ParseSelectionRule converts a configuration string into a SelectionRule.
func ParseSelectionRule(s string) (SelectionRule, error) {
	switch r := SelectionRule(s); r {
	case SelectionMu, SelectionFilter:
		return r, nil
	default:
		return "", &ConfigError{Field: "selection_rule", Value: s, Reason: "must be mu or filter"}
	}
}

// RestartRule decides when the emitter restarts its optimizer on its own.
type RestartRule string

const (
	// RestartBasic leaves restarts to the optimizer's convergence checks.
	RestartBasic RestartRule = "basic"
	// RestartNoImprovement also restarts after a batch that added nothing.
	RestartNoImprovement RestartRule = "no_improvement"
)

// ParseRestartRule converts a configuration string into a RestartRule.
func ParseRestartRule(s string) (RestartRule, error) {
	switch r := RestartRule(s); r {
	case RestartBasic, RestartNoImprovement:
		return r, nil
	default:
		return "", &ConfigError{Field: "restart_rule", Value: s, Reason: "must be basic or no_improvement"}
	}
}

// Bound constrains one solution dimension. A nil side is unbounded.
type Bound struct {
	Lower *float64
	Upper *float64
}

// Unbounded returns a Bound with neither side set.
func Unbounded() Bound { return Bound{} }

// Between returns a Bound clamping to [lo, hi].
func Between(lo, hi float64) Bound { return Bound{Lower: &lo, Upper: &hi} }

// AtLeast returns a Bound with only a lower side.
func AtLeast(lo float64) Bound { return Bound{Lower: &lo} }

// AtMost returns a Bound with only an upper side.
func AtMost(hi float64) Bound { return Bound{Upper: &hi} }

// Config holds the construction parameters of an ImprovementEmitter.
type Config struct {
	// X0 is the initial search mean; its length fixes the solution dimension.
	X0 []float64
	// Sigma0 is the initial step size.
	Sigma0 float64

	SelectionRule SelectionRule
	RestartRule   RestartRule
	WeightRule    opt.WeightRule

	// Bounds is either empty (no bounds) or has one entry per dimension.
	Bounds []Bound

	// BatchSize is the requested number of solutions per Ask. Zero lets the
	// optimizer choose.
	BatchSize int

	// Seed makes all emitter and optimizer randomness reproducible. Nil
	// seeds from the clock.
	Seed *int64
}

// DefaultConfig returns a config with the rules set to filter selection,
// no-improvement restarts and truncation weights.
func DefaultConfig(x0 []float64, sigma0 float64) Config {
	return Config{
		X0:            x0,
		Sigma0:        sigma0,
		SelectionRule: SelectionFilter,
		RestartRule:   RestartNoImprovement,
		WeightRule:    opt.WeightTruncation,
	}
}

// validate checks every field the emitter itself owns. The weight rule is
// validated by the optimizer.
func (c *Config) validate() error {
	if len(c.X0) == 0 {
		return &ConfigError{Field: "x0", Value: "[]", Reason: "cannot be empty"}
	}
	for i, v := range c.X0 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ConfigError{Field: fmt.Sprintf("x0[%d]", i), Value: fmt.Sprint(v), Reason: "must be finite"}
		}
	}
	if !(c.Sigma0 > 0) || math.IsInf(c.Sigma0, 0) {
		return &ConfigError{Field: "sigma0", Value: fmt.Sprint(c.Sigma0), Reason: "must be a positive finite number"}
	}
	if _, err := ParseSelectionRule(string(c.SelectionRule)); err != nil {
		return err
	}
	if _, err := ParseRestartRule(string(c.RestartRule)); err != nil {
		return err
	}
	if c.BatchSize < 0 {
		return &ConfigError{Field: "batch_size", Value: fmt.Sprint(c.BatchSize), Reason: "cannot be negative"}
	}
	if len(c.Bounds) != 0 && len(c.Bounds) != len(c.X0) {
		return &ConfigError{
			Field:  "bounds",
			Value:  fmt.Sprintf("%d entries", len(c.Bounds)),
			Reason: fmt.Sprintf("must be empty or have one entry per dimension (%d)", len(c.X0)),
		}
	}
	for i, b := range c.Bounds {
		if b.Lower != nil && b.Upper != nil && *b.Lower > *b.Upper {
			return &ConfigError{
				Field:  fmt.Sprintf("bounds[%d]", i),
				Value:  fmt.Sprintf("[%g, %g]", *b.Lower, *b.Upper),
				Reason: "lower bound exceeds upper bound",
			}
		}
	}
	return nil
}

// boundArrays expands Bounds into per-dimension arrays using infinities for
// missing sides.
func (c *Config) boundArrays() ([]float64, []float64) {
	n := len(c.X0)
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := 0; i < n; i++ {
		lower[i] = math.Inf(-1)
		upper[i] = math.Inf(1)
		if i >= len(c.Bounds) {
			continue
		}
		if b := c.Bounds[i]; b.Lower != nil {
			lower[i] = *b.Lower
		}
		if b := c.Bounds[i]; b.Upper != nil {
			upper[i] = *b.Upper
		}
	}
	return lower, upper
}
