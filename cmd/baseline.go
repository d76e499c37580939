package main

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cwbudde/qdemitter/internal/bench"
	"github.com/cwbudde/qdemitter/internal/opt"
	"github.com/spf13/cobra"
)

var (
	baselineBenchmark string
	baselineDim       int
	baselineIters     int
	baselinePop       int
	baselineSeed      int64
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Minimize a benchmark with the mayfly optimizer",
	Long: `Runs a single-objective mayfly optimization on the benchmark's raw cost
function. The result is a reference point for the best objective a QD run
should reach.`,
	RunE: runBaselineCmd,
}

func init() {
	baselineCmd.Flags().StringVar(&baselineBenchmark, "benchmark", "sphere", "Benchmark: sphere, rastrigin")
	baselineCmd.Flags().IntVar(&baselineDim, "dim", 10, "Solution dimension")
	baselineCmd.Flags().IntVar(&baselineIters, "iters", 100, "Max iterations")
	baselineCmd.Flags().IntVar(&baselinePop, "pop", 30, "Population size")
	baselineCmd.Flags().Int64Var(&baselineSeed, "seed", 42, "Random seed")

	rootCmd.AddCommand(baselineCmd)
}

func runBaselineCmd(cmd *cobra.Command, args []string) error {
	b, err := bench.New(baselineBenchmark, baselineDim)
	if err != nil {
		return err
	}

	m, err := opt.NewMayfly(baselineIters, baselinePop, baselineSeed)
	if err != nil {
		return fmt.Errorf("failed to create baseline optimizer: %w", err)
	}

	res := minimize(b, m)
	fmt.Fprintf(cmd.OutOrStdout(), "Baseline %s (dim %d): cost %.6f, objective %.4f after %d evaluations in %s\n",
		b.Name(), b.Dim(), res.cost, res.objective, res.evaluations, res.elapsed.Round(time.Millisecond))
	return nil
}

type baselineResult struct {
	solution    []float64
	cost        float64
	objective   float64
	evaluations int
	elapsed     time.Duration
}

// runBaseline sizes a mayfly run to roughly the given number of evaluations.
func runBaseline(b bench.Benchmark, evaluations, popSize int, seed int64) (baselineResult, error) {
	if popSize <= 0 {
		return baselineResult{}, fmt.Errorf("baseline population must be positive, got %d", popSize)
	}
	// mayfly evaluates about three populations per iteration
	iters := evaluations / (3 * popSize)
	if iters < 1 {
		iters = 1
	}
	m, err := opt.NewMayfly(iters, popSize, seed)
	if err != nil {
		return baselineResult{}, fmt.Errorf("failed to create baseline optimizer: %w", err)
	}
	return minimize(b, m), nil
}

func minimize(b bench.Benchmark, m opt.Minimizer) baselineResult {
	lower := make([]float64, b.Dim())
	upper := make([]float64, b.Dim())
	for i := range lower {
		lower[i], upper[i] = -bench.SearchLimit, bench.SearchLimit
	}

	var evals atomic.Int64
	counted := func(x []float64) float64 {
		evals.Add(1)
		return b.Cost(x)
	}

	start := time.Now()
	best, cost := m.Run(counted, lower, upper, b.Dim())
	elapsed := time.Since(start)

	objectives, _ := b.Evaluate([][]float64{best})
	slog.Info("Baseline complete",
		"benchmark", b.Name(),
		"cost", cost,
		"objective", objectives[0],
		"evaluations", evals.Load(),
		"elapsed", elapsed,
	)
	return baselineResult{
		solution:    best,
		cost:        cost,
		objective:   objectives[0],
		evaluations: int(evals.Load()),
		elapsed:     elapsed,
	}
}
