package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwbudde/qdemitter/internal/config"
	"github.com/cwbudde/qdemitter/internal/runner"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configPath      string
	benchmarkName   string
	dim             int
	iterations      int
	sigma0          float64
	batchSize       int
	selectionRule   string
	restartRule     string
	weightRule      string
	seed            int64
	cells           []int
	dataDir         string
	checkpointEvery int
	metricsAddr     string
	patience        int
	withBaseline    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a quality-diversity search",
	Long: `Runs an improvement emitter against a benchmark, filling a grid archive.
Settings come from an optional YAML config file; flags override it.
The archive is checkpointed under <data-dir>/runs/<run-id>/ together with a
JSONL trace of every iteration.`,
	RunE: runSearch,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file")
	f.StringVar(&benchmarkName, "benchmark", "sphere", "Benchmark: sphere, rastrigin")
	f.IntVar(&dim, "dim", 10, "Solution dimension")
	f.IntVar(&iterations, "iters", 1000, "Number of ask/tell iterations")
	f.Float64Var(&sigma0, "sigma0", 0.5, "Initial step size")
	f.IntVar(&batchSize, "batch", 0, "Batch size (0 = automatic)")
	f.StringVar(&selectionRule, "selection-rule", "filter", "Parent selection: mu, filter")
	f.StringVar(&restartRule, "restart-rule", "no_improvement", "Restart rule: basic, no_improvement")
	f.StringVar(&weightRule, "weight-rule", "truncation", "Recombination weights: truncation, active")
	f.Int64Var(&seed, "seed", 0, "Random seed (default: time based)")
	f.IntSliceVar(&cells, "cells", []int{20, 20}, "Archive cells per behavior dimension")
	f.StringVar(&dataDir, "data-dir", "./data", "Directory for checkpoints and traces")
	f.IntVar(&checkpointEvery, "checkpoint-every", 0, "Save a checkpoint every N iterations (0 = only at the end)")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")
	f.IntVar(&patience, "stagnation-patience", 0, "Stop after N iterations without QD score growth (0 = disabled)")
	f.BoolVar(&withBaseline, "baseline", false, "Also run a mayfly baseline with the same evaluation budget")

	rootCmd.AddCommand(runCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") {
		setupLogger(cfg.Logging.Level)
	}

	runID := uuid.NewString()
	slog.Info("Starting run",
		"run_id", runID,
		"benchmark", cfg.Benchmark.Name,
		"dim", cfg.Benchmark.Dim,
		"seed", *cfg.Emitter.Seed,
		"output_dir", cfg.Run.OutputDir,
	)

	s, err := newSession(cfg, runID, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := s.execute(ctx, 0, 0, false)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	printSummary(cmd, runID, res)

	if withBaseline && res != nil {
		evals := res.Iterations * s.emitter.BatchSize()
		bl, err := runBaseline(s.benchmark, evals, 30, *cfg.Emitter.Seed)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Baseline (mayfly, %d evaluations): best objective %.4f vs archive best %.4f\n",
			bl.evaluations, bl.objective, res.Stats.BestObjective)
	}
	return nil
}

// resolveConfig loads the config file, if any, and applies flags the user set
// explicitly on top of it.
func resolveConfig(path string, flags *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if flags.Changed("benchmark") {
		cfg.Benchmark.Name = benchmarkName
	}
	if flags.Changed("dim") {
		cfg.Benchmark.Dim = dim
		if len(cfg.Emitter.X0) != dim {
			cfg.Emitter.X0 = make([]float64, dim)
			cfg.Emitter.Bounds = nil
		}
	}
	if flags.Changed("iters") {
		cfg.Run.Iterations = iterations
	}
	if flags.Changed("sigma0") {
		cfg.Emitter.Sigma0 = sigma0
	}
	if flags.Changed("batch") {
		cfg.Emitter.BatchSize = batchSize
	}
	if flags.Changed("selection-rule") {
		cfg.Emitter.SelectionRule = selectionRule
	}
	if flags.Changed("restart-rule") {
		cfg.Emitter.RestartRule = restartRule
	}
	if flags.Changed("weight-rule") {
		cfg.Emitter.WeightRule = weightRule
	}
	if flags.Changed("seed") {
		s := seed
		cfg.Emitter.Seed = &s
	}
	if flags.Changed("cells") {
		cfg.Archive.Cells = append([]int(nil), cells...)
	}
	if flags.Changed("data-dir") {
		cfg.Run.OutputDir = dataDir
	}
	if flags.Changed("checkpoint-every") {
		cfg.Run.CheckpointEvery = checkpointEvery
	}
	if flags.Changed("metrics-addr") {
		cfg.Run.MetricsAddr = metricsAddr
	}
	if flags.Changed("stagnation-patience") {
		cfg.Run.Stagnation.Enabled = patience > 0
		cfg.Run.Stagnation.Patience = patience
	}
	if cfg.Emitter.Seed == nil {
		s := time.Now().UnixNano()
		cfg.Emitter.Seed = &s
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func printSummary(cmd *cobra.Command, runID string, res *runner.Result) {
	if res == nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %d iterations, %d restarts in %s\n",
		runID, res.Iterations, res.Restarts, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Archive: %d elites (%.1f%% coverage), QD score %.2f, best objective %.4f\n",
		res.Stats.NumElites, res.Stats.Coverage*100, res.Stats.QDScore, res.Stats.BestObjective)
	if res.Stagnated {
		fmt.Fprintln(out, "Stopped early: QD score stagnated")
	}
}
