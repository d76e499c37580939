package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwbudde/qdemitter/internal/config"
	"github.com/cwbudde/qdemitter/internal/store"
	"github.com/spf13/cobra"
)

var (
	resumeDataDir    string
	resumeIterations int
	resumeMetrics    string
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume a run from its checkpoint",
	Long: `Restores the archive saved in a run's checkpoint and continues the search
until the run's iteration budget (or --iters) is reached. The trace is appended
to and the checkpoint is overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Directory for checkpoints and traces")
	resumeCmd.Flags().IntVar(&resumeIterations, "iters", 0, "New total iteration budget (0 = keep the run's budget)")
	resumeCmd.Flags().StringVar(&resumeMetrics, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	checkpoint, err := checkpointStore.LoadCheckpoint(runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no checkpoint for run %s in %s", runID, resumeDataDir)
		}
		return err
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint for run %s is invalid: %w", runID, err)
	}

	cfg, err := configFromCheckpoint(checkpoint, resumeDataDir)
	if err != nil {
		return err
	}
	if resumeIterations > 0 {
		cfg.Run.Iterations = resumeIterations
	}
	cfg.Run.MetricsAddr = resumeMetrics

	if err := checkpoint.IsCompatible(cfg.Checkpointed()); err != nil {
		return err
	}
	if checkpoint.Iteration >= cfg.Run.Iterations {
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s already completed %d of %d iterations\n",
			runID, checkpoint.Iteration, cfg.Run.Iterations)
		return nil
	}

	slog.Info("Resuming run",
		"run_id", runID,
		"iteration", checkpoint.Iteration,
		"elites", len(checkpoint.Elites),
		"target_iterations", cfg.Run.Iterations,
	)

	dropped, err := store.TruncateTrace(resumeDataDir, runID, checkpoint.Iteration)
	if err != nil {
		return fmt.Errorf("failed to align trace with checkpoint: %w", err)
	}
	if dropped > 0 {
		slog.Info("Dropped trace entries past the checkpoint", "run_id", runID, "dropped", dropped)
	}

	s, err := newSession(cfg, runID, checkpoint.Elites)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := s.execute(ctx, checkpoint.Iteration, checkpoint.Restarts, true)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if res != nil {
		res.Restarts += checkpoint.Restarts
	}
	printSummary(cmd, runID, res)
	return nil
}

// configFromCheckpoint rebuilds a run configuration from a checkpoint. The
// seed is offset by the completed iterations so the resumed search does not
// replay the random stream of the original run.
func configFromCheckpoint(c *store.Checkpoint, dataDir string) (config.Config, error) {
	rc := c.Config
	seed := rc.Seed + int64(c.Iteration)

	var bounds []config.BoundConfig
	for _, b := range rc.Bounds {
		bounds = append(bounds, config.BoundConfig{Lower: b.Lower, Upper: b.Upper})
	}

	cfg := config.Config{
		Emitter: config.EmitterConfig{
			X0:            append([]float64(nil), rc.X0...),
			Bounds:        bounds,
			Sigma0:        rc.Sigma0,
			SelectionRule: rc.SelectionRule,
			RestartRule:   rc.RestartRule,
			WeightRule:    rc.WeightRule,
			BatchSize:     rc.BatchSize,
			Seed:          &seed,
		},
		Archive:   config.ArchiveConfig{Cells: append([]int(nil), rc.Cells...)},
		Benchmark: config.BenchmarkConfig{Name: rc.Benchmark, Dim: rc.Dim},
		Run: config.RunConfig{
			Iterations:      rc.Iterations,
			OutputDir:       dataDir,
			CheckpointEvery: rc.CheckpointEvery,
		},
		Logging: config.LoggingConfig{Level: logLevel},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("checkpoint config is invalid: %w", err)
	}
	return cfg, nil
}
