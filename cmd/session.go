package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/qdemitter/internal/archive"
	"github.com/cwbudde/qdemitter/internal/bench"
	"github.com/cwbudde/qdemitter/internal/config"
	"github.com/cwbudde/qdemitter/internal/emitter"
	"github.com/cwbudde/qdemitter/internal/metrics"
	"github.com/cwbudde/qdemitter/internal/runner"
	"github.com/cwbudde/qdemitter/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// session wires one run: benchmark, archive, emitter and persistence.
type session struct {
	cfg       config.Config
	runID     string
	benchmark bench.Benchmark
	grid      *archive.GridArchive
	emitter   *emitter.ImprovementEmitter
	store     *store.FSStore
}

// newSession builds the run components. Restored elites, if any, are loaded
// into the archive before the emitter is created.
func newSession(cfg config.Config, runID string, restored []archive.Elite) (*session, error) {
	b, err := bench.New(cfg.Benchmark.Name, cfg.Benchmark.Dim)
	if err != nil {
		return nil, fmt.Errorf("failed to create benchmark: %w", err)
	}

	archiveSeed := cfg.Archive.Seed
	if archiveSeed == nil {
		archiveSeed = cfg.Emitter.Seed
	}
	grid, err := archive.NewGridArchive(cfg.Benchmark.Dim, cfg.Archive.Cells, b.BehaviorRanges(), archiveSeed)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	if len(restored) > 0 {
		if err := grid.Restore(restored); err != nil {
			return nil, fmt.Errorf("failed to restore archive: %w", err)
		}
	}

	emitterCfg, err := cfg.EmitterSettings()
	if err != nil {
		return nil, err
	}
	// A resumed search continues from one of its elites instead of x0.
	if len(restored) > 0 {
		elite, err := grid.RandomElite()
		if err != nil {
			return nil, fmt.Errorf("failed to pick resume elite: %w", err)
		}
		emitterCfg.X0 = elite.Solution
	}
	e, err := emitter.New(grid, emitterCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create emitter: %w", err)
	}

	s, err := store.NewFSStore(cfg.Run.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	return &session{
		cfg:       cfg,
		runID:     runID,
		benchmark: b,
		grid:      grid,
		emitter:   e,
		store:     s,
	}, nil
}

// execute runs the loop from startIteration and always saves a final
// checkpoint, including after cancellation.
func (s *session) execute(ctx context.Context, startIteration, priorRestarts int, appendTrace bool) (*runner.Result, error) {
	trace, err := store.NewTraceWriter(s.cfg.Run.OutputDir, s.runID, appendTrace)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	defer func() {
		if err := trace.Close(); err != nil {
			slog.Warn("Failed to close trace", "error", err)
		}
	}()

	var collector *metrics.Collector
	if addr := s.cfg.Run.MetricsAddr; addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.New(reg)
		srv := metrics.Serve(addr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("Metrics server shutdown failed", "error", err)
			}
		}()
	}

	stagnation := runner.DisabledStagnationConfig()
	if st := s.cfg.Run.Stagnation; st.Enabled {
		stagnation = runner.StagnationConfig{Enabled: true, Patience: st.Patience, Threshold: st.Threshold}
	}

	loop := runner.Loop{
		Emitter:        s.emitter,
		Benchmark:      s.benchmark,
		Iterations:     s.cfg.Run.Iterations,
		StartIteration: startIteration,
		Trace:          trace,
		Metrics:        collector,
		Stagnation:     stagnation,
		OnIteration: func(iteration int, _ archive.Stats) error {
			every := s.cfg.Run.CheckpointEvery
			if every > 0 && iteration%every == 0 {
				return s.checkpoint(iteration, priorRestarts)
			}
			return nil
		},
	}

	res, runErr := runner.Run(ctx, loop)
	if res == nil {
		return nil, runErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return res, runErr
	}

	if err := s.checkpoint(res.Iterations, priorRestarts); err != nil {
		return res, err
	}
	if err := trace.Flush(); err != nil {
		slog.Warn("Failed to flush trace", "error", err)
	}
	return res, runErr
}

// checkpoint saves the archive. Restart counts accumulate across resumes.
func (s *session) checkpoint(iteration, priorRestarts int) error {
	c := store.NewCheckpoint(
		s.runID,
		iteration,
		priorRestarts+s.emitter.Restarts(),
		s.grid.Stats(),
		s.grid.Elites(),
		s.cfg.Checkpointed(),
	)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}
	if err := s.store.SaveCheckpoint(s.runID, c); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	slog.Info("Checkpoint saved",
		"run_id", s.runID,
		"iteration", iteration,
		"elites", c.Stats.NumElites,
		"qd_score", c.Stats.QDScore,
	)
	return nil
}
