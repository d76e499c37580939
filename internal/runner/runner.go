// Package runner drives an emitter against a benchmark: ask, evaluate, tell,
// repeated until the iteration budget is spent, the archive stagnates or the
// context is cancelled.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/qdemitter/internal/archive"
	"github.com/cwbudde/qdemitter/internal/bench"
	"github.com/cwbudde/qdemitter/internal/emitter"
	"github.com/cwbudde/qdemitter/internal/metrics"
	"github.com/cwbudde/qdemitter/internal/store"
)

// StatsSource reports the archive summary after every iteration.
type StatsSource interface {
	Stats() archive.Stats
}

// TraceSink receives one entry per iteration.
type TraceSink interface {
	Write(entry store.TraceEntry) error
}

// Loop configures a run.
type Loop struct {
	Emitter *emitter.ImprovementEmitter
	// Archive defaults to the emitter's own archive when that reports stats.
	Archive   StatsSource
	Benchmark bench.Benchmark

	// Iterations is the total number of ask/tell cycles, including
	// StartIteration cycles completed by an earlier run.
	Iterations     int
	StartIteration int

	// Trace and Metrics are optional
	Trace   TraceSink
	Metrics *metrics.Collector

	Stagnation StagnationConfig

	// OnIteration is called after every completed iteration, e.g. to save
	// periodic checkpoints. A returned error stops the run.
	OnIteration func(iteration int, stats archive.Stats) error
}

// Result summarises a finished run.
type Result struct {
	Iterations int
	Restarts   int
	Stats      archive.Stats
	Stagnated  bool
	Duration   time.Duration
}

// Run executes the loop. When ctx is cancelled Run returns the progress so
// far together with the context's error.
func Run(ctx context.Context, l Loop) (*Result, error) {
	if l.Emitter == nil || l.Benchmark == nil {
		return nil, fmt.Errorf("runner requires an emitter and a benchmark")
	}
	if l.Archive == nil {
		src, ok := l.Emitter.Archive().(StatsSource)
		if !ok {
			return nil, fmt.Errorf("emitter archive %T does not report stats, set Loop.Archive", l.Emitter.Archive())
		}
		l.Archive = src
	}
	if l.Benchmark.Dim() != l.Emitter.SolutionDim() {
		return nil, fmt.Errorf("benchmark dimension %d does not match emitter dimension %d",
			l.Benchmark.Dim(), l.Emitter.SolutionDim())
	}

	slog.Info("Starting run",
		"benchmark", l.Benchmark.Name(),
		"dim", l.Benchmark.Dim(),
		"batch_size", l.Emitter.BatchSize(),
		"start_iteration", l.StartIteration,
		"iterations", l.Iterations,
	)

	start := time.Now()
	tracker := NewStagnationTracker(l.Stagnation)
	res := &Result{Iterations: l.StartIteration}

	for it := l.StartIteration + 1; it <= l.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			res.finish(l, start)
			slog.Info("Run cancelled", "iteration", res.Iterations)
			return res, err
		}

		stats, err := step(l, it)
		if err != nil {
			res.finish(l, start)
			return res, fmt.Errorf("iteration %d: %w", it, err)
		}
		res.Iterations = it

		if l.OnIteration != nil {
			if err := l.OnIteration(it, stats); err != nil {
				res.finish(l, start)
				return res, fmt.Errorf("iteration %d callback: %w", it, err)
			}
		}

		if tracker.Update(stats.QDScore) {
			res.Stagnated = true
			break
		}
	}

	res.finish(l, start)
	slog.Info("Run complete",
		"iterations", res.Iterations,
		"restarts", res.Restarts,
		"elites", res.Stats.NumElites,
		"qd_score", res.Stats.QDScore,
		"stagnated", res.Stagnated,
		"duration", res.Duration,
	)
	return res, nil
}

// step runs one ask/evaluate/tell cycle and records it.
func step(l Loop, iteration int) (archive.Stats, error) {
	began := time.Now()
	restartsBefore := l.Emitter.Restarts()

	solutions, err := l.Emitter.Ask(emitter.AskOptions{})
	if err != nil {
		return archive.Stats{}, fmt.Errorf("failed to ask: %w", err)
	}
	objectives, behaviors := l.Benchmark.Evaluate(solutions)
	if err := l.Emitter.Tell(emitter.Feedback{
		Solutions:  solutions,
		Objectives: objectives,
		Behaviors:  behaviors,
	}); err != nil {
		return archive.Stats{}, fmt.Errorf("failed to tell: %w", err)
	}

	added := l.Emitter.Stats().LastAdded
	restarts := l.Emitter.Restarts()
	stats := l.Archive.Stats()

	l.Metrics.ObserveIteration(len(solutions), added, restarts-restartsBefore, time.Since(began))
	l.Metrics.SetArchive(stats)

	if l.Trace != nil {
		entry := store.TraceEntry{
			Iteration:     iteration,
			NumAdded:      added,
			Restarts:      restarts,
			NumElites:     stats.NumElites,
			Coverage:      stats.Coverage,
			QDScore:       stats.QDScore,
			BestObjective: stats.BestObjective,
			Timestamp:     time.Now(),
		}
		if err := l.Trace.Write(entry); err != nil {
			return stats, fmt.Errorf("failed to write trace entry: %w", err)
		}
	}

	slog.Debug("Iteration",
		"iteration", iteration,
		"added", added,
		"restarts", restarts,
		"elites", stats.NumElites,
		"qd_score", stats.QDScore,
	)
	return stats, nil
}

func (r *Result) finish(l Loop, start time.Time) {
	r.Restarts = l.Emitter.Restarts()
	r.Stats = l.Archive.Stats()
	r.Duration = time.Since(start)
}
