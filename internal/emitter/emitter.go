// Package emitter proposes batches of candidate solutions for a
// quality-diversity archive and adapts its search distribution towards
// solutions that improve that archive.
package emitter

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cwbudde/qdemitter/internal/archive"
	"github.com/cwbudde/qdemitter/internal/opt"
)

// optimizerSeedRange bounds the optimizer seed drawn from the emitter's
// generator.
const optimizerSeedRange = 10_000

// Archive is the elite store an emitter inserts into and restarts from.
// Implementations shared between emitters must serialize their own calls.
type Archive interface {
	Add(solution []float64, objective float64, behavior []float64, metadata any) (archive.AddResult, error)
	RandomElite() (archive.Elite, error)
}

// OptimizerFactory builds the search distribution for an emitter.
type OptimizerFactory func(opt.CMAESParams) (opt.Optimizer, error)

// Option customises an emitter at construction.
type Option func(*ImprovementEmitter)

// WithOptimizerFactory replaces the default CMA-ES optimizer.
func WithOptimizerFactory(f OptimizerFactory) Option {
	return func(e *ImprovementEmitter) {
		e.newOptimizer = f
	}
}

func newCMAES(p opt.CMAESParams) (opt.Optimizer, error) {
	return opt.NewCMAES(p)
}

// AskOptions are accepted by Ask for uniformity with gradient-based
// emitters. GradEstimate has no effect here.
type AskOptions struct {
	GradEstimate bool
}

// Feedback carries the evaluation of the batch returned by the last Ask, in
// the same order.
type Feedback struct {
	Solutions  [][]float64
	Objectives []float64
	Behaviors  [][]float64
	// Jacobians is ignored by this emitter.
	Jacobians [][][]float64
	// Metadata is optional; nil means no metadata for every solution.
	Metadata []any
}

// Stats are counters describing the emitter's history.
type Stats struct {
	Tells       int `json:"tells"`
	Restarts    int `json:"restarts"`
	TotalAdded  int `json:"totalAdded"`
	LastAdded   int `json:"lastAdded"`
	LastParents int `json:"lastParents"`
}

type protocolState int

const (
	stateIdle protocolState = iota
	stateAwaitingResult
)

func (s protocolState) String() string {
	if s == stateAwaitingResult {
		return "awaiting results"
	}
	return "idle"
}

// ImprovementEmitter drives a CMA-ES style optimizer towards solutions that
// add new cells to the archive or improve existing ones. When the optimizer
// stalls, or when a batch adds nothing under RestartNoImprovement, the search
// restarts from a random elite.
//
// An ImprovementEmitter is not safe for concurrent use.
type ImprovementEmitter struct {
	archive      Archive
	newOptimizer OptimizerFactory
	opt          opt.Optimizer

	x0            []float64
	sigma0        float64
	selectionRule SelectionRule
	restartRule   RestartRule
	lower, upper  []float64
	batchSize     int
	numParents    int // fixed parent count for SelectionMu

	rng   *rand.Rand
	state protocolState
	stats Stats
}

// New validates cfg and creates an emitter whose optimizer starts at cfg.X0.
func New(a Archive, cfg Config, opts ...Option) (*ImprovementEmitter, error) {
	if a == nil {
		return nil, &ConfigError{Field: "archive", Value: "<nil>", Reason: "is required"}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	seed := time.Now().UnixNano()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}

	e := &ImprovementEmitter{
		archive:       a,
		newOptimizer:  newCMAES,
		x0:            append([]float64(nil), cfg.X0...),
		sigma0:        cfg.Sigma0,
		selectionRule: cfg.SelectionRule,
		restartRule:   cfg.RestartRule,
		rng:           rand.New(rand.NewSource(seed)),
	}
	e.lower, e.upper = cfg.boundArrays()
	for _, o := range opts {
		o(e)
	}

	optimizer, err := e.newOptimizer(opt.CMAESParams{
		Sigma0:      cfg.Sigma0,
		BatchSize:   cfg.BatchSize,
		SolutionDim: len(e.x0),
		WeightRule:  cfg.WeightRule,
		Seed:        e.rng.Int63n(optimizerSeedRange),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %w", err)
	}
	optimizer.Reset(e.x0)

	e.opt = optimizer
	e.batchSize = optimizer.BatchSize()
	if e.selectionRule == SelectionMu {
		e.numParents = e.batchSize / 2
	}

	slog.Debug("Emitter created",
		"solution_dim", len(e.x0),
		"batch_size", e.batchSize,
		"selection_rule", e.selectionRule,
		"restart_rule", e.restartRule,
	)
	return e, nil
}

// X0 returns the initial search mean.
func (e *ImprovementEmitter) X0() []float64 {
	return append([]float64(nil), e.x0...)
}

// Sigma0 returns the initial step size.
func (e *ImprovementEmitter) Sigma0() float64 {
	return e.sigma0
}

// BatchSize returns the number of solutions produced by every Ask.
func (e *ImprovementEmitter) BatchSize() int {
	return e.batchSize
}

// SolutionDim returns the solution length.
func (e *ImprovementEmitter) SolutionDim() int {
	return len(e.x0)
}

// LowerBounds returns the per-dimension lower bounds; -Inf means unbounded.
func (e *ImprovementEmitter) LowerBounds() []float64 {
	return append([]float64(nil), e.lower...)
}

// UpperBounds returns the per-dimension upper bounds; +Inf means unbounded.
func (e *ImprovementEmitter) UpperBounds() []float64 {
	return append([]float64(nil), e.upper...)
}

// Restarts returns how many times the optimizer has been restarted.
func (e *ImprovementEmitter) Restarts() int {
	return e.stats.Restarts
}

// Stats returns the emitter's counters.
func (e *ImprovementEmitter) Stats() Stats {
	return e.stats
}

// Archive returns the archive the emitter inserts into.
func (e *ImprovementEmitter) Archive() Archive {
	return e.archive
}

// Ask samples a batch of BatchSize() solutions within the configured bounds.
// Every Ask must be followed by a Tell before the next Ask.
func (e *ImprovementEmitter) Ask(_ AskOptions) ([][]float64, error) {
	if e.state != stateIdle {
		return nil, &ProtocolError{Op: "Ask", State: e.state.String()}
	}

	batch := e.opt.Ask(e.lower, e.upper)
	e.state = stateAwaitingResult
	return batch, nil
}

// Tell inserts the evaluated batch into the archive, ranks it by insertion
// outcome and updates the optimizer with the ranked solutions. It may
// restart the optimizer from a random elite.
//
// Feedback with mismatched lengths is rejected with an InputError before the
// archive is touched, and the batch stays outstanding.
func (e *ImprovementEmitter) Tell(fb Feedback) error {
	if e.state != stateAwaitingResult {
		return &ProtocolError{Op: "Tell", State: e.state.String()}
	}
	if err := e.validateFeedback(fb); err != nil {
		return err
	}
	// From here on the batch is consumed, whatever the outcome.
	e.state = stateIdle

	records := make([]rankingRecord, len(fb.Solutions))
	values := make([]float64, len(fb.Solutions))
	for i, sol := range fb.Solutions {
		var meta any
		if fb.Metadata != nil {
			meta = fb.Metadata[i]
		}
		res, err := e.archive.Add(sol, fb.Objectives[i], fb.Behaviors[i], meta)
		if err != nil {
			return fmt.Errorf("failed to add solution %d: %w", i, err)
		}
		records[i] = rankingRecord{status: res.Status, value: res.Value, index: i}
		values[i] = res.Value
	}
	newSols := countAdded(records)

	rankRecords(records)
	ranked := make([][]float64, len(records))
	for i, r := range records {
		ranked[i] = fb.Solutions[r.index]
	}

	numParents := e.numParents
	if e.selectionRule == SelectionFilter {
		numParents = newSols
	}
	e.opt.Tell(ranked, numParents)

	e.stats.Tells++
	e.stats.LastAdded = newSols
	e.stats.TotalAdded += newSols
	e.stats.LastParents = numParents

	optimizerStop := e.opt.CheckStop(values)
	emitterStop := e.shouldRestart(newSols)
	slog.Debug("Emitter tell",
		"new_solutions", newSols,
		"num_parents", numParents,
		"optimizer_stop", optimizerStop,
		"emitter_stop", emitterStop,
	)
	if optimizerStop || emitterStop {
		return e.restart(optimizerStop)
	}
	return nil
}

// shouldRestart is the emitter-side restart decision for one batch.
func (e *ImprovementEmitter) shouldRestart(newSols int) bool {
	if e.restartRule == RestartNoImprovement {
		return newSols == 0
	}
	return false
}

// restart reseeds the optimizer from a random elite, or from x0 when the
// archive has no elites yet.
func (e *ImprovementEmitter) restart(optimizerStop bool) error {
	mean := e.x0
	elite, err := e.archive.RandomElite()
	switch {
	case errors.Is(err, archive.ErrEmptyArchive):
		slog.Debug("Archive empty, restarting from x0")
	case err != nil:
		return fmt.Errorf("failed to sample elite for restart: %w", err)
	default:
		mean = elite.Solution
	}

	e.opt.Reset(mean)
	e.stats.Restarts++

	trigger := string(e.restartRule)
	if optimizerStop {
		trigger = "optimizer"
	}
	slog.Info("Emitter restarted", "restarts", e.stats.Restarts, "trigger", trigger)
	return nil
}

func (e *ImprovementEmitter) validateFeedback(fb Feedback) error {
	if len(fb.Solutions) != e.batchSize {
		return &InputError{Field: "solutions", Expected: e.batchSize, Actual: len(fb.Solutions)}
	}
	if len(fb.Objectives) != e.batchSize {
		return &InputError{Field: "objectives", Expected: e.batchSize, Actual: len(fb.Objectives)}
	}
	if len(fb.Behaviors) != e.batchSize {
		return &InputError{Field: "behaviors", Expected: e.batchSize, Actual: len(fb.Behaviors)}
	}
	if fb.Metadata != nil && len(fb.Metadata) != e.batchSize {
		return &InputError{Field: "metadata", Expected: e.batchSize, Actual: len(fb.Metadata)}
	}
	for i, sol := range fb.Solutions {
		if len(sol) != len(e.x0) {
			return &InputError{Field: fmt.Sprintf("solutions[%d]", i), Expected: len(e.x0), Actual: len(sol)}
		}
	}
	return nil
}
