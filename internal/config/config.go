// Package config loads run configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cwbudde/qdemitter/internal/emitter"
	"github.com/cwbudde/qdemitter/internal/opt"
	"github.com/cwbudde/qdemitter/internal/store"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of a QD run.
type Config struct {
	Emitter   EmitterConfig   `yaml:"emitter"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
	Run       RunConfig       `yaml:"run"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EmitterConfig holds the improvement emitter settings.
type EmitterConfig struct {
	X0            []float64     `yaml:"x0"` // default: zero vector
	Sigma0        float64       `yaml:"sigma0"`
	SelectionRule string        `yaml:"selection_rule"` // mu, filter
	RestartRule   string        `yaml:"restart_rule"`   // basic, no_improvement
	WeightRule    string        `yaml:"weight_rule"`    // truncation, active
	BatchSize     int           `yaml:"batch_size"`     // 0 = automatic
	Bounds        []BoundConfig `yaml:"bounds"`
	Seed          *int64        `yaml:"seed"`
}

// BoundConfig is one dimension's bounds; null or missing sides are unbounded.
type BoundConfig struct {
	Lower *float64 `yaml:"lower"`
	Upper *float64 `yaml:"upper"`
}

// ArchiveConfig holds the grid archive settings.
type ArchiveConfig struct {
	Cells []int  `yaml:"cells"`
	Seed  *int64 `yaml:"seed"`
}

// BenchmarkConfig selects the evaluation function.
type BenchmarkConfig struct {
	Name string `yaml:"name"` // sphere, rastrigin
	Dim  int    `yaml:"dim"`
}

// RunConfig holds loop, output and observability settings.
type RunConfig struct {
	Iterations      int              `yaml:"iterations"`
	OutputDir       string           `yaml:"output_dir"`
	CheckpointEvery int              `yaml:"checkpoint_every"` // 0 = only at the end
	MetricsAddr     string           `yaml:"metrics_addr"`     // empty = disabled
	Stagnation      StagnationConfig `yaml:"stagnation"`
}

// StagnationConfig controls early stopping on QD score stagnation.
type StagnationConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Patience  int     `yaml:"patience"`
	Threshold float64 `yaml:"threshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// Load reads configuration from a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
// ${VAR} and ${VAR:-default} are replaced with environment variables.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Benchmark.Name == "" {
		c.Benchmark.Name = "sphere"
	}
	if c.Benchmark.Dim <= 0 {
		c.Benchmark.Dim = 10
	}
	if len(c.Emitter.X0) == 0 {
		c.Emitter.X0 = make([]float64, c.Benchmark.Dim)
	}
	if c.Emitter.Sigma0 == 0 {
		c.Emitter.Sigma0 = 0.5
	}
	if c.Emitter.SelectionRule == "" {
		c.Emitter.SelectionRule = string(emitter.SelectionFilter)
	}
	if c.Emitter.RestartRule == "" {
		c.Emitter.RestartRule = string(emitter.RestartNoImprovement)
	}
	if c.Emitter.WeightRule == "" {
		c.Emitter.WeightRule = string(opt.WeightTruncation)
	}
	if len(c.Archive.Cells) == 0 {
		c.Archive.Cells = []int{20, 20}
	}
	if c.Run.Iterations <= 0 {
		c.Run.Iterations = 1000
	}
	if c.Run.OutputDir == "" {
		c.Run.OutputDir = "./data"
	}
	if c.Run.Stagnation.Patience <= 0 {
		c.Run.Stagnation.Patience = 50
	}
	if c.Run.Stagnation.Threshold <= 0 {
		c.Run.Stagnation.Threshold = 0.0001
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for correctness. Emitter settings are
// validated fully when the emitter is built.
func (c *Config) Validate() error {
	if c.Benchmark.Dim < 2 {
		return fmt.Errorf("benchmark.dim must be at least 2, got %d", c.Benchmark.Dim)
	}
	if len(c.Emitter.X0) != c.Benchmark.Dim {
		return fmt.Errorf("emitter.x0 must have %d entries, got %d", c.Benchmark.Dim, len(c.Emitter.X0))
	}
	if c.Emitter.Sigma0 <= 0 {
		return fmt.Errorf("emitter.sigma0 must be positive, got %g", c.Emitter.Sigma0)
	}
	if _, err := emitter.ParseSelectionRule(c.Emitter.SelectionRule); err != nil {
		return fmt.Errorf("emitter.selection_rule: %w", err)
	}
	if _, err := emitter.ParseRestartRule(c.Emitter.RestartRule); err != nil {
		return fmt.Errorf("emitter.restart_rule: %w", err)
	}
	if _, err := opt.ParseWeightRule(c.Emitter.WeightRule); err != nil {
		return fmt.Errorf("emitter.weight_rule: %w", err)
	}
	if c.Emitter.BatchSize < 0 {
		return fmt.Errorf("emitter.batch_size cannot be negative, got %d", c.Emitter.BatchSize)
	}
	if len(c.Emitter.Bounds) != 0 && len(c.Emitter.Bounds) != c.Benchmark.Dim {
		return fmt.Errorf("emitter.bounds must be empty or have %d entries, got %d", c.Benchmark.Dim, len(c.Emitter.Bounds))
	}
	if len(c.Archive.Cells) != 2 {
		return fmt.Errorf("archive.cells must have 2 entries, got %d", len(c.Archive.Cells))
	}
	for i, n := range c.Archive.Cells {
		if n <= 0 {
			return fmt.Errorf("archive.cells[%d] must be positive, got %d", i, n)
		}
	}
	if c.Run.CheckpointEvery < 0 {
		return fmt.Errorf("run.checkpoint_every cannot be negative, got %d", c.Run.CheckpointEvery)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// EmitterSettings converts the emitter section to an emitter.Config.
func (c *Config) EmitterSettings() (emitter.Config, error) {
	selection, err := emitter.ParseSelectionRule(c.Emitter.SelectionRule)
	if err != nil {
		return emitter.Config{}, err
	}
	restart, err := emitter.ParseRestartRule(c.Emitter.RestartRule)
	if err != nil {
		return emitter.Config{}, err
	}
	weights, err := opt.ParseWeightRule(c.Emitter.WeightRule)
	if err != nil {
		return emitter.Config{}, err
	}

	var bounds []emitter.Bound
	for _, b := range c.Emitter.Bounds {
		bounds = append(bounds, emitter.Bound{Lower: b.Lower, Upper: b.Upper})
	}

	return emitter.Config{
		X0:            append([]float64(nil), c.Emitter.X0...),
		Sigma0:        c.Emitter.Sigma0,
		SelectionRule: selection,
		RestartRule:   restart,
		WeightRule:    weights,
		Bounds:        bounds,
		BatchSize:     c.Emitter.BatchSize,
		Seed:          c.Emitter.Seed,
	}, nil
}

// Checkpointed returns the subset of the configuration stored with checkpoints.
func (c *Config) Checkpointed() store.RunConfig {
	var seed int64
	if c.Emitter.Seed != nil {
		seed = *c.Emitter.Seed
	}
	var bounds []store.Bound
	for _, b := range c.Emitter.Bounds {
		bounds = append(bounds, store.Bound{Lower: b.Lower, Upper: b.Upper})
	}
	return store.RunConfig{
		Benchmark:       c.Benchmark.Name,
		X0:              append([]float64(nil), c.Emitter.X0...),
		Bounds:          bounds,
		Dim:             c.Benchmark.Dim,
		Cells:           append([]int(nil), c.Archive.Cells...),
		Sigma0:          c.Emitter.Sigma0,
		BatchSize:       c.Emitter.BatchSize,
		SelectionRule:   c.Emitter.SelectionRule,
		RestartRule:     c.Emitter.RestartRule,
		WeightRule:      c.Emitter.WeightRule,
		Iterations:      c.Run.Iterations,
		Seed:            seed,
		CheckpointEvery: c.Run.CheckpointEvery,
	}
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, fallback, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = fallback
		}
		return []byte(val)
	})
}
