package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwbudde/qdemitter/internal/emitter"
	"github.com/cwbudde/qdemitter/internal/opt"
)

const sampleYAML = `
benchmark:
  name: rastrigin
  dim: 4
emitter:
  x0: [0.5, 0.5, -0.5, -0.5]
  sigma0: 0.25
  selection_rule: mu
  restart_rule: basic
  weight_rule: active
  batch_size: 12
  seed: 7
  bounds:
    - {lower: -5.12, upper: 5.12}
    - {lower: null, upper: 1}
    - {lower: 0}
    - {}
archive:
  cells: [50, 40]
run:
  iterations: 300
  output_dir: /tmp/qd
  checkpoint_every: 25
  metrics_addr: ":9100"
  stagnation:
    enabled: true
    patience: 10
    threshold: 0.01
logging:
  level: debug
`

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Benchmark.Name != "rastrigin" || cfg.Benchmark.Dim != 4 {
		t.Errorf("Expected rastrigin/4, got %s/%d", cfg.Benchmark.Name, cfg.Benchmark.Dim)
	}
	if cfg.Emitter.Seed == nil || *cfg.Emitter.Seed != 7 {
		t.Errorf("Expected seed 7, got %v", cfg.Emitter.Seed)
	}
	if len(cfg.Emitter.Bounds) != 4 {
		t.Fatalf("Expected 4 bounds, got %d", len(cfg.Emitter.Bounds))
	}
	if b := cfg.Emitter.Bounds[1]; b.Lower != nil || b.Upper == nil || *b.Upper != 1 {
		t.Errorf("Expected null lower and upper 1 for bounds[1], got %+v", b)
	}
	if b := cfg.Emitter.Bounds[3]; b.Lower != nil || b.Upper != nil {
		t.Errorf("Expected unbounded bounds[3], got %+v", b)
	}
	if cfg.Run.CheckpointEvery != 25 || cfg.Run.MetricsAddr != ":9100" {
		t.Errorf("Unexpected run section: %+v", cfg.Run)
	}
	if !cfg.Run.Stagnation.Enabled || cfg.Run.Stagnation.Patience != 10 {
		t.Errorf("Unexpected stagnation section: %+v", cfg.Run.Stagnation)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("benchmark:\n  dim: 6\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Benchmark.Name != "sphere" {
		t.Errorf("Expected default benchmark sphere, got %s", cfg.Benchmark.Name)
	}
	if len(cfg.Emitter.X0) != 6 {
		t.Errorf("Expected zero x0 of length 6, got %v", cfg.Emitter.X0)
	}
	if cfg.Emitter.SelectionRule != "filter" || cfg.Emitter.RestartRule != "no_improvement" || cfg.Emitter.WeightRule != "truncation" {
		t.Errorf("Unexpected default rules: %+v", cfg.Emitter)
	}
	if cfg.Emitter.Sigma0 != 0.5 || cfg.Run.Iterations != 1000 || cfg.Run.OutputDir != "./data" {
		t.Errorf("Unexpected defaults: sigma0=%g iterations=%d output=%s", cfg.Emitter.Sigma0, cfg.Run.Iterations, cfg.Run.OutputDir)
	}
	if cfg.Run.Stagnation.Enabled {
		t.Error("Stagnation detection must be opt-in")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default level info, got %s", cfg.Logging.Level)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("QD_OUTPUT", "/var/qd")

	cfg, err := Parse([]byte("run:\n  output_dir: ${QD_OUTPUT}\nlogging:\n  level: ${QD_LEVEL:-warn}\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Run.OutputDir != "/var/qd" {
		t.Errorf("Expected output dir /var/qd, got %s", cfg.Run.OutputDir)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected level warn from default, got %s", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"dimension", func(c *Config) { c.Benchmark.Dim = 1 }, "benchmark.dim"},
		{"x0 length", func(c *Config) { c.Emitter.X0 = []float64{1} }, "emitter.x0"},
		{"sigma", func(c *Config) { c.Emitter.Sigma0 = -1 }, "emitter.sigma0"},
		{"selection rule", func(c *Config) { c.Emitter.SelectionRule = "best" }, "emitter.selection_rule"},
		{"restart rule", func(c *Config) { c.Emitter.RestartRule = "never" }, "emitter.restart_rule"},
		{"weight rule", func(c *Config) { c.Emitter.WeightRule = "flat" }, "emitter.weight_rule"},
		{"batch size", func(c *Config) { c.Emitter.BatchSize = -3 }, "emitter.batch_size"},
		{"bounds length", func(c *Config) { c.Emitter.Bounds = []BoundConfig{{}} }, "emitter.bounds"},
		{"cells length", func(c *Config) { c.Archive.Cells = []int{10} }, "archive.cells"},
		{"cells value", func(c *Config) { c.Archive.Cells = []int{10, 0} }, "archive.cells[1]"},
		{"checkpoint interval", func(c *Config) { c.Run.CheckpointEvery = -1 }, "run.checkpoint_every"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestValidate_RuleErrorsUnwrap(t *testing.T) {
	cfg := Default()
	cfg.Emitter.SelectionRule = "best"

	if err := cfg.Validate(); !errors.Is(err, emitter.ErrConfig) {
		t.Errorf("Expected emitter.ErrConfig in chain, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Archive.Cells[0] != 50 || cfg.Archive.Cells[1] != 40 {
		t.Errorf("Expected cells [50 40], got %v", cfg.Archive.Cells)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := Parse([]byte("emitter: [not, a, map]")); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestEmitterSettings(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ec, err := cfg.EmitterSettings()
	if err != nil {
		t.Fatalf("EmitterSettings failed: %v", err)
	}
	if ec.SelectionRule != emitter.SelectionMu || ec.RestartRule != emitter.RestartBasic || ec.WeightRule != opt.WeightActive {
		t.Errorf("Unexpected rules: %s %s %s", ec.SelectionRule, ec.RestartRule, ec.WeightRule)
	}
	if ec.BatchSize != 12 || ec.Sigma0 != 0.25 {
		t.Errorf("Expected batch 12 and sigma0 0.25, got %d and %g", ec.BatchSize, ec.Sigma0)
	}
	if len(ec.Bounds) != 4 || ec.Bounds[2].Lower == nil || *ec.Bounds[2].Lower != 0 || ec.Bounds[2].Upper != nil {
		t.Errorf("Unexpected bounds conversion: %+v", ec.Bounds)
	}

	// The emitter config is a copy
	ec.X0[0] = 99
	if cfg.Emitter.X0[0] == 99 {
		t.Error("EmitterSettings shares x0 with the config")
	}
}

func TestCheckpointed(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	rc := cfg.Checkpointed()
	if rc.Benchmark != "rastrigin" || rc.Dim != 4 || rc.Seed != 7 || rc.Iterations != 300 {
		t.Errorf("Unexpected checkpoint config: %+v", rc)
	}
	if rc.CheckpointEvery != 25 || rc.WeightRule != "active" {
		t.Errorf("Unexpected checkpoint config: %+v", rc)
	}
}
