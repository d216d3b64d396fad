// Package config loads the orchestrator's structured configuration —
// model aliases, Worker Pool sizing, the council roster, metrics, VRAM and
// RSI thresholds — from a YAML file, layered under the flat env-var
// credentials each Inference Client tier resolves independently. The
// complexity-gate regex tables are not configurable here; they are fixed
// in internal/gate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level orchestrator.yaml shape.
type Config struct {
	ModelAliases map[string]string `yaml:"model_aliases"`
	Pool         PoolConfig        `yaml:"pool"`
	Council      CouncilConfig     `yaml:"council"`
	Metrics      MetricsConfig     `yaml:"metrics"`
	VRAM         VRAMConfig        `yaml:"vram"`
	RSI          RSIConfig         `yaml:"rsi"`
}

// PoolConfig sizes the Worker Pool. Only Size and Catalogue are passed to
// pool.New; the Pool's availability wait (10s) and poll interval (100ms)
// are fixed constants in internal/pool, so AvailabilityWait and
// PollInterval are parsed but have no effect.
type PoolConfig struct {
	Size            int           `yaml:"size"`
	AvailabilityWait time.Duration `yaml:"availability_wait"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	Catalogue       []string      `yaml:"catalogue"` // small-model identities, round-robin at construction
}

// CouncilMember is one roster entry for the Council Engine.
type CouncilMember struct {
	Name           string  `yaml:"name"`
	ModelAlias     string  `yaml:"model_alias"`
	Weight         float64 `yaml:"weight"`
	Specialization string  `yaml:"specialization"`
	Backend        string  `yaml:"backend"` // "local" | "anthropic"
}

// CouncilConfig is the default member roster. The per-specialization
// system prompts are fixed in internal/council, not configured here.
type CouncilConfig struct {
	Members []CouncilMember `yaml:"members"`
}

// MetricsConfig carries the Metrics Registry's fire/promote thresholds.
type MetricsConfig struct {
	FireMinTasks       int     `yaml:"fire_min_tasks"`
	FireSuccessRate    float64 `yaml:"fire_success_rate"`
	FireAvgQuality     float64 `yaml:"fire_avg_quality"`
	PromoteMinTasks    int     `yaml:"promote_min_tasks"`
	PromoteSuccessRate float64 `yaml:"promote_success_rate"`
	PromoteAvgQuality  float64 `yaml:"promote_avg_quality"`
}

// VRAMConfig carries the VRAM Guard's ceilings.
type VRAMConfig struct {
	SafeCeilingPercent float64 `yaml:"safe_ceiling_percent"`
}

// RSIConfig carries the RSI Loop's acceptance thresholds.
type RSIConfig struct {
	MinImprovement float64 `yaml:"min_improvement"`
	MaxRegression  float64 `yaml:"max_regression"`
}

// Default returns the baked-in configuration used when no YAML file is
// present, matching the thresholds named explicitly in the specification.
func Default() Config {
	return Config{
		ModelAliases: map[string]string{
			"default": "qwen2.5-32b-instruct",
			"coder":   "qwen2.5-coder-32b-instruct",
			"fast":    "qwen2.5-7b-instruct",
			"tiny":    "qwen2.5-1.5b-instruct",
		},
		Pool: PoolConfig{
			Size:             4,
			AvailabilityWait: 10 * time.Second,
			PollInterval:     100 * time.Millisecond,
			Catalogue:        []string{"fast", "tiny"},
		},
		Council: CouncilConfig{
			Members: []CouncilMember{
				{Name: "Coder", ModelAlias: "coder", Weight: 1.5, Specialization: "code-review", Backend: "local"},
				{Name: "General", ModelAlias: "default", Weight: 1.0, Specialization: "general", Backend: "local"},
				{Name: "Fast", ModelAlias: "fast", Weight: 0.8, Specialization: "fact-check", Backend: "local"},
				{Name: "Claude", ModelAlias: "claude-sonnet", Weight: 1.2, Specialization: "security-audit", Backend: "anthropic"},
			},
		},
		Metrics: MetricsConfig{
			FireMinTasks:       10,
			FireSuccessRate:    0.5,
			FireAvgQuality:     3,
			PromoteMinTasks:    20,
			PromoteSuccessRate: 0.9,
			PromoteAvgQuality:  7,
		},
		VRAM: VRAMConfig{SafeCeilingPercent: 0.9},
		RSI: RSIConfig{
			MinImprovement: 0.01,
			MaxRegression:  0.0,
		},
	}
}

// Load reads path and merges it over Default(); a missing file is not an
// error — it simply leaves the defaults in place, matching the teacher's
// tolerant treatment of optional on-disk state (memory.go's stats file,
// auditor.go's persisted-stats file).
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
