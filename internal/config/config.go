// Package config loads cflip settings.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (CFLIP_*)
// 3. Project config (.cflip.yaml in cwd, or the file named by CFLIP_CONFIG)
// 4. Home config (~/.config/charge-flip/config.yaml)
// 5. Defaults
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"charge-flip/internal/flipping"
	"charge-flip/internal/origin"
	"charge-flip/internal/solver"
)

// Config holds all cflip configuration.
type Config struct {
	// Output selects the report format (table, json).
	Output string `yaml:"output" json:"output"`

	// DB is the run history database path.
	DB string `yaml:"db" json:"db"`

	// MetricsTextfile, when set, receives the run metrics in the
	// node-exporter textfile format.
	MetricsTextfile string `yaml:"metrics_textfile" json:"metrics_textfile"`

	Verbose bool `yaml:"verbose" json:"verbose"`
	LogJSON bool `yaml:"log_json" json:"log_json"`

	// Trials is the number of independent seeded runs per job, Jobs how
	// many of them run at once.
	Trials int `yaml:"trials" json:"trials"`
	Jobs   int `yaml:"jobs" json:"jobs"`

	Solver SolverConfig `yaml:"solver" json:"solver"`
	Origin OriginConfig `yaml:"origin" json:"origin"`
}

// SolverConfig holds the iterator and solver settings.
type SolverConfig struct {
	// Strategy is basic or weak. Low-density elimination only polishes a
	// solution and is not accepted here.
	Strategy         string  `yaml:"strategy" json:"strategy"`
	ResolutionFactor float64 `yaml:"resolution_factor" json:"resolution_factor"`
	// WeakFraction and DeltaVarphi (degrees) tune the weak strategy. Zero is
	// a valid setting, so nil marks them unset.
	WeakFraction *float64 `yaml:"weak_fraction" json:"weak_fraction"`
	DeltaVarphi  *float64 `yaml:"delta_varphi" json:"delta_varphi"`

	DeltaGuessingSubIterations int     `yaml:"delta_guessing_sub_iterations" json:"delta_guessing_sub_iterations"`
	InitialFlippedFraction     float64 `yaml:"initial_flipped_fraction" json:"initial_flipped_fraction"`
	MaxGuessingRounds          int     `yaml:"max_guessing_rounds" json:"max_guessing_rounds"`
	MaxSolvingIterations       int     `yaml:"max_solving_iterations" json:"max_solving_iterations"`
	MaxAttempts                int     `yaml:"max_attempts" json:"max_attempts"`
	PhaseTransitionTailLen     int     `yaml:"phase_transition_tail_len" json:"phase_transition_tail_len"`
	PolishingIterations        int     `yaml:"polishing_iterations" json:"polishing_iterations"`
}

// OriginConfig holds the origin search settings.
type OriginConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// EnabledSet tracks whether Enabled was given explicitly.
	EnabledSet           bool    `yaml:"-" json:"-"`
	GridResolutionFactor float64 `yaml:"grid_resolution_factor" json:"grid_resolution_factor"`
	PeakCutoff           float64 `yaml:"peak_cutoff" json:"peak_cutoff"`
	MaxPeaks             int     `yaml:"max_peaks" json:"max_peaks"`
}

// Default returns the default configuration.
func Default() *Config {
	p := solver.DefaultParams()
	o := origin.DefaultParams()
	weak := flipping.DefaultWeakReflection()
	return &Config{
		Output: "table",
		DB:     defaultDBPath(),
		Trials: 1,
		Jobs:   1,
		Solver: SolverConfig{
			Strategy:                   "basic",
			ResolutionFactor:           0.5,
			WeakFraction:               ptr(weak.WeakFraction),
			DeltaVarphi:                ptr(weak.DeltaVarphi * 180 / math.Pi),
			DeltaGuessingSubIterations: p.DeltaGuessingSubIterations,
			InitialFlippedFraction:     p.InitialFlippedFraction,
			MaxGuessingRounds:          p.MaxGuessingRounds,
			MaxSolvingIterations:       p.MaxSolvingIterations,
			MaxAttempts:                p.MaxAttempts,
			PhaseTransitionTailLen:     p.PhaseTransitionTailLen,
			PolishingIterations:        p.PolishingIterations,
		},
		Origin: OriginConfig{
			Enabled:              true,
			GridResolutionFactor: o.GridResolutionFactor,
			PeakCutoff:           o.PeakCutoff,
			MaxPeaks:             10,
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cflip.db"
	}
	return filepath.Join(home, ".local", "share", "charge-flip", "history.db")
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults.
// An explicit path replaces the project config.
func Load(path string, flagOverrides *Config) (*Config, error) {
	cfg := Default()

	homeConfig, err := loadFromPath(homeConfigPath())
	if err != nil {
		return nil, err
	}
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	if path == "" {
		path = projectConfigPath()
	}
	projectConfig, err := loadFromPath(path)
	if err != nil {
		return nil, err
	}
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}
	return cfg, nil
}

func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "charge-flip", "config.yaml")
}

func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("CFLIP_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".cflip.yaml")
}

// loadFromPath loads config from a YAML file; a missing file is not an error.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var raw struct {
		Origin map[string]any `yaml:"origin"`
	}
	if err := yaml.Unmarshal(data, &raw); err == nil {
		if _, ok := raw.Origin["enabled"]; ok {
			cfg.Origin.EnabledSet = true
		}
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("CFLIP_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("CFLIP_DB"); v != "" {
		cfg.DB = v
	}
	if v := os.Getenv("CFLIP_METRICS_TEXTFILE"); v != "" {
		cfg.MetricsTextfile = v
	}
	if isTrue(os.Getenv("CFLIP_VERBOSE")) {
		cfg.Verbose = true
	}
	if isTrue(os.Getenv("CFLIP_LOG_JSON")) {
		cfg.LogJSON = true
	}
	if v := os.Getenv("CFLIP_STRATEGY"); v != "" {
		cfg.Solver.Strategy = v
	}
	if n, err := strconv.Atoi(os.Getenv("CFLIP_TRIALS")); err == nil && n > 0 {
		cfg.Trials = n
	}
	if n, err := strconv.Atoi(os.Getenv("CFLIP_JOBS")); err == nil && n > 0 {
		cfg.Jobs = n
	}
	if n, err := strconv.Atoi(os.Getenv("CFLIP_MAX_ATTEMPTS")); err == nil && n > 0 {
		cfg.Solver.MaxAttempts = n
	}
	if v := os.Getenv("CFLIP_NO_ORIGIN"); isTrue(v) {
		cfg.Origin.Enabled = false
		cfg.Origin.EnabledSet = true
	}
	return cfg
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}

func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

func mergeFloat(dst *float64, src float64) {
	if src != 0 {
		*dst = src
	}
}

func mergeFloatPtr(dst **float64, src *float64) {
	if src != nil {
		*dst = ptr(*src)
	}
}

func ptr[T any](v T) *T {
	return &v
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.Output, src.Output)
	mergeStr(&dst.DB, src.DB)
	mergeStr(&dst.MetricsTextfile, src.MetricsTextfile)
	if src.Verbose {
		dst.Verbose = true
	}
	if src.LogJSON {
		dst.LogJSON = true
	}
	mergeInt(&dst.Trials, src.Trials)
	mergeInt(&dst.Jobs, src.Jobs)
	mergeSolver(&dst.Solver, &src.Solver)
	mergeOrigin(&dst.Origin, &src.Origin)
	return dst
}

func mergeSolver(dst, src *SolverConfig) {
	mergeStr(&dst.Strategy, src.Strategy)
	mergeFloat(&dst.ResolutionFactor, src.ResolutionFactor)
	mergeFloatPtr(&dst.WeakFraction, src.WeakFraction)
	mergeFloatPtr(&dst.DeltaVarphi, src.DeltaVarphi)
	mergeInt(&dst.DeltaGuessingSubIterations, src.DeltaGuessingSubIterations)
	mergeFloat(&dst.InitialFlippedFraction, src.InitialFlippedFraction)
	mergeInt(&dst.MaxGuessingRounds, src.MaxGuessingRounds)
	mergeInt(&dst.MaxSolvingIterations, src.MaxSolvingIterations)
	mergeInt(&dst.MaxAttempts, src.MaxAttempts)
	mergeInt(&dst.PhaseTransitionTailLen, src.PhaseTransitionTailLen)
	mergeInt(&dst.PolishingIterations, src.PolishingIterations)
}

func mergeOrigin(dst, src *OriginConfig) {
	if src.EnabledSet {
		dst.Enabled = src.Enabled
		dst.EnabledSet = true
	}
	mergeFloat(&dst.GridResolutionFactor, src.GridResolutionFactor)
	mergeFloat(&dst.PeakCutoff, src.PeakCutoff)
	mergeInt(&dst.MaxPeaks, src.MaxPeaks)
}

// SolverParams maps the configuration onto solver parameters.
func (c *Config) SolverParams() solver.Params {
	p := solver.DefaultParams()
	s := c.Solver
	mergeInt(&p.DeltaGuessingSubIterations, s.DeltaGuessingSubIterations)
	mergeFloat(&p.InitialFlippedFraction, s.InitialFlippedFraction)
	mergeInt(&p.MaxGuessingRounds, s.MaxGuessingRounds)
	mergeInt(&p.MaxSolvingIterations, s.MaxSolvingIterations)
	mergeInt(&p.MaxAttempts, s.MaxAttempts)
	mergeInt(&p.PhaseTransitionTailLen, s.PhaseTransitionTailLen)
	mergeInt(&p.PolishingIterations, s.PolishingIterations)
	return p
}

// ErrPolishingStrategy is returned when low-density elimination is chosen
// for solving; the solver applies it itself once a solution is found.
var ErrPolishingStrategy = fmt.Errorf("%w: low-density elimination is used for polishing only", flipping.ErrInvalidArgument)

// Strategy returns the configured solving strategy.
func (c *Config) Strategy() (flipping.Strategy, error) {
	kind, err := flipping.ParseStrategyKind(c.Solver.Strategy)
	if err != nil {
		return flipping.Strategy{}, err
	}
	switch kind {
	case flipping.WeakReflectionFlip:
		weak := flipping.DefaultWeakReflection()
		if c.Solver.DeltaVarphi != nil {
			weak.DeltaVarphi = *c.Solver.DeltaVarphi * math.Pi / 180
		}
		if c.Solver.WeakFraction != nil {
			weak.WeakFraction = *c.Solver.WeakFraction
		}
		return flipping.WeakReflection(weak.DeltaVarphi, weak.WeakFraction), nil
	case flipping.LowDensityElimination:
		return flipping.Strategy{}, ErrPolishingStrategy
	default:
		return flipping.Basic(), nil
	}
}

// OriginParams maps the configuration onto origin search parameters.
func (c *Config) OriginParams() origin.Params {
	p := origin.DefaultParams()
	mergeFloat(&p.GridResolutionFactor, c.Origin.GridResolutionFactor)
	mergeFloat(&p.PeakCutoff, c.Origin.PeakCutoff)
	p.MaxPeaks = c.Origin.MaxPeaks
	return p
}
