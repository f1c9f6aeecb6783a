// Package config loads run, store and server settings from defaults, an
// optional YAML file and CMAES_* environment variables, in that order of
// increasing priority. Command-line flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/cmaes/internal/opt"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CMAES_"

// Config is the complete file layout.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Run      opt.RunConfig `yaml:"run"`
	Store    StoreConfig   `yaml:"store"`
	Server   ServerConfig  `yaml:"server"`
}

// StoreConfig selects the checkpoint backend.
type StoreConfig struct {
	// Backend is "fs" or "badger"
	Backend string `yaml:"backend"`

	// Dir is the data directory (fs: jobs/<id>/..., badger: database files)
	Dir string `yaml:"dir"`
}

// ServerConfig configures the HTTP job server.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// MaxConcurrentJobs limits running jobs (0 = unlimited)
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Run:      opt.DefaultRunConfig(),
		Store: StoreConfig{
			Backend: "fs",
			Dir:     "./data",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		slog.Debug("Loaded config file", "path", path)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// decode parses YAML strictly so misspelled keys are reported.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	switch c.Store.Backend {
	case "fs", "badger":
	default:
		return fmt.Errorf("unknown store backend %q (want fs or badger)", c.Store.Backend)
	}
	if c.Store.Dir == "" {
		return errors.New("store dir cannot be empty")
	}
	if c.Server.MaxConcurrentJobs < 0 {
		return fmt.Errorf("max_concurrent_jobs cannot be negative, got %d", c.Server.MaxConcurrentJobs)
	}
	if err := c.Run.Validate(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides fields from CMAES_* variables. Unparseable values are
// errors rather than silently ignored.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = i
		}
	}
	integer64 := func(name string, dst *int64) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			i, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = i
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("LOG_LEVEL", &cfg.LogLevel)

	str("OBJECTIVE", &cfg.Run.Objective)
	integer("DIM", &cfg.Run.Dim)
	integer("GENERATIONS", &cfg.Run.Generations)
	integer64("SEED", &cfg.Run.Seed)
	float("TOLX", &cfg.Run.TolX)
	integer("CHECKPOINT_INTERVAL", &cfg.Run.CheckpointInterval)

	float("STEP_SIZE", &cfg.Run.CMA.StepSize)
	integer("POPULATION", &cfg.Run.CMA.Population)
	float("RECOMBINATION_FRAC", &cfg.Run.CMA.RecombinationFrac)
	integer("SAMPLES_PER_EIG", &cfg.Run.CMA.SamplesPerEig)

	boolean("CONVERGENCE_ENABLED", &cfg.Run.Convergence.Enabled)
	integer("CONVERGENCE_PATIENCE", &cfg.Run.Convergence.Patience)
	float("CONVERGENCE_THRESHOLD", &cfg.Run.Convergence.Threshold)

	str("STORE_BACKEND", &cfg.Store.Backend)
	str("DATA_DIR", &cfg.Store.Dir)

	str("ADDR", &cfg.Server.Addr)
	integer("MAX_CONCURRENT_JOBS", &cfg.Server.MaxConcurrentJobs)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment override: %w", errors.Join(errs...))
	}
	return nil
}
