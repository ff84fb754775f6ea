// Package config assembles the pipeline configuration from defaults, an
// optional YAML or JSON file and CUSTODY_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rustyeddy/custody/custody"
	"github.com/rustyeddy/custody/internal/logging"
	"github.com/rustyeddy/custody/mapper"
	"github.com/rustyeddy/custody/normalize"
	"github.com/rustyeddy/custody/profile"
	"github.com/rustyeddy/custody/runner"
	"github.com/rustyeddy/custody/source"
	"github.com/rustyeddy/custody/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CUSTODY_STORE_DSN.
const EnvPrefix = "CUSTODY"

// Config is the complete pipeline configuration.
type Config struct {
	Log       logging.Config  `mapstructure:"log" json:"log" yaml:"log"`
	Store     store.Config    `mapstructure:"store" json:"store" yaml:"store"`
	Sources   []source.Config `mapstructure:"sources" json:"sources" yaml:"sources"`
	Runner    runner.Config   `mapstructure:"runner" json:"runner" yaml:"runner"`
	Normalize NormalizeConfig `mapstructure:"normalize" json:"normalize" yaml:"normalize"`
	Profiles  string          `mapstructure:"profiles" json:"profiles,omitempty" yaml:"profiles,omitempty"`
	Metrics   MetricsConfig   `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
}

// NormalizeConfig holds the numeric cleaning policy.
type NormalizeConfig struct {
	Parentheses string `mapstructure:"parentheses" json:"parentheses" yaml:"parentheses"` // "strip" or "negate"
	MaxAmount   string `mapstructure:"max_amount" json:"max_amount" yaml:"max_amount"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" json:"addr" yaml:"addr"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Log: logging.Config{Level: "info"},
		Store: store.Config{
			Driver:      "sqlite3",
			DSN:         "custody.db?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate",
			TablePrefix: "custody_holdings",
			LegacyTable: "custody_holdings",
			InsertChunk: 500,
		},
		Runner: runner.DefaultConfig(),
		Normalize: NormalizeConfig{
			Parentheses: custody.ParenStrip.String(),
			MaxAmount:   normalize.DefaultMaxAmount.String(),
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.table_prefix", d.Store.TablePrefix)
	v.SetDefault("store.legacy_table", d.Store.LegacyTable)
	v.SetDefault("store.insert_chunk", d.Store.InsertChunk)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("store.conn_max_lifetime", d.Store.ConnMaxLifetime)

	v.SetDefault("runner.workers", d.Runner.Workers)
	v.SetDefault("runner.batch_size", d.Runner.BatchSize)
	v.SetDefault("runner.unit_timeout", d.Runner.UnitTimeout)
	v.SetDefault("runner.max_sampled_issues", d.Runner.MaxSampledIssues)
	v.SetDefault("runner.batches_per_second", d.Runner.BatchesPerSecond)

	v.SetDefault("normalize.parentheses", d.Normalize.Parentheses)
	v.SetDefault("normalize.max_amount", d.Normalize.MaxAmount)

	v.SetDefault("profiles", d.Profiles)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Load reads path (YAML or JSON, optional) over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile is Load with a required file.
func LoadFromFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Load(path)
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite3" {
		return fmt.Errorf("store.driver must be 'postgres' or 'sqlite3'")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Store.InsertChunk < 0 {
		return fmt.Errorf("store.insert_chunk must not be negative")
	}
	if err := c.Runner.Validate(); err != nil {
		return err
	}
	if _, err := custody.ParseParenPolicy(c.Normalize.Parentheses); err != nil {
		return fmt.Errorf("normalize.parentheses: %w", err)
	}
	if c.Normalize.MaxAmount != "" {
		d, err := decimal.NewFromString(c.Normalize.MaxAmount)
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("normalize.max_amount must be a positive number")
		}
	}
	names := make(map[string]bool)
	for i, s := range c.Sources {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		names[s.Name] = true
	}
	return nil
}

// Source returns the source configured under name.
func (c *Config) Source(name string) (source.Config, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return source.Config{}, false
}

// Registry loads the profile file, or the built-in profiles when none is set.
func (c *Config) Registry() (*profile.Registry, error) {
	if c.Profiles == "" {
		return profile.Default(), nil
	}
	return profile.LoadFile(c.Profiles)
}

// MapperOptions converts the numeric policy for the mapper.
func (c *Config) MapperOptions() (mapper.Options, error) {
	p, err := custody.ParseParenPolicy(c.Normalize.Parentheses)
	if err != nil {
		return mapper.Options{}, err
	}
	return mapper.Options{Parentheses: p}, nil
}

// NormalizeOptions converts the numeric policy for the normalizer.
func (c *Config) NormalizeOptions() (normalize.Options, error) {
	p, err := custody.ParseParenPolicy(c.Normalize.Parentheses)
	if err != nil {
		return normalize.Options{}, err
	}
	opts := normalize.Options{Parentheses: p}
	if c.Normalize.MaxAmount != "" {
		opts.MaxAmount, err = decimal.NewFromString(c.Normalize.MaxAmount)
		if err != nil {
			return normalize.Options{}, err
		}
	}
	return opts, nil
}
