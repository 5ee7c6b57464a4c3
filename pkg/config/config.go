// Package config loads promql-assist settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jjo/promql-assist/pkg/ai"
)

// Config captures every setting the CLI hosts need.
type Config struct {
	Datasource DatasourceConfig `yaml:"datasource"`
	AI         ai.Config        `yaml:"ai"`
	State      StateConfig      `yaml:"state"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Cache      CacheConfig      `yaml:"cache"`
}

// DatasourceConfig selects the query backend. URL wins over File when both are set.
type DatasourceConfig struct {
	URL             string        `yaml:"url"`
	File            string        `yaml:"file"`
	LookupsDisabled bool          `yaml:"lookupsDisabled"`
	Timeout         time.Duration `yaml:"timeout"`
	// Range is the width of the visible window ending now.
	Range time.Duration `yaml:"range"`
}

// StateConfig locates the persisted editor state.
type StateConfig struct {
	Path       string `yaml:"path"`
	HistoryCap int    `yaml:"historyCap"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig controls the Prometheus metrics listener; empty disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// CacheConfig controls the remote lookup cache.
type CacheConfig struct {
	LabelValuesTTL time.Duration `yaml:"labelValuesTTL"`
}

// Load initialises Config from a YAML file and environment overrides. An empty path falls
// back to PROMQL_ASSIST_CONFIG; no path at all yields defaults.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	if path == "" {
		path = getenv("PROMQL_ASSIST_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg, getenv)
	return &cfg, nil
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Datasource: DatasourceConfig{
			Timeout: 30 * time.Second,
			Range:   time.Hour,
		},
		State:   StateConfig{Path: DefaultStatePath(), HistoryCap: 100},
		Logging: LoggingConfig{Level: "info"},
		Cache:   CacheConfig{LabelValuesTTL: 5 * time.Minute},
	}
}

// DefaultStatePath is ~/.local/state/promql-assist/state.db, or a relative file when the
// home directory is unknown.
func DefaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "promql-assist.db"
	}
	return filepath.Join(home, ".local", "state", "promql-assist", "state.db")
}

func truthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if v := getenv("PROMQL_ASSIST_DATASOURCE_URL"); v != "" {
		cfg.Datasource.URL = v
	}
	if v := getenv("PROMQL_ASSIST_DATASOURCE_FILE"); v != "" {
		cfg.Datasource.File = v
	}
	if v := getenv("PROMQL_ASSIST_LOOKUPS_DISABLED"); v != "" {
		cfg.Datasource.LookupsDisabled = truthy(v)
	}
	if v := getenv("PROMQL_ASSIST_DATASOURCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Datasource.Timeout = d
		}
	}
	if v := getenv("PROMQL_ASSIST_RANGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Datasource.Range = d
		}
	}
	if v := getenv("PROMQL_ASSIST_AI_PROVIDER"); v != "" {
		cfg.AI.Provider = v
	}
	if v := getenv("PROMQL_ASSIST_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := getenv("PROMQL_ASSIST_AI_BASE"); v != "" {
		cfg.AI.Base = v
	}
	if v := getenv("PROMQL_ASSIST_AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := getenv("PROMQL_ASSIST_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := getenv("PROMQL_ASSIST_HISTORY_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.State.HistoryCap = n
		}
	}
	if v := getenv("PROMQL_ASSIST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("PROMQL_ASSIST_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := getenv("PROMQL_ASSIST_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
	if v := getenv("PROMQL_ASSIST_LABEL_VALUES_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.LabelValuesTTL = d
		}
	}
}
