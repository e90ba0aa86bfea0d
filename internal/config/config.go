// ABOUTME: Configuration loading and parsing for the parley coordination core
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultStaleThreshold is applied when collab.stale_threshold is unset.
// A debating session older than this at restore time is archived.
const DefaultStaleThreshold = 2 * time.Hour

// DefaultMinDebateRounds is the finalize gate applied at the RPC boundary
// when collab.min_debate_rounds is unset.
const DefaultMinDebateRounds = 2

// Config represents the complete parley configuration
type Config struct {
	State   StateConfig   `yaml:"state"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Collab  CollabConfig  `yaml:"collab"`
	Logging LoggingConfig `yaml:"logging"`
}

// StateConfig holds the durable session document directory
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// LedgerConfig holds the coordination event ledger configuration
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CollabConfig holds debate timing and gating configuration
type CollabConfig struct {
	StaleThreshold  time.Duration `yaml:"-"`
	MinDebateRounds int           `yaml:"min_debate_rounds"`

	// Raw string value for YAML unmarshaling
	StaleThresholdRaw string `yaml:"stale_threshold"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir is required")
	}

	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required when ledger is enabled")
	}

	if c.Collab.StaleThreshold < 0 {
		return fmt.Errorf("collab.stale_threshold must not be negative")
	}

	if c.Collab.MinDebateRounds < 0 {
		return fmt.Errorf("collab.min_debate_rounds must not be negative")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Collab.StaleThresholdRaw == "" {
		c.Collab.StaleThreshold = DefaultStaleThreshold
	}
	if c.Collab.MinDebateRounds == 0 {
		c.Collab.MinDebateRounds = DefaultMinDebateRounds
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Collab.StaleThresholdRaw != "" {
		d, err := time.ParseDuration(cfg.Collab.StaleThresholdRaw)
		if err != nil {
			return fmt.Errorf("parsing stale_threshold %q: %w", cfg.Collab.StaleThresholdRaw, err)
		}
		cfg.Collab.StaleThreshold = d
	}

	return nil
}
