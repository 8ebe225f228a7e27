// Package config provides configuration for the sync core.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Queue    QueueConfig    `yaml:"queue"`
	Remote   RemoteConfig   `yaml:"remote"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Draft    DraftConfig    `yaml:"draft"`
	Policy   PolicyConfig   `yaml:"policy"`
	Log      LogConfig      `yaml:"log"`
}

// StorageConfig contains durable local storage settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// QueueConfig contains offline operation queue settings.
type QueueConfig struct {
	MaxRetries int `yaml:"max_retries"`
	MaxSize    int `yaml:"max_size"`
}

// RemoteConfig contains remote store settings.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// RealtimeConfig contains realtime channel settings.
type RealtimeConfig struct {
	URL string `yaml:"url"`
}

// DraftConfig contains draft auto-save settings.
type DraftConfig struct {
	QuietPeriod Duration `yaml:"quiet_period"`
}

// PolicyConfig contains conflict resolution policy settings. Modes are
// configured per table with a global default; nothing is hard-coded.
type PolicyConfig struct {
	DefaultMode models.PolicyMode            `yaml:"default_mode"`
	Tables      map[string]models.PolicyMode `yaml:"tables"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// AsDuration returns the underlying time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{DataDir: "./data"},
		Queue: QueueConfig{
			MaxRetries: 3,
			MaxSize:    1000,
		},
		Remote: RemoteConfig{
			Timeout: Duration(15 * time.Second),
		},
		Draft: DraftConfig{
			QuietPeriod: Duration(2 * time.Second),
		},
		Policy: PolicyConfig{
			DefaultMode: models.PolicyManual,
			Tables:      map[string]models.PolicyMode{},
		},
		Log: LogConfig{Level: "INFO"},
	}
}

// Load reads configuration from a YAML file layered over the defaults.
// A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue.max_retries must be >= 1, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.MaxSize < 1 {
		return fmt.Errorf("queue.max_size must be >= 1, got %d", c.Queue.MaxSize)
	}
	if c.Remote.Timeout.AsDuration() <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if c.Draft.QuietPeriod.AsDuration() <= 0 {
		return fmt.Errorf("draft.quiet_period must be positive")
	}
	if !c.Policy.DefaultMode.Valid() {
		return fmt.Errorf("policy.default_mode %q is not a known mode", c.Policy.DefaultMode)
	}
	for table, mode := range c.Policy.Tables {
		if !mode.Valid() {
			return fmt.Errorf("policy.tables[%s] %q is not a known mode", table, mode)
		}
	}
	return nil
}

// PolicyFor returns the resolution policy for one table, falling back
// to the configured default mode.
func (c *Config) PolicyFor(table string) models.ResolutionPolicy {
	if mode, ok := c.Policy.Tables[table]; ok {
		return models.ResolutionPolicy{Mode: mode}
	}
	return models.ResolutionPolicy{Mode: c.Policy.DefaultMode}
}
