package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Worlds     map[string]WorldConfig `yaml:"worlds"`
	MainWorld  string                 `yaml:"main_world"`
	PeopleFile string                 `yaml:"people_file"`
	WorldsDir  string                 `yaml:"worlds_dir"`

	CheckpointDir      string        `yaml:"checkpoint_dir"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`

	Server  ServerConfig   `yaml:"server"`
	Logging LoggingConfig  `yaml:"logging"`
	Tracing *TracingConfig `yaml:"tracing,omitempty"`
}

// WorldConfig names the source files for one world
type WorldConfig struct {
	JlogDir   string `yaml:"jlog_dir,omitempty"`
	LoginsLog string `yaml:"logins_log,omitempty"`
	DeathsLog string `yaml:"deaths_log,omitempty"`
}

// ServerConfig defines the HTTP surface
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
	RateLimit    float64       `yaml:"rate_limit,omitempty"` // requests per second, 0 disables
	RateBurst    int           `yaml:"rate_burst,omitempty"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// TracingConfig defines OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// Default values
const (
	DefaultCheckpointDir      = "/var/lib/wurstmineberg-api/checkpoints"
	DefaultCheckpointInterval = 5 * time.Second
	DefaultStaleness          = 30 * time.Second
	DefaultAddress            = ":8081"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
)

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.CheckpointDir == "" {
		c.CheckpointDir = DefaultCheckpointDir
	}
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = DefaultCheckpointInterval
	}
	if c.StalenessThreshold == 0 {
		c.StalenessThreshold = DefaultStaleness
	}
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.MainWorld == "" && len(c.Worlds) == 1 {
		for name := range c.Worlds {
			c.MainWorld = name
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Worlds) == 0 {
		return fmt.Errorf("at least one world must be configured")
	}

	for name, w := range c.Worlds {
		if name == "" {
			return fmt.Errorf("world with empty name configured")
		}
		if w.JlogDir == "" && w.LoginsLog == "" && w.DeathsLog == "" {
			return fmt.Errorf("world %q has no sources configured", name)
		}
	}

	if c.MainWorld != "" {
		if _, ok := c.Worlds[c.MainWorld]; !ok {
			return fmt.Errorf("main world %q is not a configured world", c.MainWorld)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// LoadOrDefault loads configuration from file or returns a default configuration
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Worlds: map[string]WorldConfig{
			"wurstmineberg": {
				JlogDir:   "/opt/wurstmineberg/jlog",
				LoginsLog: "/opt/wurstmineberg/log/logins.log",
				DeathsLog: "/opt/wurstmineberg/log/deaths.log",
			},
		},
		MainWorld:  "wurstmineberg",
		PeopleFile: "/opt/wurstmineberg/config/people.json",
		WorldsDir:  "/opt/wurstmineberg/world",
	}
	cfg.applyDefaults()
	return cfg
}
