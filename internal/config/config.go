// Package config loads the worker configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "60s" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full worker configuration.
type Config struct {
	// Addr is the listen address for the channel and health endpoints.
	Addr string `yaml:"addr"`

	Remote struct {
		// BaseURL is the remote write endpoint root, without /rest/v1.
		BaseURL string   `yaml:"base_url"`
		APIKey  string   `yaml:"api_key"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"remote"`

	Queue struct {
		// DSN selects the snapshot store. Supported schemes are file paths,
		// memory://, postgres:// and redis://.
		DSN           string   `yaml:"dsn"`
		MaxAttempts   int      `yaml:"max_attempts"`
		RetryInterval Duration `yaml:"retry_interval"`
		Capacity      int      `yaml:"capacity"`
	} `yaml:"queue"`

	Connectivity struct {
		ProbeURL      string   `yaml:"probe_url"`
		ProbeInterval Duration `yaml:"probe_interval"`
		PauseFile     string   `yaml:"pause_file"`
	} `yaml:"connectivity"`
}

// Default returns a configuration that works for local development.
func Default() Config {
	var cfg Config
	cfg.Addr = "127.0.0.1:8787"
	cfg.Remote.Timeout = Duration(5 * time.Second)
	cfg.Queue.DSN = "commentsync-queue.json"
	cfg.Queue.MaxAttempts = 5
	cfg.Queue.RetryInterval = Duration(60 * time.Second)
	cfg.Queue.Capacity = 1024
	cfg.Connectivity.ProbeInterval = Duration(15 * time.Second)
	return cfg
}

// Load reads path (when non-empty), layers environment overrides on top, and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("COMMENTSYNC_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("COMMENTSYNC_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("COMMENTSYNC_REMOTE_APIKEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv("COMMENTSYNC_QUEUE_DSN"); v != "" {
		cfg.Queue.DSN = v
	}
	if v := os.Getenv("COMMENTSYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxAttempts = n
		}
	}
	if v := os.Getenv("COMMENTSYNC_RETRY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.RetryInterval = Duration(d)
		}
	}
	if v := os.Getenv("COMMENTSYNC_PROBE_URL"); v != "" {
		cfg.Connectivity.ProbeURL = v
	}
	if v := os.Getenv("COMMENTSYNC_PAUSE_FILE"); v != "" {
		cfg.Connectivity.PauseFile = v
	}
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr is required")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("config: remote.base_url is required")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("config: queue.max_attempts must be at least 1")
	}
	if c.Queue.RetryInterval.Std() <= 0 {
		return fmt.Errorf("config: queue.retry_interval must be positive")
	}
	return nil
}
