// Package config reads paramctl defaults from PARAMGRAPH_* environment
// variables. Command-line flags override them.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds environment-level defaults.
type Config struct {
	DB          string        `env:"PARAMGRAPH_DB"`
	Aliases     string        `env:"PARAMGRAPH_ALIASES"`
	Debounce    time.Duration `env:"PARAMGRAPH_DEBOUNCE" envDefault:"50ms"`
	LoadTimeout time.Duration `env:"PARAMGRAPH_LOAD_TIMEOUT" envDefault:"5s"`
	QueueSize   int           `env:"PARAMGRAPH_QUEUE_SIZE" envDefault:"1024"`
	LogLevel    string        `env:"PARAMGRAPH_LOG_LEVEL" envDefault:"info"`
	LogFormat   string        `env:"PARAMGRAPH_LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when the environment is empty.
func Default() Config {
	return Config{
		Debounce:    50 * time.Millisecond,
		LoadTimeout: 5 * time.Second,
		QueueSize:   1024,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Validate rejects values the binder and logger cannot use.
func (c Config) Validate() error {
	switch {
	case c.Debounce < 0:
		return fmt.Errorf("PARAMGRAPH_DEBOUNCE must not be negative, got %s", c.Debounce)
	case c.LoadTimeout < 0:
		return fmt.Errorf("PARAMGRAPH_LOAD_TIMEOUT must not be negative, got %s", c.LoadTimeout)
	case c.QueueSize < 1:
		return fmt.Errorf("PARAMGRAPH_QUEUE_SIZE must be at least 1, got %d", c.QueueSize)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("PARAMGRAPH_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}
