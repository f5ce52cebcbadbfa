// Package config loads client settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second
)

// Config is the client configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

// APIConfig configures the API client.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	Tracing   bool          `yaml:"tracing"`
}

// SessionConfig configures credential persistence.
type SessionConfig struct {
	TokenFile  string `yaml:"token_file"`
	Passphrase string `yaml:"passphrase"`
}

// LogConfig configures logging. Level "" or "off" disables logs.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{API: APIConfig{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout, UserAgent: "shop-cli"}}
}

// DefaultPath returns $XDG_CONFIG_HOME/shop/config.yaml or ~/.config/shop/config.yaml.
func DefaultPath() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "shop", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "shop", "config.yaml")
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is fine when optional is true.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SHOP_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SHOP_API_URL"); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := lookup("SHOP_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SHOP_TIMEOUT: %w", err)
		}
		c.API.Timeout = d
	}
	if v, ok := lookup("SHOP_TOKEN_PASSPHRASE"); ok {
		c.Session.Passphrase = v
	}
	if v, ok := lookup("SHOP_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks the fields the client cannot work without.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q must be an absolute URL", c.API.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url scheme %q not supported", u.Scheme)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	}
	switch c.Log.Level {
	case "", "off", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q unknown", c.Log.Level)
	}
	return nil
}
