// Package config loads CLI configuration. The library packages take their
// options explicitly; only the command layer reads files.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration.
type Config struct {
	// User identifies the acting user. In the SaaS this comes from the
	// session provider; the CLI takes it from config.
	User struct {
		ID   string `yaml:"id" validate:"required"`
		Name string `yaml:"name" validate:"required"`
		Role string `yaml:"role"`
	} `yaml:"user"`

	// DataDir holds the sqlite database, the events log, and uploads.
	DataDir string `yaml:"data_dir" validate:"required"`

	// Relay is an optional websocket relay URL, e.g. "ws://host:7420".
	// Empty means local-only: the events-log tail is the push feed.
	Relay string `yaml:"relay" validate:"omitempty,url"`

	PageSize int    `yaml:"page_size" validate:"gte=0,lte=500"`
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Blob struct {
		MaxBytes     int64    `yaml:"max_bytes" validate:"gte=0"`
		AllowedTypes []string `yaml:"allowed_types"`
	} `yaml:"blob"`
}

// DefaultPath returns ~/.discuss/config.yml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yml"
	}
	return filepath.Join(home, ".discuss", "config.yml")
}

func defaults() *Config {
	cfg := &Config{}
	cfg.DataDir = filepath.Join(filepath.Dir(DefaultPath()), "data")
	cfg.PageSize = 50
	cfg.LogLevel = "info"
	return cfg
}

// Load reads and validates the config at path. A missing file yields the
// defaults with no user set; commands that need identity reject that.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// DBPath returns the sqlite path under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "discuss.db")
}

// UploadsDir returns the attachment directory under the data dir.
func (c *Config) UploadsDir() string {
	return filepath.Join(c.DataDir, "uploads")
}
