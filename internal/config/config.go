// Package config provides configuration loading for the annotate CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"
)

// Config represents the complete annotate configuration
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Annotations AnnotationsConfig `yaml:"annotations"`
	Backups     BackupsConfig     `yaml:"backups"`
	Limits      LimitsConfig      `yaml:"limits"`
	Watch       WatchConfig       `yaml:"watch"`
}

// LogConfig configures the process logger
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level" validate:"required,oneof=debug info warn error"`
	// Format is text, json or console (colored, for terminals)
	Format string `yaml:"format" validate:"required,oneof=text json console"`
}

// AnnotationsConfig selects where annotation logs are kept between runs
type AnnotationsConfig struct {
	// Backend is sqlite (one database for all sources) or json (one sidecar per source)
	Backend string `yaml:"backend" validate:"required,oneof=sqlite json"`
	// Path is the database file for sqlite, or the sidecar directory for json.
	// An empty json path puts the sidecar next to the source file.
	Path string `yaml:"path"`
}

// BackupsConfig configures where pre-write backups are stored
type BackupsConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// LimitsConfig bounds the documents accepted on load (0 = unlimited)
type LimitsConfig struct {
	MaxNodes int `yaml:"max_nodes" validate:"gte=0"`
	MaxEdges int `yaml:"max_edges" validate:"gte=0"`
}

// WatchConfig configures the source watcher
type WatchConfig struct {
	// Debounce coalesces bursts of file events (editors write in several steps)
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Annotations: AnnotationsConfig{
			Backend: "sqlite",
			Path:    filepath.Join(".annotate", "annotations.db"),
		},
		Backups: BackupsConfig{
			Dir: filepath.Join(".annotate", "backups"),
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

var validate = validator.New()

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			var msgs []string
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}

	if other.Annotations.Backend != "" {
		c.Annotations.Backend = other.Annotations.Backend
		// a backend switch without a path must not inherit the other backend's path
		if other.Annotations.Path == "" && other.Annotations.Backend == "json" {
			c.Annotations.Path = ""
		}
	}
	if other.Annotations.Path != "" {
		c.Annotations.Path = other.Annotations.Path
	}

	if other.Backups.Dir != "" {
		c.Backups.Dir = other.Backups.Dir
	}

	if other.Limits.MaxNodes != 0 {
		c.Limits.MaxNodes = other.Limits.MaxNodes
	}
	if other.Limits.MaxEdges != 0 {
		c.Limits.MaxEdges = other.Limits.MaxEdges
	}

	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
}
