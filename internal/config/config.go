// Package config holds the server configuration and its YAML file format.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the reflow server.
type ServerConfig struct {
	Addr      string   `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string   `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string   `yaml:"log_format"` // Log format: text, json
	DBPath    string   `yaml:"db_path"`    // SQLite database path (default ~/.reflow/reflow.db, ":memory:" for testing)
	SceneDir  string   `yaml:"scene_dir"`  // Optional directory of scene files loaded into the library at startup
	TickMS    int      `yaml:"tick_ms"`    // Wall-clock tick mapped onto the virtual clock; 0 runs in virtual mode
	LatencyMS int      `yaml:"latency_ms"` // Default fetch latency for catalog rows that carry none
	Prelude   []string `yaml:"prelude"`    // JavaScript snippets loaded before each expression evaluation
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		TickMS:    10,
		LatencyMS: 100,
	}
}

// Load reads a YAML config file over the defaults. Fields absent from the
// file keep their default values.
func Load(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Tick returns the tick interval as a duration.
func (c ServerConfig) Tick() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

// Latency returns the default fetch latency as a duration.
func (c ServerConfig) Latency() time.Duration {
	return time.Duration(c.LatencyMS) * time.Millisecond
}
