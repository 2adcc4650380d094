// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/ecgpipe/lib/wire"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "ECGPIPE_CONFIG"

// Config is the server configuration.
type Config struct {
	// Capacity is the largest FILE chunk the server sends, in bytes.
	Capacity int `yaml:"capacity"`

	// DataDir holds the recordings (<person>.csv) and any other files
	// clients may download.
	DataDir string `yaml:"data_dir"`

	// RunDir is where the channel FIFOs are created.
	RunDir string `yaml:"run_dir"`

	// Control is the control channel name.
	Control string `yaml:"control"`

	// Reattach accepts FIFOs left behind in RunDir instead of failing.
	Reattach bool `yaml:"reattach"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used for any field the file does
// not set.
func Default() *Config {
	return &Config{
		Capacity: 256,
		DataDir:  "BIMDC",
		RunDir:   ".",
		Control:  "control",
		LogLevel: "info",
	}
}

// Load loads configuration from the file named by ECGPIPE_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.DataDir = expandVars(c.DataDir, vars)
	c.RunDir = expandVars(c.RunDir, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity must be positive, got %d", c.Capacity))
	} else if c.Capacity > wire.MaxCapacity {
		errs = append(errs, fmt.Errorf("capacity must be at most %d, got %d", wire.MaxCapacity, c.Capacity))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.RunDir == "" {
		errs = append(errs, errors.New("run_dir is required"))
	}
	if c.Control == "" || strings.ContainsRune(c.Control, '/') {
		errs = append(errs, fmt.Errorf("control must be a non-empty name without '/', got %q", c.Control))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ParseLogLevel maps a level name to its slog level.
func ParseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log level must be one of debug, info, warn, error; got %q", name)
	}
}
