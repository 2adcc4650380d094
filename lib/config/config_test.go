// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/ecgpipe/lib/testutil"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Capacity != 256 {
		t.Errorf("expected capacity=256, got %d", cfg.Capacity)
	}
	if cfg.DataDir != "BIMDC" {
		t.Errorf("expected data_dir=BIMDC, got %s", cfg.DataDir)
	}
	if cfg.Control != "control" {
		t.Errorf("expected control=control, got %s", cfg.Control)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_RequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when ECGPIPE_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "ECGPIPE_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithEnvironmentVariable(t *testing.T) {
	directory := t.TempDir()
	path := testutil.WriteFile(t, directory, "ecgpipe.yaml", []byte(`
capacity: 4096
data_dir: /srv/ecg
`))
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capacity != 4096 {
		t.Errorf("expected capacity=4096, got %d", cfg.Capacity)
	}
	if cfg.DataDir != "/srv/ecg" {
		t.Errorf("expected data_dir=/srv/ecg, got %s", cfg.DataDir)
	}
	// Unset fields keep their defaults.
	if cfg.Control != "control" || cfg.LogLevel != "info" {
		t.Errorf("defaults lost: control=%q log_level=%q", cfg.Control, cfg.LogLevel)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "ecgpipe.jsonc", []byte(`{
  // Small chunks for a slow disk.
  "capacity": 64,
  "reattach": true,
  "log_level": "debug", // trailing comma is fine
}
`))
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Capacity != 64 || !cfg.Reattach || cfg.LogLevel != "debug" {
		t.Errorf("LoadFile = %+v", cfg)
	}
}

func TestLoadFile_ExpandsVariables(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("ECGPIPE_TEST_RUN", "")
	path := testutil.WriteFile(t, t.TempDir(), "ecgpipe.yaml", []byte(`
data_dir: ${HOME}/BIMDC
run_dir: ${ECGPIPE_TEST_RUN:-/tmp/ecgpipe}
`))
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DataDir != filepath.Join("/home/tester", "BIMDC") {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.RunDir != "/tmp/ecgpipe" {
		t.Errorf("run_dir = %q", cfg.RunDir)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	directory := t.TempDir()
	if _, err := LoadFile(filepath.Join(directory, "absent.yaml")); err == nil {
		t.Error("LoadFile(absent) succeeded")
	}
	bad := testutil.WriteFile(t, directory, "bad.yaml", []byte("capacity: [1, 2\n"))
	if _, err := LoadFile(bad); err == nil {
		t.Error("LoadFile(malformed) succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"zero capacity", func(c *Config) { c.Capacity = 0 }, "capacity must be positive"},
		{"negative capacity", func(c *Config) { c.Capacity = -1 }, "capacity must be positive"},
		{"capacity past int32", func(c *Config) { c.Capacity = 1 << 31 }, "capacity must be at most"},
		{"no data dir", func(c *Config) { c.DataDir = "" }, "data_dir is required"},
		{"no run dir", func(c *Config) { c.RunDir = "" }, "run_dir is required"},
		{"control with slash", func(c *Config) { c.Control = "a/b" }, "control must be"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, test.wantErr)
			}
		})
	}

	cfg := Default()
	cfg.Capacity = 0
	cfg.DataDir = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "capacity") || !strings.Contains(err.Error(), "data_dir") {
		t.Errorf("Validate() should report every problem, got %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, test := range tests {
		level, err := ParseLogLevel(test.name)
		if err != nil || level != test.want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", test.name, level, err, test.want)
		}
	}
}
