// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// ecgpipe-server answers ECG data and file requests over named pipes.
//
// It creates the control channel in --run-dir and serves it until the
// client sends QUIT on control, releases it, or the process receives
// SIGINT or SIGTERM. The client normally starts this binary itself.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/ecgpipe/lib/config"
	"github.com/bureau-foundation/ecgpipe/lib/ecgstore"
	"github.com/bureau-foundation/ecgpipe/lib/fifo"
	"github.com/bureau-foundation/ecgpipe/lib/process"
	"github.com/bureau-foundation/ecgpipe/lib/server"
	"github.com/bureau-foundation/ecgpipe/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		process.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		configPath  string
		capacity    int
		dataDir     string
		runDir      string
		control     string
		reattach    bool
		logLevel    string
		showVersion bool
	)

	flags := pflag.NewFlagSet("ecgpipe-server", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&configPath, "config", "", "path to config file (default: $"+config.EnvironmentVariable+")")
	flags.IntVarP(&capacity, "capacity", "m", 0, "largest file chunk to send, in bytes (overrides config)")
	flags.StringVar(&dataDir, "data-dir", "", "directory holding <person>.csv recordings and downloadable files (overrides config)")
	flags.StringVar(&runDir, "run-dir", "", "directory to create channel FIFOs in (overrides config)")
	flags.StringVar(&control, "control", "", "control channel name (overrides config)")
	flags.BoolVar(&reattach, "reattach", false, "reuse FIFOs left in the run directory by an earlier server")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn, or error (overrides config)")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &process.UsageError{Err: err}
	}
	if flags.NArg() > 0 {
		return process.Usagef("unexpected arguments: %v", flags.Args())
	}
	if showVersion {
		fmt.Fprintln(stdout, version.Banner("ecgpipe-server"))
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return &process.UsageError{Err: fmt.Errorf("loading config: %w", err)}
	}
	if flags.Changed("capacity") {
		cfg.Capacity = capacity
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("run-dir") {
		cfg.RunDir = runDir
	}
	if flags.Changed("control") {
		cfg.Control = control
	}
	if flags.Changed("reattach") {
		cfg.Reattach = reattach
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return &process.UsageError{Err: err}
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level}))

	srv, err := server.New(server.Config{
		Namespace: &fifo.Namespace{
			Dir:      cfg.RunDir,
			Reattach: cfg.Reattach,
			Logger:   logger,
		},
		Samples:     ecgstore.Open(cfg.DataDir),
		DataDir:     cfg.DataDir,
		Capacity:    cfg.Capacity,
		ControlName: cfg.Control,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	logger.Info("ecgpipe-server starting",
		"version", version.Info(),
		"data_dir", cfg.DataDir,
		"run_dir", cfg.RunDir,
		"control", cfg.Control,
		"capacity", cfg.Capacity,
	)
	return srv.Serve(ctx)
}

// loadConfig reads --config, else $ECGPIPE_CONFIG, else uses the
// defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv(config.EnvironmentVariable) != "" {
		return config.Load()
	}
	return config.Default(), nil
}
