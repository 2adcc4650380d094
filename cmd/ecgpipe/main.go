// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// ecgpipe requests ECG samples and files from an ecgpipe-server it
// starts as a child process, talking to it over named pipes.
//
// Modes, chosen by flags:
//
//	ecgpipe -f 1.csv            download 1.csv into --output-dir
//	ecgpipe -p 3 -t 2.5 -e 1    print one sample
//	ecgpipe -p 3                scan 1000 samples into <output-dir>/x1.csv
//	ecgpipe                     start the server, handshake, and quit
//
// -c moves all requests onto a freshly provisioned channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/ecgpipe/lib/config"
	"github.com/bureau-foundation/ecgpipe/lib/fifo"
	"github.com/bureau-foundation/ecgpipe/lib/process"
	"github.com/bureau-foundation/ecgpipe/lib/scan"
	"github.com/bureau-foundation/ecgpipe/lib/session"
	"github.com/bureau-foundation/ecgpipe/lib/transfer"
	"github.com/bureau-foundation/ecgpipe/lib/version"
	"github.com/bureau-foundation/ecgpipe/lib/wire"
)

// serverBinaryName is looked for next to this executable, then on PATH.
const serverBinaryName = "ecgpipe-server"

// scanFileName is the bulk scan output inside --output-dir.
const scanFileName = "x1.csv"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, nil)
	stop()
	if err != nil {
		process.Fatal(err)
	}
}

type options struct {
	person     int
	seconds    float64
	ecg        int
	filename   string
	capacity   int
	newChannel bool

	outputDir    string
	serverBinary string
	dataDir      string
	runDir       string
	manifest     bool
	compress     bool
	logLevel     string

	hasPerson bool
	hasECG    bool
}

// run parses args and performs the selected mode. A nil launcher runs
// the server binary; tests pass an in-process one.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, launcher session.Launcher) error {
	var opts options
	var showVersion bool

	flags := pflag.NewFlagSet("ecgpipe", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.IntVarP(&opts.person, "person", "p", 0, "person whose recording to query (1-15)")
	flags.Float64VarP(&opts.seconds, "time", "t", 0, "time of the sample, in seconds")
	flags.IntVarP(&opts.ecg, "ecg", "e", 0, "ECG lead (1 or 2)")
	flags.StringVarP(&opts.filename, "file", "f", "", "file to download from the server's data directory")
	flags.IntVarP(&opts.capacity, "capacity", "m", 256, "largest file chunk to request, in bytes")
	flags.BoolVarP(&opts.newChannel, "new-channel", "c", false, "send requests on a newly provisioned channel")
	flags.StringVar(&opts.outputDir, "output-dir", "received", "directory for downloads and scan output")
	flags.StringVar(&opts.serverBinary, "server-binary", "", "server executable (default: "+serverBinaryName+" next to this binary, then PATH)")
	flags.StringVar(&opts.dataDir, "data-dir", "BIMDC", "server data directory")
	flags.StringVar(&opts.runDir, "run-dir", "", "directory for channel FIFOs (default: a fresh temporary directory)")
	flags.BoolVar(&opts.manifest, "manifest", false, "write a CBOR manifest next to each download")
	flags.BoolVar(&opts.compress, "compress", false, "zstd-compress scan output")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn, or error")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &process.UsageError{Err: err}
	}
	if showVersion {
		fmt.Fprintln(stdout, version.Banner("ecgpipe"))
		return nil
	}
	if flags.NArg() > 0 {
		return process.Usagef("unexpected arguments: %v", flags.Args())
	}
	opts.hasPerson = flags.Changed("person")
	opts.hasECG = flags.Changed("ecg")
	if err := opts.validate(flags.Changed("time")); err != nil {
		return err
	}

	level, err := config.ParseLogLevel(opts.logLevel)
	if err != nil {
		return &process.UsageError{Err: err}
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level}))

	runDir := opts.runDir
	if runDir == "" {
		runDir, err = os.MkdirTemp("", "ecgpipe-")
		if err != nil {
			return fmt.Errorf("creating run directory: %w", err)
		}
		defer os.RemoveAll(runDir)
	}

	if launcher == nil {
		binary, err := resolveServerBinary(opts.serverBinary)
		if err != nil {
			return err
		}
		launcher = &session.ExecLauncher{Binary: binary, Stderr: stderr}
	}

	sess, err := session.Start(ctx, launcher, &fifo.Namespace{Dir: runDir, Logger: logger}, session.Options{
		Server: session.ServerOptions{
			Capacity: opts.capacity,
			DataDir:  opts.dataDir,
			RunDir:   runDir,
			LogLevel: opts.logLevel,
		},
		Capacity:   opts.capacity,
		NewChannel: opts.newChannel,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	workErr := perform(ctx, sess, opts, stdout, logger)
	return errors.Join(workErr, sess.Close())
}

// validate rejects bad input before any server or channel exists.
func (o *options) validate(hasTime bool) error {
	if o.hasPerson && (o.person < wire.MinPerson || o.person > wire.MaxPerson) {
		return process.Usagef("person must be in %d..%d, got %d", wire.MinPerson, wire.MaxPerson, o.person)
	}
	if o.hasECG && o.ecg != 1 && o.ecg != 2 {
		return process.Usagef("ecg must be 1 or 2, got %d", o.ecg)
	}
	if (o.hasECG || hasTime) && !o.hasPerson && o.filename == "" {
		return process.Usagef("-t and -e need -p")
	}
	if hasTime && o.seconds < 0 {
		return process.Usagef("time must not be negative, got %v", o.seconds)
	}
	if o.capacity < 1 || o.capacity > wire.MaxCapacity {
		return process.Usagef("capacity must be in 1..%d, got %d", wire.MaxCapacity, o.capacity)
	}
	if o.filename != "" {
		if err := wire.ValidateFilename(o.filename); err != nil {
			return &process.UsageError{Err: err}
		}
		if !filepath.IsLocal(o.filename) {
			return process.Usagef("file %q must be a relative path inside the data directory", o.filename)
		}
	}
	return nil
}

func perform(ctx context.Context, sess *session.Session, opts options, stdout io.Writer, logger *slog.Logger) error {
	client := sess.Client()

	switch {
	case opts.filename != "":
		destination := filepath.Join(opts.outputDir, opts.filename)
		result, err := transfer.Download(ctx, client, opts.filename, destination, transfer.Options{
			Capacity: sess.Capacity(),
			Manifest: opts.manifest,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Downloaded %s (%d bytes) to %s\n", result.Filename, result.Size, result.Path)
		if result.ManifestPath != "" {
			fmt.Fprintf(stdout, "Manifest %s (blake3 %s)\n", result.ManifestPath, result.Digest)
			if description, err := transfer.DescribeManifest(result.ManifestPath); err == nil {
				logger.Debug("manifest written", "path", result.ManifestPath, "contents", description)
			}
		}

	case opts.hasPerson && opts.hasECG:
		value, err := client.Data(opts.person, opts.seconds, opts.ecg)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "For person %d, at time %v, the value of ecg %d is %v\n",
			opts.person, opts.seconds, opts.ecg, value)

	case opts.hasPerson:
		rows, err := scan.Scan(ctx, client, opts.person, scan.DefaultSamples, logger)
		if err != nil {
			return err
		}
		path, err := scan.WriteFile(filepath.Join(opts.outputDir, scanFileName), rows, opts.compress)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Wrote %d samples for person %d to %s\n", len(rows), opts.person, path)
	}
	return nil
}

// resolveServerBinary returns explicit if set, else the server next to
// this executable, else the server on PATH.
func resolveServerBinary(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), serverBinaryName)
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}
	path, err := exec.LookPath(serverBinaryName)
	if err != nil {
		return "", fmt.Errorf("%s not found next to this binary or in PATH; use --server-binary", serverBinaryName)
	}
	return path, nil
}
