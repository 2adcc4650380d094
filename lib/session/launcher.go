// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bureau-foundation/ecgpipe/lib/channel"
	"github.com/bureau-foundation/ecgpipe/lib/clock"
	"github.com/bureau-foundation/ecgpipe/lib/ecgstore"
	"github.com/bureau-foundation/ecgpipe/lib/server"
)

// ServerOptions are the parameters a Launcher passes to the server.
type ServerOptions struct {
	Capacity    int
	DataDir     string
	RunDir      string
	ControlName string
	Reattach    bool
	LogLevel    string
}

// Handle is a running server.
type Handle interface {
	// Done is closed when the server has exited.
	Done() <-chan struct{}

	// Wait blocks until the server exits and returns its failure, if
	// any.
	Wait() error

	// Terminate asks the server to stop immediately. It does not wait.
	Terminate() error
}

// Launcher starts servers.
type Launcher interface {
	Spawn(ctx context.Context, options ServerOptions) (Handle, error)
}

// ExecLauncher runs the server binary as a child process.
type ExecLauncher struct {
	// Binary is the path of the server executable.
	Binary string

	// Stdout and Stderr receive the child's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// KillAfter is how long Terminate waits after SIGTERM before
	// sending SIGKILL. Zero means 5 seconds.
	KillAfter time.Duration

	// Clock times KillAfter. Nil means clock.Real().
	Clock clock.Clock
}

// Arguments returns the server command line for options.
func Arguments(options ServerOptions) []string {
	arguments := []string{
		"--capacity", strconv.Itoa(options.Capacity),
		"--data-dir", options.DataDir,
		"--run-dir", options.RunDir,
	}
	if options.ControlName != "" {
		arguments = append(arguments, "--control", options.ControlName)
	}
	if options.Reattach {
		arguments = append(arguments, "--reattach")
	}
	if options.LogLevel != "" {
		arguments = append(arguments, "--log-level", options.LogLevel)
	}
	return arguments
}

// Spawn starts the server binary. ctx bounds only the start itself;
// the child outlives it until it exits or is terminated.
func (l *ExecLauncher) Spawn(ctx context.Context, options ServerOptions) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	command := exec.Command(l.Binary, Arguments(options)...)
	command.Stdout = l.Stdout
	command.Stderr = l.Stderr
	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("starting server %s: %w", l.Binary, err)
	}

	killAfter := l.KillAfter
	if killAfter <= 0 {
		killAfter = 5 * time.Second
	}
	clk := l.Clock
	if clk == nil {
		clk = clock.Real()
	}
	handle := &processHandle{
		process:   command.Process,
		done:      make(chan struct{}),
		killAfter: killAfter,
		clock:     clk,
	}
	go func() {
		handle.err = command.Wait()
		close(handle.done)
	}()
	return handle, nil
}

type processHandle struct {
	process   *os.Process
	done      chan struct{}
	err       error
	killAfter time.Duration
	clock     clock.Clock

	terminateOnce sync.Once
}

func (h *processHandle) Done() <-chan struct{} { return h.done }

func (h *processHandle) Wait() error {
	<-h.done
	if h.err != nil {
		return fmt.Errorf("server process: %w", h.err)
	}
	return nil
}

func (h *processHandle) Terminate() error {
	var err error
	h.terminateOnce.Do(func() {
		err = h.process.Signal(syscall.SIGTERM)
		if errors.Is(err, os.ErrProcessDone) {
			err = nil
			return
		}
		go func() {
			select {
			case <-h.done:
			case <-h.clock.After(h.killAfter):
				h.process.Kill()
			}
		}()
	})
	return err
}

// InProcessLauncher runs the server in a goroutine of the calling
// process.
type InProcessLauncher struct {
	// Namespace is the server's side of the channel namespace.
	Namespace channel.Namespace

	// Samples overrides the recordings in ServerOptions.DataDir.
	Samples server.SampleSource

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Spawn creates the server and starts serving.
func (l *InProcessLauncher) Spawn(ctx context.Context, options ServerOptions) (Handle, error) {
	samples := l.Samples
	if samples == nil {
		samples = ecgstore.Open(options.DataDir)
	}
	srv, err := server.New(server.Config{
		Namespace:   l.Namespace,
		Samples:     samples,
		DataDir:     options.DataDir,
		Capacity:    options.Capacity,
		ControlName: options.ControlName,
		Logger:      l.Logger,
	})
	if err != nil {
		return nil, err
	}

	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := &goroutineHandle{done: make(chan struct{}), cancel: cancel}
	go func() {
		handle.err = srv.Serve(serveCtx)
		srv.Close()
		cancel()
		close(handle.done)
	}()
	return handle, nil
}

type goroutineHandle struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

func (h *goroutineHandle) Done() <-chan struct{} { return h.done }

func (h *goroutineHandle) Wait() error {
	<-h.done
	return h.err
}

func (h *goroutineHandle) Terminate() error {
	h.cancel()
	return nil
}
