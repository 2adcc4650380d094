// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/ecgpipe/lib/channel"
	"github.com/bureau-foundation/ecgpipe/lib/clock"
	"github.com/bureau-foundation/ecgpipe/lib/request"
	"github.com/bureau-foundation/ecgpipe/lib/server"
	"github.com/bureau-foundation/ecgpipe/lib/wire"
)

// DefaultShutdownTimeout bounds how long Close waits for the server
// to exit after QUIT before terminating it.
const DefaultShutdownTimeout = 5 * time.Second

// Options configures Start.
type Options struct {
	// Server is passed to the Launcher.
	Server ServerOptions

	// Capacity is the client's chunk capacity. The session uses the
	// smaller of this and the server's.
	Capacity int

	// NewChannel provisions a secondary channel, which then carries
	// all requests.
	NewChannel bool

	// ShutdownTimeout defaults to DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Session is a started server and the client's open channels to it.
type Session struct {
	handle    Handle
	control   *request.Client
	secondary *request.Client
	capacity  int

	shutdownTimeout time.Duration
	clock           clock.Clock
	logger          *slog.Logger
}

// Start launches the server, attaches the control channel through
// namespace, and negotiates capacity. If the server exits before the
// control channel attaches, Start fails instead of waiting forever.
// Any failure after the launch terminates the server.
func Start(ctx context.Context, launcher Launcher, namespace channel.Namespace, options Options) (*Session, error) {
	if options.Capacity < 1 || options.Capacity > wire.MaxCapacity {
		return nil, fmt.Errorf("capacity must be in 1..%d, got %d", wire.MaxCapacity, options.Capacity)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	shutdownTimeout := options.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	controlName := options.Server.ControlName
	if controlName == "" {
		controlName = server.DefaultControlName
	}

	handle, err := launcher.Spawn(ctx, options.Server)
	if err != nil {
		return nil, fmt.Errorf("launching server: %w", err)
	}
	session := &Session{
		handle:          handle,
		shutdownTimeout: shutdownTimeout,
		clock:           clk,
		logger:          logger,
	}

	if err := session.attach(ctx, namespace, controlName, options); err != nil {
		session.abort()
		return nil, err
	}
	return session, nil
}

func (s *Session) attach(ctx context.Context, namespace channel.Namespace, controlName string, options Options) error {
	// Opening blocks until the server creates its side, which never
	// happens if the server has died.
	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.handle.Done():
			cancel()
		case <-openCtx.Done():
		}
	}()

	open := func(name string) (*request.Client, error) {
		ch, err := namespace.Open(openCtx, name)
		if err != nil {
			select {
			case <-s.handle.Done():
				return nil, fmt.Errorf("server exited before channel %q attached: %w", name, errors.Join(s.handle.Wait(), err))
			default:
				return nil, fmt.Errorf("opening channel %q: %w", name, err)
			}
		}
		s.logger.Debug("channel attached", "channel", name)
		return request.New(ch, s.logger), nil
	}

	var err error
	s.control, err = open(controlName)
	if err != nil {
		return err
	}

	serverCapacity, err := s.control.Capacity()
	if err != nil {
		return fmt.Errorf("negotiating capacity: %w", err)
	}
	s.capacity = min(options.Capacity, serverCapacity)
	s.logger.Info("session started",
		"client_capacity", options.Capacity,
		"server_capacity", serverCapacity,
		"capacity", s.capacity,
	)

	if options.NewChannel {
		name, err := s.control.NewChannel()
		if err != nil {
			return fmt.Errorf("provisioning channel: %w", err)
		}
		s.secondary, err = open(name)
		if err != nil {
			return err
		}
	}
	return nil
}

// abort releases whatever attach opened and stops the server.
func (s *Session) abort() {
	for _, client := range []*request.Client{s.secondary, s.control} {
		if client != nil {
			client.Close()
		}
	}
	s.handle.Terminate()
	<-s.handle.Done()
}

// Client returns the channel requests should go to: the secondary if
// one was provisioned, otherwise control.
func (s *Session) Client() *request.Client {
	if s.secondary != nil {
		return s.secondary
	}
	return s.control
}

// Control returns the control channel client.
func (s *Session) Control() *request.Client { return s.control }

// Capacity returns the negotiated chunk capacity.
func (s *Session) Capacity() int { return s.capacity }

// Close sends QUIT on each healthy channel, secondary first, releases
// both, and waits for the server. If control could not carry QUIT, or
// the server does not exit within the shutdown timeout, the server is
// terminated. The returned error joins every failure along the way.
func (s *Session) Close() error {
	var errs []error

	controlQuit := false
	for _, client := range []*request.Client{s.secondary, s.control} {
		if client == nil {
			continue
		}
		if client.Err() == nil {
			if err := client.Quit(); err != nil {
				errs = append(errs, fmt.Errorf("sending QUIT on %q: %w", client.Name(), err))
			} else if client == s.control {
				controlQuit = true
			}
		} else {
			s.logger.Warn("releasing broken channel without QUIT", "channel", client.Name())
		}
		client.Close()
	}

	if !controlQuit {
		if err := s.handle.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminating server: %w", err))
		}
		<-s.handle.Done()
		return errors.Join(errs...)
	}

	select {
	case <-s.handle.Done():
	case <-s.clock.After(s.shutdownTimeout):
		s.logger.Warn("server did not exit after QUIT, terminating", "timeout", s.shutdownTimeout)
		if err := s.handle.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminating server: %w", err))
		}
		<-s.handle.Done()
	}
	if err := s.handle.Wait(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
