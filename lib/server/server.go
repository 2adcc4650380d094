// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/bureau-foundation/ecgpipe/lib/channel"
	"github.com/bureau-foundation/ecgpipe/lib/wire"
)

// DefaultControlName is the control channel name when Config leaves
// ControlName empty.
const DefaultControlName = "control"

// maxProvisionAttempts bounds the search for an unused secondary name.
const maxProvisionAttempts = 64

// SampleSource supplies ECG values for DATA requests.
type SampleSource interface {
	Value(person int, seconds float64, ecg int) (float64, error)
}

// Config holds the parameters for New.
type Config struct {
	// Namespace is where the control and secondary channels live.
	Namespace channel.Namespace

	// Samples answers DATA requests.
	Samples SampleSource

	// DataDir is the directory FILE requests are resolved against.
	// Requests cannot name anything outside it.
	DataDir string

	// Capacity is the largest FILE chunk the server will send.
	Capacity int

	// ControlName defaults to DefaultControlName.
	ControlName string

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Server answers requests. Create one with New and run it with Serve.
type Server struct {
	namespace   channel.Namespace
	samples     SampleSource
	files       *os.Root
	capacity    int
	controlName string
	logger      *slog.Logger

	mu          sync.Mutex
	nextChannel int

	workers sync.WaitGroup
}

// New validates config and opens the data directory.
func New(config Config) (*Server, error) {
	if config.Namespace == nil {
		return nil, errors.New("server: Namespace is required")
	}
	if config.Samples == nil {
		return nil, errors.New("server: Samples is required")
	}
	if config.Capacity <= 0 || config.Capacity > wire.MaxCapacity {
		return nil, fmt.Errorf("server: capacity must be in 1..%d, got %d", wire.MaxCapacity, config.Capacity)
	}
	if config.DataDir == "" {
		return nil, errors.New("server: DataDir is required")
	}
	files, err := os.OpenRoot(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("server: opening data directory: %w", err)
	}

	controlName := config.ControlName
	if controlName == "" {
		controlName = DefaultControlName
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		namespace:   config.Namespace,
		samples:     config.Samples,
		files:       files,
		capacity:    config.Capacity,
		controlName: controlName,
		logger:      logger,
	}, nil
}

// Close releases the data directory handle. Call it after Serve
// returns.
func (s *Server) Close() error {
	return s.files.Close()
}

// Serve reserves and attaches the control channel, then dispatches
// requests until the client sends QUIT on it, the client releases it,
// or ctx is cancelled. A protocol violation on the control channel is
// returned as an error.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.namespace.Reserve(s.controlName); err != nil {
		return fmt.Errorf("reserving control channel: %w", err)
	}
	s.logger.Info("waiting for client", "channel", s.controlName, "capacity", s.capacity)

	control, err := s.namespace.Create(ctx, s.controlName)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("attaching control channel: %w", err)
	}
	s.logger.Info("client attached", "channel", s.controlName)

	serveCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(serveCtx, func() { control.Close() })

	serveErr := s.serveChannel(serveCtx, control)

	cancel()
	stop()
	s.workers.Wait()
	control.Close()
	s.logger.Info("server stopped")
	return serveErr
}

// serveChannel dispatches requests on ch until QUIT, end of stream, or
// a failure. It returns nil for the orderly endings, including ctx
// cancellation.
func (s *Server) serveChannel(ctx context.Context, ch channel.Channel) error {
	logger := s.logger.With("channel", ch.Name())
	reader := bufio.NewReader(ch)

	for {
		request, err := wire.ReadRequest(reader)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				logger.Warn("client released channel without QUIT")
				return nil
			}
			return fmt.Errorf("channel %q: reading request: %w", ch.Name(), err)
		}

		switch request := request.(type) {
		case wire.DataRequest:
			err = s.handleData(ch, logger, request)
		case wire.FileRequest:
			err = s.handleFile(ch, logger, request)
		case wire.NewChannelRequest:
			err = s.provision(ctx, ch)
		case wire.CapacityRequest:
			err = channel.WriteExact(ch, wire.EncodeCapacityReply(int32(s.capacity)), "write CAPACITY reply")
		case wire.QuitRequest:
			logger.Info("quit received")
			return nil
		default:
			err = fmt.Errorf("unhandled request %v", request.Tag())
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("channel %q: %w", ch.Name(), err)
		}
	}
}

func (s *Server) handleData(ch channel.Channel, logger *slog.Logger, request wire.DataRequest) error {
	var value float64
	err := request.Validate()
	if err == nil {
		value, err = s.samples.Value(int(request.Person), request.Seconds, int(request.ECG))
	}
	if err != nil {
		logger.Warn("no sample for DATA request",
			"person", request.Person,
			"seconds", request.Seconds,
			"ecg", request.ECG,
			"error", err,
		)
		value = math.NaN()
	}
	return channel.WriteExact(ch, wire.EncodeDataReply(value), "write DATA reply")
}

func (s *Server) handleFile(ch channel.Channel, logger *slog.Logger, request wire.FileRequest) error {
	if request.IsProbe() {
		size, err := s.fileSize(request.Filename)
		if err != nil {
			logger.Warn("FILE probe failed", "file", request.Filename, "error", err)
			size = -1
		}
		return channel.WriteExact(ch, wire.EncodeSizeReply(size), "write FILE size reply")
	}

	const op = "serve FILE chunk"
	if int(request.Length) > s.capacity {
		return channel.Violation(ch, op, "chunk length %d exceeds capacity %d", request.Length, s.capacity)
	}

	file, err := s.files.Open(request.Filename)
	if err != nil {
		return channel.Violation(ch, op, "opening %q: %v", request.Filename, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %q: %w", request.Filename, err)
	}
	end := request.Offset + int64(request.Length)
	if end > info.Size() {
		return channel.Violation(ch, op, "chunk [%d, %d) of %q runs past size %d",
			request.Offset, end, request.Filename, info.Size())
	}
	if request.Length == 0 {
		return nil
	}

	chunk := make([]byte, request.Length)
	if _, err := file.ReadAt(chunk, request.Offset); err != nil {
		return fmt.Errorf("reading %q at offset %d: %w", request.Filename, request.Offset, err)
	}
	return channel.WriteExact(ch, chunk, "write FILE chunk")
}

func (s *Server) fileSize(filename string) (int64, error) {
	info, err := s.files.Stat(filename)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%q is not a regular file", filename)
	}
	return info.Size(), nil
}

// provision reserves a fresh secondary name, replies it on ch, and
// serves the new channel in the background once the client opens it.
func (s *Server) provision(ctx context.Context, ch channel.Channel) error {
	name, err := s.reserveSecondary()
	if err != nil {
		return err
	}
	reply, err := wire.EncodeChannelName(name)
	if err == nil {
		err = channel.WriteExact(ch, reply, "write NEWCHANNEL reply")
	}
	if err != nil {
		if removeErr := s.namespace.Remove(name); removeErr != nil {
			s.logger.Warn("removing unannounced channel", "channel", name, "error", removeErr)
		}
		return err
	}
	s.logger.Info("provisioned channel", "channel", name, "requested_on", ch.Name())

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.serveSecondary(ctx, name)
	}()
	return nil
}

func (s *Server) reserveSecondary() (string, error) {
	for range maxProvisionAttempts {
		s.mu.Lock()
		s.nextChannel++
		name := fmt.Sprintf("data%d_", s.nextChannel)
		s.mu.Unlock()

		err := s.namespace.Reserve(name)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, channel.ErrExists) {
			return "", fmt.Errorf("reserving secondary channel: %w", err)
		}
		s.logger.Debug("secondary name in use, trying next", "channel", name)
	}
	return "", fmt.Errorf("reserving secondary channel: no free name after %d attempts", maxProvisionAttempts)
}

func (s *Server) serveSecondary(ctx context.Context, name string) {
	logger := s.logger.With("channel", name)

	secondary, err := s.namespace.Create(ctx, name)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("attaching secondary channel", "error", err)
		}
		return
	}
	stop := context.AfterFunc(ctx, func() { secondary.Close() })
	defer stop()
	defer secondary.Close()

	if err := s.serveChannel(ctx, secondary); err != nil {
		logger.Error("tearing down channel", "error", err)
		return
	}
	logger.Info("channel released")
}
