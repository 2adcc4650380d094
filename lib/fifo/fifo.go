// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fifo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/ecgpipe/lib/channel"
	"github.com/bureau-foundation/ecgpipe/lib/clock"
)

// Compile-time interface checks.
var (
	_ channel.Namespace = (*Namespace)(nil)
	_ channel.Channel   = (*Channel)(nil)
)

// DefaultPollInterval is how often Open checks for the FIFO nodes of a
// channel that has not been reserved yet.
const DefaultPollInterval = 10 * time.Millisecond

// MaxNameLength bounds channel names so they fit the NEWCHANNEL reply.
const MaxNameLength = 127

// Namespace creates and attaches FIFO pairs under Dir.
type Namespace struct {
	// Dir holds the FIFO nodes. It must exist.
	Dir string

	// Clock drives Open's wait for nodes to appear and the retries
	// that release a cancelled open. Nil means clock.Real().
	Clock clock.Clock

	// PollInterval is the wait between existence checks in Open.
	// Zero means DefaultPollInterval.
	PollInterval time.Duration

	// Reattach lets Reserve accept nodes that already exist, as long
	// as they are FIFOs. Used when a server restarts into the same
	// directory.
	Reattach bool

	// Logger receives debug-level lifecycle events. Nil discards them.
	Logger *slog.Logger
}

// Paths returns the two node paths for the channel name: toOpener
// carries creator→opener bytes, toCreator carries opener→creator.
func (n *Namespace) Paths(name string) (toOpener, toCreator string) {
	return filepath.Join(n.Dir, "fifo_"+name+"1"), filepath.Join(n.Dir, "fifo_"+name+"2")
}

// Reserve creates both FIFO nodes for name with mode 0600.
func (n *Namespace) Reserve(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	toOpener, toCreator := n.Paths(name)

	var created []string
	for _, path := range []string{toOpener, toCreator} {
		err := unix.Mkfifo(path, 0o600)
		if err == nil {
			created = append(created, path)
			continue
		}
		if errors.Is(err, unix.EEXIST) && n.Reattach {
			if fifoErr := requireFIFO(path); fifoErr != nil {
				removeNodes(created)
				return fmt.Errorf("reattaching %q: %w", name, fifoErr)
			}
			continue
		}
		removeNodes(created)
		if errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("reserving %q at %s: %w", name, path, channel.ErrExists)
		}
		return fmt.Errorf("creating fifo %s: %w", path, err)
	}

	n.logger().Debug("fifo pair reserved", "channel", name, "dir", n.Dir)
	return nil
}

// Create opens the pair from the creator side. On any failure,
// including cancellation, the nodes are removed.
func (n *Namespace) Create(ctx context.Context, name string) (channel.Channel, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	toOpener, toCreator := n.Paths(name)
	nodes := []string{toOpener, toCreator}

	for _, path := range nodes {
		if err := requireFIFO(path); err != nil {
			return nil, fmt.Errorf("creating %q: %w: %w", name, channel.ErrNotReserved, err)
		}
	}

	writer, err := n.openCancelable(ctx, toOpener, os.O_WRONLY)
	if err != nil {
		removeNodes(nodes)
		return nil, fmt.Errorf("creating %q: %w", name, err)
	}
	reader, err := n.openCancelable(ctx, toCreator, os.O_RDONLY)
	if err != nil {
		writer.Close()
		removeNodes(nodes)
		return nil, fmt.Errorf("creating %q: %w", name, err)
	}

	n.logger().Debug("fifo channel created", "channel", name)
	return &Channel{
		name:   name,
		role:   channel.Creator,
		reader: reader,
		writer: writer,
		nodes:  nodes,
		logger: n.logger(),
	}, nil
}

// Open waits for both nodes of name to exist, then opens the pair
// from the opener side.
func (n *Namespace) Open(ctx context.Context, name string) (channel.Channel, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	toOpener, toCreator := n.Paths(name)

	if err := n.waitForNodes(ctx, toOpener, toCreator); err != nil {
		return nil, fmt.Errorf("opening %q: %w", name, err)
	}

	reader, err := n.openCancelable(ctx, toOpener, os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", name, err)
	}
	writer, err := n.openCancelable(ctx, toCreator, os.O_WRONLY)
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("opening %q: %w", name, err)
	}

	n.logger().Debug("fifo channel opened", "channel", name)
	return &Channel{
		name:   name,
		role:   channel.Opener,
		reader: reader,
		writer: writer,
		logger: n.logger(),
	}, nil
}

// Remove unlinks both nodes of name.
func (n *Namespace) Remove(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	toOpener, toCreator := n.Paths(name)
	if err := removeNodes([]string{toOpener, toCreator}); err != nil {
		return fmt.Errorf("removing %q: %w", name, err)
	}
	return nil
}

func (n *Namespace) waitForNodes(ctx context.Context, paths ...string) error {
	interval := n.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	clk := n.clockOrReal()

	for {
		missing := false
		for _, path := range paths {
			err := requireFIFO(path)
			if errors.Is(err, os.ErrNotExist) {
				missing = true
				break
			}
			if err != nil {
				return err
			}
		}
		if !missing {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(interval):
		}
	}
}

func (n *Namespace) clockOrReal() clock.Clock {
	if n.Clock == nil {
		return clock.Real()
	}
	return n.Clock
}

func (n *Namespace) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return n.Logger
}

// ValidateName rejects names that cannot be embedded in a FIFO path
// or carried in a NEWCHANNEL reply.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("channel name is empty")
	case len(name) > MaxNameLength:
		return fmt.Errorf("channel name %q is %d bytes, maximum is %d", name, len(name), MaxNameLength)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("channel name %q contains '/' or NUL", name)
	case name == "." || name == "..":
		return fmt.Errorf("channel name %q is not allowed", name)
	}
	return nil
}

// requireFIFO returns an error wrapping os.ErrNotExist if path is
// missing, or a descriptive error if it is not a named pipe.
func requireFIFO(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		return fmt.Errorf("%s exists and is not a fifo (mode %v)", path, info.Mode())
	}
	return nil
}

func removeNodes(paths []string) error {
	var errs []error
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type openResult struct {
	file *os.File
	err  error
}

// releaseRetryInterval spaces attempts to release a pending open that
// had not yet reached open(2) when the first attempt was made.
const releaseRetryInterval = 5 * time.Millisecond

// openCancelable opens a FIFO end, which blocks until the other end is
// opened. If ctx ends first, the pending open is released by opening
// the counterpart end non-blocking, and the descriptor it produces is
// closed. It does not return until the pending open has finished, so
// no goroutine is left blocked on a node that is about to be removed.
func (n *Namespace) openCancelable(ctx context.Context, path string, flag int) (*os.File, error) {
	results := make(chan openResult, 1)
	go func() {
		file, err := os.OpenFile(path, flag, 0)
		results <- openResult{file: file, err: err}
	}()

	select {
	case result := <-results:
		if result.err != nil {
			return nil, result.err
		}
		return result.file, nil
	case <-ctx.Done():
	}

	for {
		releasePendingOpen(path, flag)
		select {
		case result := <-results:
			if result.file != nil {
				result.file.Close()
			}
			return nil, fmt.Errorf("opening %s: %w", path, ctx.Err())
		case <-n.clockOrReal().After(releaseRetryInterval):
		}
	}
}

// releasePendingOpen unblocks an open(2) of path with flag by
// briefly opening the opposite end. A reader blocked in open already
// counts as a reader, so the non-blocking write open succeeds.
func releasePendingOpen(path string, flag int) {
	counterpart := unix.O_WRONLY
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		counterpart = unix.O_RDONLY
	}
	fd, err := unix.Open(path, counterpart|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return
	}
	unix.Close(fd)
}

// Channel is one side of a FIFO pair.
type Channel struct {
	name   string
	role   channel.Role
	reader *os.File
	writer *os.File

	// nodes are unlinked on Close. Only the creator has them.
	nodes  []string
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Role reports whether this side created or opened the pair.
func (c *Channel) Role() channel.Role { return c.role }

// Read reads up to len(p) bytes from the inbound FIFO.
func (c *Channel) Read(p []byte) (int, error) { return c.reader.Read(p) }

// Write writes all of p to the outbound FIFO.
func (c *Channel) Write(p []byte) (int, error) { return c.writer.Write(p) }

// Close releases both descriptors and, for the creator, unlinks the
// nodes. Only the first call has any effect.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.writer.Close(), c.reader.Close(), removeNodes(c.nodes))
		c.logger.Debug("fifo channel closed", "channel", c.name, "role", c.role)
	})
	return c.closeErr
}
