// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/ecgpipe/lib/channel"
	"github.com/bureau-foundation/ecgpipe/lib/wire"
)

// ErrQuit is returned by calls made after Quit.
var ErrQuit = errors.New("channel has been quit")

// Client sends requests on a single channel. Its methods are safe to
// call from multiple goroutines, but calls are serialized: only one
// request is ever outstanding.
type Client struct {
	channel channel.Channel
	logger  *slog.Logger

	mu     sync.Mutex
	broken error
	quit   bool
}

// New returns a Client that owns ch. A nil logger discards output.
func New(ch channel.Channel, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{channel: ch, logger: logger}
}

// Name returns the name of the underlying channel.
func (c *Client) Name() string { return c.channel.Name() }

// Err returns the failure that broke the client, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Data requests the value of one ECG lead for person at seconds.
func (c *Client) Data(person int, seconds float64, ecg int) (float64, error) {
	request := wire.DataRequest{Person: int32(person), Seconds: seconds, ECG: int32(ecg)}
	if int(request.Person) != person || int(request.ECG) != ecg {
		return 0, fmt.Errorf("invalid data request: person %d or ecg %d overflows int32", person, ecg)
	}
	if err := request.Validate(); err != nil {
		return 0, fmt.Errorf("invalid data request: %w", err)
	}

	var value float64
	err := c.exchange(request, func() error {
		reply, err := channel.ReadExact(c.channel, wire.DataReplySize, "read DATA reply")
		if err != nil {
			return err
		}
		value = wire.DecodeDataReply(reply)
		return nil
	})
	return value, err
}

// FileSize probes the size of the named file on the server. A
// negative reported size is a protocol violation.
func (c *Client) FileSize(filename string) (int64, error) {
	request := wire.FileRequest{Filename: filename}
	if err := request.Validate(); err != nil {
		return 0, fmt.Errorf("invalid file probe: %w", err)
	}

	var size int64
	err := c.exchange(request, func() error {
		reply, err := channel.ReadExact(c.channel, wire.SizeReplySize, "read FILE size reply")
		if err != nil {
			return err
		}
		size = wire.DecodeSizeReply(reply)
		if size < 0 {
			return channel.Violation(c.channel, "read FILE size reply", "negative size %d for %q", size, filename)
		}
		return nil
	})
	return size, err
}

// FileChunk reads len(buf) bytes of the named file starting at
// offset into buf. An empty buf is rejected because a zero-length
// request at offset 0 is the probe form, not a chunk.
func (c *Client) FileChunk(filename string, offset int64, buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("invalid file chunk: zero length")
	}
	if int64(len(buf)) > int64(^uint32(0)>>1) {
		return fmt.Errorf("invalid file chunk: length %d exceeds int32", len(buf))
	}
	request := wire.FileRequest{Offset: offset, Length: int32(len(buf)), Filename: filename}
	if err := request.Validate(); err != nil {
		return fmt.Errorf("invalid file chunk: %w", err)
	}

	return c.exchange(request, func() error {
		return channel.ReadFull(c.channel, buf, fmt.Sprintf("read FILE chunk at offset %d", offset))
	})
}

// NewChannel asks the server to provision a new channel and returns
// its name.
func (c *Client) NewChannel() (string, error) {
	var name string
	err := c.exchange(wire.NewChannelRequest{}, func() error {
		var err error
		name, err = c.readChannelName()
		return err
	})
	return name, err
}

// readChannelName reads a NUL-terminated name one byte at a time so
// nothing past the terminator is consumed.
func (c *Client) readChannelName() (string, error) {
	const op = "read NEWCHANNEL reply"
	name := make([]byte, 0, wire.MaxChannelNameSize)
	var single [1]byte
	for {
		if err := channel.ReadFull(c.channel, single[:], op); err != nil {
			return "", err
		}
		if single[0] == 0 {
			break
		}
		if len(name) == wire.MaxChannelNameSize {
			return "", channel.Violation(c.channel, op, "name exceeds %d bytes without terminator", wire.MaxChannelNameSize)
		}
		name = append(name, single[0])
	}
	if len(name) == 0 {
		return "", channel.Violation(c.channel, op, "empty channel name")
	}
	return string(name), nil
}

// Capacity asks for the server's buffer capacity.
func (c *Client) Capacity() (int, error) {
	var capacity int32
	err := c.exchange(wire.CapacityRequest{}, func() error {
		reply, err := channel.ReadExact(c.channel, wire.CapacityReplySize, "read CAPACITY reply")
		if err != nil {
			return err
		}
		capacity = wire.DecodeCapacityReply(reply)
		if capacity <= 0 {
			return channel.Violation(c.channel, "read CAPACITY reply", "non-positive capacity %d", capacity)
		}
		return nil
	})
	return int(capacity), err
}

// Quit sends QUIT. No reply is expected, and the client accepts no
// further requests.
func (c *Client) Quit() error {
	err := c.exchange(wire.QuitRequest{}, nil)
	if err == nil {
		c.mu.Lock()
		c.quit = true
		c.mu.Unlock()
	}
	return err
}

// Close releases the channel without sending QUIT.
func (c *Client) Close() error {
	return c.channel.Close()
}

// exchange writes request as one frame, then runs readReply (if
// non-nil) to consume the reply. Any failure in either step breaks
// the client.
func (c *Client) exchange(request wire.Request, readReply func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return c.broken
	}
	if c.quit {
		return fmt.Errorf("%v on channel %q: %w", request.Tag(), c.channel.Name(), ErrQuit)
	}

	frame, err := request.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding %v request: %w", request.Tag(), err)
	}
	if err := channel.WriteExact(c.channel, frame, "write "+request.Tag().String()+" request"); err != nil {
		return c.fail(err)
	}
	if readReply != nil {
		if err := readReply(); err != nil {
			return c.fail(err)
		}
	}
	return nil
}

// fail records err as the client's terminal failure. Must be called
// with c.mu held.
func (c *Client) fail(err error) error {
	c.broken = err
	c.logger.Error("channel broken", "channel", c.channel.Name(), "error", err)
	return err
}
