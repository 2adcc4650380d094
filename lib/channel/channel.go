// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"io"
)

// ErrExists is returned (wrapped) by Namespace.Reserve when a pair
// with the requested name already exists.
var ErrExists = errors.New("channel already exists")

// ErrNotReserved is returned (wrapped) by Namespace.Create when the
// name was never reserved.
var ErrNotReserved = errors.New("channel not reserved")

// Role identifies which side of a channel a process holds.
type Role int

const (
	// Creator established the stream pair and removes it on Close.
	Creator Role = iota + 1

	// Opener attached to an existing pair by name.
	Opener
)

func (r Role) String() string {
	switch r {
	case Creator:
		return "creator"
	case Opener:
		return "opener"
	default:
		return "unknown"
	}
}

// Channel is a bidirectional byte channel made of two unidirectional
// streams. Write blocks until all of p has been accepted by the
// transport. Read blocks until at least one byte is available and
// returns up to len(p) bytes.
//
// A Channel is owned by a single goroutine at a time; the protocol
// never has two requests in flight on one channel. Close releases the
// underlying handles exactly once and is safe to call repeatedly.
type Channel interface {
	io.ReadWriteCloser

	// Name returns the identifier the channel was reserved under.
	Name() string

	// Role reports whether this side created or opened the channel.
	Role() Role
}

// Namespace creates and attaches named channels.
type Namespace interface {
	// Reserve creates the underlying stream pair for name. It fails
	// with an error wrapping ErrExists if the pair already exists,
	// unless the namespace is configured to re-attach.
	Reserve(name string) error

	// Create attaches to a reserved pair as the creator. It blocks
	// until the opener attaches or ctx is done. The returned channel
	// removes the pair when closed.
	Create(ctx context.Context, name string) (Channel, error)

	// Open attaches to the pair as the opener. It waits for the name
	// to be reserved, then blocks until the creator attaches or ctx
	// is done.
	Open(ctx context.Context, name string) (Channel, error)

	// Remove deletes a reserved pair that nobody attached to. Removing
	// a name that does not exist is not an error.
	Remove(name string) error
}
