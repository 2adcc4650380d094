// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// Compile-time interface check.
var _ Namespace = (*MemoryNamespace)(nil)

// MemoryNamespace is an in-process Namespace. Each pair is a net.Pipe,
// which is a synchronous rendezvous: a Write blocks until the peer's
// Read has drained it, the same blocking model as an unbuffered pipe.
//
// MemoryNamespace is safe for concurrent use.
type MemoryNamespace struct {
	mu    sync.Mutex
	pairs map[string]*memoryPair

	// changed is closed and replaced each time a pair is reserved, so
	// Open can wait for a name to appear without polling.
	changed chan struct{}
}

type memoryPair struct {
	creatorConn net.Conn
	openerConn  net.Conn

	creatorAttached chan struct{}
	openerAttached  chan struct{}
	creatorClaimed  bool
	openerClaimed   bool
}

// NewMemoryNamespace returns an empty in-process namespace.
func NewMemoryNamespace() *MemoryNamespace {
	return &MemoryNamespace{
		pairs:   make(map[string]*memoryPair),
		changed: make(chan struct{}),
	}
}

// Reserve creates the pipe pair for name.
func (n *MemoryNamespace) Reserve(name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.pairs[name]; exists {
		return fmt.Errorf("reserving %q: %w", name, ErrExists)
	}
	creatorConn, openerConn := net.Pipe()
	n.pairs[name] = &memoryPair{
		creatorConn:     creatorConn,
		openerConn:      openerConn,
		creatorAttached: make(chan struct{}),
		openerAttached:  make(chan struct{}),
	}
	close(n.changed)
	n.changed = make(chan struct{})
	return nil
}

// Create attaches to a reserved pair as the creator and waits for the
// opener. If ctx ends first, the pair is removed.
func (n *MemoryNamespace) Create(ctx context.Context, name string) (Channel, error) {
	n.mu.Lock()
	pair, exists := n.pairs[name]
	if !exists {
		n.mu.Unlock()
		return nil, fmt.Errorf("creating %q: %w", name, ErrNotReserved)
	}
	if pair.creatorClaimed {
		n.mu.Unlock()
		return nil, fmt.Errorf("creating %q: creator side already attached", name)
	}
	pair.creatorClaimed = true
	close(pair.creatorAttached)
	n.mu.Unlock()

	ch := &memoryChannel{
		name: name,
		role: Creator,
		conn: pair.creatorConn,
		release: func() {
			n.remove(name, pair)
		},
	}

	select {
	case <-pair.openerAttached:
		return ch, nil
	case <-ctx.Done():
		ch.Close()
		return nil, fmt.Errorf("creating %q: %w", name, ctx.Err())
	}
}

// Open waits for name to be reserved, attaches as the opener, and
// waits for the creator.
func (n *MemoryNamespace) Open(ctx context.Context, name string) (Channel, error) {
	for {
		n.mu.Lock()
		pair, exists := n.pairs[name]
		if exists {
			if pair.openerClaimed {
				n.mu.Unlock()
				return nil, fmt.Errorf("opening %q: opener side already attached", name)
			}
			pair.openerClaimed = true
			close(pair.openerAttached)
			n.mu.Unlock()

			select {
			case <-pair.creatorAttached:
				return &memoryChannel{name: name, role: Opener, conn: pair.openerConn}, nil
			case <-ctx.Done():
				pair.openerConn.Close()
				return nil, fmt.Errorf("opening %q: %w", name, ctx.Err())
			}
		}
		changed := n.changed
		n.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, fmt.Errorf("opening %q: %w", name, ctx.Err())
		}
	}
}

// Remove deletes the pair reserved under name, if any.
func (n *MemoryNamespace) Remove(name string) error {
	n.mu.Lock()
	pair, exists := n.pairs[name]
	n.mu.Unlock()
	if exists {
		n.remove(name, pair)
	}
	return nil
}

// Names returns the names of all currently reserved pairs.
func (n *MemoryNamespace) Names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := make([]string, 0, len(n.pairs))
	for name := range n.pairs {
		names = append(names, name)
	}
	return names
}

// remove deletes the pair if it is still the one registered under
// name. The opener's end is closed only if no opener ever claimed it;
// a claimed opener end belongs to the opener and sees EOF instead.
func (n *MemoryNamespace) remove(name string, pair *memoryPair) {
	n.mu.Lock()
	if n.pairs[name] == pair {
		delete(n.pairs, name)
	}
	openerClaimed := pair.openerClaimed
	n.mu.Unlock()
	pair.creatorConn.Close()
	if !openerClaimed {
		pair.openerConn.Close()
	}
}

// Pipe returns an attached creator/opener pair that belongs to no
// namespace.
func Pipe(name string) (creator, opener Channel) {
	creatorConn, openerConn := net.Pipe()
	return &memoryChannel{name: name, role: Creator, conn: creatorConn},
		&memoryChannel{name: name, role: Opener, conn: openerConn}
}

type memoryChannel struct {
	name    string
	role    Role
	conn    net.Conn
	release func()

	closeOnce sync.Once
	closeErr  error
}

func (c *memoryChannel) Name() string { return c.name }
func (c *memoryChannel) Role() Role   { return c.role }

func (c *memoryChannel) Read(p []byte) (int, error)  { return c.conn.Read(p) }
func (c *memoryChannel) Write(p []byte) (int, error) { return c.conn.Write(p) }

func (c *memoryChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		if c.release != nil {
			c.release()
		}
	})
	return c.closeErr
}
