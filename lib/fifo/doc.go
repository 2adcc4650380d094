// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fifo backs ecgpipe channels with pairs of named pipes.
//
// A channel named N under directory D is two FIFOs:
//
//	D/fifo_N1   creator → opener
//	D/fifo_N2   opener → creator
//
// [Namespace.Reserve] creates both nodes with mkfifo(2) and refuses to
// reuse existing nodes unless the namespace is configured to
// re-attach. [Namespace.Create] opens them from the creator side
// (write end of fifo_N1, then read end of fifo_N2); [Namespace.Open]
// opens them from the opener side in the same order (read end of
// fifo_N1, then write end of fifo_N2). Both sides opening in the same
// order is what keeps the blocking open(2) calls from deadlocking.
//
// Opening a FIFO blocks until the other end is opened. Those opens
// honor context cancellation: the namespace releases a pending open
// by briefly opening the counterpart end itself with O_NONBLOCK, then
// discards the resulting descriptor.
//
// The creator's Close unlinks both nodes. The opener's Close only
// releases its descriptors.
package fifo
