// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel defines the bidirectional byte channel that every
// ecgpipe request travels over, independent of what backs it.
//
// A [Channel] is two unidirectional streams, one per direction, bound
// to a name. Exactly one side is the [Creator]: it establishes the
// underlying stream pair and removes it on teardown. The other side is
// the [Opener], which attaches to an existing pair by name. Channels
// are obtained from a [Namespace]:
//
//	namespace.Reserve("control")           // creator: make the pair
//	ch, err := namespace.Create(ctx, "control") // creator: attach
//	ch, err := namespace.Open(ctx, "control")   // opener: attach
//
// Reserve and Create are separate so a server can publish a new
// channel's name to its client before blocking on the attach.
//
// The protocol has no framing of its own beyond each message's fixed
// shape, so every exchange is an exact-length transfer. [ReadFull] and
// [WriteExact] convert any shortfall into a [*ProtocolError]: a short
// count means the peers have desynchronized and the channel cannot be
// trusted for further messages.
//
// [MemoryNamespace] backs channels with net.Pipe for in-process use.
// The named-pipe backing lives in lib/fifo.
package channel
