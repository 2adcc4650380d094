// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer copies a file from the server over a byte channel.
//
// A download is a FILE probe for the size followed by FILE chunk
// requests of at most the negotiated capacity, issued in order from
// offset 0. Each chunk is written at its absolute offset in the
// destination, so the destination is byte-identical to the source once
// every chunk has arrived. A 10-byte file at capacity 4 takes the
// chunks (0,4), (4,4), (8,2).
//
// The received bytes are digested with keyed BLAKE3 as they arrive.
// When Options.Manifest is set, a CBOR manifest recording the size,
// chunking, and digest is written atomically next to the destination.
// Verify recomputes the digest of a file and compares it to a
// manifest.
package transfer
