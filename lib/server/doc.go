// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package server answers requests on a control channel and on any
// secondary channels the control channel provisions.
//
// Every channel is served by its own goroutine with its own buffered
// reader, so a slow download on one secondary never stalls the control
// channel. Within a channel, requests are handled strictly one at a
// time: read a frame, write the complete reply, read the next frame.
//
// Failure policy per request:
//
//   - DATA for a person or time with no recorded sample replies NaN.
//     The reply is always 8 bytes.
//   - A FILE probe for a file that cannot be opened replies -1, which
//     the client reports as a protocol violation.
//   - A FILE chunk that exceeds the server's capacity, runs past the end
//     of the file, or cannot be read is a protocol violation. The
//     server logs it and tears down that channel only.
//   - End of stream without QUIT is treated as QUIT for that channel.
//
// QUIT on the control channel ends Serve: open secondaries are closed,
// their goroutines are waited for, and Serve returns nil.
package server
