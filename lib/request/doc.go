// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package request issues ecgpipe requests over one channel.
//
// A [Client] owns a channel and runs each exchange to completion
// before the next may start: write the whole request frame, then read
// the whole reply. There is no pipelining and no retry. The first
// transport error or protocol violation marks the client broken, and
// every later call returns that original error without touching the
// channel, since the two sides can no longer agree on where one
// message ends and the next begins.
//
// Argument validation (person and ECG ranges, filename shape) happens
// before any I/O and does not break the client.
package request
