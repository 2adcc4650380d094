// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the ecgpipe
// client and server. It centralizes the raw I/O that happens after
// run() returns, when the structured logger may not exist: reporting
// the fatal error to stderr and choosing the exit status.
//
// Exit statuses:
//
//   - 0: success
//   - 1: any runtime failure (channel, protocol, file, server)
//   - 2: command-line usage error, reported before any server is
//     started
package process
