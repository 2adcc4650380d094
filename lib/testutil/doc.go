// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for ecgpipe packages.
//
// [FIFODir] creates a short-named temporary directory in /tmp for
// named pipes. Channel names end up inside FIFO paths that are printed
// in diagnostics and compared in tests, and deeply nested t.TempDir()
// paths make both harder to read.
//
// [WriteFile] writes a fixture file and fails the test on error.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so a protocol bug that blocks a goroutine forever fails the
// test instead of hanging the suite. These are the only place tests
// use wall-clock timeouts.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
