// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session starts a server and holds the client's channels to
// it for the length of one run.
//
// A [Launcher] starts the server: [ExecLauncher] runs the server binary
// as a child process, [InProcessLauncher] runs the server in a
// goroutine. [Start] then opens the control channel, negotiates the
// chunk capacity, and optionally provisions a secondary channel.
//
// [Session.Close] shuts everything down in order: QUIT on the
// secondary, QUIT on control, release both, wait for the server. A
// channel that has broken cannot carry QUIT, so it is released
// without one and the server is terminated instead of waited on.
package session
