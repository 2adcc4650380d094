// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bufio"
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/ecgpipe/lib/channel"
	"github.com/bureau-foundation/ecgpipe/lib/fifo"
	"github.com/bureau-foundation/ecgpipe/lib/testutil"
	"github.com/bureau-foundation/ecgpipe/lib/wire"
)

const recording = `0,-0.145,-0.035
0.004,-0.145,-0.035
0.008,-0.12,-0.04
`

func dataDir(t *testing.T) string {
	t.Helper()
	directory := t.TempDir()
	testutil.WriteFile(t, directory, "1.csv", []byte(recording))
	return directory
}

func TestStartAndCloseInProcess(t *testing.T) {
	namespace := channel.NewMemoryNamespace()
	launcher := &InProcessLauncher{Namespace: namespace}

	session, err := Start(context.Background(), launcher, namespace, Options{
		Server:     ServerOptions{Capacity: 4, DataDir: dataDir(t)},
		Capacity:   256,
		NewChannel: true,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if session.Capacity() != 4 {
		t.Errorf("Capacity = %d, want min(256, 4) = 4", session.Capacity())
	}
	if name := session.Client().Name(); name != "data1_" {
		t.Errorf("Client() is %q, want the secondary data1_", name)
	}
	if session.Control().Name() != "control" {
		t.Errorf("Control() is %q", session.Control().Name())
	}

	value, err := session.Client().Data(1, 0.008, 2)
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if value != -0.04 {
		t.Errorf("Data = %v, want -0.04", value)
	}

	if err := session.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	testutil.RequireClosed(t, session.handle.Done(), 5*time.Second, "server exit")
	if names := namespace.Names(); len(names) != 0 {
		t.Errorf("channels left in namespace after Close: %v", names)
	}
}

func TestCapacityUsesClientWhenSmaller(t *testing.T) {
	namespace := channel.NewMemoryNamespace()
	session, err := Start(context.Background(), &InProcessLauncher{Namespace: namespace}, namespace, Options{
		Server:   ServerOptions{Capacity: 256, DataDir: dataDir(t)},
		Capacity: 2,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer session.Close()

	if session.Capacity() != 2 {
		t.Errorf("Capacity = %d, want 2", session.Capacity())
	}
	if session.Client() != session.Control() {
		t.Error("without NewChannel, Client() should be the control channel")
	}
}

func TestStartOverFIFOs(t *testing.T) {
	runDir := testutil.FIFODir(t)
	launcher := &InProcessLauncher{Namespace: &fifo.Namespace{Dir: runDir}}
	clientNamespace := &fifo.Namespace{Dir: runDir}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session, err := Start(ctx, launcher, clientNamespace, Options{
		Server:     ServerOptions{Capacity: 256, DataDir: dataDir(t), RunDir: runDir},
		Capacity:   256,
		NewChannel: true,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	value, err := session.Client().Data(1, 0, 1)
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if value != -0.145 {
		t.Errorf("Data = %v, want -0.145", value)
	}
	if err := session.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

// fakeHandle is a server that the test controls directly.
type fakeHandle struct {
	done       chan struct{}
	err        error
	terminated atomic.Bool
}

func newFakeHandle() *fakeHandle { return &fakeHandle{done: make(chan struct{})} }

func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Wait() error           { <-h.done; return h.err }
func (h *fakeHandle) Terminate() error {
	if h.terminated.CompareAndSwap(false, true) {
		close(h.done)
	}
	return nil
}

type fakeLauncher struct {
	handle *fakeHandle
	spawn  func(*fakeHandle)
}

func (l *fakeLauncher) Spawn(ctx context.Context, options ServerOptions) (Handle, error) {
	go l.spawn(l.handle)
	return l.handle, nil
}

func TestStartFailsWhenServerExitsEarly(t *testing.T) {
	handle := newFakeHandle()
	launcher := &fakeLauncher{handle: handle, spawn: func(h *fakeHandle) {
		h.err = errors.New("data directory missing")
		h.terminated.Store(true)
		close(h.done)
	}}

	started := make(chan error, 1)
	go func() {
		_, err := Start(context.Background(), launcher, channel.NewMemoryNamespace(), Options{Capacity: 256})
		started <- err
	}()

	err := testutil.RequireReceive(t, started, 5*time.Second, "Start to give up")
	if err == nil || !strings.Contains(err.Error(), "data directory missing") {
		t.Errorf("Start = %v, want the server's exit error", err)
	}
}

// brokenServer attaches control, answers CAPACITY, and then hangs up
// on the next request.
func brokenServer(namespace *channel.MemoryNamespace) func(*fakeHandle) {
	return func(h *fakeHandle) {
		namespace.Reserve("control")
		ch, err := namespace.Create(context.Background(), "control")
		if err != nil {
			return
		}
		defer ch.Close()
		reader := bufio.NewReader(ch)
		if _, err := wire.ReadRequest(reader); err != nil {
			return
		}
		ch.Write(wire.EncodeCapacityReply(64))
		wire.ReadRequest(reader)
	}
}

func TestCloseTerminatesAfterBrokenControl(t *testing.T) {
	namespace := channel.NewMemoryNamespace()
	handle := newFakeHandle()
	session, err := Start(context.Background(), &fakeLauncher{handle: handle, spawn: brokenServer(namespace)}, namespace, Options{Capacity: 256})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if session.Capacity() != 64 {
		t.Errorf("Capacity = %d, want 64", session.Capacity())
	}

	if _, err := session.Client().Data(1, 0, 1); err == nil {
		t.Fatal("Data succeeded against a server that hung up")
	}
	if err := session.Close(); err != nil {
		t.Errorf("Close = %v, want nil when only terminating", err)
	}
	if !handle.terminated.Load() {
		t.Error("server not terminated after control broke")
	}
}

func TestStartRejectsInvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, 1 << 31, 1 << 32} {
		launcher := &fakeLauncher{handle: newFakeHandle(), spawn: func(*fakeHandle) {
			t.Errorf("server launched despite capacity %d", capacity)
		}}
		_, err := Start(context.Background(), launcher, channel.NewMemoryNamespace(), Options{Capacity: capacity})
		if err == nil || !strings.Contains(err.Error(), "capacity must be in") {
			t.Errorf("Start(capacity %d) = %v, want capacity error", capacity, err)
		}
	}
}

func TestArguments(t *testing.T) {
	got := Arguments(ServerOptions{
		Capacity:    512,
		DataDir:     "BIMDC",
		RunDir:      "/tmp/run",
		ControlName: "control",
		Reattach:    true,
		LogLevel:    "debug",
	})
	want := []string{
		"--capacity", "512",
		"--data-dir", "BIMDC",
		"--run-dir", "/tmp/run",
		"--control", "control",
		"--reattach",
		"--log-level", "debug",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Arguments =\n  %q\nwant\n  %q", got, want)
	}
}

func TestExecLauncherMissingBinary(t *testing.T) {
	launcher := &ExecLauncher{Binary: t.TempDir() + "/ecgpipe-server"}
	if _, err := launcher.Spawn(context.Background(), ServerOptions{Capacity: 1}); err == nil {
		t.Error("Spawn succeeded for a missing binary")
	}
}
