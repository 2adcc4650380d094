// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fifo

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/ecgpipe/lib/channel"
	"github.com/bureau-foundation/ecgpipe/lib/clock"
	"github.com/bureau-foundation/ecgpipe/lib/testutil"
)

type attachResult struct {
	ch  channel.Channel
	err error
}

// attach reserves name, then creates and opens it concurrently.
func attach(t *testing.T, namespace *Namespace, name string) (creator, opener channel.Channel) {
	t.Helper()
	if err := namespace.Reserve(name); err != nil {
		t.Fatalf("Reserve(%q): %v", name, err)
	}

	opened := make(chan attachResult, 1)
	go func() {
		ch, err := namespace.Open(context.Background(), name)
		opened <- attachResult{ch, err}
	}()

	creator, err := namespace.Create(context.Background(), name)
	if err != nil {
		t.Fatalf("Create(%q): %v", name, err)
	}
	result := testutil.RequireReceive(t, opened, 5*time.Second, "opener attach")
	if result.err != nil {
		t.Fatalf("Open(%q): %v", name, result.err)
	}
	return creator, result.ch
}

func TestReserveCreatesFIFONodes(t *testing.T) {
	namespace := &Namespace{Dir: testutil.FIFODir(t)}
	if err := namespace.Reserve("control"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	toOpener, toCreator := namespace.Paths("control")
	if filepath.Base(toOpener) != "fifo_control1" || filepath.Base(toCreator) != "fifo_control2" {
		t.Errorf("Paths = %s, %s", toOpener, toCreator)
	}
	for _, path := range []string{toOpener, toCreator} {
		info, err := os.Lstat(path)
		if err != nil {
			t.Fatalf("Lstat(%s): %v", path, err)
		}
		if info.Mode()&os.ModeNamedPipe == 0 {
			t.Errorf("%s mode = %v, want named pipe", path, info.Mode())
		}
	}
}

func TestReserveCollision(t *testing.T) {
	directory := testutil.FIFODir(t)
	namespace := &Namespace{Dir: directory}
	if err := namespace.Reserve("control"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	err := namespace.Reserve("control")
	if !errors.Is(err, channel.ErrExists) {
		t.Fatalf("second Reserve = %v, want ErrExists", err)
	}

	reattaching := &Namespace{Dir: directory, Reattach: true}
	if err := reattaching.Reserve("control"); err != nil {
		t.Errorf("Reserve with Reattach: %v", err)
	}
}

func TestReserveReattachRejectsRegularFile(t *testing.T) {
	directory := testutil.FIFODir(t)
	testutil.WriteFile(t, directory, "fifo_control1", []byte("not a pipe"))

	namespace := &Namespace{Dir: directory, Reattach: true}
	err := namespace.Reserve("control")
	if err == nil || !strings.Contains(err.Error(), "not a fifo") {
		t.Fatalf("Reserve = %v, want not-a-fifo error", err)
	}
	if _, statErr := os.Lstat(filepath.Join(directory, "fifo_control2")); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("fifo_control2 should not exist after failed Reserve, stat = %v", statErr)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"control", true},
		{"data1_", true},
		{"", false},
		{"a/b", false},
		{"..", false},
		{strings.Repeat("x", MaxNameLength), true},
		{strings.Repeat("x", MaxNameLength+1), false},
	}
	for _, test := range tests {
		err := ValidateName(test.name)
		if (err == nil) != test.valid {
			t.Errorf("ValidateName(%q) = %v, want valid=%v", test.name, err, test.valid)
		}
	}
}

func TestChannelExchangesBothDirections(t *testing.T) {
	namespace := &Namespace{Dir: testutil.FIFODir(t)}
	creator, opener := attach(t, namespace, "control")
	defer opener.Close()
	defer creator.Close()

	if creator.Role() != channel.Creator || opener.Role() != channel.Opener {
		t.Fatalf("roles = %v/%v", creator.Role(), opener.Role())
	}

	if err := channel.WriteExact(opener, []byte("request"), "write request"); err != nil {
		t.Fatalf("opener write: %v", err)
	}
	request, err := channel.ReadExact(creator, len("request"), "read request")
	if err != nil {
		t.Fatalf("creator read: %v", err)
	}
	if string(request) != "request" {
		t.Errorf("creator read %q", request)
	}

	if err := channel.WriteExact(creator, []byte("reply!"), "write reply"); err != nil {
		t.Fatalf("creator write: %v", err)
	}
	reply, err := channel.ReadExact(opener, len("reply!"), "read reply")
	if err != nil {
		t.Fatalf("opener read: %v", err)
	}
	if string(reply) != "reply!" {
		t.Errorf("opener read %q", reply)
	}
}

func TestCreatorCloseRemovesNodes(t *testing.T) {
	namespace := &Namespace{Dir: testutil.FIFODir(t)}
	creator, opener := attach(t, namespace, "data1_")
	defer opener.Close()

	if err := creator.Close(); err != nil {
		t.Fatalf("creator Close: %v", err)
	}
	toOpener, toCreator := namespace.Paths("data1_")
	for _, path := range []string{toOpener, toCreator} {
		if _, err := os.Lstat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s still present after creator Close (stat = %v)", path, err)
		}
	}

	// The opener sees EOF once the creator's write end is gone.
	if _, err := opener.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("opener Read after creator Close = %v, want io.EOF", err)
	}
	if err := creator.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOpenerCloseKeepsNodes(t *testing.T) {
	namespace := &Namespace{Dir: testutil.FIFODir(t)}
	creator, opener := attach(t, namespace, "data2_")
	defer creator.Close()

	opener.Close()
	toOpener, _ := namespace.Paths("data2_")
	if _, err := os.Lstat(toOpener); err != nil {
		t.Errorf("opener Close removed nodes: %v", err)
	}
	if _, err := creator.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("creator Read after opener Close = %v, want io.EOF", err)
	}
}

func TestOpenWaitsForReserve(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	namespace := &Namespace{
		Dir:          testutil.FIFODir(t),
		Clock:        fakeClock,
		PollInterval: 10 * time.Millisecond,
	}

	opened := make(chan attachResult, 1)
	go func() {
		ch, err := namespace.Open(context.Background(), "late")
		opened <- attachResult{ch, err}
	}()

	// The opener parks on the clock because the nodes do not exist yet.
	fakeClock.WaitForTimers(1)
	if err := namespace.Reserve("late"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	fakeClock.Advance(10 * time.Millisecond)

	creator, err := namespace.Create(context.Background(), "late")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer creator.Close()
	result := testutil.RequireReceive(t, opened, 5*time.Second, "opener attach")
	if result.err != nil {
		t.Fatalf("Open: %v", result.err)
	}
	result.ch.Close()
}

func TestOpenCancelledWhileWaitingForNodes(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	namespace := &Namespace{Dir: testutil.FIFODir(t), Clock: fakeClock}
	ctx, cancel := context.WithCancel(context.Background())

	opened := make(chan attachResult, 1)
	go func() {
		ch, err := namespace.Open(ctx, "never")
		opened <- attachResult{ch, err}
	}()
	fakeClock.WaitForTimers(1)
	cancel()

	result := testutil.RequireReceive(t, opened, 5*time.Second, "cancelled Open")
	if !errors.Is(result.err, context.Canceled) {
		t.Errorf("Open = %v, want context.Canceled", result.err)
	}
}

func TestCreateCancelledWithoutOpener(t *testing.T) {
	namespace := &Namespace{Dir: testutil.FIFODir(t)}
	if err := namespace.Reserve("abandoned"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	created := make(chan error, 1)
	go func() {
		_, err := namespace.Create(ctx, "abandoned")
		created <- err
	}()
	cancel()

	err := testutil.RequireReceive(t, created, 5*time.Second, "cancelled Create")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Create = %v, want context.Canceled", err)
	}
	toOpener, _ := namespace.Paths("abandoned")
	if _, statErr := os.Lstat(toOpener); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("cancelled Create left %s behind (stat = %v)", toOpener, statErr)
	}
}

func TestCreateUnreserved(t *testing.T) {
	namespace := &Namespace{Dir: testutil.FIFODir(t)}
	_, err := namespace.Create(context.Background(), "ghost")
	if !errors.Is(err, channel.ErrNotReserved) {
		t.Errorf("Create = %v, want ErrNotReserved", err)
	}
}

func TestRemoveUnattached(t *testing.T) {
	namespace := &Namespace{Dir: testutil.FIFODir(t)}
	if err := namespace.Reserve("data3_"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := namespace.Remove("data3_"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := namespace.Remove("data3_"); err != nil {
		t.Errorf("second Remove: %v", err)
	}
	if err := namespace.Reserve("data3_"); err != nil {
		t.Errorf("Reserve after Remove: %v", err)
	}
}

func TestCreateCancelRetriesOnClock(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	namespace := &Namespace{Dir: testutil.FIFODir(t), Clock: fakeClock}
	if err := namespace.Reserve("abandoned"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	created := make(chan error, 1)
	go func() {
		_, err := namespace.Create(ctx, "abandoned")
		created <- err
	}()
	cancel()

	// Release retries wait on the namespace clock, so keep it moving
	// until the cancelled open has been released.
	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case err := <-created:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Create = %v, want context.Canceled", err)
			}
			return
		case <-time.After(10 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("cancelled Create never returned")
		}
		fakeClock.Advance(releaseRetryInterval)
	}
}
