// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/ecgpipe/lib/clock"
	"github.com/bureau-foundation/ecgpipe/lib/testutil"
)

// stubbornServer writes a script that ignores SIGTERM and creates
// ready once the trap is installed.
func stubbornServer(t *testing.T) (binary, ready string) {
	t.Helper()
	directory := t.TempDir()
	ready = filepath.Join(directory, "ready")
	binary = filepath.Join(directory, "stubborn-server")
	script := fmt.Sprintf("#!/bin/sh\ntrap '' TERM\ntouch %q\nwhile :; do sleep 0.05; done\n", ready)
	if err := os.WriteFile(binary, []byte(script), 0755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return binary, ready
}

func TestTerminateKillsAfterGraceOnClock(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	binary, ready := stubbornServer(t)
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	launcher := &ExecLauncher{Binary: binary, KillAfter: time.Minute, Clock: fakeClock}

	handle, err := launcher.Spawn(context.Background(), ServerOptions{Capacity: 1})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() {
		handle.(*processHandle).process.Kill()
		<-handle.Done()
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(ready); err == nil {
			break
		} else if !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("stat ready: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("script never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := handle.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	fakeClock.WaitForTimers(1)
	select {
	case <-handle.Done():
		t.Fatal("process exited on SIGTERM; the script should ignore it")
	case <-time.After(100 * time.Millisecond):
	}

	fakeClock.Advance(time.Minute)
	testutil.RequireClosed(t, handle.Done(), 5*time.Second, "process killed after the grace period")
	if err := handle.Wait(); err == nil {
		t.Error("Wait = nil for a killed process")
	}
}
