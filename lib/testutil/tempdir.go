// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// FIFODir creates a temporary directory directly under /tmp for named
// pipes. The directory is removed when the test completes.
func FIFODir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "ecgpipe-test-*")
	if err != nil {
		t.Fatalf("creating fifo directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}

// WriteFile writes data to name under directory, creating parent
// directories as needed, and returns the full path.
func WriteFile(t *testing.T, directory, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(directory, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}
