// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	usage := Usagef("person must be in 1..15, got %d", 0)
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("channel broken"), ExitFailure},
		{"usage", usage, ExitUsage},
		{"wrapped usage", fmt.Errorf("parsing flags: %w", usage), ExitUsage},
		{"joined usage", errors.Join(errors.New("other"), usage), ExitUsage},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := ExitCode(test.err); got != test.want {
				t.Errorf("ExitCode(%v) = %d, want %d", test.err, got, test.want)
			}
		})
	}
	if usage.Error() != "person must be in 1..15, got 0" {
		t.Errorf("usage message = %q", usage.Error())
	}
}
