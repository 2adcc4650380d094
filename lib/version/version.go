// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// Set with -ldflags -X.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Info returns "<version> (<commit>[-dirty], <build time>)".
func Info() string {
	commit := GitCommit
	if GitDirty == "true" {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, BuildTime)
}

// Banner is the --version line for program: its name, Info, and the
// toolchain and platform it was built for.
func Banner(program string) string {
	return fmt.Sprintf("%s %s %s %s/%s", program, Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
