// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the ecgpipe server configuration.
//
// Configuration is loaded from a single file specified by either the
// ECGPIPE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search. Command-line
// flags given explicitly override values from the file; nothing else
// does.
//
// The file is YAML. Files ending in .json or .jsonc are accepted too:
// comments and trailing commas are stripped and the result is decoded
// as YAML, of which JSON is a subset.
//
// Path fields support ${HOME} and ${VAR:-default} expansion.
//
// This package depends on no other ecgpipe packages.
package config
