// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ecgstore loads the per-person ECG recordings the server
// answers DATA requests from.
//
// A data directory holds one CSV file per person, named "<person>.csv",
// with rows of "seconds,ecg1,ecg2" sampled every [SampleInterval]
// seconds starting at zero. Recordings are parsed on first use and
// kept in memory.
package ecgstore
