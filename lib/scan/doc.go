// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package scan collects a run of consecutive samples for one person.
//
// A scan issues two DATA requests per sample slot, lead 1 then lead 2,
// at times 0, 0.004, 0.008, and so on. Each time is computed from the
// slot index rather than accumulated, so the last time of a long scan
// carries no summed rounding error.
package scan
