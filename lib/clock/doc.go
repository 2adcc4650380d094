// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time abstraction ecgpipe code uses
// instead of calling time.Now or time.After directly.
//
// Real() is the standard library clock. Fake() returns a clock that
// only moves when the test calls Advance, so polling loops such as
// the FIFO opener's wait-for-node can be driven step by step:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go waitForSomething(c)
//	c.WaitForTimers(1)           // the goroutine is now parked in After
//	c.Advance(10 * time.Millisecond)
package clock
