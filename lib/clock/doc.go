// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the reconciliation core.
//
// Everything in Tagflow that reads the wall clock or schedules work —
// envelope receive stamps, the pending-transaction TTL sweep, scan
// timestamps — does it through a [Clock] so tests can drive time
// deterministically. Production code injects [Real]; tests inject
// [Fake] and call Advance to fire timers at exact deadlines.
//
// The interface deliberately covers only what the core uses: Now for
// timestamps, After and AfterFunc for one-shot deadlines, NewTicker
// for the sweep loop. Code that needs more of the time package should
// extend Clock rather than call time directly, so the fake keeps full
// coverage of scheduled work.
package clock
