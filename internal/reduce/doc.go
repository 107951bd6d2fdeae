// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package reduce folds a stream of protocol events into per-job progress
// snapshots. The fold is defensive by construction: events may be lost,
// duplicated or delivered out of order, and the snapshot must still
// converge to a terminal, explained state. A per-job watchdog converts
// missing terminal events into an explicit failure so a consumer never
// waits forever.
package reduce
