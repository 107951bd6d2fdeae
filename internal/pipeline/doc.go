// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package pipeline runs installation jobs. Each job executes its mode's
// step plan sequentially in its own goroutine and mirrors every state
// change onto the event protocol; the pipeline shares no mutable state
// with its consumers. A step failure short-circuits the remaining steps
// and terminates the job with a failure sentinel.
package pipeline
