// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package protocol defines the flat event shape exchanged between the
// installation pipeline and any progress consumer, together with the
// reporter and listener plumbing used to move events between them.
// The protocol is transport-agnostic: events are plain structs that
// serialize to a stable JSON shape.
package protocol
