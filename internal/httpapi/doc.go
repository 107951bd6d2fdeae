// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package httpapi exposes the installation engine over HTTP. It accepts
// install requests, serves reduced job snapshots, relays live events via
// server-sent events and hosts the health and metrics endpoints.
package httpapi
