// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

// Package base defines the uniform connector contract shared by all database
// engines: connection configuration, the capability interface, schema and
// result types, error wrapping and the read-only statement policy.
//
// Callers outside the connectors tree should not use connectors directly;
// the manager package is the facade.
package base
