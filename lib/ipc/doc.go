// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded message types for the weft
// daemon's control socket protocol. Both cmd/weftd and weftctl-style
// tooling import this package so the wire types are defined once
// rather than mirrored.
package ipc
