// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Weft's standard CBOR encoding configuration.
//
// Weft uses two data formats with a clear boundary:
//
//   - Raw framed bytes for the co-processor socket: the client
//     protocol is a foreign wire format with fixed byte layouts,
//     handled in lib/halpkt and dispatch, never CBOR.
//   - CBOR for the daemon's own protocols: the control socket
//     (lib/ipc) and any on-disk state.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Weft package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
