// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package halpkt defines the wire formats shared between the dispatch
// daemon and the rest of the HCI stack.
//
// Two byte layouts live here:
//
//   - The encapsulated HAL packet, the HCI-style envelope that carries
//     a Thread frame through the packet-dispatch framework:
//     [type 0x70] [2 reserved bytes] [length, little-endian uint16]
//     [payload]. Construct and Extract convert between this envelope
//     and the raw frame.
//
//   - The stream-mode socket frame used when the dispatcher socket
//     runs in stream mode: [sentinel 0x40] [length, little-endian
//     uint16] [payload]. The dispatch package owns the read/write
//     state machine; only the constants live here.
//
// Both layouts are fixed foreign formats — the Thread co-processor
// client and the controller firmware already speak them — so the
// encoding is hand-rolled over encoding/binary rather than delegated
// to a serialization library.
package halpkt
