// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package halpkt

import (
	"encoding/binary"
	"fmt"
)

// TypeThreadData is the HCI-style packet indicator byte that marks an
// encapsulated packet as carrying a Thread frame. Vendor-specific.
const TypeThreadData byte = 0x70

// preambleLength is the size of the envelope fields after the type
// byte: two reserved bytes plus the two-byte little-endian payload
// length.
const preambleLength = 4

// HeaderLength is the full envelope size: type byte plus preamble. A
// well-formed encapsulated packet is exactly HeaderLength + payload
// length bytes.
const HeaderLength = 1 + preambleLength

// StreamSentinel is the fixed marker byte that begins every frame on a
// stream-mode dispatcher socket.
const StreamSentinel byte = 0x40

// MaxFrameSize is the receive scratch-buffer size for seqpacket-mode
// sockets, sized to the largest radio frame the co-processor emits.
const MaxFrameSize = 0x2000

// Hardware-reset sentinel frame. A downlink frame consisting of
// exactly these three bytes is the co-processor driver's signal that
// the controller performed a hardware reset; the daemon reacts by
// terminating the hosting process so the supervisor restarts the
// whole stack.
const (
	spinelHeader         byte = 0x80
	commandReset         byte = 0x01
	commandResetHardware byte = 0x04

	hardwareResetFrameLength = 3
)

// Construct wraps a raw Thread frame in the encapsulated HAL packet
// envelope. The result is always well-formed.
func Construct(payload []byte) []byte {
	packet := make([]byte, HeaderLength+len(payload))
	packet[0] = TypeThreadData
	// packet[1] and packet[2] are the reserved bytes, left zero.
	binary.LittleEndian.PutUint16(packet[3:5], uint16(len(payload)))
	copy(packet[HeaderLength:], payload)
	return packet
}

// Extract unwraps an encapsulated HAL packet and returns the raw
// Thread frame it carries. Returns an error (and no payload) when the
// packet is shorter than the envelope, carries the wrong type byte, or
// declares a length that does not match the actual size.
func Extract(packet []byte) ([]byte, error) {
	if len(packet) < HeaderLength {
		return nil, fmt.Errorf("packet of %d bytes is shorter than the %d-byte envelope", len(packet), HeaderLength)
	}
	if packet[0] != TypeThreadData {
		return nil, fmt.Errorf("packet type 0x%02x is not thread data (0x%02x)", packet[0], TypeThreadData)
	}
	declaredLength := int(binary.LittleEndian.Uint16(packet[3:5]))
	if len(packet) != HeaderLength+declaredLength {
		return nil, fmt.Errorf("declared payload length %d does not match packet size %d", declaredLength, len(packet))
	}
	return packet[HeaderLength:], nil
}

// IsHardwareReset reports whether a raw downlink frame is the
// hardware-reset sentinel. The match is exact: a longer frame that
// merely begins with the sentinel bytes is ordinary data.
func IsHardwareReset(frame []byte) bool {
	return len(frame) == hardwareResetFrameLength &&
		frame[0] == spinelHeader &&
		frame[1] == commandReset &&
		frame[2] == commandResetHardware
}
