// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package halpkt

import (
	"bytes"
	"testing"
)

func TestConstructExtractRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x00},
		{0x00, 0x01, 0x02, 0x03, 0x04},
		bytes.Repeat([]byte{0xAB}, 300), // length needs both LE bytes
		bytes.Repeat([]byte{0xCD}, MaxFrameSize),
	}
	for _, payload := range payloads {
		packet := Construct(payload)
		extracted, err := Extract(packet)
		if err != nil {
			t.Fatalf("Extract(Construct(%d bytes)): %v", len(payload), err)
		}
		if !bytes.Equal(extracted, payload) {
			t.Fatalf("round trip of %d bytes: got %x, want %x", len(payload), extracted, payload)
		}
	}
}

func TestConstructLayout(t *testing.T) {
	packet := Construct([]byte{0x00, 0x01, 0x02, 0x03, 0x04})
	want := []byte{0x70, 0x00, 0x00, 0x05, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(packet, want) {
		t.Fatalf("Construct layout: got %x, want %x", packet, want)
	}
}

func TestConstructEmptyPayload(t *testing.T) {
	packet := Construct(nil)
	want := []byte{0x70, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(packet, want) {
		t.Fatalf("Construct(nil): got %x, want %x", packet, want)
	}
}

func TestExtractRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
	}{
		{"empty", nil},
		{"shorter than envelope", []byte{0x70, 0x00, 0x00, 0x01}},
		{"wrong type byte", []byte{0x01, 0x00, 0x00, 0x01, 0x00, 0xAA}},
		{"declared length too large", []byte{0x70, 0x00, 0x00, 0x05, 0x00, 0x00, 0x01}},
		{"declared length too small", []byte{0x70, 0x00, 0x00, 0x01, 0x00, 0x00, 0x01}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			payload, err := Extract(test.packet)
			if err == nil {
				t.Fatalf("Extract(%x) succeeded, want error", test.packet)
			}
			if len(payload) != 0 {
				t.Fatalf("Extract(%x) returned %x alongside the error", test.packet, payload)
			}
		})
	}
}

func TestIsHardwareReset(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  bool
	}{
		{"exact sentinel", []byte{0x80, 0x01, 0x04}, true},
		{"empty", nil, false},
		{"too short", []byte{0x80, 0x01}, false},
		{"sentinel prefix with trailing data", []byte{0x80, 0x01, 0x04, 0x00}, false},
		{"wrong header", []byte{0x81, 0x01, 0x04}, false},
		{"wrong command", []byte{0x80, 0x02, 0x04}, false},
		{"wrong subcommand", []byte{0x80, 0x01, 0x05}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsHardwareReset(test.frame); got != test.want {
				t.Fatalf("IsHardwareReset(%x) = %v, want %v", test.frame, got, test.want)
			}
		})
	}
}
