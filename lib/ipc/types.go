// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

// Request is a CBOR-encoded request sent to the daemon's control
// socket.
type Request struct {
	// Action is the request type: "status" or "stop".
	Action string `cbor:"action"`
}

// Response is a CBOR-encoded response from the daemon's control
// socket.
type Response struct {
	// OK indicates whether the request succeeded.
	OK bool `cbor:"ok"`

	// Error contains the error message if OK is false.
	Error string `cbor:"error,omitempty"`

	// Status carries the daemon state for the "status" action.
	Status *Status `cbor:"status,omitempty"`
}

// Status describes the running daemon, returned by the "status"
// action. Uses json tags because it serves both the CBOR control
// protocol and weftctl's JSON output; fxamacker/cbor reads json tags
// when cbor tags are absent.
type Status struct {
	// PID is the daemon's process ID.
	PID int `json:"pid"`

	// Running reports whether the dispatch daemon's event loop is
	// active.
	Running bool `json:"running"`

	// SocketPath is the co-processor client socket the daemon is
	// serving.
	SocketPath string `json:"socket_path"`

	// SocketMode is the framing mode, "seqpacket" or "stream".
	SocketMode string `json:"socket_mode"`

	// ClientConnected reports whether a co-processor client is
	// currently connected.
	ClientConnected bool `json:"client_connected"`

	// UplinkFrames counts frames forwarded from the controller to
	// the client since daemon start.
	UplinkFrames uint64 `json:"uplink_frames"`

	// DownlinkFrames counts frames forwarded from the client to the
	// controller since daemon start.
	DownlinkFrames uint64 `json:"downlink_frames"`
}
