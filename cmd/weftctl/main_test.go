// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/weftwork/weft/lib/codec"
	"github.com/weftwork/weft/lib/ipc"
	"github.com/weftwork/weft/lib/testutil"
)

// serveOneRequest accepts a single connection, decodes one request,
// writes the given response, and closes the connection the way
// weftd's control server does.
func serveOneRequest(t *testing.T, listener net.Listener, response ipc.Response) <-chan ipc.Request {
	t.Helper()
	received := make(chan ipc.Request, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var request ipc.Request
		if err := codec.NewDecoder(conn).Decode(&request); err != nil {
			return
		}
		received <- request
		_ = codec.NewEncoder(conn).Encode(response)
	}()
	return received
}

func TestRequestRoundTrip(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listening on control socket: %v", err)
	}
	defer listener.Close()

	want := ipc.Response{
		OK: true,
		Status: &ipc.Status{
			PID:        42,
			Running:    true,
			SocketPath: "/run/weft/thread.sock",
			SocketMode: "seqpacket",
		},
	}
	received := serveOneRequest(t, listener, want)

	raw, err := request(socketPath, ipc.Request{Action: "status"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req := <-received; req.Action != "status" {
		t.Errorf("daemon saw action %q, want status", req.Action)
	}

	var response ipc.Response
	if err := codec.Unmarshal(raw, &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !response.OK || response.Status == nil {
		t.Fatalf("response = %+v, want OK with status", response)
	}
	if !response.Status.Running || response.Status.PID != 42 {
		t.Errorf("status = %+v, want running with pid 42", response.Status)
	}

	// The raw bytes feed the --debug output path.
	notation, err := codec.Diagnose(raw)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, "seqpacket") {
		t.Errorf("diagnostic notation %q does not mention the socket mode", notation)
	}
}

func TestRequestDaemonNotRunning(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "missing.sock")
	if _, err := request(socketPath, ipc.Request{Action: "status"}); err == nil {
		t.Fatal("request against a missing socket succeeded")
	}
}
