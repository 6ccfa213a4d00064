// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/weftwork/weft/dispatch"
	"github.com/weftwork/weft/lib/codec"
	"github.com/weftwork/weft/lib/ipc"
)

// controlServer handles CBOR requests on the daemon's control socket.
// Each connection carries one request/response cycle. All fields are
// set before the listener starts and never mutated, so handlers run
// without locking.
type controlServer struct {
	daemon    *dispatch.Daemon
	transport *dispatch.Transport
	shutdown  context.CancelFunc
	logger    *slog.Logger
}

// serve accepts connections on the control socket and handles requests.
func (s *controlServer) serve(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Error("control accept error", "error", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

// handleConnection processes a single request/response cycle.
func (s *controlServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	// Deadline for the entire request/response cycle.
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)

	var request ipc.Request
	if err := decoder.Decode(&request); err != nil {
		s.logger.Error("decoding control request", "error", err)
		return
	}

	response := s.handleRequest(request)
	if err := encoder.Encode(response); err != nil {
		s.logger.Error("encoding control response", "action", request.Action, "error", err)
		return
	}

	// Shutdown is deferred until the response is on the wire so the
	// requester sees the acknowledgment.
	if request.Action == "stop" && response.OK {
		s.logger.Info("stop requested via control socket")
		s.shutdown()
	}
}

func (s *controlServer) handleRequest(request ipc.Request) ipc.Response {
	switch request.Action {
	case "status":
		return s.handleStatus()
	case "stop":
		return ipc.Response{OK: true}
	default:
		return ipc.Response{
			OK:    false,
			Error: fmt.Sprintf("unknown action %q", request.Action),
		}
	}
}

func (s *controlServer) handleStatus() ipc.Response {
	uplink, downlink := s.daemon.Stats()
	return ipc.Response{
		OK: true,
		Status: &ipc.Status{
			PID:             os.Getpid(),
			Running:         s.daemon.Running(),
			SocketPath:      s.transport.SocketPath(),
			SocketMode:      s.transport.Mode().String(),
			ClientConnected: s.daemon.ClientConnected(),
			UplinkFrames:    uplink,
			DownlinkFrames:  downlink,
		},
	}
}
