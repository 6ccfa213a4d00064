// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// weftctl is the command-line client for the weftd control socket.
//
//	weftctl status   print daemon state as JSON
//	weftctl stop     ask the daemon to shut down
//
// --debug additionally prints the raw response in CBOR diagnostic
// notation on stderr.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/weftwork/weft/lib/codec"
	"github.com/weftwork/weft/lib/config"
	"github.com/weftwork/weft/lib/ipc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		controlSocketPath string
		debug             bool
	)

	flagSet := pflag.NewFlagSet("weftctl", pflag.ContinueOnError)
	flagSet.StringVar(&controlSocketPath, "control-socket", "", "control socket path (default from config)")
	flagSet.BoolVar(&debug, "debug", false, "print the raw response in CBOR diagnostic notation on stderr")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	args := flagSet.Args()
	if len(args) != 1 {
		return fmt.Errorf("usage: weftctl [--control-socket PATH] [--debug] status|stop")
	}
	action := args[0]
	if action != "status" && action != "stop" {
		return fmt.Errorf("unknown command %q (want status or stop)", action)
	}

	if controlSocketPath == "" {
		cfg := config.Default()
		if os.Getenv("WEFT_CONFIG") != "" {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
		}
		controlSocketPath = cfg.Control.SocketPath
	}

	raw, err := request(controlSocketPath, ipc.Request{Action: action})
	if err != nil {
		return err
	}
	if debug {
		notation, err := codec.Diagnose(raw)
		if err != nil {
			return fmt.Errorf("diagnosing response: %w", err)
		}
		fmt.Fprintln(os.Stderr, notation)
	}
	var response ipc.Response
	if err := codec.Unmarshal(raw, &response); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !response.OK {
		return fmt.Errorf("daemon: %s", response.Error)
	}

	if response.Status != nil {
		output, err := json.MarshalIndent(response.Status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
	}
	return nil
}

// request performs one request/response cycle against the control
// socket and returns the raw CBOR response bytes. The daemon closes
// the connection after responding, so the read runs to EOF.
func request(socketPath string, req ipc.Request) ([]byte, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s (is weftd running?): %w", socketPath, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	payload, err := codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return raw, nil
}
