// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// weftd serves the Thread co-processor client socket and bridges its
// frames to the controller stack.
//
// The daemon listens on a Unix-domain socket (seqpacket by default,
// stream framing available via --mode), accepts a single co-processor
// client, and encapsulates its frames for the controller downlink. A
// second Unix socket accepts CBOR control requests ("status", "stop")
// from local tooling.
//
// Configuration comes from a YAML file (--config or WEFT_CONFIG), with
// flags overriding individual values. Without a config file the
// built-in defaults apply.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/weftwork/weft/dispatch"
	"github.com/weftwork/weft/lib/config"
	"github.com/weftwork/weft/lib/sys"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath        string
		socketPath        string
		socketMode        string
		socketGroup       string
		controlSocketPath string
		logLevel          string
	)

	flagSet := pflag.NewFlagSet("weftd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to weft.yaml (overrides WEFT_CONFIG)")
	flagSet.StringVar(&socketPath, "socket", "", "co-processor client socket path")
	flagSet.StringVar(&socketMode, "mode", "", "socket framing mode: seqpacket or stream")
	flagSet.StringVar(&socketGroup, "group", "", "system group for socket file ownership")
	flagSet.StringVar(&controlSocketPath, "control-socket", "", "control socket path")
	flagSet.StringVar(&logLevel, "log-level", "", "minimum log level: debug, info, warn, error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Flags override individual config values.
	if flagSet.Changed("socket") {
		cfg.Socket.Path = socketPath
	}
	if flagSet.Changed("mode") {
		cfg.Socket.Mode = socketMode
	}
	if flagSet.Changed("group") {
		cfg.Socket.Group = socketGroup
	}
	if flagSet.Changed("control-socket") {
		cfg.Control.SocketPath = controlSocketPath
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	level, err := parseLogLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// The control socket's "stop" action shuts the daemon down the
	// same way a signal does.
	ctx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	syscalls := sys.Real{}
	transport := dispatch.NewTransport(syscalls, cfg.Socket.Path, cfg.Socket.Group, logger)

	mode, err := dispatch.ParseMode(cfg.Socket.Mode)
	if err != nil {
		return err
	}
	if err := transport.SetMode(mode); err != nil {
		return err
	}

	daemon := dispatch.NewDaemon(syscalls, transport, func(packet []byte) {
		// Controller integration consumes the Daemon API directly;
		// standalone weftd logs the encapsulated frames it would
		// deliver.
		logger.Debug("downlink packet", "bytes", len(packet))
	}, logger)

	if err := daemon.Start(); err != nil {
		return fmt.Errorf("starting dispatch daemon: %w", err)
	}
	defer func() {
		if daemon.Running() {
			if err := daemon.Stop(); err != nil {
				logger.Error("stopping dispatch daemon", "error", err)
			}
		}
	}()

	listener, err := listenControlSocket(cfg.Control.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Control.SocketPath, err)
	}
	defer listener.Close()
	logger.Info("control socket listening", "socket", cfg.Control.SocketPath)

	control := &controlServer{
		daemon:    daemon,
		transport: transport,
		shutdown:  cancel,
		logger:    logger,
	}
	go control.serve(ctx, listener)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// loadConfig resolves the configuration source: explicit --config
// path, then WEFT_CONFIG, then built-in defaults.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	if os.Getenv("WEFT_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// listenControlSocket creates the control socket listener, removing
// any stale socket file.
func listenControlSocket(socketPath string) (net.Listener, error) {
	socketDir := filepath.Dir(socketPath)
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return nil, fmt.Errorf("creating socket directory %s: %w", socketDir, err)
	}

	// Remove stale socket file from a previous run.
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	// Local tooling runs as other users in production; group access
	// is enough.
	if err := os.Chmod(socketPath, 0660); err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}

	return listener, nil
}
