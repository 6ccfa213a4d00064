// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/weftwork/weft/lib/halpkt"
	"github.com/weftwork/weft/lib/sys"
)

var (
	// ErrAlreadyRunning is returned by Start when the daemon is
	// already running.
	ErrAlreadyRunning = errors.New("dispatch: daemon already running")

	// ErrNotRunning is returned by Stop and SendUplink when the
	// daemon is not running.
	ErrNotRunning = errors.New("dispatch: daemon not running")

	// ErrNoClient is returned by SendUplink when no client is
	// connected.
	ErrNoClient = errors.New("dispatch: no client connected")
)

// inotifyBufferSize holds at least one full inotify event with the
// longest possible file name.
const inotifyBufferSize = unix.SizeofInotifyEvent + unix.NAME_MAX + 1

// Daemon runs the dispatcher's event loop. It accepts one co-processor
// client on the transport's socket, forwards its frames to the
// controller through the downlink path, and forwards encapsulated
// controller packets back to the client through SendUplink.
//
// The worker goroutine services the listening socket, the connected
// client, the socket-file monitor, and the stop pipe from a single
// multiplexed wait. If the socket file disappears the server is torn
// down and reopened. A downlink frame carrying the hardware-reset
// sentinel terminates the hosting process with SIGKILL so the
// supervisor restarts the whole stack.
type Daemon struct {
	sys       sys.Syscalls
	transport *Transport
	logger    *slog.Logger

	// downlink receives each decapsulated client frame for delivery
	// to the controller.
	downlink func([]byte)

	running         atomic.Bool
	clientConnected atomic.Bool
	restartNeeded   atomic.Bool

	// clientMu guards the transport's client descriptor between the
	// worker (accept, recv, cleanup) and the owner (SendUplink).
	clientMu sync.Mutex

	notifyReadFD  int
	notifyWriteFD int

	workerDone chan struct{}

	uplinkFrames   atomic.Uint64
	downlinkFrames atomic.Uint64
}

// NewDaemon wires a stopped daemon to the given transport. downlink is
// invoked, from the worker goroutine, with each encapsulated frame
// destined for the controller; it must not call Stop. The transport's
// frame callback is claimed by the daemon.
func NewDaemon(syscalls sys.Syscalls, transport *Transport, downlink func([]byte), logger *slog.Logger) *Daemon {
	if downlink == nil {
		panic("dispatch: NewDaemon requires a downlink callback")
	}
	d := &Daemon{
		sys:           syscalls,
		transport:     transport,
		logger:        logger,
		downlink:      downlink,
		notifyReadFD:  sys.InvalidFD,
		notifyWriteFD: sys.InvalidFD,
	}
	transport.OnFrame(d.handleClientFrame)
	return d
}

// Running reports whether the daemon has been started and not stopped.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// ClientConnected reports whether a client is currently connected.
func (d *Daemon) ClientConnected() bool {
	return d.clientConnected.Load()
}

// Stats returns the number of frames forwarded in each direction since
// the daemon was created.
func (d *Daemon) Stats() (uplink, downlink uint64) {
	return d.uplinkFrames.Load(), d.downlinkFrames.Load()
}

// Start launches the worker goroutine. The first server-socket open
// happens on the worker, so a bad socket path does not fail Start; the
// failure is logged and the daemon keeps running, able to recover when
// the path becomes usable and a restart is triggered.
func (d *Daemon) Start() error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	readFD, writeFD, err := d.sys.Pipe()
	if err != nil {
		d.running.Store(false)
		return fmt.Errorf("creating daemon stop pipe: %w", err)
	}
	d.notifyReadFD = readFD
	d.notifyWriteFD = writeFD

	d.restartNeeded.Store(true)
	d.workerDone = make(chan struct{})
	go d.daemonRoutine()

	d.logger.Info("dispatch daemon started",
		"socket", d.transport.SocketPath(), "mode", d.transport.Mode().String())
	return nil
}

// Stop wakes the worker through the stop pipe, waits for it to drain,
// and releases the pipe. Must not be called from the downlink
// callback; the worker cannot join itself.
func (d *Daemon) Stop() error {
	if !d.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}

	if _, err := d.sys.Write(d.notifyWriteFD, []byte{0}); err != nil {
		d.logger.Warn("writing daemon stop byte", "error", err)
	}
	<-d.workerDone

	_ = d.sys.Close(d.notifyReadFD)
	_ = d.sys.Close(d.notifyWriteFD)
	d.notifyReadFD = sys.InvalidFD
	d.notifyWriteFD = sys.InvalidFD
	d.restartNeeded.Store(false)

	d.logger.Info("dispatch daemon stopped")
	return nil
}

// SendUplink encapsulates validation and delivery of one controller
// packet to the connected client. The packet must be in the
// encapsulated HAL format; its payload is extracted and sent over the
// socket.
func (d *Daemon) SendUplink(packet []byte) error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	if !d.clientConnected.Load() {
		return ErrNoClient
	}
	if len(packet) == 0 {
		return fmt.Errorf("dispatch: empty uplink packet")
	}

	payload, err := halpkt.Extract(packet)
	if err != nil {
		return fmt.Errorf("unwrapping uplink packet: %w", err)
	}

	d.clientMu.Lock()
	defer d.clientMu.Unlock()
	if d.transport.ClientFD() == sys.InvalidFD {
		return ErrNoClient
	}
	if err := d.transport.Send(payload); err != nil {
		return err
	}
	d.uplinkFrames.Add(1)
	return nil
}

// handleClientFrame is the transport's frame callback: it runs on the
// worker goroutine with one complete client frame. A hardware-reset
// frame terminates the process; anything else is encapsulated and
// handed to the downlink.
func (d *Daemon) handleClientFrame(frame []byte) {
	if halpkt.IsHardwareReset(frame) {
		d.logger.Error("hardware reset requested by client; terminating process")
		d.transport.Release()
		_ = d.sys.Kill(d.sys.Getpid(), int(unix.SIGKILL))
		return
	}
	d.downlinkFrames.Add(1)
	d.downlink(halpkt.Construct(frame))
}

// daemonRoutine is the worker. Each pass of the outer loop opens the
// server socket and the file monitor, then blocks in monitorSockets
// until a stop or a restart condition. Cleanup runs on every pass so a
// restart never leaks descriptors.
func (d *Daemon) daemonRoutine() {
	defer close(d.workerDone)

	for d.restartNeeded.CompareAndSwap(true, false) {
		if err := d.transport.OpenServer(); err != nil {
			// The loop still enters monitorSockets so Stop can reach
			// us; a socket-file event can trigger another attempt.
			d.logger.Error("opening dispatcher server socket",
				"socket", d.transport.SocketPath(), "error", err)
		}
		if _, err := d.transport.OpenSocketFileMonitor(); err != nil {
			d.logger.Warn("socket file monitoring unavailable", "error", err)
		}

		d.monitorSockets()

		d.cleanupClient()
		d.transport.CloseServer()
		d.transport.CloseSocketFileMonitor()
	}
}

// monitorSockets blocks in the multiplexed wait and services ready
// descriptors until stopped or until a restart is needed. Stop-pipe
// readiness wins over everything else; the socket-file monitor is
// checked before client and server traffic so a deleted socket file
// restarts the server promptly.
func (d *Daemon) monitorSockets() {
	for d.running.Load() && !d.restartNeeded.Load() {
		watched := []int{d.notifyReadFD}
		if fd := d.transport.MonitorFD(); fd != sys.InvalidFD {
			watched = append(watched, fd)
		}
		if fd := d.transport.ClientFD(); fd != sys.InvalidFD {
			watched = append(watched, fd)
		}
		if fd := d.transport.ServerFD(); fd != sys.InvalidFD {
			watched = append(watched, fd)
		}

		ready, err := d.sys.Select(watched)
		if err != nil {
			d.logger.Error("waiting on dispatcher descriptors", "error", err)
			return
		}

		readySet := make(map[int]bool, len(ready))
		for _, fd := range ready {
			readySet[fd] = true
		}

		if readySet[d.notifyReadFD] {
			d.drainNotifyPipe()
			continue
		}

		if fd := d.transport.MonitorFD(); fd != sys.InvalidFD && readySet[fd] {
			if d.handleMonitorEvent(fd) {
				return
			}
		}

		if fd := d.transport.ClientFD(); fd != sys.InvalidFD && readySet[fd] {
			if err := d.transport.Recv(); err != nil {
				d.logger.Warn("client receive failed; dropping client", "error", err)
				d.cleanupClient()
			}
		}

		if fd := d.transport.ServerFD(); fd != sys.InvalidFD && readySet[fd] {
			d.acceptClient()
		}
	}
}

// drainNotifyPipe consumes pending stop bytes so a later pipe write is
// observed as a fresh readiness event.
func (d *Daemon) drainNotifyPipe() {
	var buf [16]byte
	_, _ = d.sys.Read(d.notifyReadFD, buf[:])
}

// handleMonitorEvent reads pending inotify events and, when the socket
// file has actually been deleted, closes the monitor and requests a
// restart. Returns true when monitorSockets should unwind.
func (d *Daemon) handleMonitorEvent(monitorFD int) bool {
	buf := make([]byte, inotifyBufferSize)
	n, err := d.sys.Read(monitorFD, buf)
	if err != nil || n <= 0 {
		d.logger.Warn("reading socket file monitor", "error", err)
		return false
	}

	if !inotifyReportsDeletion(buf[:n]) {
		return false
	}
	// The deletion event can be for a sibling file; only restart when
	// our socket file is really gone.
	if d.transport.SocketFileExists() {
		return false
	}

	d.logger.Warn("socket file deleted; restarting server",
		"socket", d.transport.SocketPath())
	d.transport.CloseSocketFileMonitor()
	d.restartNeeded.Store(true)
	return true
}

// acceptClient admits the first client and rejects any while one is
// connected. Rejection happens by accepting and immediately closing,
// so the peer sees a clean close instead of a hung connect.
func (d *Daemon) acceptClient() {
	fd, err := d.transport.AcceptClient()
	if err != nil {
		d.logger.Warn("accepting client connection", "error", err)
		return
	}

	d.clientMu.Lock()
	defer d.clientMu.Unlock()
	if !d.clientConnected.CompareAndSwap(false, true) {
		d.logger.Warn("rejecting second client connection", "fd", fd)
		_ = d.sys.Close(fd)
		return
	}
	d.transport.SetClientFD(fd)
	d.logger.Info("client connected", "fd", fd)
}

// cleanupClient closes the connected client, if any, and clears the
// connected flag.
func (d *Daemon) cleanupClient() {
	d.clientMu.Lock()
	defer d.clientMu.Unlock()
	if d.transport.ClientFD() == sys.InvalidFD {
		return
	}
	d.transport.CloseClient()
	d.clientConnected.Store(false)
	d.logger.Info("client disconnected")
}
