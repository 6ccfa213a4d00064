// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os/user"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/weftwork/weft/lib/halpkt"
	"github.com/weftwork/weft/lib/sys"
)

// Mode selects the socket type and with it the framing discipline.
// The values are the kernel's SOCK_* constants so a Mode can be
// passed straight to socket(2).
type Mode int

const (
	// ModeStream runs over SOCK_STREAM. Messages are delimited by an
	// explicit frame: [sentinel][length LE16][payload].
	ModeStream Mode = unix.SOCK_STREAM

	// ModeSeqPacket runs over SOCK_SEQPACKET. The kernel preserves
	// message boundaries; one datagram is one message.
	ModeSeqPacket Mode = unix.SOCK_SEQPACKET
)

// String returns the config-file spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	case ModeSeqPacket:
		return "seqpacket"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode converts a config-file spelling to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "stream":
		return ModeStream, nil
	case "seqpacket":
		return ModeSeqPacket, nil
	}
	return 0, fmt.Errorf("unknown socket mode %q (want \"stream\" or \"seqpacket\")", s)
}

// readState tracks progress through a stream-mode frame. The reader
// returns to readHeader after every complete frame and after every
// framing error, so tests can observe that malformed input leaves no
// partial state behind.
type readState int

const (
	readHeader readState = iota
	readLength
	readPayload
)

// listenBacklog bounds pending connect requests. The policy is one
// client at a time, so a small backlog is plenty.
const listenBacklog = 3

// socketFileMode is owner/group read-write plus world read, matching
// what the co-processor driver expects to find.
const socketFileMode = 0664

// ErrServerOpen is returned by SetMode while the listening socket is
// open; the mode is fixed for the lifetime of the server socket.
var ErrServerOpen = fmt.Errorf("dispatch: socket mode cannot change while the server is open")

// Transport manages the dispatcher's Unix-domain server socket and
// translates between raw client bytes and discrete frames according
// to the configured Mode.
//
// Transport performs no locking of its own. The owning Daemon
// serializes access to the client descriptor; every other field is
// touched only by the daemon's worker goroutine.
type Transport struct {
	sys    sys.Syscalls
	logger *slog.Logger

	path  string // socket file path; unlinked on server close
	group string // group name for socket file ownership, "" to skip
	mode  Mode

	onFrame func([]byte) // invoked with each complete received frame

	serverFD  int
	clientFD  int
	monitorFD int

	state         readState
	pendingLength int // payload bytes expected, valid in readPayload

	scratch []byte // seqpacket receive buffer
}

// NewTransport returns a closed Transport serving socketPath. The
// mode defaults to seqpacket. groupName, when non-empty, names the
// system group given ownership of the socket file; a missing group is
// logged and skipped.
func NewTransport(syscalls sys.Syscalls, socketPath, groupName string, logger *slog.Logger) *Transport {
	return &Transport{
		sys:       syscalls,
		logger:    logger,
		path:      socketPath,
		group:     groupName,
		mode:      ModeSeqPacket,
		serverFD:  sys.InvalidFD,
		clientFD:  sys.InvalidFD,
		monitorFD: sys.InvalidFD,
		scratch:   make([]byte, halpkt.MaxFrameSize),
	}
}

// OnFrame installs the callback invoked with each complete frame
// received from the client. Must be set before the first Recv.
func (t *Transport) OnFrame(callback func([]byte)) {
	t.onFrame = callback
}

// SetMode changes the framing mode. Fails with ErrServerOpen while
// the listening socket is open and rejects unrecognized values.
func (t *Transport) SetMode(mode Mode) error {
	if t.serverFD != sys.InvalidFD {
		return ErrServerOpen
	}
	if mode != ModeStream && mode != ModeSeqPacket {
		return fmt.Errorf("dispatch: unrecognized socket mode %d", int(mode))
	}
	t.mode = mode
	return nil
}

// Mode returns the configured framing mode.
func (t *Transport) Mode() Mode {
	return t.mode
}

// SocketPath returns the socket file path.
func (t *Transport) SocketPath() string {
	return t.path
}

// OpenServer creates the listening socket: socket, stale-file unlink,
// bind, ownership and permission fixup, listen. On failure every
// partially acquired resource is released and no descriptor remains
// open.
func (t *Transport) OpenServer() error {
	fd, err := t.sys.Socket(unix.AF_UNIX, int(t.mode), 0)
	if err != nil {
		return fmt.Errorf("creating dispatcher socket: %w", err)
	}
	t.serverFD = fd

	if err := t.bindSocket(); err != nil {
		t.CloseServer()
		return err
	}

	if err := t.sys.Listen(t.serverFD, listenBacklog); err != nil {
		t.CloseServer()
		return fmt.Errorf("listening on %s: %w", t.path, err)
	}
	return nil
}

// bindSocket removes any stale socket file, binds, and applies the
// file ownership and mode the co-processor driver expects.
func (t *Transport) bindSocket() error {
	// Remove a stale socket file from a previous run; a failed unlink
	// surfaces as a bind error immediately after.
	_ = t.sys.Unlink(t.path)

	if err := t.sys.Bind(t.serverFD, t.path); err != nil {
		return fmt.Errorf("binding %s: %w", t.path, err)
	}

	if t.group != "" {
		if groupInfo, err := user.LookupGroup(t.group); err == nil {
			if gid, err := strconv.Atoi(groupInfo.Gid); err == nil {
				if err := t.sys.Chown(t.path, -1, gid); err != nil {
					t.logger.Warn("setting socket file group ownership", "group", t.group, "error", err)
				}
			}
		} else {
			t.logger.Warn("socket file group not found; ownership left unchanged", "group", t.group)
		}
	}
	if err := t.sys.Chmod(t.path, socketFileMode); err != nil {
		t.logger.Warn("setting socket file permissions", "error", err)
	}
	return nil
}

// CloseServer closes the listening socket and removes the socket
// file. Safe to call when the server is not open.
func (t *Transport) CloseServer() {
	if t.serverFD == sys.InvalidFD {
		return
	}
	_ = t.sys.Close(t.serverFD)
	_ = t.sys.Unlink(t.path)
	t.serverFD = sys.InvalidFD
}

// CloseClient closes the connected client socket, if any.
func (t *Transport) CloseClient() {
	if t.clientFD == sys.InvalidFD {
		return
	}
	_ = t.sys.Close(t.clientFD)
	t.clientFD = sys.InvalidFD
}

// AcceptClient performs the OS-level accept on the listening socket
// and returns the new client descriptor. The single-client policy
// lives in the Daemon; this only talks to the kernel.
func (t *Transport) AcceptClient() (int, error) {
	if t.serverFD == sys.InvalidFD {
		return sys.InvalidFD, fmt.Errorf("dispatch: server socket is not open")
	}
	fd, err := t.sys.Accept(t.serverFD)
	if err != nil {
		return sys.InvalidFD, fmt.Errorf("accepting on %s: %w", t.path, err)
	}
	return fd, nil
}

// SetClientFD records the connected client descriptor. The caller
// (the Daemon) owns the locking.
func (t *Transport) SetClientFD(fd int) {
	t.clientFD = fd
}

// ClientFD returns the connected client descriptor, or sys.InvalidFD.
func (t *Transport) ClientFD() int {
	return t.clientFD
}

// ServerFD returns the listening descriptor, or sys.InvalidFD.
func (t *Transport) ServerFD() int {
	return t.serverFD
}

// Send writes one frame to the connected client using the configured
// mode's framing.
func (t *Transport) Send(data []byte) error {
	switch t.mode {
	case ModeSeqPacket:
		return t.sendPacket(data)
	case ModeStream:
		return t.sendStream(data)
	}
	return fmt.Errorf("dispatch: unrecognized socket mode %d", int(t.mode))
}

// sendPacket sends the whole message as one datagram. A short send
// would silently truncate the message, so anything but a full send is
// a failure.
func (t *Transport) sendPacket(data []byte) error {
	n, err := t.sys.Send(t.clientFD, data)
	if err != nil || n <= 0 {
		t.logSocketError(n, err, "send")
		return fmt.Errorf("sending %d-byte datagram: short or failed send (%d bytes): %w", len(data), n, err)
	}
	if n != len(data) {
		return fmt.Errorf("sending %d-byte datagram: partial send of %d bytes", len(data), n)
	}
	return nil
}

// sendStream writes the sentinel byte, the little-endian payload
// length, then the payload, looping on partial payload writes.
func (t *Transport) sendStream(data []byte) error {
	header := [1]byte{halpkt.StreamSentinel}
	n, err := t.sys.Send(t.clientFD, header[:])
	if err != nil || n <= 0 {
		t.logSocketError(n, err, "send")
		return fmt.Errorf("sending frame sentinel: %w", err)
	}

	var length [2]byte
	binary.LittleEndian.PutUint16(length[:], uint16(len(data)))
	n, err = t.sys.Send(t.clientFD, length[:])
	if err != nil || n <= 0 {
		t.logSocketError(n, err, "send")
		return fmt.Errorf("sending frame length: %w", err)
	}

	sent := 0
	for sent < len(data) {
		n, err = t.sys.Send(t.clientFD, data[sent:])
		if err != nil || n <= 0 {
			t.logSocketError(n, err, "send")
			return fmt.Errorf("sending frame payload at offset %d: %w", sent, err)
		}
		sent += n
	}
	return nil
}

// Recv reads from the connected client according to the configured
// mode. On success the complete frame has been delivered through the
// OnFrame callback.
func (t *Transport) Recv() error {
	switch t.mode {
	case ModeSeqPacket:
		return t.recvPacket()
	case ModeStream:
		return t.recvStream()
	}
	return fmt.Errorf("dispatch: unrecognized socket mode %d", int(t.mode))
}

// recvPacket reads one datagram; the byte count is the frame length.
func (t *Transport) recvPacket() error {
	n, err := t.sys.Recv(t.clientFD, t.scratch)
	if err != nil || n <= 0 {
		t.logSocketError(n, err, "recv")
		return fmt.Errorf("receiving datagram: %w", err)
	}
	t.onFrame(t.scratch[:n])
	return nil
}

// recvStream advances the framing state machine by one stage per
// call. A sentinel mismatch or a zero length declaration resets the
// reader to the header stage and reports failure for this read cycle
// without dropping the connection.
func (t *Transport) recvStream() error {
	var need int
	switch t.state {
	case readHeader:
		need = 1
	case readLength:
		need = 2
	case readPayload:
		need = t.pendingLength
	}

	buf := make([]byte, need)
	if err := t.recvFull(buf); err != nil {
		return err
	}

	switch t.state {
	case readHeader:
		if buf[0] != halpkt.StreamSentinel {
			t.resetReadState()
			return fmt.Errorf("frame sentinel mismatch: got 0x%02x, want 0x%02x", buf[0], halpkt.StreamSentinel)
		}
		t.state = readLength

	case readLength:
		length := int(binary.LittleEndian.Uint16(buf))
		if length == 0 {
			t.resetReadState()
			return fmt.Errorf("frame declares zero-length payload")
		}
		t.pendingLength = length
		t.state = readPayload

	case readPayload:
		t.onFrame(buf)
		t.resetReadState()
	}
	return nil
}

// recvFull reads exactly len(buf) bytes, looping over partial reads.
// This blocks the worker for the duration of the frame; a stalled
// client delays servicing of the other descriptors until the read
// completes or fails.
func (t *Transport) recvFull(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := t.sys.Recv(t.clientFD, buf[total:])
		if err != nil || n <= 0 {
			t.logSocketError(n, err, "recv")
			return fmt.Errorf("reading %d of %d frame bytes: connection failed: %w", total, len(buf), err)
		}
		total += n
	}
	return nil
}

func (t *Transport) resetReadState() {
	t.state = readHeader
	t.pendingLength = 0
}

// SocketFileExists reports whether the socket path currently names a
// socket-type file.
func (t *Transport) SocketFileExists() bool {
	mode, err := t.sys.Stat(t.path)
	return err == nil && mode&unix.S_IFMT == unix.S_IFSOCK
}

// OpenSocketFileMonitor lazily creates an inotify watch for deletion
// events on the socket's directory and returns its descriptor for
// inclusion in the daemon's wait set. Idempotent while open.
func (t *Transport) OpenSocketFileMonitor() (int, error) {
	if t.monitorFD != sys.InvalidFD {
		return t.monitorFD, nil
	}

	fd, err := t.sys.InotifyInit()
	if err != nil {
		t.logger.Warn("creating socket file monitor", "error", err)
		return sys.InvalidFD, fmt.Errorf("inotify_init: %w", err)
	}

	directory := filepath.Dir(t.path)
	if _, err := t.sys.InotifyAddWatch(fd, directory, unix.IN_DELETE); err != nil {
		t.logger.Warn("watching socket directory", "directory", directory, "error", err)
		_ = t.sys.Close(fd)
		return sys.InvalidFD, fmt.Errorf("inotify_add_watch on %s: %w", directory, err)
	}

	t.monitorFD = fd
	return fd, nil
}

// CloseSocketFileMonitor releases the inotify descriptor, if open.
func (t *Transport) CloseSocketFileMonitor() {
	if t.monitorFD == sys.InvalidFD {
		return
	}
	_ = t.sys.Close(t.monitorFD)
	t.monitorFD = sys.InvalidFD
}

// MonitorFD returns the inotify descriptor, or sys.InvalidFD.
func (t *Transport) MonitorFD() int {
	return t.monitorFD
}

// Release closes everything the transport holds: client, server (and
// socket file), and the file monitor.
func (t *Transport) Release() {
	t.CloseClient()
	t.CloseServer()
	t.CloseSocketFileMonitor()
}

// logSocketError distinguishes a closed peer (zero-byte result) from
// an outright syscall failure.
func (t *Transport) logSocketError(n int, err error, direction string) {
	if err != nil {
		t.logger.Warn("socket operation failed",
			"direction", direction, "client_fd", t.clientFD, "error", err)
		return
	}
	if n == 0 {
		t.logger.Warn("client connection closed or buffer full",
			"direction", direction, "client_fd", t.clientFD)
	}
}
