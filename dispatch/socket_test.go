// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/weftwork/weft/lib/halpkt"
	"github.com/weftwork/weft/lib/sys"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransport(t *testing.T) (*Transport, *sys.Fake) {
	t.Helper()
	fake := sys.NewFake()
	transport := NewTransport(fake, "/run/weft/thread.sock", "", discardLogger())
	return transport, fake
}

// chunkReader scripts Recv to return one queued chunk per call, so
// tests control exactly how the byte stream fragments.
type chunkReader struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (r *chunkReader) push(chunks ...[]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunks...)
}

func (r *chunkReader) recv(fd int, buf []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chunks) == 0 {
		return 0, nil
	}
	chunk := r.chunks[0]
	r.chunks = r.chunks[1:]
	n := copy(buf, chunk)
	return n, nil
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{input: "stream", want: ModeStream},
		{input: "seqpacket", want: ModeSeqPacket},
		{input: "datagram", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, test := range tests {
		got, err := ParseMode(test.input)
		if test.wantErr {
			if err == nil {
				t.Errorf("ParseMode(%q): expected error, got %v", test.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMode(%q): %v", test.input, err)
			continue
		}
		if got != test.want {
			t.Errorf("ParseMode(%q) = %v, want %v", test.input, got, test.want)
		}
	}
}

func TestModeString(t *testing.T) {
	if got := ModeStream.String(); got != "stream" {
		t.Errorf("ModeStream.String() = %q", got)
	}
	if got := ModeSeqPacket.String(); got != "seqpacket" {
		t.Errorf("ModeSeqPacket.String() = %q", got)
	}
}

func TestSetMode(t *testing.T) {
	transport, _ := newTestTransport(t)

	if transport.Mode() != ModeSeqPacket {
		t.Fatalf("default mode = %v, want seqpacket", transport.Mode())
	}
	if err := transport.SetMode(ModeStream); err != nil {
		t.Fatalf("SetMode(stream): %v", err)
	}
	if transport.Mode() != ModeStream {
		t.Fatalf("mode after SetMode = %v, want stream", transport.Mode())
	}
	if err := transport.SetMode(Mode(99)); err == nil {
		t.Fatal("SetMode(99): expected error")
	}
}

func TestSetModeWhileServerOpen(t *testing.T) {
	transport, _ := newTestTransport(t)
	if err := transport.OpenServer(); err != nil {
		t.Fatalf("OpenServer: %v", err)
	}
	if err := transport.SetMode(ModeStream); !errors.Is(err, ErrServerOpen) {
		t.Fatalf("SetMode while open = %v, want ErrServerOpen", err)
	}
	transport.CloseServer()
	if err := transport.SetMode(ModeStream); err != nil {
		t.Fatalf("SetMode after close: %v", err)
	}
}

func TestOpenServer(t *testing.T) {
	transport, fake := newTestTransport(t)

	var backlog int
	fake.ListenFunc = func(fd, requested int) error {
		backlog = requested
		return nil
	}
	var chmodMode uint32
	fake.ChmodFunc = func(path string, mode uint32) error {
		chmodMode = mode
		return nil
	}

	if err := transport.OpenServer(); err != nil {
		t.Fatalf("OpenServer: %v", err)
	}
	if transport.ServerFD() == sys.InvalidFD {
		t.Fatal("server fd not recorded")
	}
	if backlog != 3 {
		t.Errorf("listen backlog = %d, want 3", backlog)
	}
	if chmodMode != 0664 {
		t.Errorf("socket file mode = %04o, want 0664", chmodMode)
	}

	// The stale socket file is removed before bind.
	unlinked := fake.Unlinked()
	if len(unlinked) != 1 || unlinked[0] != transport.SocketPath() {
		t.Errorf("unlinked paths = %v, want [%s]", unlinked, transport.SocketPath())
	}
}

func TestOpenServerSocketFailure(t *testing.T) {
	transport, fake := newTestTransport(t)
	fake.SocketFunc = func(domain, typ, protocol int) (int, error) {
		return sys.InvalidFD, unix.EMFILE
	}
	if err := transport.OpenServer(); err == nil {
		t.Fatal("OpenServer: expected error")
	}
	if transport.ServerFD() != sys.InvalidFD {
		t.Fatal("server fd set after socket failure")
	}
}

func TestOpenServerBindFailureClosesSocket(t *testing.T) {
	transport, fake := newTestTransport(t)
	fake.BindFunc = func(fd int, path string) error {
		return unix.EADDRINUSE
	}
	fake.SocketFunc = func(domain, typ, protocol int) (int, error) {
		return 42, nil
	}
	if err := transport.OpenServer(); err == nil {
		t.Fatal("OpenServer: expected error")
	}
	if fake.CloseCount(42) != 1 {
		t.Errorf("socket closed %d times after bind failure, want 1", fake.CloseCount(42))
	}
	if transport.ServerFD() != sys.InvalidFD {
		t.Fatal("server fd not cleared after bind failure")
	}
}

func TestOpenServerListenFailureClosesSocket(t *testing.T) {
	transport, fake := newTestTransport(t)
	fake.SocketFunc = func(domain, typ, protocol int) (int, error) {
		return 42, nil
	}
	fake.ListenFunc = func(fd, backlog int) error {
		return unix.EINVAL
	}
	if err := transport.OpenServer(); err == nil {
		t.Fatal("OpenServer: expected error")
	}
	if fake.CloseCount(42) != 1 {
		t.Errorf("socket closed %d times after listen failure, want 1", fake.CloseCount(42))
	}
}

func TestCloseServerIdempotent(t *testing.T) {
	transport, fake := newTestTransport(t)
	fake.SocketFunc = func(domain, typ, protocol int) (int, error) {
		return 42, nil
	}
	if err := transport.OpenServer(); err != nil {
		t.Fatalf("OpenServer: %v", err)
	}
	transport.CloseServer()
	transport.CloseServer()
	if fake.CloseCount(42) != 1 {
		t.Errorf("server closed %d times, want 1", fake.CloseCount(42))
	}
}

func TestSendPacket(t *testing.T) {
	transport, fake := newTestTransport(t)
	transport.SetClientFD(7)

	var sent []byte
	fake.SendFunc = func(fd int, data []byte) (int, error) {
		sent = append([]byte(nil), data...)
		return len(data), nil
	}
	payload := []byte{0x01, 0x02, 0x03}
	if err := transport.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(sent) != string(payload) {
		t.Errorf("sent %x, want %x", sent, payload)
	}
}

func TestSendPacketPartialIsFailure(t *testing.T) {
	transport, fake := newTestTransport(t)
	transport.SetClientFD(7)
	fake.SendFunc = func(fd int, data []byte) (int, error) {
		return len(data) - 1, nil
	}
	if err := transport.Send([]byte{1, 2, 3}); err == nil {
		t.Fatal("Send: expected error on partial datagram")
	}
}

func TestSendPacketFailure(t *testing.T) {
	transport, fake := newTestTransport(t)
	transport.SetClientFD(7)
	fake.SendFunc = func(fd int, data []byte) (int, error) {
		return -1, unix.EPIPE
	}
	if err := transport.Send([]byte{1}); err == nil {
		t.Fatal("Send: expected error")
	}
}

func TestSendStreamFraming(t *testing.T) {
	transport, fake := newTestTransport(t)
	if err := transport.SetMode(ModeStream); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	transport.SetClientFD(7)

	var writes [][]byte
	fake.SendFunc = func(fd int, data []byte) (int, error) {
		writes = append(writes, append([]byte(nil), data...))
		return len(data), nil
	}

	payload := []byte{0xAA, 0xBB, 0xCC}
	if err := transport.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(writes) != 3 {
		t.Fatalf("stream send produced %d writes, want 3", len(writes))
	}
	if writes[0][0] != halpkt.StreamSentinel {
		t.Errorf("sentinel write = %x", writes[0])
	}
	if got := binary.LittleEndian.Uint16(writes[1]); got != 3 {
		t.Errorf("length write = %d, want 3", got)
	}
	if string(writes[2]) != string(payload) {
		t.Errorf("payload write = %x, want %x", writes[2], payload)
	}
}

func TestSendStreamPartialPayloadRetries(t *testing.T) {
	transport, fake := newTestTransport(t)
	if err := transport.SetMode(ModeStream); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	transport.SetClientFD(7)

	var writes [][]byte
	fake.SendFunc = func(fd int, data []byte) (int, error) {
		writes = append(writes, append([]byte(nil), data...))
		// Header and length go through whole; the payload is
		// accepted two bytes at a time.
		if len(writes) <= 2 {
			return len(data), nil
		}
		if len(data) > 2 {
			return 2, nil
		}
		return len(data), nil
	}

	if err := transport.Send([]byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Sentinel, length, then payload in chunks 2+2+1.
	if len(writes) != 5 {
		t.Fatalf("stream send produced %d writes, want 5", len(writes))
	}
	if string(writes[4]) != "\x05" {
		t.Errorf("final payload chunk = %x, want 05", writes[4])
	}
}

func TestRecvPacket(t *testing.T) {
	transport, fake := newTestTransport(t)
	transport.SetClientFD(7)

	var got []byte
	transport.OnFrame(func(frame []byte) {
		got = append([]byte(nil), frame...)
	})
	fake.RecvFunc = func(fd int, buf []byte) (int, error) {
		return copy(buf, []byte{0x10, 0x20, 0x30}), nil
	}

	if err := transport.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != "\x10\x20\x30" {
		t.Errorf("frame = %x, want 102030", got)
	}
}

func TestRecvPacketClosedConnection(t *testing.T) {
	transport, fake := newTestTransport(t)
	transport.SetClientFD(7)
	transport.OnFrame(func([]byte) { t.Fatal("unexpected frame") })
	fake.RecvFunc = func(fd int, buf []byte) (int, error) {
		return 0, nil
	}
	if err := transport.Recv(); err == nil {
		t.Fatal("Recv: expected error on closed connection")
	}
}

func TestRecvStream(t *testing.T) {
	transport, fake := newTestTransport(t)
	if err := transport.SetMode(ModeStream); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	transport.SetClientFD(7)

	var frames [][]byte
	transport.OnFrame(func(frame []byte) {
		frames = append(frames, append([]byte(nil), frame...))
	})

	reader := &chunkReader{}
	fake.RecvFunc = reader.recv
	reader.push(
		[]byte{halpkt.StreamSentinel},
		[]byte{0x03, 0x00},
		[]byte{0xAA, 0xBB, 0xCC},
	)

	// One state transition per Recv: header, length, payload.
	for i := 0; i < 3; i++ {
		if err := transport.Recv(); err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
	}
	if len(frames) != 1 || string(frames[0]) != "\xaa\xbb\xcc" {
		t.Fatalf("frames = %x, want [aabbcc]", frames)
	}
	if transport.state != readHeader {
		t.Errorf("read state = %d after complete frame, want header", transport.state)
	}
}

func TestRecvStreamFragmentedPayload(t *testing.T) {
	transport, fake := newTestTransport(t)
	if err := transport.SetMode(ModeStream); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	transport.SetClientFD(7)

	var frames [][]byte
	transport.OnFrame(func(frame []byte) {
		frames = append(frames, append([]byte(nil), frame...))
	})

	reader := &chunkReader{}
	fake.RecvFunc = reader.recv
	reader.push(
		[]byte{halpkt.StreamSentinel},
		[]byte{0x04, 0x00},
		[]byte{0x01, 0x02}, // payload arrives split across two reads
		[]byte{0x03, 0x04},
	)

	for i := 0; i < 3; i++ {
		if err := transport.Recv(); err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
	}
	if len(frames) != 1 || string(frames[0]) != "\x01\x02\x03\x04" {
		t.Fatalf("frames = %x, want [01020304]", frames)
	}
}

func TestRecvStreamBadSentinelResets(t *testing.T) {
	transport, fake := newTestTransport(t)
	if err := transport.SetMode(ModeStream); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	transport.SetClientFD(7)

	var frames [][]byte
	transport.OnFrame(func(frame []byte) {
		frames = append(frames, append([]byte(nil), frame...))
	})

	reader := &chunkReader{}
	fake.RecvFunc = reader.recv
	reader.push([]byte{0x00}) // not the sentinel

	if err := transport.Recv(); err == nil {
		t.Fatal("Recv: expected sentinel mismatch error")
	}
	if transport.state != readHeader {
		t.Fatalf("read state = %d after mismatch, want header", transport.state)
	}

	// The reader recovers on the next well-formed frame.
	reader.push(
		[]byte{halpkt.StreamSentinel},
		[]byte{0x01, 0x00},
		[]byte{0x7F},
	)
	for i := 0; i < 3; i++ {
		if err := transport.Recv(); err != nil {
			t.Fatalf("Recv %d after reset: %v", i, err)
		}
	}
	if len(frames) != 1 || frames[0][0] != 0x7F {
		t.Fatalf("frames = %x, want [7f]", frames)
	}
}

func TestRecvStreamZeroLengthResets(t *testing.T) {
	transport, fake := newTestTransport(t)
	if err := transport.SetMode(ModeStream); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	transport.SetClientFD(7)
	transport.OnFrame(func([]byte) { t.Fatal("unexpected frame") })

	reader := &chunkReader{}
	fake.RecvFunc = reader.recv
	reader.push(
		[]byte{halpkt.StreamSentinel},
		[]byte{0x00, 0x00},
	)

	if err := transport.Recv(); err != nil {
		t.Fatalf("Recv header: %v", err)
	}
	if err := transport.Recv(); err == nil {
		t.Fatal("Recv: expected zero-length error")
	}
	if transport.state != readHeader {
		t.Errorf("read state = %d after zero length, want header", transport.state)
	}
}

func TestRecvStreamConnectionFailureKeepsState(t *testing.T) {
	transport, fake := newTestTransport(t)
	if err := transport.SetMode(ModeStream); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	transport.SetClientFD(7)
	transport.OnFrame(func([]byte) {})

	reader := &chunkReader{}
	fake.RecvFunc = reader.recv
	reader.push([]byte{halpkt.StreamSentinel})

	if err := transport.Recv(); err != nil {
		t.Fatalf("Recv header: %v", err)
	}
	// Connection drops mid-frame: the read fails but the state
	// machine stays where it was, unlike a framing error.
	if err := transport.Recv(); err == nil {
		t.Fatal("Recv: expected connection failure")
	}
	if transport.state != readLength {
		t.Errorf("read state = %d after connection failure, want length", transport.state)
	}
}

func TestSocketFileExists(t *testing.T) {
	transport, fake := newTestTransport(t)

	if transport.SocketFileExists() {
		t.Fatal("SocketFileExists true with ENOENT stat")
	}
	fake.StatFunc = func(path string) (uint32, error) {
		return unix.S_IFSOCK | 0664, nil
	}
	if !transport.SocketFileExists() {
		t.Fatal("SocketFileExists false for socket-type file")
	}
	fake.StatFunc = func(path string) (uint32, error) {
		return unix.S_IFREG | 0644, nil
	}
	if transport.SocketFileExists() {
		t.Fatal("SocketFileExists true for regular file")
	}
}

func TestOpenSocketFileMonitor(t *testing.T) {
	transport, fake := newTestTransport(t)

	var watchedPath string
	var watchedMask uint32
	fake.InotifyAddWatchFunc = func(fd int, path string, mask uint32) (int, error) {
		watchedPath = path
		watchedMask = mask
		return 1, nil
	}

	fd, err := transport.OpenSocketFileMonitor()
	if err != nil {
		t.Fatalf("OpenSocketFileMonitor: %v", err)
	}
	if fd == sys.InvalidFD {
		t.Fatal("monitor fd invalid")
	}
	if watchedPath != "/run/weft" {
		t.Errorf("watched path = %q, want /run/weft", watchedPath)
	}
	if watchedMask&unix.IN_DELETE == 0 {
		t.Errorf("watch mask %#x missing IN_DELETE", watchedMask)
	}

	// Idempotent while open: same descriptor, no second inotify
	// instance.
	again, err := transport.OpenSocketFileMonitor()
	if err != nil {
		t.Fatalf("second OpenSocketFileMonitor: %v", err)
	}
	if again != fd {
		t.Errorf("second open returned fd %d, want %d", again, fd)
	}
}

func TestOpenSocketFileMonitorAddWatchFailure(t *testing.T) {
	transport, fake := newTestTransport(t)
	fake.InotifyInitFunc = func() (int, error) { return 55, nil }
	fake.InotifyAddWatchFunc = func(fd int, path string, mask uint32) (int, error) {
		return -1, unix.ENOSPC
	}
	if _, err := transport.OpenSocketFileMonitor(); err == nil {
		t.Fatal("OpenSocketFileMonitor: expected error")
	}
	if fake.CloseCount(55) != 1 {
		t.Errorf("inotify fd closed %d times after watch failure, want 1", fake.CloseCount(55))
	}
	if transport.MonitorFD() != sys.InvalidFD {
		t.Error("monitor fd set after watch failure")
	}
}

func TestRelease(t *testing.T) {
	transport, fake := newTestTransport(t)
	if err := transport.OpenServer(); err != nil {
		t.Fatalf("OpenServer: %v", err)
	}
	if _, err := transport.OpenSocketFileMonitor(); err != nil {
		t.Fatalf("OpenSocketFileMonitor: %v", err)
	}
	serverFD := transport.ServerFD()
	monitorFD := transport.MonitorFD()
	transport.SetClientFD(9)

	transport.Release()

	for _, fd := range []int{serverFD, monitorFD, 9} {
		if fake.CloseCount(fd) != 1 {
			t.Errorf("fd %d closed %d times, want 1", fd, fake.CloseCount(fd))
		}
	}
	if transport.ServerFD() != sys.InvalidFD || transport.ClientFD() != sys.InvalidFD || transport.MonitorFD() != sys.InvalidFD {
		t.Error("descriptors not cleared after Release")
	}
}
