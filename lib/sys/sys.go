// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package sys

// InvalidFD is the value used for file-descriptor fields that do not
// currently hold an open descriptor.
const InvalidFD = -1

// Syscalls is the kernel capability surface consumed by the dispatch
// daemon. Descriptor arguments and results are plain ints, as handed
// out by the kernel; ownership and lifetime are the caller's concern.
//
// All implementations must be safe for use from two goroutines: the
// daemon's worker calls most of these, while the caller's goroutine
// reaches Send/Write/Close during uplink and shutdown.
type Syscalls interface {
	// Socket creates an unbound socket. domain/typ/protocol take the
	// unix.AF_*, unix.SOCK_*, and protocol constants.
	Socket(domain, typ, protocol int) (int, error)

	// Bind binds fd to a Unix-domain socket file at path.
	Bind(fd int, path string) error

	// Listen marks fd as a listening socket with the given backlog.
	Listen(fd, backlog int) error

	// Accept accepts one pending connection on the listening fd and
	// returns the connected descriptor.
	Accept(fd int) (int, error)

	// Send writes data to a connected socket and returns the byte
	// count. A seqpacket socket sends the buffer as one datagram.
	Send(fd int, data []byte) (int, error)

	// Recv reads from a connected socket into buf and returns the
	// byte count. Zero means the peer closed the connection.
	Recv(fd int, buf []byte) (int, error)

	// Read reads from an arbitrary descriptor (pipe, inotify).
	Read(fd int, buf []byte) (int, error)

	// Write writes to an arbitrary descriptor (pipe).
	Write(fd int, data []byte) (int, error)

	// Select blocks until at least one of the given descriptors is
	// ready for reading, and returns the ready subset. There is no
	// timeout; the caller unblocks a pending Select by making one of
	// the descriptors readable (the self-pipe pattern).
	Select(read []int) ([]int, error)

	// Close closes a descriptor.
	Close(fd int) error

	// Unlink removes a filesystem path.
	Unlink(path string) error

	// Stat returns the st_mode of the file at path.
	Stat(path string) (mode uint32, err error)

	// Chmod changes the permission bits of the file at path.
	Chmod(path string, mode uint32) error

	// Chown changes ownership of the file at path. Pass -1 to leave
	// the uid or gid unchanged.
	Chown(path string, uid, gid int) error

	// InotifyInit creates an inotify instance.
	InotifyInit() (int, error)

	// InotifyAddWatch adds a watch for the given event mask on path
	// and returns the watch descriptor.
	InotifyAddWatch(fd int, path string, mask uint32) (int, error)

	// Pipe creates a non-blocking pipe and returns the read and
	// write descriptors.
	Pipe() (readFD, writeFD int, err error)

	// Kill delivers a signal to a process.
	Kill(pid, signal int) error

	// Getpid returns the calling process's pid.
	Getpid() int
}
