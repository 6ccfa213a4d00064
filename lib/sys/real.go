// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package sys

import (
	"os"

	"golang.org/x/sys/unix"
)

// Real implements Syscalls directly over golang.org/x/sys/unix. The
// zero value is ready to use.
type Real struct{}

var _ Syscalls = Real{}

func (Real) Socket(domain, typ, protocol int) (int, error) {
	return unix.Socket(domain, typ|unix.SOCK_CLOEXEC, protocol)
}

func (Real) Bind(fd int, path string) error {
	return unix.Bind(fd, &unix.SockaddrUnix{Name: path})
}

func (Real) Listen(fd, backlog int) error {
	return unix.Listen(fd, backlog)
}

func (Real) Accept(fd int) (int, error) {
	for {
		connected, _, err := unix.Accept4(fd, unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		return connected, err
	}
}

// Send uses write(2): on a connected socket it is equivalent to
// send(2) with no flags, and on a seqpacket socket a single write is
// one datagram.
func (Real) Send(fd int, data []byte) (int, error) {
	for {
		n, err := unix.Write(fd, data)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func (Real) Recv(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func (r Real) Read(fd int, buf []byte) (int, error) {
	return r.Recv(fd, buf)
}

func (r Real) Write(fd int, data []byte) (int, error) {
	return r.Send(fd, data)
}

// Select builds the fd set, blocks in select(2) with no timeout, and
// translates the readable set back to a slice. EINTR restarts the
// wait.
func (Real) Select(read []int) ([]int, error) {
	var set unix.FdSet
	nfds := 0
	for _, fd := range read {
		set.Set(fd)
		if fd+1 > nfds {
			nfds = fd + 1
		}
	}

	for {
		// select(2) mutates the set in place; work on a copy so the
		// EINTR retry starts from the full set.
		readable := set
		n, err := unix.Select(nfds, &readable, nil, nil, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}

		ready := make([]int, 0, n)
		for _, fd := range read {
			if readable.IsSet(fd) {
				ready = append(ready, fd)
			}
		}
		return ready, nil
	}
}

func (Real) Close(fd int) error {
	return unix.Close(fd)
}

func (Real) Unlink(path string) error {
	return unix.Unlink(path)
}

func (Real) Stat(path string) (uint32, error) {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return 0, err
	}
	return stat.Mode, nil
}

func (Real) Chmod(path string, mode uint32) error {
	return unix.Chmod(path, mode)
}

func (Real) Chown(path string, uid, gid int) error {
	return unix.Chown(path, uid, gid)
}

func (Real) InotifyInit() (int, error) {
	return unix.InotifyInit1(unix.IN_CLOEXEC)
}

func (Real) InotifyAddWatch(fd int, path string, mask uint32) (int, error) {
	return unix.InotifyAddWatch(fd, path, mask)
}

func (Real) Pipe() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return InvalidFD, InvalidFD, err
	}
	return fds[0], fds[1], nil
}

func (Real) Kill(pid, signal int) error {
	return unix.Kill(pid, unix.Signal(signal))
}

func (Real) Getpid() int {
	return os.Getpid()
}
