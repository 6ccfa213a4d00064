// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package sys

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Fake is a scripted Syscalls implementation for tests. Every method
// has a hook field; a nil hook falls back to a permissive default:
//
//   - Socket, Accept, InotifyInit, and Pipe hand out descriptors from
//     a private counter starting at 100.
//   - Bind, Listen, Chmod, Chown, Unlink, and Kill succeed.
//   - Send and Write report the full buffer as written.
//   - Recv reports 0 bytes (peer closed), Read reports 1 byte.
//   - Stat reports ENOENT.
//   - Select blocks until the test calls Ready (or the hook is set).
//
// Writing to the write end of a Pipe-created pipe automatically queues
// a Ready event for the paired read end, so a daemon's self-pipe wakes
// its blocked Select exactly as it would against the kernel.
//
// Fake records closed descriptors and delivered signals for
// assertions. It is safe for concurrent use.
type Fake struct {
	SocketFunc          func(domain, typ, protocol int) (int, error)
	BindFunc            func(fd int, path string) error
	ListenFunc          func(fd, backlog int) error
	AcceptFunc          func(fd int) (int, error)
	SendFunc            func(fd int, data []byte) (int, error)
	RecvFunc            func(fd int, buf []byte) (int, error)
	ReadFunc            func(fd int, buf []byte) (int, error)
	WriteFunc           func(fd int, data []byte) (int, error)
	SelectFunc          func(read []int) ([]int, error)
	CloseFunc           func(fd int) error
	UnlinkFunc          func(path string) error
	StatFunc            func(path string) (uint32, error)
	ChmodFunc           func(path string, mode uint32) error
	ChownFunc           func(path string, uid, gid int) error
	InotifyInitFunc     func() (int, error)
	InotifyAddWatchFunc func(fd int, path string, mask uint32) (int, error)
	PipeFunc            func() (int, int, error)
	KillFunc            func(pid, signal int) error
	GetpidFunc          func() int

	mu       sync.Mutex
	nextFD   int
	closed   map[int]int // fd → close count
	pipeRead map[int]int // pipe write fd → paired read fd
	unlinked []string
	kills    []KillCall

	selectCh chan selectScript
}

// KillCall records one Kill invocation.
type KillCall struct {
	PID    int
	Signal int
}

type selectScript struct {
	ready []int
	err   error
}

var _ Syscalls = (*Fake)(nil)

// NewFake returns a Fake with default behavior and an empty Select
// script queue.
func NewFake() *Fake {
	return &Fake{
		nextFD:   100,
		closed:   make(map[int]int),
		pipeRead: make(map[int]int),
		selectCh: make(chan selectScript, 64),
	}
}

// Ready queues one Select wakeup reporting the given descriptors as
// readable. Each call satisfies exactly one pending (or future)
// Select.
func (f *Fake) Ready(fds ...int) {
	f.selectCh <- selectScript{ready: fds}
}

// FailSelect queues one Select wakeup that returns err.
func (f *Fake) FailSelect(err error) {
	f.selectCh <- selectScript{err: err}
}

// CloseCount returns how many times fd has been closed.
func (f *Fake) CloseCount(fd int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[fd]
}

// Unlinked returns the paths passed to Unlink, in order.
func (f *Fake) Unlinked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unlinked...)
}

// Kills returns the recorded Kill calls, in order.
func (f *Fake) Kills() []KillCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]KillCall(nil), f.kills...)
}

func (f *Fake) allocFD() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd := f.nextFD
	f.nextFD++
	return fd
}

func (f *Fake) Socket(domain, typ, protocol int) (int, error) {
	if f.SocketFunc != nil {
		return f.SocketFunc(domain, typ, protocol)
	}
	return f.allocFD(), nil
}

func (f *Fake) Bind(fd int, path string) error {
	if f.BindFunc != nil {
		return f.BindFunc(fd, path)
	}
	return nil
}

func (f *Fake) Listen(fd, backlog int) error {
	if f.ListenFunc != nil {
		return f.ListenFunc(fd, backlog)
	}
	return nil
}

func (f *Fake) Accept(fd int) (int, error) {
	if f.AcceptFunc != nil {
		return f.AcceptFunc(fd)
	}
	return f.allocFD(), nil
}

func (f *Fake) Send(fd int, data []byte) (int, error) {
	if f.SendFunc != nil {
		return f.SendFunc(fd, data)
	}
	return len(data), nil
}

func (f *Fake) Recv(fd int, buf []byte) (int, error) {
	if f.RecvFunc != nil {
		return f.RecvFunc(fd, buf)
	}
	return 0, nil
}

func (f *Fake) Read(fd int, buf []byte) (int, error) {
	if f.ReadFunc != nil {
		return f.ReadFunc(fd, buf)
	}
	if len(buf) == 0 {
		return 0, nil
	}
	buf[0] = 0
	return 1, nil
}

func (f *Fake) Write(fd int, data []byte) (int, error) {
	if f.WriteFunc != nil {
		return f.WriteFunc(fd, data)
	}
	f.mu.Lock()
	pairedRead, isPipe := f.pipeRead[fd]
	f.mu.Unlock()
	if isPipe {
		f.Ready(pairedRead)
	}
	return len(data), nil
}

func (f *Fake) Select(read []int) ([]int, error) {
	if f.SelectFunc != nil {
		return f.SelectFunc(read)
	}
	script := <-f.selectCh
	return script.ready, script.err
}

func (f *Fake) Close(fd int) error {
	f.mu.Lock()
	f.closed[fd]++
	f.mu.Unlock()
	if f.CloseFunc != nil {
		return f.CloseFunc(fd)
	}
	return nil
}

func (f *Fake) Unlink(path string) error {
	f.mu.Lock()
	f.unlinked = append(f.unlinked, path)
	f.mu.Unlock()
	if f.UnlinkFunc != nil {
		return f.UnlinkFunc(path)
	}
	return nil
}

func (f *Fake) Stat(path string) (uint32, error) {
	if f.StatFunc != nil {
		return f.StatFunc(path)
	}
	return 0, unix.ENOENT
}

func (f *Fake) Chmod(path string, mode uint32) error {
	if f.ChmodFunc != nil {
		return f.ChmodFunc(path, mode)
	}
	return nil
}

func (f *Fake) Chown(path string, uid, gid int) error {
	if f.ChownFunc != nil {
		return f.ChownFunc(path, uid, gid)
	}
	return nil
}

func (f *Fake) InotifyInit() (int, error) {
	if f.InotifyInitFunc != nil {
		return f.InotifyInitFunc()
	}
	return f.allocFD(), nil
}

func (f *Fake) InotifyAddWatch(fd int, path string, mask uint32) (int, error) {
	if f.InotifyAddWatchFunc != nil {
		return f.InotifyAddWatchFunc(fd, path, mask)
	}
	return 1, nil
}

func (f *Fake) Pipe() (int, int, error) {
	if f.PipeFunc != nil {
		return f.PipeFunc()
	}
	readFD := f.allocFD()
	writeFD := f.allocFD()
	f.mu.Lock()
	f.pipeRead[writeFD] = readFD
	f.mu.Unlock()
	return readFD, writeFD, nil
}

func (f *Fake) Kill(pid, signal int) error {
	f.mu.Lock()
	f.kills = append(f.kills, KillCall{PID: pid, Signal: signal})
	f.mu.Unlock()
	if f.KillFunc != nil {
		return f.KillFunc(pid, signal)
	}
	return nil
}

func (f *Fake) Getpid() int {
	if f.GetpidFunc != nil {
		return f.GetpidFunc()
	}
	return 4242
}
