// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package sys is the raw-syscall capability seam for the dispatch
// daemon. The daemon and its socket transport never call the kernel
// directly; every socket, inotify, pipe, and signal operation goes
// through the [Syscalls] interface so that tests can substitute a
// scripted [Fake] and drive the event loop deterministically.
//
// [Real] is the production implementation over golang.org/x/sys/unix.
// It owns the fd-set plumbing for Select so callers work with plain
// fd slices instead of unix.FdSet bit manipulation.
//
// The real/fake split follows the same shape as a fake clock: the
// interface is the contract, Real is a thin translation layer with no
// logic worth testing, and Fake carries the scripting hooks.
package sys
