// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// inotifyReportsDeletion walks a buffer of raw inotify events and
// reports whether any of them carries IN_DELETE. Event layout (all
// fields native-endian):
//
//	offset 0:  wd      (int32)
//	offset 4:  mask    (uint32)
//	offset 8:  cookie  (uint32)
//	offset 12: len     (uint32, size of the trailing name field)
//	offset 16: name    (len bytes, NUL-padded)
//
// Truncated trailing bytes are ignored.
func inotifyReportsDeletion(buf []byte) bool {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buf) {
		mask := binary.NativeEndian.Uint32(buf[offset+4:])
		if mask&unix.IN_DELETE != 0 {
			return true
		}
		nameLen := int(binary.NativeEndian.Uint32(buf[offset+12:]))
		offset += unix.SizeofInotifyEvent + nameLen
	}
	return false
}
