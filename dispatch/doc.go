// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch bridges an out-of-process Thread co-processor
// client to the Bluetooth controller stack over a single Unix-domain
// socket.
//
// Two tightly coupled pieces live here:
//
//   - [Transport] owns the listening socket, the accepted client
//     socket, and an inotify watch on the socket's directory. It
//     frames and unframes raw client bytes according to the
//     configured [Mode]: seqpacket mode maps one message to one
//     datagram, stream mode runs an explicit header/length/payload
//     read state machine over the byte stream.
//
//   - [Daemon] owns the background worker goroutine and the glue
//     between the transport and the encapsulated HAL packet format
//     (lib/halpkt). The worker blocks in a multiplexed wait over the
//     stop pipe, the inotify descriptor, the listening socket, and
//     the connected client, and services whichever becomes ready.
//
// The daemon supports exactly one connected client at a time; a
// second connection attempt is accepted at the OS level and
// immediately closed. Deleting the socket file out from under the
// daemon tears the server down and reopens it. A downlink frame
// matching the hardware-reset sentinel terminates the hosting process
// by design: the supervisor restarts the whole HAL after a
// controller-driven reset.
//
// Exactly two goroutines touch a daemon: the owner's (Start, Stop,
// SendUplink) and the worker's. The client descriptor is the only
// state shared between them and is guarded by a mutex held for the
// duration of each uplink send and each accept/cleanup.
package dispatch
