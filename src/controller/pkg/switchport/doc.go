// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package switchport abstracts the channel between the controller and its
// switches.
//
// A transport (see package ovs) reports connects, disconnects and
// packet-ins to a Dispatcher, which gives every switch its own goroutine.
// Handlers therefore see the callbacks of one switch serially and need no
// locking for per-switch state, while different switches run in parallel.
//
// Conn is the outbound half: InstallFlow adds or replaces a flow keyed by
// match and priority, SendPacket emits a frame out of a physical or reserved
// port. Failures are reported as *TransportError.
//
// ParseFrame decodes the L2 frames the discovery snooper consumes: Ethernet
// (optionally 802.1Q tagged) carrying ARP or IPv4.
package switchport
