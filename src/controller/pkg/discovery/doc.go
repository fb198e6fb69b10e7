// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package discovery implements the discovery snooper.
//
// Every switch sends ARP frames to the controller. For an ARP request the
// snooper learns (switch, sender MAC) -> ingress port and sender MAC ->
// sender IP, reports the host once per (ip, mac) pair, and floods the
// request. ARP replies are learned and forwarded to the requester's port.
// ICMP frames are forwarded to the destination MAC's learned port, or
// flooded when it is unknown.
//
// Reported pairs are kept in a bounded LRU set for the lifetime of the
// process. A controller restart reports every host again.
package discovery
