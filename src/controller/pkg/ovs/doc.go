// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package ovs drives local Open vSwitch bridges as controller switches.
//
// The Driver polls ovs-vsctl for bridges. Each bridge becomes a Bridge
// connection: flows are programmed with ovs-ofctl add-flow and packets are
// injected with ovs-ofctl packet-out. When capture is enabled, ARP frames
// arriving on each bridge port are read from an AF_PACKET socket and
// delivered as packet-ins carrying the port's ofport number.
package ovs
