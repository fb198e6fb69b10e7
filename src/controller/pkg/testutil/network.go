// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package testutil provides utilities for testing the controller. It
// includes an in-memory switch connection, L2 frame builders, a static
// policy source and veth pairs for capture tests.
package testutil

import (
	"fmt"
	"os"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// VethPair is a pair of connected virtual ethernet interfaces in the
// current network namespace. Frames written to one end arrive on the other.
type VethPair struct {
	Local string
	Peer  string
}

// NewVethPair creates and brings up a veth pair
//
// The topology:
//
//	local  <-------->  peer
func NewVethPair(local, peer string) (*VethPair, error) {
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{
			Name: local,
		},
		PeerName: peer,
	}

	if err := netlink.LinkAdd(veth); err != nil {
		return nil, fmt.Errorf("failed to create veth pair: %w", err)
	}

	vp := &VethPair{Local: local, Peer: peer}
	for _, name := range []string{local, peer} {
		link, err := netlink.LinkByName(name)
		if err != nil {
			vp.Cleanup()
			return nil, fmt.Errorf("failed to get veth %s: %w", name, err)
		}
		if err := netlink.LinkSetUp(link); err != nil {
			vp.Cleanup()
			return nil, fmt.Errorf("failed to bring up veth %s: %w", name, err)
		}
	}
	return vp, nil
}

// Cleanup deletes the pair. Deleting one end removes both.
func (vp *VethPair) Cleanup() {
	if link, err := netlink.LinkByName(vp.Local); err == nil {
		_ = netlink.LinkDel(link)
	}
}

// IsRoot checks if the current process has root privileges.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// HasCapability checks if the process has a specific capability.
func HasCapability(cap int) bool {
	var header unix.CapUserHeader
	var data [2]unix.CapUserData

	header.Version = unix.LINUX_CAPABILITY_VERSION_3
	header.Pid = 0 // Current process

	if err := unix.Capget(&header, &data[0]); err != nil {
		return false
	}

	// Check if capability is in effective set
	capMask := uint32(1 << uint(cap%32))
	return (data[cap/32].Effective & capMask) != 0
}

// CheckCaptureRequirements checks if the environment supports creating
// interfaces and opening packet sockets. Returns an error message if
// requirements are not met, empty string otherwise.
func CheckCaptureRequirements() string {
	if IsRoot() {
		return ""
	}
	if !HasCapability(unix.CAP_NET_ADMIN) {
		return "capture tests require root privileges or CAP_NET_ADMIN capability"
	}
	if !HasCapability(unix.CAP_NET_RAW) {
		return "capture tests require CAP_NET_RAW capability"
	}
	return ""
}
