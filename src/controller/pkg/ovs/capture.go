// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ovs

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/sdn-microsegment/src/controller/pkg/flow"
	"github.com/sdn-microsegment/src/controller/pkg/switchport"
)

const captureSnapLen = 2048

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// capture reads ARP frames arriving on one bridge port through an
// AF_PACKET socket and reports them as packet-ins from that port
type capture struct {
	iface  string
	ofport flow.Port
	fd     int
	stop   atomic.Bool
	wg     sync.WaitGroup
}

func openCapture(iface string, ofport flow.Port, deliver func(*switchport.PacketIn)) (*capture, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %s: %w", iface, err)
	}

	proto := htons(unix.ETH_P_ARP)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("failed to open packet socket: %w", err)
	}

	sa := &unix.SockaddrLinklayer{Protocol: proto, Ifindex: link.Attrs().Index}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind packet socket to %s: %w", iface, err)
	}

	// Reads wake up periodically so Close can stop the loop
	tv := unix.Timeval{Usec: 200000}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set receive timeout: %w", err)
	}

	c := &capture{iface: iface, ofport: ofport, fd: fd}
	c.wg.Add(1)
	go c.loop(deliver)
	return c, nil
}

func (c *capture) loop(deliver func(*switchport.PacketIn)) {
	defer c.wg.Done()

	buf := make([]byte, captureSnapLen)
	for !c.stop.Load() {
		n, from, err := unix.Recvfrom(c.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if !c.stop.Load() {
				log.Warnf("Capture on %s stopped: %v", c.iface, err)
			}
			return
		}

		// Frames the controller injected itself leave through the port
		if ll, ok := from.(*unix.SockaddrLinklayer); ok && ll.Pkttype == unix.PACKET_OUTGOING {
			continue
		}

		deliver(&switchport.PacketIn{
			InPort: c.ofport,
			Data:   append([]byte(nil), buf[:n]...),
		})
	}
}

// Close stops the read loop and closes the socket
func (c *capture) Close() {
	if c.stop.Swap(true) {
		return
	}
	c.wg.Wait()
	unix.Close(c.fd)
}
