// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package switchport

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ARP is the Ethernet/IPv4 payload of an ARP frame
type ARP struct {
	Op        uint16
	SenderMAC net.HardwareAddr
	SenderIP  netip.Addr
	TargetMAC net.HardwareAddr
	TargetIP  netip.Addr
}

// IPv4 is the network header of an IPv4 frame
type IPv4 struct {
	Src      netip.Addr
	Dst      netip.Addr
	Protocol layers.IPProtocol
}

// Frame is a decoded L2 frame. ARP and IPv4 are set according to the
// (innermost) ethertype.
type Frame struct {
	EtherType layers.EthernetType
	Src       net.HardwareAddr
	Dst       net.HardwareAddr
	ARP       *ARP
	IPv4      *IPv4
}

// IsARPRequest reports whether f is an ARP request
func (f *Frame) IsARPRequest() bool {
	return f.ARP != nil && f.ARP.Op == layers.ARPRequest
}

// IsARPReply reports whether f is an ARP reply
func (f *Frame) IsARPReply() bool {
	return f.ARP != nil && f.ARP.Op == layers.ARPReply
}

// IsICMP reports whether f carries ICMPv4
func (f *Frame) IsICMP() bool {
	return f.IPv4 != nil && f.IPv4.Protocol == layers.IPProtocolICMPv4
}

// ParseFrame decodes an Ethernet frame
func ParseFrame(data []byte) (*Frame, error) {
	var (
		eth  layers.Ethernet
		dot  layers.Dot1Q
		arp  layers.ARP
		ip4  layers.IPv4
		icmp layers.ICMPv4
	)

	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &dot, &arp, &ip4, &icmp)
	parser.IgnoreUnsupported = true

	decoded := make([]gopacket.LayerType, 0, 4)
	if err := parser.DecodeLayers(data, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("%w: no ethernet header", ErrMalformedFrame)
	}

	f := &Frame{
		EtherType: eth.EthernetType,
		Src:       append(net.HardwareAddr(nil), eth.SrcMAC...),
		Dst:       append(net.HardwareAddr(nil), eth.DstMAC...),
	}

	for _, lt := range decoded {
		switch lt {
		case layers.LayerTypeDot1Q:
			f.EtherType = dot.Type
		case layers.LayerTypeARP:
			a, err := arpPayload(&arp)
			if err != nil {
				return nil, err
			}
			f.ARP = a
		case layers.LayerTypeIPv4:
			src, _ := netip.AddrFromSlice(ip4.SrcIP.To4())
			dst, _ := netip.AddrFromSlice(ip4.DstIP.To4())
			f.IPv4 = &IPv4{Src: src, Dst: dst, Protocol: ip4.Protocol}
		}
	}

	if f.EtherType == layers.EthernetTypeARP && f.ARP == nil {
		return nil, fmt.Errorf("%w: truncated arp payload", ErrMalformedFrame)
	}
	return f, nil
}

func arpPayload(arp *layers.ARP) (*ARP, error) {
	if arp.AddrType != layers.LinkTypeEthernet || arp.Protocol != layers.EthernetTypeIPv4 ||
		arp.HwAddressSize != 6 || arp.ProtAddressSize != 4 {
		return nil, fmt.Errorf("%w: arp is not ethernet/ipv4", ErrMalformedFrame)
	}

	sender, _ := netip.AddrFromSlice(arp.SourceProtAddress)
	target, _ := netip.AddrFromSlice(arp.DstProtAddress)
	return &ARP{
		Op:        arp.Operation,
		SenderMAC: append(net.HardwareAddr(nil), arp.SourceHwAddress...),
		SenderIP:  sender,
		TargetMAC: append(net.HardwareAddr(nil), arp.DstHwAddress...),
		TargetIP:  target,
	}, nil
}
