// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package testutil

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// BroadcastMAC is the Ethernet broadcast address
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// MustMAC parses a MAC address or panics
func MustMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return mac
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func arpFrame(op uint16, srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP string) []byte {
	ethDst := dstMAC
	arpDst := dstMAC
	if op == layers.ARPRequest {
		ethDst = BroadcastMAC
		arpDst = net.HardwareAddr{0, 0, 0, 0, 0, 0}
	}

	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       ethDst,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: net.ParseIP(srcIP).To4(),
		DstHwAddress:      arpDst,
		DstProtAddress:    net.ParseIP(dstIP).To4(),
	}
	return serialize(eth, arp)
}

// ARPRequest builds a broadcast "who-has targetIP tell srcIP" frame
func ARPRequest(srcMAC, srcIP, targetIP string) []byte {
	return arpFrame(layers.ARPRequest, MustMAC(srcMAC), nil, srcIP, targetIP)
}

// ARPReply builds a unicast "srcIP is-at srcMAC" frame addressed to dstMAC
func ARPReply(srcMAC, srcIP, dstMAC, dstIP string) []byte {
	return arpFrame(layers.ARPReply, MustMAC(srcMAC), MustMAC(dstMAC), srcIP, dstIP)
}

// ICMPEcho builds an ICMP echo request frame
func ICMPEcho(srcMAC, dstMAC, srcIP, dstIP string) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       MustMAC(srcMAC),
		DstMAC:       MustMAC(dstMAC),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       1,
		Seq:      1,
	}
	return serialize(eth, ip, icmp, gopacket.Payload([]byte("ping")))
}

// TCPSyn builds a TCP SYN frame
func TCPSyn(srcMAC, dstMAC, srcIP, dstIP string, dstPort uint16) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       MustMAC(srcMAC),
		DstMAC:       MustMAC(dstMAC),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	tcp := &layers.TCP{
		SrcPort: 40000,
		DstPort: layers.TCPPort(dstPort),
		SYN:     true,
		Window:  1024,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return serialize(eth, ip, tcp)
}
