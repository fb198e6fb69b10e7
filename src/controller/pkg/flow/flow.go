// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package flow

import (
	"fmt"
	"strings"
)

// EtherTypeARP is the Ethernet type of ARP frames
const EtherTypeARP uint16 = 0x0806

// EtherTypeIPv4 is the Ethernet type of IPv4 frames
const EtherTypeIPv4 uint16 = 0x0800

// ARPPriority is the priority of the static ARP-to-controller flow
const ARPPriority uint16 = 10000

// Port identifies a switch port. Values at and above PortMax are reserved
// pseudo-ports with OpenFlow 1.0 numbering.
type Port uint32

const (
	PortMax        Port = 0xff00
	PortInPort     Port = 0xfff8
	PortNormal     Port = 0xfffa
	PortFlood      Port = 0xfffb
	PortAll        Port = 0xfffc
	PortController Port = 0xfffd
	PortLocal      Port = 0xfffe
	PortNone       Port = 0xffff
)

// IsReserved reports whether p is a pseudo-port rather than a physical port
func (p Port) IsReserved() bool {
	return p >= PortMax
}

func (p Port) String() string {
	switch p {
	case PortInPort:
		return "in_port"
	case PortNormal:
		return "normal"
	case PortFlood:
		return "flood"
	case PortAll:
		return "all"
	case PortController:
		return "controller"
	case PortLocal:
		return "local"
	case PortNone:
		return "none"
	default:
		return fmt.Sprintf("%d", uint32(p))
	}
}

// Verdict is the action a compiled firewall entry applies
type Verdict string

const (
	Allow Verdict = "allow"
	Deny  Verdict = "deny"
)

// Match is the set of header fields a flow entry tests. A nil numeric field
// or an empty address is a wildcard.
type Match struct {
	DlType  *uint16 `json:"dl_type,omitempty"`
	NwProto *uint8  `json:"nw_proto,omitempty"`
	TpSrc   *uint16 `json:"tp_src,omitempty"`
	TpDst   *uint16 `json:"tp_dst,omitempty"`
	NwSrc   string  `json:"nw_src,omitempty"`
	NwDst   string  `json:"nw_dst,omitempty"`
}

// U16 returns a pointer to v, for building matches
func U16(v uint16) *uint16 { return &v }

// U8 returns a pointer to v, for building matches
func U8(v uint8) *uint8 { return &v }

// String renders the match in ovs-ofctl style, "any" when fully wildcarded
func (m Match) String() string {
	var parts []string
	if m.DlType != nil {
		parts = append(parts, fmt.Sprintf("dl_type=0x%04x", *m.DlType))
	}
	if m.NwProto != nil {
		parts = append(parts, fmt.Sprintf("nw_proto=%d", *m.NwProto))
	}
	if m.NwSrc != "" {
		parts = append(parts, "nw_src="+m.NwSrc)
	}
	if m.NwDst != "" {
		parts = append(parts, "nw_dst="+m.NwDst)
	}
	if m.TpSrc != nil {
		parts = append(parts, fmt.Sprintf("tp_src=%d", *m.TpSrc))
	}
	if m.TpDst != nil {
		parts = append(parts, fmt.Sprintf("tp_dst=%d", *m.TpDst))
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, ",")
}

// Entry is a concrete, group-resolved firewall flow entry
type Entry struct {
	RuleID   int64   `json:"rule_id"`
	Match    Match   `json:"match"`
	Verdict  Verdict `json:"action"`
	Priority uint16  `json:"priority"`
}

// Key identifies the switch-side slot the entry occupies. Two entries with
// the same key overwrite each other on install.
func (e Entry) Key() string {
	return fmt.Sprintf("%d/%s", e.Priority, e.Match)
}

func (e Entry) String() string {
	return fmt.Sprintf("priority=%d %s actions=%s", e.Priority, e.Match, e.Verdict)
}

// Mod converts the entry to a flow-mod. Allowed traffic takes the normal
// forwarding path, denied traffic gets no outputs and is dropped.
func (e Entry) Mod() Mod {
	m := Mod{Match: e.Match, Priority: e.Priority}
	if e.Verdict == Allow {
		m.Outputs = []Port{PortNormal}
	}
	return m
}

// Mod is an add-or-replace flow table modification
type Mod struct {
	Match    Match
	Priority uint16
	Outputs  []Port
}

// Key identifies the flow table slot, as Entry.Key does
func (m Mod) Key() string {
	return fmt.Sprintf("%d/%s", m.Priority, m.Match)
}

// Drops reports whether the flow drops matching packets
func (m Mod) Drops() bool {
	return len(m.Outputs) == 0
}

func (m Mod) String() string {
	actions := "drop"
	if !m.Drops() {
		outs := make([]string, 0, len(m.Outputs))
		for _, p := range m.Outputs {
			outs = append(outs, "output:"+p.String())
		}
		actions = strings.Join(outs, ",")
	}
	return fmt.Sprintf("priority=%d %s actions=%s", m.Priority, m.Match, actions)
}

// ARPToController is the static flow that sends every ARP frame to the
// controller so hosts can be discovered.
func ARPToController() Mod {
	return Mod{
		Match:    Match{DlType: U16(EtherTypeARP)},
		Priority: ARPPriority,
		Outputs:  []Port{PortController},
	}
}
