// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/sdn-microsegment/src/controller/pkg/flow"
)

// Any is the literal that wildcards a rule field
const Any = "any"

// GroupPrefix marks an address field as a group reference ("group:<id>")
const GroupPrefix = "group:"

// Rule represents a firewall rule as stored. Address fields may hold "any",
// a literal IPv4 address or prefix, or a group reference.
type Rule struct {
	ID       int64  `json:"id"`
	DlType   string `json:"dl_type"`
	NwProto  string `json:"nw_proto"`
	TpSrc    string `json:"tp_src"`
	TpDst    string `json:"tp_dst"`
	NwSrc    string `json:"nw_src"`
	NwDst    string `json:"nw_dst"`
	Action   string `json:"action"` // "allow", "deny"
	Priority int    `json:"priority"`
}

// Group is a named set of IP addresses usable from rules
type Group struct {
	ID      int64    `json:"group_id"`
	Name    string   `json:"group_name"`
	Members []string `json:"ips"`
}

// GroupIndex maps a group reference key to the group's current members.
// Keys are group IDs and group names.
type GroupIndex map[string][]string

// GroupRef returns the rule field value referencing the group with the given ID
func GroupRef(id int64) string {
	return fmt.Sprintf("%s%d", GroupPrefix, id)
}

// IndexGroups builds a GroupIndex addressable by both name and ID. An ID
// takes precedence over a group whose name happens to be the same number.
func IndexGroups(groups []Group) GroupIndex {
	idx := make(GroupIndex, 2*len(groups))
	for _, g := range groups {
		idx[g.Name] = g.Members
	}
	for _, g := range groups {
		idx[strconv.FormatInt(g.ID, 10)] = g.Members
	}
	return idx
}

// IsGroupRef reports whether a field value references a group
func IsGroupRef(v string) bool {
	return strings.HasPrefix(strings.TrimSpace(v), GroupPrefix)
}

// Helper functions

func isAny(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, Any)
}

// parseAddress canonicalises a literal IPv4 address or prefix. A /32 prefix
// collapses to its host address and a /0 prefix to a wildcard ("").
func parseAddress(v string) (string, error) {
	v = strings.TrimSpace(v)
	if strings.Contains(v, "/") {
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return "", err
		}
		if !p.Addr().Is4() {
			return "", fmt.Errorf("only IPv4 prefixes are supported: %s", v)
		}
		p = p.Masked()
		if p.Bits() == 0 {
			return "", nil
		}
		if p.IsSingleIP() {
			return p.Addr().String(), nil
		}
		return p.String(), nil
	}

	addr, err := netip.ParseAddr(v)
	if err != nil {
		return "", err
	}
	if !addr.Is4() {
		return "", fmt.Errorf("only IPv4 addresses are supported: %s", v)
	}
	return addr.String(), nil
}

func parseProtocol(proto string) (*uint8, error) {
	if isAny(proto) {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(proto)) {
	case "tcp":
		return flow.U8(6), nil
	case "udp":
		return flow.U8(17), nil
	case "icmp":
		return flow.U8(1), nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(proto), 10, 8)
	if err != nil {
		return nil, fmt.Errorf("unknown protocol: %s", proto)
	}
	return flow.U8(uint8(n)), nil
}

// parseEtherType accepts decimal or prefixed literals such as "0x0806"
func parseEtherType(v string) (*uint16, error) {
	if isAny(v) {
		return nil, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid ethernet type: %s", v)
	}
	return flow.U16(uint16(n)), nil
}

func parsePort(v string) (*uint16, error) {
	if isAny(v) {
		return nil, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid transport port: %s", v)
	}
	return flow.U16(uint16(n)), nil
}

// parseAction maps a stored action to a verdict. The store defaults a
// missing action to deny, so an empty value is a deny.
func parseAction(action string) (flow.Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "allow":
		return flow.Allow, nil
	case "deny", "":
		return flow.Deny, nil
	default:
		return "", fmt.Errorf("unknown action: %s", action)
	}
}

func parsePriority(p int) (uint16, error) {
	if p < 0 || p > 0xffff {
		return 0, fmt.Errorf("priority out of range: %d", p)
	}
	return uint16(p), nil
}
