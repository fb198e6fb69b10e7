// Package policy provides the firewall policy model and the compiler that
// turns it into concrete flow entries for the SDN controller.
//
// It handles:
//   - Rule and group model shared with the policy store
//   - Resolution of group references against a group snapshot
//   - Protocol, port and address normalization
//   - Compile warnings for rules that cannot be translated
//
// # Policy Model
//
// A rule matches on:
//   - Ethernet type (dl_type, decimal or "0x0806" style)
//   - Network protocol (tcp, udp, icmp, any, or a protocol number)
//   - Source and destination transport ports ("any" or a number)
//   - Source and destination address (any, IPv4 address/prefix, or "group:<id>")
//
// And carries an action (allow, deny) plus a priority in 0-65535.
//
// # Group Expansion
//
// A group reference expands to the current members of the group. A rule
// whose source and destination both reference groups expands to the
// Cartesian product of the two member lists:
//
//	rule := policy.Rule{
//	    ID:       3,
//	    NwProto:  "tcp",
//	    TpDst:    "22",
//	    NwSrc:    "any",
//	    NwDst:    "group:linux",
//	    Action:   "allow",
//	    Priority: 100,
//	}
//
//	res := policy.Compile([]policy.Rule{rule}, policy.GroupIndex{
//	    "linux": {"10.0.0.1", "10.0.0.2"},
//	})
//	// res.Entries has two entries, one per member of linux
//
// A reference to an unknown group produces a Warning and no entries for
// that rule. Warnings never stop the compilation of other rules.
//
// # Determinism
//
// Compile performs no I/O and keeps no state. Identical rules and groups
// always produce an identical result, which is what makes a full resync of
// every switch safe to repeat.
package policy
