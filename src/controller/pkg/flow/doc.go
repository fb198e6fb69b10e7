// Package flow defines the switch-level vocabulary shared by the policy
// compiler, the switch synchronizer and the switch backends.
//
// An Entry is what the compiler produces from a firewall rule once every
// group reference has been resolved. A Mod is what a switch backend installs:
// a match, a priority and a list of output ports. Converting an Entry to a
// Mod maps allow to the normal forwarding pipeline and deny to an empty
// action list, which drops matching packets.
//
// Match fields follow OpenFlow 1.0 naming (dl_type, nw_proto, nw_src,
// nw_dst, tp_src, tp_dst). A nil pointer or empty address is a wildcard.
package flow
