// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package switchsync implements the switch synchronizer.
//
// When a switch connects it receives the static ARP-to-controller flow and
// every entry of a fresh compilation. On each policy change, Resync
// recompiles and reinstalls the whole set on every connected switch. There
// is no diffing: installs rely on the switch replacing a flow with the same
// match and priority.
//
// Flows for rules or group members that disappear from the policy are not
// retracted. They stay on a switch until its flow table is cleared.
package switchsync
