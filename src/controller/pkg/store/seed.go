// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package store

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/policy"
)

// Managed group names populated from discovery
const (
	WindowsGroup = "windows_group"
	LinuxGroup   = "linux_group"
)

// SeedDefaults creates the managed groups and the baseline rule set. Rules
// that already exist with identical fields are not inserted again.
func (s *Store) SeedDefaults(ctx context.Context) error {
	windowsID, err := s.EnsureGroup(ctx, WindowsGroup)
	if err != nil {
		return fmt.Errorf("failed to seed %s: %w", WindowsGroup, err)
	}
	linuxID, err := s.EnsureGroup(ctx, LinuxGroup)
	if err != nil {
		return fmt.Errorf("failed to seed %s: %w", LinuxGroup, err)
	}

	for _, r := range DefaultRules(windowsID, linuxID) {
		exists, err := s.hasRule(ctx, r)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := s.SaveRule(ctx, &r); err != nil {
			return fmt.Errorf("failed to seed rule: %w", err)
		}
		log.Infof("Seeded rule %d: %s %s -> %s priority=%d", r.ID, r.Action, r.NwProto, r.NwDst, r.Priority)
	}
	return nil
}

// DefaultRules is the baseline policy: ARP is always allowed, SSH reaches
// Linux hosts, RDP reaches Windows hosts and everything else is dropped.
func DefaultRules(windowsID, linuxID int64) []policy.Rule {
	w := policy.Any
	return []policy.Rule{
		{DlType: "0x0806", NwProto: w, TpSrc: w, TpDst: w, NwSrc: w, NwDst: w, Action: "allow", Priority: 1000},
		{DlType: "0x0800", NwProto: "tcp", TpSrc: w, TpDst: "22", NwSrc: w, NwDst: policy.GroupRef(linuxID), Action: "allow", Priority: 100},
		{DlType: "0x0800", NwProto: "tcp", TpSrc: w, TpDst: "3389", NwSrc: w, NwDst: policy.GroupRef(windowsID), Action: "allow", Priority: 100},
		{DlType: w, NwProto: w, TpSrc: w, TpDst: w, NwSrc: w, NwDst: w, Action: "deny", Priority: 0},
	}
}
