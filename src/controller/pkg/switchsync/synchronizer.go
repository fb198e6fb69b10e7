// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package switchsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/flow"
	"github.com/sdn-microsegment/src/controller/pkg/policy"
	"github.com/sdn-microsegment/src/controller/pkg/switchport"
)

// SwitchInfo describes a connected switch
type SwitchInfo struct {
	ID          string    `json:"switch_id"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSync    time.Time `json:"last_sync"`
	Installed   int       `json:"installed"`
	Failed      int       `json:"failed"`
}

// Stats are cumulative synchronizer counters
type Stats struct {
	Syncs       uint64    `json:"syncs"`
	SyncErrors  uint64    `json:"sync_errors"`
	Installed   uint64    `json:"installed"`
	Failed      uint64    `json:"failed"`
	LastSync    time.Time `json:"last_sync"`
	LastEntries int       `json:"last_entries"`
}

type switchState struct {
	conn switchport.Conn
	info SwitchInfo
}

// Synchronizer keeps the compiled policy installed on every connected
// switch. Compiling and installing is one critical section, so overlapping
// resyncs never interleave their pushes.
type Synchronizer struct {
	source policy.Source

	// mu serializes compile+install cycles and guards everything below
	mu       sync.Mutex
	switches map[string]*switchState
	compiled policy.Result
	stats    Stats
}

var _ switchport.Handler = (*Synchronizer)(nil)

// New creates a synchronizer compiling from source
func New(source policy.Source) *Synchronizer {
	return &Synchronizer{
		source:   source,
		switches: make(map[string]*switchState),
	}
}

// ConnectionUp registers the switch and installs the ARP-to-controller flow
// followed by the current compiled policy
func (s *Synchronizer) ConnectionUp(ctx context.Context, conn switchport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &switchState{
		conn: conn,
		info: SwitchInfo{ID: conn.ID(), ConnectedAt: time.Now()},
	}
	s.switches[conn.ID()] = st
	log.WithField("switch", conn.ID()).Info("Switch connected")

	res, err := s.compileLocked(ctx)
	if err != nil {
		// The ARP flow does not depend on policy
		log.WithField("switch", conn.ID()).Warnf("Installing without policy: %v", err)
	}
	s.installLocked(ctx, st, res.Entries)
}

// ConnectionDown forgets the switch. No flows are removed; the switch
// resets its own state on disconnect.
func (s *Synchronizer) ConnectionDown(_ context.Context, switchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.switches[switchID]; !ok {
		return
	}
	delete(s.switches, switchID)
	log.WithField("switch", switchID).Info("Switch disconnected")
}

// PacketIn is ignored; packets belong to the discovery snooper
func (s *Synchronizer) PacketIn(context.Context, switchport.Conn, *switchport.PacketIn) {}

// Resync recompiles the latest policy and reinstalls the entire set on
// every connected switch. Entries no longer produced by the policy are not
// removed from the switches.
func (s *Synchronizer) Resync(ctx context.Context) (policy.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.compileLocked(ctx)
	if err != nil {
		return policy.Result{}, err
	}

	ids := s.switchIDsLocked()
	for _, id := range ids {
		s.installLocked(ctx, s.switches[id], res.Entries)
	}
	log.Infof("Resynced %d switches: %s", len(ids), res.Summary())
	return res, nil
}

// Compiled returns the result of the last successful compilation
func (s *Synchronizer) Compiled() policy.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compiled
}

// Switches returns the connected switches ordered by ID
func (s *Synchronizer) Switches() []SwitchInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SwitchInfo, 0, len(s.switches))
	for _, id := range s.switchIDsLocked() {
		out = append(out, s.switches[id].info)
	}
	return out
}

// Stats returns a snapshot of the counters
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Synchronizer) compileLocked(ctx context.Context) (policy.Result, error) {
	res, err := policy.Snapshot(ctx, s.source)
	if err != nil {
		s.stats.SyncErrors++
		return policy.Result{}, err
	}
	for _, w := range res.Warnings {
		log.WithField("rule_id", w.RuleID).Warnf("Compile warning: %v", w)
	}
	s.compiled = res
	s.stats.LastEntries = len(res.Entries)
	return res, nil
}

// installLocked pushes the ARP flow and entries to one switch. A failed
// flow is logged and counted; the rest are still attempted.
func (s *Synchronizer) installLocked(ctx context.Context, st *switchState, entries []flow.Entry) {
	mods := make([]flow.Mod, 0, len(entries)+1)
	mods = append(mods, flow.ARPToController())
	for _, e := range entries {
		mods = append(mods, e.Mod())
	}

	installed, failed := 0, 0
	for _, mod := range mods {
		if err := st.conn.InstallFlow(ctx, mod); err != nil {
			failed++
			var te *switchport.TransportError
			if !errors.As(err, &te) {
				err = &switchport.TransportError{Switch: st.conn.ID(), Op: "install_flow", Err: err}
			}
			log.WithField("switch", st.conn.ID()).Warnf("Flow not installed (%s): %v", mod, err)
			continue
		}
		installed++
	}

	now := time.Now()
	st.info.LastSync = now
	st.info.Installed = installed
	st.info.Failed = failed
	s.stats.Syncs++
	s.stats.Installed += uint64(installed)
	s.stats.Failed += uint64(failed)
	s.stats.LastSync = now

	log.WithField("switch", st.conn.ID()).Infof("Installed %d flows (%d failed)", installed, failed)
}

func (s *Synchronizer) switchIDsLocked() []string {
	ids := make([]string, 0, len(s.switches))
	for id := range s.switches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
