// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package membership adds and removes IP addresses in named groups. Both
// operations are idempotent so tasks delivered more than once converge.
package membership

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/store"
)

// Store is the group membership surface of the policy store. Both methods
// report whether the stored state changed.
type Store interface {
	AddGroupMember(ctx context.Context, group, ip string) (bool, error)
	RemoveGroupMember(ctx context.Context, group, ip string) (bool, error)
}

// Manager serializes membership changes through a single writer
type Manager struct {
	mu    sync.Mutex
	store Store
}

// NewManager creates a manager backed by s
func NewManager(s Store) *Manager {
	return &Manager{store: s}
}

// Add makes ip a member of group. It is a no-op when ip already is one or
// when the group does not exist.
func (m *Manager) Add(ctx context.Context, group, ip string) error {
	addr, err := normalize(ip)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	added, err := m.store.AddGroupMember(ctx, group, addr)
	if errors.Is(err, store.ErrGroupNotFound) {
		log.Warnf("Ignoring membership add: group %s does not exist", group)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to add %s to %s: %w", addr, group, err)
	}

	entry := log.WithFields(log.Fields{"group": group, "ip": addr})
	if added {
		entry.Info("Added group member")
	} else {
		entry.Debug("Already a group member")
	}
	return nil
}

// Remove drops ip from group. It is a no-op when ip is not a member or when
// the group does not exist.
func (m *Manager) Remove(ctx context.Context, group, ip string) error {
	addr, err := normalize(ip)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed, err := m.store.RemoveGroupMember(ctx, group, addr)
	if errors.Is(err, store.ErrGroupNotFound) {
		log.Warnf("Ignoring membership remove: group %s does not exist", group)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove %s from %s: %w", addr, group, err)
	}

	entry := log.WithFields(log.Fields{"group": group, "ip": addr})
	if removed {
		entry.Info("Removed group member")
	} else {
		entry.Debug("Not a group member")
	}
	return nil
}

func normalize(ip string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return "", fmt.Errorf("invalid member address: %q", ip)
	}
	return addr.String(), nil
}
