// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/policy"
)

// EnsureGroup returns the ID of the named group, creating it if needed
func (s *Store) EnsureGroup(ctx context.Context, name string) (int64, error) {
	var id int64
	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT id FROM ip_groups WHERE name = ?`, name).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to look up group: %w", err)
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO ip_groups (name) VALUES (?)`, name)
		if err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get group id: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return 0, err
	}

	if created {
		log.Infof("Group created: name=%s id=%d", name, id)
		s.notifyChange()
	}
	return id, nil
}

// DeleteGroup removes a group and its memberships
func (s *Store) DeleteGroup(ctx context.Context, name string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM ip_groups WHERE name = ?`, name).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("group %s: %w", name, ErrGroupNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to look up group: %w", err)
		}

		// Members are removed explicitly so SQLite connections opened without
		// foreign key enforcement behave the same.
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete group members: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ip_groups WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete group: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Group deleted: name=%s", name)
	s.notifyChange()
	return nil
}

// ListGroups returns every group with its members in address order
func (s *Store) ListGroups(ctx context.Context) ([]policy.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, m.ip_address
		FROM ip_groups g
		LEFT JOIN group_members m ON m.group_id = g.id
		ORDER BY g.id, m.ip_address`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []policy.Group
	for rows.Next() {
		var (
			id   int64
			name string
			ip   sql.NullString
		)
		if err := rows.Scan(&id, &name, &ip); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}

		if n := len(groups); n == 0 || groups[n-1].ID != id {
			groups = append(groups, policy.Group{ID: id, Name: name, Members: []string{}})
		}
		if ip.Valid {
			g := &groups[len(groups)-1]
			g.Members = append(g.Members, ip.String)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}
	return groups, nil
}

// GroupSnapshot returns the current membership of every group, addressable
// by group name and by group ID
func (s *Store) GroupSnapshot(ctx context.Context) (policy.GroupIndex, error) {
	groups, err := s.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	return policy.IndexGroups(groups), nil
}

// AddGroupMember inserts ip into the named group. It reports whether the
// membership was created; an existing membership is left untouched.
func (s *Store) AddGroupMember(ctx context.Context, group, ip string) (bool, error) {
	var added bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := groupID(ctx, tx, group)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			s.dialect.insertIgnore+` INTO group_members (group_id, ip_address) VALUES (?, ?)`, id, ip)
		if err != nil {
			return fmt.Errorf("failed to add group member: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		added = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}

	if added {
		s.notifyChange()
	}
	return added, nil
}

// RemoveGroupMember deletes ip from the named group. It reports whether a
// membership was removed.
func (s *Store) RemoveGroupMember(ctx context.Context, group, ip string) (bool, error) {
	var removed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := groupID(ctx, tx, group)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM group_members WHERE group_id = ? AND ip_address = ?`, id, ip)
		if err != nil {
			return fmt.Errorf("failed to remove group member: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		removed = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.notifyChange()
	}
	return removed, nil
}

func groupID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM ip_groups WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("group %s: %w", name, ErrGroupNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up group: %w", err)
	}
	return id, nil
}
