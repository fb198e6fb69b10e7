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

const ruleColumns = `id,
	COALESCE(dl_type, 'any'), COALESCE(nw_proto, 'any'),
	COALESCE(tp_src, 'any'), COALESCE(tp_dst, 'any'),
	COALESCE(nw_src, 'any'), COALESCE(nw_dst, 'any'),
	action, priority`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (policy.Rule, error) {
	var r policy.Rule
	err := row.Scan(
		&r.ID,
		&r.DlType,
		&r.NwProto,
		&r.TpSrc,
		&r.TpDst,
		&r.NwSrc,
		&r.NwDst,
		&r.Action,
		&r.Priority,
	)
	return r, err
}

// ListRules loads all rules ordered by priority, highest first
func (s *Store) ListRules(ctx context.Context) ([]policy.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM firewall_rules ORDER BY priority DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []policy.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	log.Debugf("Loaded %d rules from storage", len(rules))
	return rules, nil
}

// GetRule loads a single rule
func (s *Store) GetRule(ctx context.Context, id int64) (policy.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM firewall_rules WHERE id = ?`

	r, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Rule{}, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return policy.Rule{}, fmt.Errorf("failed to get rule: %w", err)
	}
	return r, nil
}

// SaveRule inserts r, or replaces the stored rule with the same ID. A zero
// ID inserts and assigns one.
func (s *Store) SaveRule(ctx context.Context, r *policy.Rule) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if r.ID != 0 {
			res, err := tx.ExecContext(ctx, `
				UPDATE firewall_rules
				SET dl_type = ?, nw_proto = ?, tp_src = ?, tp_dst = ?, nw_src = ?, nw_dst = ?, action = ?, priority = ?
				WHERE id = ?`,
				r.DlType, r.NwProto, r.TpSrc, r.TpDst, r.NwSrc, r.NwDst, r.Action, r.Priority, r.ID)
			if err != nil {
				return fmt.Errorf("failed to update rule: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				return nil
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO firewall_rules (id, dl_type, nw_proto, tp_src, tp_dst, nw_src, nw_dst, action, priority)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, r.DlType, r.NwProto, r.TpSrc, r.TpDst, r.NwSrc, r.NwDst, r.Action, r.Priority)
			if err != nil {
				return fmt.Errorf("failed to insert rule: %w", err)
			}
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO firewall_rules (dl_type, nw_proto, tp_src, tp_dst, nw_src, nw_dst, action, priority)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.DlType, r.NwProto, r.TpSrc, r.TpDst, r.NwSrc, r.NwDst, r.Action, r.Priority)
		if err != nil {
			return fmt.Errorf("failed to insert rule: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get rule id: %w", err)
		}
		r.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	log.Debugf("Rule saved to storage: rule_id=%d", r.ID)
	s.notifyChange()
	return nil
}

// DeleteRule removes a rule
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM firewall_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}

	log.Debugf("Rule deleted from storage: rule_id=%d", id)
	s.notifyChange()
	return nil
}

// hasRule reports whether a rule with exactly these field values exists
func (s *Store) hasRule(ctx context.Context, r policy.Rule) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM firewall_rules
		WHERE dl_type = ? AND nw_proto = ? AND tp_src = ? AND tp_dst = ?
		  AND nw_src = ? AND nw_dst = ? AND action = ? AND priority = ?`,
		r.DlType, r.NwProto, r.TpSrc, r.TpDst, r.NwSrc, r.NwDst, r.Action, r.Priority).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up rule: %w", err)
	}
	return n > 0, nil
}
