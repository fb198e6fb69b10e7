// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/events"
)

// Service is an external endpoint notified of discovered hosts
type Service struct {
	ID   int64  `json:"id"`
	URL  string `json:"url"`
	Name string `json:"service_name"`
}

// SubmitEvent stores a discovery event and publishes its creation
func (s *Store) SubmitEvent(ctx context.Context, ev events.Event) (int64, error) {
	if ev.Kind == "" {
		ev.Kind = events.OSDiscovered
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO discovery_events (event, os_type, arp, ipv4, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.OSType, ev.MAC, ev.IP, ev.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	ev.ID, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get event id: %w", err)
	}

	log.WithFields(log.Fields{
		"event_id": ev.ID,
		"ip":       ev.IP,
		"mac":      ev.MAC,
		"os_type":  ev.OSType,
	}).Info("Discovery event stored")

	s.publish(ctx, events.Created, ev)
	return ev.ID, nil
}

const eventColumns = `id, event, os_type, arp, ipv4, created_at`

func scanEvent(row scanner) (events.Event, error) {
	var (
		ev      events.Event
		kind    string
		created sql.NullTime
	)
	if err := row.Scan(&ev.ID, &kind, &ev.OSType, &ev.MAC, &ev.IP, &created); err != nil {
		return events.Event{}, err
	}
	ev.Kind = events.Kind(kind)
	if created.Valid {
		ev.CreatedAt = created.Time.UTC()
	}
	return ev, nil
}

// GetEvent loads a single discovery event
func (s *Store) GetEvent(ctx context.Context, id int64) (events.Event, error) {
	ev, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM discovery_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return events.Event{}, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

// ListEvents returns discovery events, newest first. A limit of zero or
// less returns all of them.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]events.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM discovery_events ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	list := []events.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		list = append(list, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return list, nil
}

// DeleteEvent removes a discovery event and publishes its deletion
func (s *Store) DeleteEvent(ctx context.Context, id int64) error {
	var ev events.Event
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		ev, err = scanEvent(tx.QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM discovery_events WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("event %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get event: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM discovery_events WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Discovery event deleted: event_id=%d ip=%s", ev.ID, ev.IP)
	s.publish(ctx, events.Deleted, ev)
	return nil
}

// SaveService registers an external service, assigning its ID
func (s *Store) SaveService(ctx context.Context, svc *Service) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO services (url, service_name) VALUES (?, ?)`, svc.URL, svc.Name)
	if err != nil {
		return fmt.Errorf("failed to insert service: %w", err)
	}
	if svc.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get service id: %w", err)
	}
	log.Debugf("Service registered: id=%d name=%s url=%s", svc.ID, svc.Name, svc.URL)
	return nil
}

// ListServices returns every registered service
func (s *Store) ListServices(ctx context.Context) ([]Service, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, service_name FROM services ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var services []Service
	for rows.Next() {
		var svc Service
		if err := rows.Scan(&svc.ID, &svc.URL, &svc.Name); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, svc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating services: %w", err)
	}
	return services, nil
}

// DeleteService unregisters a service
func (s *Store) DeleteService(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("service %d: %w", id, ErrNotFound)
	}
	return nil
}
