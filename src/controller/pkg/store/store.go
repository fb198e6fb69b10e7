// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/events"
	"github.com/sdn-microsegment/src/controller/pkg/policy"
)

var (
	// ErrNotFound is returned when a rule, event or service does not exist
	ErrNotFound = errors.New("not found")

	// ErrGroupNotFound is returned when a named group does not exist
	ErrGroupNotFound = errors.New("group not found")
)

// Config selects the database backing the store
type Config struct {
	// Driver is "sqlite3" (default, alias "sqlite") or "mysql" (alias "mariadb")
	Driver string `yaml:"driver"`

	// DSN is a file path for sqlite3 or a go-sql-driver DSN for mysql
	DSN string `yaml:"dsn"`

	// SeedDefaults creates the managed groups and default rules on start
	SeedDefaults bool `yaml:"seed_defaults"`

	// ReadOnly opens an existing database without creating a file or
	// touching the schema
	ReadOnly bool `yaml:"-"`
}

// Store is the policy store: firewall rules, IP groups, discovery events and
// registered services, plus the change signals the controller reacts to.
type Store struct {
	db      *sql.DB
	dialect dialect
	path    string
	bus     *events.Bus
	changes chan struct{}
}

// Ensure Store satisfies the interfaces its consumers declare
var (
	_ policy.Source = (*Store)(nil)
	_ events.Sink   = (*Store)(nil)
)

// Open connects to the configured database and initializes the schema.
// Committed event transitions are published on bus when it is not nil.
func Open(cfg Config, bus *events.Bus) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	var path string
	switch d.driver {
	case DriverSQLite:
		path = sqlitePath(dsn)
		if cfg.ReadOnly {
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("database %s: %w", path, ErrNotFound)
			}
		}
		dsn = sqliteDSN(dsn)
	case DriverMySQL:
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection serializes every
	// transaction instead of surfacing SQLITE_BUSY.
	if d.driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:      db,
		dialect: d,
		path:    path,
		bus:     bus,
		changes: make(chan struct{}, 1),
	}

	if cfg.ReadOnly {
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	} else if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Infof("Policy store initialized: driver=%s", d.driver)
	return s, nil
}

// NewSQLiteStorage opens a SQLite-backed store at dbPath
func NewSQLiteStorage(dbPath string, bus *events.Bus) (*Store, error) {
	return Open(Config{Driver: DriverSQLite, DSN: dbPath}, bus)
}

// initSchema creates tables and revision triggers if they don't exist
func (s *Store) initSchema() error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path is the SQLite database file, empty for other drivers
func (s *Store) Path() string {
	return s.path
}

// Changes fires after a rule, group or membership mutation made through
// this store commits. Signals coalesce while nobody is receiving.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Revision returns the policy revision counter. It advances on every
// committed mutation of rules, groups or memberships, including writes made
// by other processes sharing the database.
func (s *Store) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM revision WHERE id = 1`).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("failed to read revision: %w", err)
	}
	return rev, nil
}

func (s *Store) notifyChange() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Store) publish(ctx context.Context, typ events.MessageType, ev events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, events.Message{Type: typ, Event: ev}); err != nil {
		log.Warnf("Failed to publish %s for event %d: %v", typ, ev.ID, err)
	}
}

// withTx runs fn inside a transaction, committing when it returns nil
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
