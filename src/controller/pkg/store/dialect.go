// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package store

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Supported database drivers
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// revisionTables are the tables whose mutations advance the policy revision
var revisionTables = []string{"firewall_rules", "ip_groups", "group_members"}

// dialect captures the SQL differences between SQLite and MariaDB/MySQL
type dialect struct {
	driver       string
	insertIgnore string
	tables       []string
	seedRevision string
	trigger      func(table, op string) string
}

func (d dialect) schema() []string {
	stmts := append([]string{}, d.tables...)
	stmts = append(stmts, d.seedRevision)
	for _, table := range revisionTables {
		for _, op := range []string{"INSERT", "UPDATE", "DELETE"} {
			stmts = append(stmts, d.trigger(table, op))
		}
	}
	return stmts
}

func triggerName(table, op string) string {
	return fmt.Sprintf("%s_revision_%s", table, strings.ToLower(op))
}

var sqliteDialect = dialect{
	driver:       DriverSQLite,
	insertIgnore: "INSERT OR IGNORE",
	tables: []string{
		`CREATE TABLE IF NOT EXISTS firewall_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dl_type VARCHAR(64),
			nw_proto VARCHAR(64),
			tp_src VARCHAR(64),
			tp_dst VARCHAR(64),
			nw_src VARCHAR(64),
			nw_dst VARCHAR(64),
			action VARCHAR(64) NOT NULL DEFAULT 'deny',
			priority INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_priority ON firewall_rules(priority)`,
		`CREATE TABLE IF NOT EXISTS ip_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name VARCHAR(64) NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id INTEGER NOT NULL REFERENCES ip_groups(id) ON DELETE CASCADE,
			ip_address VARCHAR(64) NOT NULL,
			UNIQUE (group_id, ip_address)
		)`,
		`CREATE TABLE IF NOT EXISTS discovery_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event VARCHAR(50) NOT NULL,
			os_type VARCHAR(255) NOT NULL,
			arp VARCHAR(30) NOT NULL,
			ipv4 VARCHAR(15) NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS services (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url VARCHAR(255) NOT NULL,
			service_name VARCHAR(100) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS revision (
			id INTEGER PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
	},
	seedRevision: `INSERT OR IGNORE INTO revision (id, value) VALUES (1, 0)`,
	trigger: func(table, op string) string {
		return fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER %s ON %s
			BEGIN UPDATE revision SET value = value + 1 WHERE id = 1; END`,
			triggerName(table, op), op, table)
	},
}

// mysqlDialect targets MariaDB, which accepts CREATE TRIGGER IF NOT EXISTS.
// "groups" is reserved in MySQL 8, hence the ip_ prefix on both dialects.
var mysqlDialect = dialect{
	driver:       DriverMySQL,
	insertIgnore: "INSERT IGNORE",
	tables: []string{
		`CREATE TABLE IF NOT EXISTS firewall_rules (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			dl_type VARCHAR(64),
			nw_proto VARCHAR(64),
			tp_src VARCHAR(64),
			tp_dst VARCHAR(64),
			nw_src VARCHAR(64),
			nw_dst VARCHAR(64),
			action VARCHAR(64) NOT NULL DEFAULT 'deny',
			priority INT NOT NULL DEFAULT 0,
			INDEX idx_rules_priority (priority)
		)`,
		`CREATE TABLE IF NOT EXISTS ip_groups (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(64) NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			group_id BIGINT NOT NULL,
			ip_address VARCHAR(64) NOT NULL,
			UNIQUE KEY uniq_group_member (group_id, ip_address),
			FOREIGN KEY (group_id) REFERENCES ip_groups(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS discovery_events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			event VARCHAR(50) NOT NULL,
			os_type VARCHAR(255) NOT NULL,
			arp VARCHAR(30) NOT NULL,
			ipv4 VARCHAR(15) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS services (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			url VARCHAR(255) NOT NULL,
			service_name VARCHAR(100) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS revision (
			id INT PRIMARY KEY,
			value BIGINT NOT NULL
		)`,
	},
	seedRevision: `INSERT IGNORE INTO revision (id, value) VALUES (1, 0)`,
	trigger: func(table, op string) string {
		return fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER %s ON %s
			FOR EACH ROW UPDATE revision SET value = value + 1 WHERE id = 1`,
			triggerName(table, op), op, table)
	},
}

func dialectFor(driver string) (dialect, error) {
	name, err := NormalizeDriver(driver)
	if err != nil {
		return dialect{}, err
	}
	if name == DriverMySQL {
		return mysqlDialect, nil
	}
	return sqliteDialect, nil
}

// NormalizeDriver maps a configured driver name, including the aliases
// "sqlite" and "mariadb", to DriverSQLite or DriverMySQL. Empty selects
// SQLite.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "sqlite", "":
		return DriverSQLite, nil
	case DriverMySQL, "mariadb":
		return DriverMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// sqliteDSN adds the connection options the store relies on unless the
// caller already chose their own.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"
}

// sqlitePath extracts the database file path from a DSN
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	return path
}

// mysqlDSN enables parseTime so DATETIME columns scan into time.Time
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
