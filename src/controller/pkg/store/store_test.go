// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdn-microsegment/src/controller/pkg/events"
	"github.com/sdn-microsegment/src/controller/pkg/policy"
)

func newTestStore(t *testing.T, bus *events.Bus) *Store {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "policy.db"), bus)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func drain(s *Store) {
	select {
	case <-s.Changes():
	default:
	}
}

// TestSQLiteStorage_NewAndClose tests creating and closing storage
func TestSQLiteStorage_NewAndClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "open.db")

	s, err := NewSQLiteStorage(dbPath, nil)
	require.NoError(t, err)
	assert.Equal(t, dbPath, s.Path())
	assert.NoError(t, s.Close())

	// Schema creation is repeatable
	s, err = NewSQLiteStorage(dbPath, nil)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

// TestOpen_UnsupportedDriver tests driver validation
func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres", DSN: "x"}, nil)
	assert.Error(t, err)
}

// TestNormalizeDriver tests driver names and aliases
func TestNormalizeDriver(t *testing.T) {
	for in, want := range map[string]string{
		"":        DriverSQLite,
		"sqlite":  DriverSQLite,
		"sqlite3": DriverSQLite,
		"mariadb": DriverMySQL,
		"MySQL":   DriverMySQL,
	} {
		got, err := NormalizeDriver(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizeDriver("postgres")
	assert.Error(t, err)
}

// TestOpen_ReadOnly tests that a read-only open never creates a database
func TestOpen_ReadOnly(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "missing.db")

	_, err := Open(Config{Driver: "sqlite", DSN: dbPath, ReadOnly: true}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, statErr := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(statErr), "no file is created")

	rw, err := NewSQLiteStorage(dbPath, nil)
	require.NoError(t, err)
	r := policy.Rule{DlType: "0x0806", Action: "allow", Priority: 10}
	require.NoError(t, rw.SaveRule(context.Background(), &r))
	require.NoError(t, rw.Close())

	ro, err := Open(Config{Driver: DriverSQLite, DSN: dbPath, ReadOnly: true}, nil)
	require.NoError(t, err)
	defer ro.Close()
	rules, err := ro.ListRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

// TestSQLiteStorage_SaveAndListRules tests saving and ordering rules
func TestSQLiteStorage_SaveAndListRules(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	low := &policy.Rule{NwProto: "udp", TpDst: "53", Action: "allow", Priority: 10}
	high := &policy.Rule{NwProto: "tcp", TpDst: "22", NwDst: "10.0.0.1", Action: "allow", Priority: 100}
	require.NoError(t, s.SaveRule(ctx, low))
	require.NoError(t, s.SaveRule(ctx, high))
	assert.NotZero(t, low.ID)
	assert.NotEqual(t, low.ID, high.ID)

	rules, err := s.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, high.ID, rules[0].ID)
	assert.Equal(t, low.ID, rules[1].ID)
	assert.Equal(t, "10.0.0.1", rules[0].NwDst)
}

// TestSQLiteStorage_NullFieldsReadAsAny tests that unset columns load as "any"
func TestSQLiteStorage_NullFieldsReadAsAny(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.db.Exec(`INSERT INTO firewall_rules (action, priority) VALUES ('deny', 0)`)
	require.NoError(t, err)

	rules, err := s.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	r := rules[0]
	for _, v := range []string{r.DlType, r.NwProto, r.TpSrc, r.TpDst, r.NwSrc, r.NwDst} {
		assert.Equal(t, policy.Any, v)
	}
}

// TestSQLiteStorage_UpdateRule tests replacing an existing rule
func TestSQLiteStorage_UpdateRule(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	r := &policy.Rule{NwProto: "tcp", TpDst: "80", Action: "allow", Priority: 50}
	require.NoError(t, s.SaveRule(ctx, r))

	r.Action = "deny"
	require.NoError(t, s.SaveRule(ctx, r))

	got, err := s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "deny", got.Action)

	rules, err := s.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

// TestSQLiteStorage_DeleteRule tests deleting rules
func TestSQLiteStorage_DeleteRule(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	r := &policy.Rule{Action: "deny"}
	require.NoError(t, s.SaveRule(ctx, r))
	require.NoError(t, s.DeleteRule(ctx, r.ID))

	assert.ErrorIs(t, s.DeleteRule(ctx, r.ID), ErrNotFound)
	_, err := s.GetRule(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestSQLiteStorage_GroupMembership tests idempotent add and remove
func TestSQLiteStorage_GroupMembership(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	id, err := s.EnsureGroup(ctx, LinuxGroup)
	require.NoError(t, err)
	again, err := s.EnsureGroup(ctx, LinuxGroup)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	added, err := s.AddGroupMember(ctx, LinuxGroup, "10.0.0.9")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddGroupMember(ctx, LinuxGroup, "10.0.0.9")
	require.NoError(t, err)
	assert.False(t, added)

	var rows int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM group_members WHERE group_id = ? AND ip_address = ?`, id, "10.0.0.9").Scan(&rows))
	assert.Equal(t, 1, rows)

	removed, err := s.RemoveGroupMember(ctx, LinuxGroup, "10.0.0.9")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveGroupMember(ctx, LinuxGroup, "10.0.0.9")
	require.NoError(t, err)
	assert.False(t, removed)
}

// TestSQLiteStorage_UnknownGroup tests membership changes on a missing group
func TestSQLiteStorage_UnknownGroup(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.AddGroupMember(ctx, "missing_group", "10.0.0.1")
	assert.ErrorIs(t, err, ErrGroupNotFound)

	_, err = s.RemoveGroupMember(ctx, "missing_group", "10.0.0.1")
	assert.ErrorIs(t, err, ErrGroupNotFound)

	assert.ErrorIs(t, s.DeleteGroup(ctx, "missing_group"), ErrGroupNotFound)
}

// TestSQLiteStorage_GroupSnapshot tests the name and ID keyed snapshot
func TestSQLiteStorage_GroupSnapshot(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	linux, err := s.EnsureGroup(ctx, LinuxGroup)
	require.NoError(t, err)
	_, err = s.EnsureGroup(ctx, WindowsGroup)
	require.NoError(t, err)

	for _, ip := range []string{"10.0.0.2", "10.0.0.1"} {
		_, err := s.AddGroupMember(ctx, LinuxGroup, ip)
		require.NoError(t, err)
	}

	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, groups[0].Members)
	assert.Empty(t, groups[1].Members)
	assert.NotNil(t, groups[1].Members)

	idx, err := s.GroupSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, idx[LinuxGroup], idx[strconv.FormatInt(linux, 10)])
	assert.Len(t, idx[LinuxGroup], 2)
}

// TestSQLiteStorage_DeleteGroup tests that deleting a group drops its members
func TestSQLiteStorage_DeleteGroup(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.EnsureGroup(ctx, WindowsGroup)
	require.NoError(t, err)
	_, err = s.AddGroupMember(ctx, WindowsGroup, "10.0.0.5")
	require.NoError(t, err)

	require.NoError(t, s.DeleteGroup(ctx, WindowsGroup))

	var rows int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM group_members`).Scan(&rows))
	assert.Zero(t, rows)
}

// TestSQLiteStorage_Revision tests that policy mutations advance the revision
func TestSQLiteStorage_Revision(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	start, err := s.Revision(ctx)
	require.NoError(t, err)

	_, err = s.EnsureGroup(ctx, LinuxGroup)
	require.NoError(t, err)
	afterGroup, err := s.Revision(ctx)
	require.NoError(t, err)
	assert.Greater(t, afterGroup, start)

	_, err = s.AddGroupMember(ctx, LinuxGroup, "10.0.0.10")
	require.NoError(t, err)
	afterMember, err := s.Revision(ctx)
	require.NoError(t, err)
	assert.Greater(t, afterMember, afterGroup)

	// Discovery events are not policy
	_, err = s.SubmitEvent(ctx, events.Event{OSType: "Linux", MAC: "aa:bb:cc:dd:ee:ff", IP: "10.0.0.10"})
	require.NoError(t, err)
	afterEvent, err := s.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, afterMember, afterEvent)
}

// TestSQLiteStorage_ExternalWriterAdvancesRevision tests writes from another connection
func TestSQLiteStorage_ExternalWriterAdvancesRevision(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	before, err := s.Revision(ctx)
	require.NoError(t, err)

	other, err := sql.Open(DriverSQLite, sqliteDSN(s.Path()))
	require.NoError(t, err)
	defer other.Close()
	_, err = other.Exec(`INSERT INTO firewall_rules (action, priority) VALUES ('allow', 5)`)
	require.NoError(t, err)

	after, err := s.Revision(ctx)
	require.NoError(t, err)
	assert.Greater(t, after, before)
}

// TestSQLiteStorage_Changes tests the in-process change signal
func TestSQLiteStorage_Changes(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.SaveRule(ctx, &policy.Rule{Action: "deny"}))
	require.NoError(t, s.SaveRule(ctx, &policy.Rule{Action: "allow", Priority: 1}))

	// Signals coalesce
	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-s.Changes():
		t.Fatal("signals should coalesce")
	default:
	}

	_, err := s.EnsureGroup(ctx, LinuxGroup)
	require.NoError(t, err)
	drain(s)

	// No-op membership changes do not signal
	_, err = s.AddGroupMember(ctx, LinuxGroup, "10.0.0.1")
	require.NoError(t, err)
	drain(s)
	_, err = s.AddGroupMember(ctx, LinuxGroup, "10.0.0.1")
	require.NoError(t, err)
	select {
	case <-s.Changes():
		t.Fatal("unexpected signal for existing member")
	default:
	}
}

// TestSQLiteStorage_EventLifecycle tests event submission, deletion and publication
func TestSQLiteStorage_EventLifecycle(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(2)
	s := newTestStore(t, bus)
	ctx := context.Background()

	id, err := s.SubmitEvent(ctx, events.Event{
		Kind:   events.OSDiscovered,
		OSType: "Windows",
		MAC:    "00:11:22:33:44:55",
		IP:     "10.0.0.7",
	})
	require.NoError(t, err)

	msg := <-sub
	assert.Equal(t, events.Created, msg.Type)
	assert.Equal(t, id, msg.Event.ID)
	assert.Equal(t, "10.0.0.7", msg.Event.IP)

	ev, err := s.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Windows", ev.OSType)
	assert.Equal(t, "00:11:22:33:44:55", ev.MAC)
	assert.WithinDuration(t, time.Now(), ev.CreatedAt, time.Minute)

	list, err := s.ListEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteEvent(ctx, id))
	msg = <-sub
	assert.Equal(t, events.Deleted, msg.Type)
	assert.Equal(t, "10.0.0.7", msg.Event.IP)
	assert.Equal(t, "Windows", msg.Event.OSType)

	assert.ErrorIs(t, s.DeleteEvent(ctx, id), ErrNotFound)
}

// TestSQLiteStorage_ListEventsLimit tests newest-first ordering with a limit
func TestSQLiteStorage_ListEventsLimit(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	var last int64
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		id, err := s.SubmitEvent(ctx, events.Event{OSType: "Linux", MAC: "aa:aa:aa:aa:aa:aa", IP: ip})
		require.NoError(t, err)
		last = id
	}

	list, err := s.ListEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, last, list[0].ID)
}

// TestSQLiteStorage_Services tests service registration
func TestSQLiteStorage_Services(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	svc := &Service{URL: "http://127.0.0.1:9000/hook", Name: "inventory"}
	require.NoError(t, s.SaveService(ctx, svc))
	assert.NotZero(t, svc.ID)

	services, err := s.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, *svc, services[0])

	require.NoError(t, s.DeleteService(ctx, svc.ID))
	assert.ErrorIs(t, s.DeleteService(ctx, svc.ID), ErrNotFound)
}

// TestSQLiteStorage_SeedDefaults tests baseline groups and rules
func TestSQLiteStorage_SeedDefaults(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.SeedDefaults(ctx))
	require.NoError(t, s.SeedDefaults(ctx))

	rules, err := s.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 4)
	assert.Equal(t, 1000, rules[0].Priority)
	assert.Equal(t, 0, rules[3].Priority)
	assert.Equal(t, "deny", rules[3].Action)

	groups, err := s.GroupSnapshot(ctx)
	require.NoError(t, err)
	assert.Contains(t, groups, WindowsGroup)
	assert.Contains(t, groups, LinuxGroup)

	res := policy.Compile(rules, groups)
	assert.Empty(t, res.Warnings)
	// Empty managed groups expand to nothing
	assert.Len(t, res.Entries, 2)
}

// TestMySQLStorage tests the MariaDB dialect against a live server
func TestMySQLStorage(t *testing.T) {
	dsn := os.Getenv("SDN_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("SDN_TEST_MYSQL_DSN not set")
	}

	s, err := Open(Config{Driver: DriverMySQL, DSN: dsn}, nil)
	if err != nil {
		t.Skipf("MariaDB not reachable: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	_, err = s.EnsureGroup(ctx, "mysql_test_group")
	require.NoError(t, err)
	defer s.DeleteGroup(ctx, "mysql_test_group")

	added, err := s.AddGroupMember(ctx, "mysql_test_group", "192.0.2.1")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddGroupMember(ctx, "mysql_test_group", "192.0.2.1")
	require.NoError(t, err)
	assert.False(t, added)
}

// TestMySQLDSN tests that parseTime is enabled
func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN("user:pass@tcp(127.0.0.1:3306)/sdn")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")

	_, err = mysqlDSN("not a dsn")
	assert.Error(t, err)
}

// TestSQLiteDSN tests connection option handling
func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "/tmp/a.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", sqliteDSN("/tmp/a.db"))
	assert.Equal(t, "file:a.db?mode=memory", sqliteDSN("file:a.db?mode=memory"))
	assert.Equal(t, "a.db", sqlitePath("file:a.db?mode=memory"))
}
