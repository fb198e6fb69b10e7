// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package controller

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdn-microsegment/src/controller/pkg/config"
	"github.com/sdn-microsegment/src/controller/pkg/flow"
	"github.com/sdn-microsegment/src/controller/pkg/testutil"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Store.DSN = filepath.Join(t.TempDir(), "controller.db")
	cfg.API.Enabled = false
	cfg.Watcher.PollInterval = 50 * time.Millisecond
	return cfg
}

// TestController_StartStop tests the component lifecycle
func TestController_StartStop(t *testing.T) {
	c, err := New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, c.Start())

	rules, err := c.Store().ListRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 4, "defaults are seeded")

	conn := testutil.NewFakeConn("s1")
	c.Dispatcher().ConnectionUp(conn)
	require.Eventually(t, func() bool {
		return len(conn.Table()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, flow.ARPToController(), conn.Installs()[0])
	assert.Contains(t, conn.Table(), flow.ARPToController().Key())

	c.Stop()
	c.Stop()
	assert.Empty(t, c.Dispatcher().Switches())
	assert.Empty(t, c.Synchronizer().Switches())
}

// TestController_SeedDoesNotResync tests that seeding before Start does
// not reinstall flows on switches that are already connected
func TestController_SeedDoesNotResync(t *testing.T) {
	c, err := New(testConfig(t))
	require.NoError(t, err)
	defer c.Stop()

	conn := testutil.NewFakeConn("s1")
	c.Dispatcher().ConnectionUp(conn)
	require.Eventually(t, func() bool {
		return len(conn.Installs()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Start())

	// Several poll intervals pass with no policy change
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, conn.Installs(), 3)
	assert.Len(t, conn.Table(), 3)
	assert.Zero(t, c.Watcher().Stats().Resyncs)
	assert.Zero(t, c.Watcher().Stats().Signals)
}

// TestController_NoSeed tests starting against an empty store
func TestController_NoSeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.SeedDefaults = false

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Stop()

	rules, err := c.Store().ListRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

// TestController_InvalidStore tests that a bad store aborts construction
func TestController_InvalidStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "postgres"

	_, err := New(cfg)
	assert.Error(t, err)
}
