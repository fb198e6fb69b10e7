// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Integration tests for the API over a real SQLite store, switch
// synchronizer and discovery snooper with an in-memory switch.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdn-microsegment/src/controller/pkg/api/models"
	"github.com/sdn-microsegment/src/controller/pkg/discovery"
	"github.com/sdn-microsegment/src/controller/pkg/events"
	"github.com/sdn-microsegment/src/controller/pkg/flow"
	"github.com/sdn-microsegment/src/controller/pkg/store"
	"github.com/sdn-microsegment/src/controller/pkg/switchport"
	"github.com/sdn-microsegment/src/controller/pkg/switchsync"
	"github.com/sdn-microsegment/src/controller/pkg/testutil"
)

// Test environment for API integration tests
type MinimalTestEnv struct {
	Router  *gin.Engine
	Store   *store.Store
	Sync    *switchsync.Synchronizer
	Snooper *discovery.Snooper
	Switch  *testutil.FakeConn
}

// NewMinimalTestEnv creates a seeded store with one connected switch
func NewMinimalTestEnv(t *testing.T) *MinimalTestEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStorage(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.SeedDefaults(ctx))

	snooper, err := discovery.NewSnooper(discovery.Config{SeenHosts: 64}, st, discovery.StaticClassifier("Windows"))
	require.NoError(t, err)

	sync := switchsync.New(st)
	conn := testutil.NewFakeConn("s1")
	sync.ConnectionUp(ctx, conn)

	cfg := DefaultConfig()
	server, err := NewAPIServer(cfg, Deps{Controller: sync, Store: st, Hosts: snooper})
	require.NoError(t, err)

	return &MinimalTestEnv{
		Router:  server.GetRouter(),
		Store:   st,
		Sync:    sync,
		Snooper: snooper,
		Switch:  conn,
	}
}

// TestNewAPIServer_MissingDeps tests required dependencies
func TestNewAPIServer_MissingDeps(t *testing.T) {
	_, err := NewAPIServer(nil, Deps{})
	assert.Error(t, err)
}

// TestIntegration_API_Health tests the health endpoint integration
func TestIntegration_API_Health(t *testing.T) {
	env := NewMinimalTestEnv(t)

	w := performRequest(env.Router, "GET", "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)

	w = performRequest(env.Router, "GET", "/api/v1/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var status models.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, Version, status.Version)
	assert.Equal(t, 1, status.Switches)
	assert.Positive(t, status.Store.Revision)
}

// TestIntegration_API_FlowsFollowMembership tests that a forced resync
// reflects a new group member in the compiled set and on the switch
func TestIntegration_API_FlowsFollowMembership(t *testing.T) {
	env := NewMinimalTestEnv(t)

	var flows models.FlowListResponse
	w := performRequest(env.Router, "GET", "/api/v1/flows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &flows))
	assert.Equal(t, 2, flows.Count, "empty groups compile to nothing")
	assert.Empty(t, flows.Warnings)

	changed, err := env.Store.AddGroupMember(context.Background(), store.LinuxGroup, "10.0.0.5")
	require.NoError(t, err)
	require.True(t, changed)

	w = performRequest(env.Router, "POST", "/api/v1/resync", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resync models.ResyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resync))
	assert.Equal(t, 3, resync.Entries)
	assert.Equal(t, 1, resync.Switches)

	ssh := flow.Mod{
		Match: flow.Match{
			DlType:  flow.U16(flow.EtherTypeIPv4),
			NwProto: flow.U8(6),
			NwDst:   "10.0.0.5",
			TpDst:   flow.U16(22),
		},
		Priority: 100,
		Outputs:  []flow.Port{flow.PortNormal},
	}
	assert.Equal(t, ssh, env.Switch.Table()[ssh.Key()])

	w = performRequest(env.Router, "GET", "/api/v1/switches", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var switches models.SwitchListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &switches))
	require.Equal(t, 1, switches.Count)
	assert.Equal(t, "s1", switches.Switches[0].SwitchID)
	assert.Equal(t, 4, switches.Switches[0].Installed)
}

// TestIntegration_API_Events tests listing and deleting discovery events
func TestIntegration_API_Events(t *testing.T) {
	env := NewMinimalTestEnv(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := env.Store.SubmitEvent(ctx, events.Event{
			OSType: "Windows",
			MAC:    fmt.Sprintf("00:00:00:00:00:%02x", i),
			IP:     fmt.Sprintf("10.0.0.%d", i),
		})
		require.NoError(t, err)
	}

	w := performRequest(env.Router, "GET", "/api/v1/events?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list models.EventListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "10.0.0.3", list.Events[0].IP)

	path := fmt.Sprintf("/api/v1/events/%d", list.Events[0].ID)
	w = performRequest(env.Router, "DELETE", path, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(env.Router, "DELETE", path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performRequest(env.Router, "GET", "/api/v1/events", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
}

// TestIntegration_API_Hosts tests that snooped hosts appear in the host table
func TestIntegration_API_Hosts(t *testing.T) {
	env := NewMinimalTestEnv(t)

	env.Snooper.PacketIn(context.Background(), env.Switch, &switchport.PacketIn{
		InPort: 2,
		Data:   testutil.ARPRequest("00:00:00:00:00:0a", "10.0.0.10", "10.0.0.1"),
	})

	w := performRequest(env.Router, "GET", "/api/v1/hosts", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var hosts models.HostListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hosts))
	require.Equal(t, 1, hosts.Count)
	assert.Equal(t, "s1", hosts.Hosts[0].Switch)
	assert.Equal(t, flow.Port(2), hosts.Hosts[0].Port)
	assert.Equal(t, "10.0.0.10", hosts.Hosts[0].IP)

	w = performRequest(env.Router, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats models.StatisticsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, uint64(1), stats.Discovery.Discovered)
	assert.Equal(t, uint64(1), stats.Sync.Syncs)
}

// TestIntegration_API_CORS tests preflight handling
func TestIntegration_API_CORS(t *testing.T) {
	env := NewMinimalTestEnv(t)

	w := performRequest(env.Router, "OPTIONS", "/api/v1/flows", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// Helper function to perform HTTP requests
func performRequest(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var bodyReader io.Reader
	if body != nil {
		jsonData, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, _ := http.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
