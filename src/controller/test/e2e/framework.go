// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package e2e provides the end-to-end testing framework for the controller.
// It runs the complete controller over a temporary SQLite store with
// in-memory switches and an HTTP notification sink, and drives it through
// packet-ins, store writes and the operational API.
package e2e

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sdn-microsegment/src/controller/pkg/config"
	"github.com/sdn-microsegment/src/controller/pkg/controller"
	"github.com/sdn-microsegment/src/controller/pkg/discovery"
	"github.com/sdn-microsegment/src/controller/pkg/flow"
	"github.com/sdn-microsegment/src/controller/pkg/pipeline"
	"github.com/sdn-microsegment/src/controller/pkg/store"
	"github.com/sdn-microsegment/src/controller/pkg/switchport"
	"github.com/sdn-microsegment/src/controller/pkg/testutil"
)

// waitTimeout bounds every asynchronous expectation
const waitTimeout = 5 * time.Second

// E2ETestEnv represents a complete end-to-end test environment
type E2ETestEnv struct {
	T           *testing.T
	Controller  *controller.Controller
	Store       *store.Store
	StoragePath string
	API         *httptest.Server
	Sink        *NotificationSink
	HTTPClient  *http.Client

	switches     map[string]*testutil.FakeConn
	cleanupFuncs []func()
}

// NewE2ETestEnv starts a controller with seeded defaults and one registered
// notification service. Hosts are classified by their MAC address through
// osTypes, falling back to Windows.
func NewE2ETestEnv(t *testing.T, osTypes map[string]string) *E2ETestEnv {
	t.Helper()

	env := &E2ETestEnv{
		T:          t,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		switches:   make(map[string]*testutil.FakeConn),
	}
	t.Cleanup(env.Cleanup)

	env.StoragePath = filepath.Join(t.TempDir(), "e2e.db")
	cfg := config.Default()
	cfg.Store.DSN = env.StoragePath
	cfg.API.Enabled = false
	cfg.Watcher.PollInterval = 50 * time.Millisecond
	cfg.Pipeline.NotifyTimeout = time.Second

	classifier := discovery.ClassifierFunc(func(_ context.Context, _ netip.Addr, mac net.HardwareAddr) (string, error) {
		if osType, ok := osTypes[mac.String()]; ok {
			return osType, nil
		}
		return "Windows", nil
	})

	ctrl, err := controller.New(cfg, controller.WithClassifier(classifier))
	require.NoError(t, err, "Failed to create controller")
	require.NoError(t, ctrl.Start(), "Failed to start controller")
	env.Controller = ctrl
	env.Store = ctrl.Store()
	env.addCleanup(ctrl.Stop)

	env.API = httptest.NewServer(ctrl.Router())
	env.addCleanup(env.API.Close)

	env.Sink = NewNotificationSink()
	env.addCleanup(env.Sink.Close)
	require.NoError(t, env.Store.SaveService(context.Background(), &store.Service{
		URL:  env.Sink.URL(),
		Name: "inventory",
	}))

	return env
}

// addCleanup adds a cleanup function to be called on test teardown
func (env *E2ETestEnv) addCleanup(fn func()) {
	env.cleanupFuncs = append(env.cleanupFuncs, fn)
}

// Cleanup releases all resources in reverse order
func (env *E2ETestEnv) Cleanup() {
	for i := len(env.cleanupFuncs) - 1; i >= 0; i-- {
		env.cleanupFuncs[i]()
	}
	env.cleanupFuncs = nil
}

// ConnectSwitch connects an in-memory switch and waits for its initial sync
func (env *E2ETestEnv) ConnectSwitch(id string) *testutil.FakeConn {
	conn := testutil.NewFakeConn(id)
	env.switches[id] = conn
	env.Controller.Dispatcher().ConnectionUp(conn)

	require.Eventually(env.T, func() bool {
		for _, sw := range env.Controller.Synchronizer().Switches() {
			if sw.ID == id && !sw.LastSync.IsZero() {
				return true
			}
		}
		return false
	}, waitTimeout, 10*time.Millisecond, "switch %s was not synchronized", id)
	return conn
}

// DisconnectSwitch disconnects an in-memory switch
func (env *E2ETestEnv) DisconnectSwitch(id string) {
	env.Controller.Dispatcher().ConnectionDown(id)
	delete(env.switches, id)
}

// PacketIn delivers a frame from a switch port to the controller
func (env *E2ETestEnv) PacketIn(switchID string, port uint32, data []byte) {
	ok := env.Controller.Dispatcher().PacketIn(switchID, &switchport.PacketIn{
		InPort: flow.Port(port),
		Data:   data,
	})
	require.True(env.T, ok, "packet-in for %s dropped", switchID)
}

// WaitForMember waits until ip's membership in group equals want
func (env *E2ETestEnv) WaitForMember(group, ip string, want bool) {
	require.Eventually(env.T, func() bool {
		return env.IsMember(group, ip) == want
	}, waitTimeout, 10*time.Millisecond, "membership of %s in %s never became %t", ip, group, want)
}

// IsMember reports whether ip is currently in group
func (env *E2ETestEnv) IsMember(group, ip string) bool {
	groups, err := env.Store.ListGroups(context.Background())
	require.NoError(env.T, err)
	for _, g := range groups {
		if g.Name != group {
			continue
		}
		for _, m := range g.Members {
			if m == ip {
				return true
			}
		}
	}
	return false
}

// OpenExternalWriter opens a second connection to the database, standing
// in for an administrator editing the store from another process
func (env *E2ETestEnv) OpenExternalWriter() *sql.DB {
	db, err := sql.Open("sqlite3", env.StoragePath+"?_busy_timeout=5000")
	require.NoError(env.T, err)
	env.addCleanup(func() { db.Close() })
	return db
}

// GetJSON performs a GET against the API and decodes the response
func (env *E2ETestEnv) GetJSON(path string, out interface{}) int {
	resp, err := env.HTTPClient.Get(env.API.URL + path)
	require.NoError(env.T, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(env.T, err)
	if out != nil && resp.StatusCode < 300 {
		require.NoError(env.T, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

// Delete performs a DELETE against the API
func (env *E2ETestEnv) Delete(path string) int {
	req, err := http.NewRequest(http.MethodDelete, env.API.URL+path, nil)
	require.NoError(env.T, err)
	resp, err := env.HTTPClient.Do(req)
	require.NoError(env.T, err)
	resp.Body.Close()
	return resp.StatusCode
}

// NotificationSink records the discovery notifications it receives
type NotificationSink struct {
	server *httptest.Server

	mu       sync.Mutex
	payloads []pipeline.Payload
}

// NewNotificationSink starts the sink
func NewNotificationSink() *NotificationSink {
	s := &NotificationSink{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p pipeline.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.payloads = append(s.payloads, p)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return s
}

// URL is the sink endpoint
func (s *NotificationSink) URL() string {
	return s.server.URL + "/notify"
}

// Payloads returns the notifications received so far
func (s *NotificationSink) Payloads() []pipeline.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.Payload(nil), s.payloads...)
}

// Close stops the sink
func (s *NotificationSink) Close() {
	s.server.Close()
}

// WaitForPayloads waits until n notifications arrived
func (env *E2ETestEnv) WaitForPayloads(n int) []pipeline.Payload {
	require.Eventually(env.T, func() bool {
		return len(env.Sink.Payloads()) >= n
	}, waitTimeout, 10*time.Millisecond, fmt.Sprintf("expected %d notifications", n))
	return env.Sink.Payloads()
}
