// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package e2e

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdn-microsegment/src/controller/pkg/api/models"
	"github.com/sdn-microsegment/src/controller/pkg/flow"
	"github.com/sdn-microsegment/src/controller/pkg/store"
	"github.com/sdn-microsegment/src/controller/pkg/testutil"
)

const (
	linuxMAC   = "00:00:00:00:00:05"
	windowsMAC = "00:00:00:00:00:06"
)

func allowTo(ip string, port uint16) flow.Mod {
	return flow.Mod{
		Match: flow.Match{
			DlType:  flow.U16(flow.EtherTypeIPv4),
			NwProto: flow.U8(6),
			NwDst:   ip,
			TpDst:   flow.U16(port),
		},
		Priority: 100,
		Outputs:  []flow.Port{flow.PortNormal},
	}
}

func waitForFlow(t *testing.T, conn *testutil.FakeConn, mod flow.Mod) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := conn.Table()[mod.Key()]
		return ok && assert.ObjectsAreEqual(mod, got)
	}, waitTimeout, 10*time.Millisecond, "flow %s never installed on %s", mod, conn.ID())
}

// TestE2E_DiscoveryToEnforcement tests that an ARP request from a new host
// ends with its group's allow flow installed on the switch.
func TestE2E_DiscoveryToEnforcement(t *testing.T) {
	env := NewE2ETestEnv(t, map[string]string{linuxMAC: "Linux"})
	s1 := env.ConnectSwitch("s1")

	// Baseline: ARP to controller, ARP allow and default deny
	assert.Len(t, s1.Table(), 3)

	env.PacketIn("s1", 3, testutil.ARPRequest(linuxMAC, "10.0.0.5", "10.0.0.1"))

	payloads := env.WaitForPayloads(1)
	assert.Equal(t, "os_discovered", payloads[0].Event)
	assert.Equal(t, "10.0.0.5", payloads[0].IPv4)
	assert.Equal(t, "Linux", payloads[0].OSType)
	assert.Equal(t, linuxMAC, payloads[0].ARP)
	assert.Positive(t, payloads[0].EventID)

	env.WaitForMember(store.LinuxGroup, "10.0.0.5", true)
	waitForFlow(t, s1, allowTo("10.0.0.5", 22))

	// The request itself was flooded
	sent := s1.Sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, flow.PortFlood, sent[0].Out)
	assert.Equal(t, flow.Port(3), sent[0].InPort)
}

// TestE2E_DuplicateARPReportedOnce tests that a host is reported once per
// (ip, mac) pair
func TestE2E_DuplicateARPReportedOnce(t *testing.T) {
	env := NewE2ETestEnv(t, nil)
	s1 := env.ConnectSwitch("s1")

	frame := testutil.ARPRequest(windowsMAC, "10.0.0.6", "10.0.0.1")
	env.PacketIn("s1", 4, frame)
	env.PacketIn("s1", 4, frame)
	env.PacketIn("s1", 4, frame)

	env.WaitForPayloads(1)
	env.WaitForMember(store.WindowsGroup, "10.0.0.6", true)
	require.Eventually(t, func() bool {
		return len(s1.Sent()) == 3
	}, waitTimeout, 10*time.Millisecond, "every request is flooded")

	var list models.EventListResponse
	require.Equal(t, http.StatusOK, env.GetJSON("/api/v1/events", &list))
	assert.Equal(t, 1, list.Count)
	assert.Len(t, env.Sink.Payloads(), 1)

	var stats models.StatisticsResponse
	require.Equal(t, http.StatusOK, env.GetJSON("/api/v1/stats", &stats))
	assert.Equal(t, uint64(1), stats.Discovery.Discovered)
	assert.Equal(t, uint64(2), stats.Discovery.Duplicates)
}

// TestE2E_EventDeletionRemovesMember tests the deletion lifecycle through
// the API
func TestE2E_EventDeletionRemovesMember(t *testing.T) {
	env := NewE2ETestEnv(t, map[string]string{linuxMAC: "Linux"})
	s1 := env.ConnectSwitch("s1")

	env.PacketIn("s1", 3, testutil.ARPRequest(linuxMAC, "10.0.0.5", "10.0.0.1"))
	env.WaitForMember(store.LinuxGroup, "10.0.0.5", true)
	waitForFlow(t, s1, allowTo("10.0.0.5", 22))

	var list models.EventListResponse
	require.Equal(t, http.StatusOK, env.GetJSON("/api/v1/events", &list))
	require.Equal(t, 1, list.Count)

	path := fmt.Sprintf("/api/v1/events/%d", list.Events[0].ID)
	require.Equal(t, http.StatusOK, env.Delete(path))
	assert.Equal(t, http.StatusNotFound, env.Delete(path))

	env.WaitForMember(store.LinuxGroup, "10.0.0.5", false)

	require.Eventually(t, func() bool {
		var flows models.FlowListResponse
		env.GetJSON("/api/v1/flows", &flows)
		for _, f := range flows.Flows {
			if f.Match.NwDst == "10.0.0.5" {
				return false
			}
		}
		return flows.Count == 2
	}, waitTimeout, 10*time.Millisecond, "compiled set still allows the removed host")

	// Installed flows are replaced, never retracted
	_, installed := s1.Table()[allowTo("10.0.0.5", 22).Key()]
	assert.True(t, installed)
}

// TestE2E_NewSwitchReceivesCurrentPolicy tests that a switch connecting
// later gets the policy including learned members
func TestE2E_NewSwitchReceivesCurrentPolicy(t *testing.T) {
	env := NewE2ETestEnv(t, nil)
	env.ConnectSwitch("s1")

	env.PacketIn("s1", 1, testutil.ARPRequest(windowsMAC, "10.0.0.6", "10.0.0.1"))
	env.WaitForMember(store.WindowsGroup, "10.0.0.6", true)

	s2 := env.ConnectSwitch("s2")
	installs := s2.Installs()
	require.NotEmpty(t, installs)
	assert.Equal(t, flow.ARPToController(), installs[0], "ARP flow comes first")
	waitForFlow(t, s2, allowTo("10.0.0.6", 3389))

	var switches models.SwitchListResponse
	require.Equal(t, http.StatusOK, env.GetJSON("/api/v1/switches", &switches))
	assert.Equal(t, 2, switches.Count)

	env.DisconnectSwitch("s2")
	require.Eventually(t, func() bool {
		return len(env.Controller.Synchronizer().Switches()) == 1
	}, waitTimeout, 10*time.Millisecond)
}

// TestE2E_ExternalWriterPropagates tests that membership written by another
// process reaches live switches
func TestE2E_ExternalWriterPropagates(t *testing.T) {
	env := NewE2ETestEnv(t, nil)
	s1 := env.ConnectSwitch("s1")

	db := env.OpenExternalWriter()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO group_members (group_id, ip_address)
		SELECT id, '10.0.0.77' FROM ip_groups WHERE name = ?`, store.WindowsGroup)
	require.NoError(t, err)

	waitForFlow(t, s1, allowTo("10.0.0.77", 3389))
}

// TestE2E_UnmanagedOSType tests that hosts of other OS types are reported
// but not grouped
func TestE2E_UnmanagedOSType(t *testing.T) {
	env := NewE2ETestEnv(t, map[string]string{"00:00:00:00:00:09": "Solaris"})
	env.ConnectSwitch("s1")

	env.PacketIn("s1", 2, testutil.ARPRequest("00:00:00:00:00:09", "10.0.0.9", "10.0.0.1"))

	payloads := env.WaitForPayloads(1)
	assert.Equal(t, "Solaris", payloads[0].OSType)

	// Let queued tasks settle before checking nothing was grouped
	require.Eventually(t, func() bool {
		return env.Controller.Pool().Stats().Pending == 0
	}, waitTimeout, 10*time.Millisecond)
	assert.False(t, env.IsMember(store.WindowsGroup, "10.0.0.9"))
	assert.False(t, env.IsMember(store.LinuxGroup, "10.0.0.9"))
}

// TestE2E_ICMPForwarding tests unicast forwarding between learned hosts
func TestE2E_ICMPForwarding(t *testing.T) {
	env := NewE2ETestEnv(t, nil)
	s1 := env.ConnectSwitch("s1")

	macA, macB := "00:00:00:00:00:0a", "00:00:00:00:00:0b"
	env.PacketIn("s1", 1, testutil.ARPRequest(macA, "10.0.1.1", "10.0.1.2"))
	env.PacketIn("s1", 2, testutil.ARPReply(macB, "10.0.1.2", macA, "10.0.1.1"))
	env.PacketIn("s1", 1, testutil.ICMPEcho(macA, macB, "10.0.1.1", "10.0.1.2"))
	env.PacketIn("s1", 2, testutil.ICMPEcho(macB, "00:00:00:00:00:ff", "10.0.1.2", "10.0.9.9"))

	require.Eventually(t, func() bool {
		return len(s1.Sent()) == 4
	}, waitTimeout, 10*time.Millisecond)

	sent := s1.Sent()
	assert.Equal(t, flow.PortFlood, sent[0].Out, "request floods")
	assert.Equal(t, flow.Port(1), sent[1].Out, "reply goes to the requester")
	assert.Equal(t, flow.Port(2), sent[2].Out, "echo goes to the learned port")
	assert.Equal(t, flow.PortFlood, sent[3].Out, "unknown destination floods")

	var hosts models.HostListResponse
	require.Equal(t, http.StatusOK, env.GetJSON("/api/v1/hosts", &hosts))
	assert.Equal(t, 2, hosts.Count)
}
