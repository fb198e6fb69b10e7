// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ovs

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/digitalocean/go-openvswitch/ovs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdn-microsegment/src/controller/pkg/flow"
	"github.com/sdn-microsegment/src/controller/pkg/switchport"
)

type addedFlow struct {
	bridge string
	flow   *ovs.Flow
}

type fakeOpenFlow struct {
	mu    sync.Mutex
	err   error
	flows []addedFlow
}

func (f *fakeOpenFlow) AddFlow(bridge string, fl *ovs.Flow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.flows = append(f.flows, addedFlow{bridge: bridge, flow: fl})
	return nil
}

type fakeRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	err     error
	calls   [][]string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.err != nil {
		return nil, r.err
	}
	if len(args) > 2 {
		return []byte(r.outputs[args[2]]), nil
	}
	return nil, nil
}

// TestToFlow tests flow-mod rendering for ovs-ofctl
func TestToFlow(t *testing.T) {
	tests := []struct {
		name    string
		mod     flow.Mod
		matches []ovs.Match
		actions []ovs.Action
	}{
		{
			name: "arp to controller",
			mod:  flow.ARPToController(),
			matches: []ovs.Match{
				ovs.DataLinkType(flow.EtherTypeARP),
			},
			actions: []ovs.Action{controllerAction{}},
		},
		{
			name: "ssh allow adds ip prerequisite",
			mod: flow.Mod{
				Match:    flow.Match{NwProto: flow.U8(6), NwDst: "10.0.0.9", TpDst: flow.U16(22)},
				Priority: 100,
				Outputs:  []flow.Port{flow.PortNormal},
			},
			matches: []ovs.Match{
				ovs.DataLinkType(flow.EtherTypeIPv4),
				ovs.NetworkProtocol(6),
				ovs.NetworkDestination("10.0.0.9"),
				ovs.TransportDestinationPort(22),
			},
			actions: []ovs.Action{ovs.Normal()},
		},
		{
			name: "source subnet",
			mod: flow.Mod{
				Match:    flow.Match{DlType: flow.U16(flow.EtherTypeIPv4), NwSrc: "10.1.0.0/16", TpSrc: flow.U16(53), NwProto: flow.U8(17)},
				Priority: 50,
				Outputs:  []flow.Port{3},
			},
			matches: []ovs.Match{
				ovs.DataLinkType(flow.EtherTypeIPv4),
				ovs.NetworkProtocol(17),
				ovs.NetworkSource("10.1.0.0/16"),
				ovs.TransportSourcePort(53),
			},
			actions: []ovs.Action{ovs.Output(3)},
		},
		{
			name:    "default deny",
			mod:     flow.Mod{Priority: 0},
			actions: []ovs.Action{ovs.Drop()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := toFlow(tt.mod)
			require.NoError(t, err)
			assert.Equal(t, int(tt.mod.Priority), f.Priority)
			assert.Equal(t, tt.matches, f.Matches)
			assert.Equal(t, tt.actions, f.Actions)
		})
	}
}

// TestToFlow_Invalid tests matches ovs-ofctl would reject
func TestToFlow_Invalid(t *testing.T) {
	_, err := toFlow(flow.Mod{Match: flow.Match{TpDst: flow.U16(22)}, Outputs: []flow.Port{flow.PortNormal}})
	assert.Error(t, err)

	_, err = toFlow(flow.Mod{Outputs: []flow.Port{flow.PortAll}})
	assert.ErrorIs(t, err, switchport.ErrUnsupported)
}

// TestControllerAction tests the controller action text
func TestControllerAction(t *testing.T) {
	text, err := controllerAction{}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "controller", string(text))
}

// TestBridge_InstallFlow tests flow installation through the programmer
func TestBridge_InstallFlow(t *testing.T) {
	of := &fakeOpenFlow{}
	b := &Bridge{name: "br0", openflow: of, runner: &fakeRunner{}}

	require.NoError(t, b.InstallFlow(context.Background(), flow.ARPToController()))
	require.Len(t, of.flows, 1)
	assert.Equal(t, "br0", of.flows[0].bridge)
	assert.Equal(t, int(flow.ARPPriority), of.flows[0].flow.Priority)

	of.err = errors.New("ovs-ofctl: connection refused")
	err := b.InstallFlow(context.Background(), flow.ARPToController())
	var te *switchport.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "br0", te.Switch)
	assert.Equal(t, "install_flow", te.Op)
}

// TestBridge_SendPacket tests packet-out command construction
func TestBridge_SendPacket(t *testing.T) {
	runner := &fakeRunner{}
	b := &Bridge{name: "br0", openflow: &fakeOpenFlow{}, runner: runner}
	data := []byte{0xde, 0xad, 0xbe, 0xef}

	require.NoError(t, b.SendPacket(context.Background(), flow.PortFlood, &switchport.PacketIn{InPort: 3, Data: data}))
	require.NoError(t, b.SendPacket(context.Background(), 7, &switchport.PacketIn{Data: data}))

	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"ovs-ofctl", "packet-out", "br0", "3", "flood", hex.EncodeToString(data)}, runner.calls[0])
	assert.Equal(t, []string{"ovs-ofctl", "packet-out", "br0", "none", "output:7", hex.EncodeToString(data)}, runner.calls[1])
}

// TestBridge_SendPacketProtocols tests that packet-out negotiates the
// configured OpenFlow versions
func TestBridge_SendPacketProtocols(t *testing.T) {
	runner := &fakeRunner{}
	b := &Bridge{name: "br0", openflow: &fakeOpenFlow{}, runner: runner, protocols: []string{"OpenFlow10", "OpenFlow13"}}
	data := []byte{0x01}

	require.NoError(t, b.SendPacket(context.Background(), flow.PortFlood, &switchport.PacketIn{InPort: 2, Data: data}))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"ovs-ofctl", "--protocols=OpenFlow10,OpenFlow13", "packet-out", "br0", "2", "flood", "01"}, runner.calls[0])
}

// TestBridge_SendPacketErrors tests unsupported ports and tool failures
func TestBridge_SendPacketErrors(t *testing.T) {
	runner := &fakeRunner{}
	b := &Bridge{name: "br0", openflow: &fakeOpenFlow{}, runner: runner}

	err := b.SendPacket(context.Background(), flow.PortInPort, &switchport.PacketIn{InPort: 1})
	assert.ErrorIs(t, err, switchport.ErrUnsupported)
	assert.Empty(t, runner.calls)

	runner.err = errors.New("exit status 1")
	err = b.SendPacket(context.Background(), flow.PortFlood, &switchport.PacketIn{InPort: 1})
	var te *switchport.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "send_packet", te.Op)
}

// TestPortArg tests in_port rendering
func TestPortArg(t *testing.T) {
	assert.Equal(t, "5", portArg(5))
	assert.Equal(t, "LOCAL", portArg(flow.PortLocal))
	assert.Equal(t, "CONTROLLER", portArg(flow.PortController))
	assert.Equal(t, "none", portArg(flow.PortNone))
}
