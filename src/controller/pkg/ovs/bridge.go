// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ovs

import (
	"context"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/digitalocean/go-openvswitch/ovs"

	"github.com/sdn-microsegment/src/controller/pkg/flow"
	"github.com/sdn-microsegment/src/controller/pkg/switchport"
)

// FlowProgrammer adds flows to a bridge. *ovs.OpenFlowService satisfies it.
type FlowProgrammer interface {
	AddFlow(bridge string, flow *ovs.Flow) error
}

// Runner executes an OVS command line tool
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct {
	sudo bool
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.sudo {
		args = append([]string{name}, args...)
		name = "sudo"
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// controllerAction sends packets to the controller
type controllerAction struct{}

func (controllerAction) MarshalText() ([]byte, error) { return []byte("controller"), nil }

func (controllerAction) GoString() string { return "ovs.Controller()" }

// Bridge is one OVS bridge acting as a switch
type Bridge struct {
	name     string
	openflow FlowProgrammer
	runner   Runner

	// protocols is passed to ovs-ofctl packet-out, matching the flow client
	protocols []string
}

var _ switchport.Conn = (*Bridge)(nil)

// ID is the bridge name
func (b *Bridge) ID() string {
	return b.name
}

// InstallFlow adds or replaces the flow with ovs-ofctl add-flow
func (b *Bridge) InstallFlow(_ context.Context, mod flow.Mod) error {
	f, err := toFlow(mod)
	if err != nil {
		return &switchport.TransportError{Switch: b.name, Op: "install_flow", Err: err}
	}
	if err := b.openflow.AddFlow(b.name, f); err != nil {
		return &switchport.TransportError{Switch: b.name, Op: "install_flow", Err: err}
	}
	return nil
}

// SendPacket injects pkt with ovs-ofctl packet-out
func (b *Bridge) SendPacket(ctx context.Context, out flow.Port, pkt *switchport.PacketIn) error {
	action, err := outputAction(out)
	if err != nil {
		return &switchport.TransportError{Switch: b.name, Op: "send_packet", Err: err}
	}
	actions, err := action.MarshalText()
	if err != nil {
		return &switchport.TransportError{Switch: b.name, Op: "send_packet", Err: err}
	}

	inPort := "none"
	if pkt.InPort != 0 {
		inPort = portArg(pkt.InPort)
	}

	var args []string
	if len(b.protocols) > 0 {
		args = append(args, "--protocols="+strings.Join(b.protocols, ","))
	}
	args = append(args, "packet-out", b.name, inPort, string(actions), hex.EncodeToString(pkt.Data))

	_, err = b.runner.Run(ctx, "ovs-ofctl", args...)
	if err != nil {
		return &switchport.TransportError{Switch: b.name, Op: "send_packet", Err: err}
	}
	return nil
}

func portArg(p flow.Port) string {
	switch p {
	case flow.PortLocal:
		return "LOCAL"
	case flow.PortController:
		return "CONTROLLER"
	case flow.PortNone:
		return "none"
	default:
		return strconv.FormatUint(uint64(p), 10)
	}
}

func outputAction(p flow.Port) (ovs.Action, error) {
	switch p {
	case flow.PortNormal:
		return ovs.Normal(), nil
	case flow.PortFlood:
		return ovs.Flood(), nil
	case flow.PortLocal:
		return ovs.Local(), nil
	case flow.PortController:
		return controllerAction{}, nil
	}
	if p.IsReserved() {
		return nil, fmt.Errorf("unsupported output port %s: %w", p, switchport.ErrUnsupported)
	}
	return ovs.Output(int(p)), nil
}

// toFlow renders a flow-mod for ovs-ofctl. Layer 3 and 4 fields get the
// dl_type=ip prerequisite ovs-ofctl needs when the match leaves it open.
func toFlow(mod flow.Mod) (*ovs.Flow, error) {
	m := mod.Match
	var matches []ovs.Match

	dlType := m.DlType
	if dlType == nil && (m.NwProto != nil || m.NwSrc != "" || m.NwDst != "") {
		dlType = flow.U16(flow.EtherTypeIPv4)
	}
	if dlType != nil {
		matches = append(matches, ovs.DataLinkType(*dlType))
	}
	if m.NwProto != nil {
		matches = append(matches, ovs.NetworkProtocol(*m.NwProto))
	}
	if m.NwSrc != "" {
		matches = append(matches, ovs.NetworkSource(m.NwSrc))
	}
	if m.NwDst != "" {
		matches = append(matches, ovs.NetworkDestination(m.NwDst))
	}
	if (m.TpSrc != nil || m.TpDst != nil) && m.NwProto == nil {
		return nil, fmt.Errorf("transport port match without nw_proto: %s", m)
	}
	if m.TpSrc != nil {
		matches = append(matches, ovs.TransportSourcePort(*m.TpSrc))
	}
	if m.TpDst != nil {
		matches = append(matches, ovs.TransportDestinationPort(*m.TpDst))
	}

	actions := []ovs.Action{ovs.Drop()}
	if !mod.Drops() {
		actions = actions[:0]
		for _, p := range mod.Outputs {
			a, err := outputAction(p)
			if err != nil {
				return nil, err
			}
			actions = append(actions, a)
		}
	}

	return &ovs.Flow{
		Priority: int(mod.Priority),
		Matches:  matches,
		Actions:  actions,
	}, nil
}
