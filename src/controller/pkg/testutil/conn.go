// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package testutil

import (
	"context"
	"sync"

	"github.com/sdn-microsegment/src/controller/pkg/flow"
	"github.com/sdn-microsegment/src/controller/pkg/switchport"
)

// SentPacket is a packet-out recorded by FakeConn
type SentPacket struct {
	Out    flow.Port
	InPort flow.Port
	Data   []byte
}

// FakeConn is an in-memory switch connection. It keeps a flow table keyed
// like a real switch (match + priority) and records every packet-out.
type FakeConn struct {
	SwitchID string

	// InstallErr and SendErr, when set, are returned by the matching call
	InstallErr error
	SendErr    error

	mu       sync.Mutex
	installs []flow.Mod
	table    map[string]flow.Mod
	sent     []SentPacket
}

// NewFakeConn creates a fake switch with the given ID
func NewFakeConn(id string) *FakeConn {
	return &FakeConn{SwitchID: id, table: make(map[string]flow.Mod)}
}

var _ switchport.Conn = (*FakeConn)(nil)

// ID returns the switch ID
func (c *FakeConn) ID() string {
	return c.SwitchID
}

// InstallFlow records mod and upserts it into the flow table
func (c *FakeConn) InstallFlow(_ context.Context, mod flow.Mod) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.InstallErr != nil {
		return &switchport.TransportError{Switch: c.SwitchID, Op: "install_flow", Err: c.InstallErr}
	}
	c.installs = append(c.installs, mod)
	c.table[mod.Key()] = mod
	return nil
}

// SendPacket records a packet-out
func (c *FakeConn) SendPacket(_ context.Context, out flow.Port, pkt *switchport.PacketIn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendErr != nil {
		return &switchport.TransportError{Switch: c.SwitchID, Op: "send_packet", Err: c.SendErr}
	}
	c.sent = append(c.sent, SentPacket{
		Out:    out,
		InPort: pkt.InPort,
		Data:   append([]byte(nil), pkt.Data...),
	})
	return nil
}

// Installs returns every InstallFlow call in order
func (c *FakeConn) Installs() []flow.Mod {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]flow.Mod(nil), c.installs...)
}

// Table returns the current flow table keyed by priority and match
func (c *FakeConn) Table() map[string]flow.Mod {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]flow.Mod, len(c.table))
	for k, v := range c.table {
		out[k] = v
	}
	return out
}

// Sent returns every packet-out in order
func (c *FakeConn) Sent() []SentPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentPacket(nil), c.sent...)
}

// Reset clears recorded calls and the flow table
func (c *FakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.installs = nil
	c.sent = nil
	c.table = make(map[string]flow.Mod)
}

