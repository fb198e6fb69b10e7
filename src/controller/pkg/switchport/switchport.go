// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package switchport

import (
	"context"
	"errors"
	"fmt"

	"github.com/sdn-microsegment/src/controller/pkg/flow"
)

var (
	// ErrUnsupported is returned by transports lacking an operation
	ErrUnsupported = errors.New("operation not supported by switch transport")

	// ErrMalformedFrame is returned when a packet cannot be decoded
	ErrMalformedFrame = errors.New("malformed frame")
)

// Conn is a live connection to one switch
type Conn interface {
	// ID is the opaque switch identifier, stable for the connection
	ID() string

	// InstallFlow adds or replaces the flow keyed by the mod's match and
	// priority
	InstallFlow(ctx context.Context, mod flow.Mod) error

	// SendPacket emits pkt's data out of port, which may be a reserved port
	// such as flow.PortFlood. pkt.InPort is excluded from flooding.
	SendPacket(ctx context.Context, out flow.Port, pkt *PacketIn) error
}

// PacketIn is a frame the switch forwarded to the controller
type PacketIn struct {
	InPort flow.Port
	Data   []byte
}

// Handler receives switch transport callbacks. Calls for one switch are
// delivered serially.
type Handler interface {
	ConnectionUp(ctx context.Context, conn Conn)
	ConnectionDown(ctx context.Context, switchID string)
	PacketIn(ctx context.Context, conn Conn, pkt *PacketIn)
}

// TransportError is a failed switch operation. The affected flow or packet
// is considered not delivered.
type TransportError struct {
	Switch string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("switch %s: %s: %v", e.Switch, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
