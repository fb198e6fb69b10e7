// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package switchport

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// DefaultQueueSize bounds the pending callbacks per switch
const DefaultQueueSize = 256

type switchQueue struct {
	conn Conn
	ch   chan func(ctx context.Context)
	done chan struct{}
}

// Dispatcher fans transport callbacks out to handlers. Every switch has its
// own goroutine, so calls for one switch are serial while switches proceed
// independently.
type Dispatcher struct {
	ctx       context.Context
	handlers  []Handler
	queueSize int

	mu       sync.Mutex
	switches map[string]*switchQueue
	closed   bool

	dropped atomic.Uint64
}

// NewDispatcher creates a dispatcher delivering to handlers in order
func NewDispatcher(ctx context.Context, queueSize int, handlers ...Handler) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		ctx:       ctx,
		handlers:  handlers,
		queueSize: queueSize,
		switches:  make(map[string]*switchQueue),
	}
}

// ConnectionUp registers conn and delivers ConnectionUp to every handler.
// A reconnect under the same ID first tears down the previous connection.
func (d *Dispatcher) ConnectionUp(conn Conn) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	q := &switchQueue{
		conn: conn,
		ch:   make(chan func(ctx context.Context), d.queueSize),
		done: make(chan struct{}),
	}
	q.ch <- func(ctx context.Context) {
		for _, h := range d.handlers {
			h.ConnectionUp(ctx, conn)
		}
	}
	old := d.switches[conn.ID()]
	d.switches[conn.ID()] = q
	d.mu.Unlock()

	// The previous connection's down callbacks finish before the new
	// connection's goroutine starts.
	if old != nil {
		d.stop(old)
	}
	go d.run(q)
}

// ConnectionDown delivers ConnectionDown and forgets the switch
func (d *Dispatcher) ConnectionDown(switchID string) {
	d.mu.Lock()
	q := d.switches[switchID]
	delete(d.switches, switchID)
	d.mu.Unlock()

	if q == nil {
		return
	}
	d.stop(q)
}

// PacketIn queues pkt for the switch's handlers. Packets for unknown
// switches, and packets arriving while the switch's queue is full, are
// dropped.
func (d *Dispatcher) PacketIn(switchID string, pkt *PacketIn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.switches[switchID]
	if q == nil {
		log.Debugf("Dropping packet-in from unknown switch %s", switchID)
		return false
	}

	conn := q.conn
	select {
	case q.ch <- func(ctx context.Context) {
		for _, h := range d.handlers {
			h.PacketIn(ctx, conn, pkt)
		}
	}:
		return true
	default:
		d.dropped.Add(1)
		log.Debugf("Dropping packet-in from switch %s: queue full", switchID)
		return false
	}
}

// Switches returns the IDs of connected switches
func (d *Dispatcher) Switches() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.switches))
	for id := range d.switches {
		ids = append(ids, id)
	}
	return ids
}

// Dropped is the number of packet-ins discarded on full queues
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close disconnects every switch and waits for pending callbacks
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	queues := make([]*switchQueue, 0, len(d.switches))
	for id, q := range d.switches {
		queues = append(queues, q)
		delete(d.switches, id)
	}
	d.mu.Unlock()

	for _, q := range queues {
		d.stop(q)
	}
}

// stop queues the down callbacks behind anything pending and waits for the
// switch goroutine to exit
func (d *Dispatcher) stop(q *switchQueue) {
	id := q.conn.ID()
	q.ch <- func(ctx context.Context) {
		for _, h := range d.handlers {
			h.ConnectionDown(ctx, id)
		}
	}
	close(q.ch)
	<-q.done
}

func (d *Dispatcher) run(q *switchQueue) {
	defer close(q.done)

	for fn := range q.ch {
		d.call(q.conn.ID(), fn)
	}
}

func (d *Dispatcher) call(id string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Switch %s handler panic: %v", id, r)
		}
	}()
	fn(d.ctx)
}
