// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package events defines host discovery events and the in-process bus the
// policy store publishes their lifecycle transitions on.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Kind is the discovery event type
type Kind string

const (
	OSDiscovered Kind = "os_discovered"
	OSRemoved    Kind = "os_removed"
)

// Event is a discovered host. It is immutable once stored.
type Event struct {
	ID        int64     `json:"event_id"`
	Kind      Kind      `json:"event"`
	OSType    string    `json:"os_type"`
	MAC       string    `json:"arp"`
	IP        string    `json:"ipv4"`
	CreatedAt time.Time `json:"created_at"`
}

func (e Event) String() string {
	return fmt.Sprintf("event %d %s os=%s ip=%s mac=%s", e.ID, e.Kind, e.OSType, e.IP, e.MAC)
}

// Sink accepts newly discovered hosts
type Sink interface {
	SubmitEvent(ctx context.Context, ev Event) (int64, error)
}

// MessageType is a lifecycle transition of a stored event
type MessageType int

const (
	Created MessageType = iota + 1
	Deleted
)

func (t MessageType) String() string {
	switch t {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// Message is published after the transition has been committed
type Message struct {
	Type  MessageType
	Event Event
}

// ErrBusClosed is returned when publishing on a closed bus
var ErrBusClosed = errors.New("event bus closed")

// Bus fans messages out to every subscriber. Publish blocks while a
// subscriber's buffer is full, so no message is dropped. Close releases
// blocked publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Message
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{done: make(chan struct{})}
}

// Subscribe registers a subscriber. The channel is closed by Close.
func (b *Bus) Subscribe(buffer int) <-chan Message {
	ch := make(chan Message, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers msg to every subscriber
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrBusClosed
		}
	}
	return nil
}

// Close closes every subscriber channel. Publishes blocked on a full
// subscriber and later publishes fail with ErrBusClosed.
func (b *Bus) Close() {
	// Wake blocked publishers so they drop the read lock
	b.closeOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
