// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"context"

	"github.com/sdn-microsegment/src/controller/pkg/discovery"
	"github.com/sdn-microsegment/src/controller/pkg/events"
	"github.com/sdn-microsegment/src/controller/pkg/policy"
	"github.com/sdn-microsegment/src/controller/pkg/switchsync"
	"github.com/sdn-microsegment/src/controller/pkg/watcher"
	"github.com/sdn-microsegment/src/controller/pkg/worker"
)

// Controller is the switch synchronizer surface the API reads and drives
type Controller interface {
	Compiled() policy.Result
	Switches() []switchsync.SwitchInfo
	Stats() switchsync.Stats
	Resync(ctx context.Context) (policy.Result, error)
}

// EventStore is the policy store surface for discovery events
type EventStore interface {
	Revision(ctx context.Context) (int64, error)
	ListEvents(ctx context.Context, limit int) ([]events.Event, error)
	DeleteEvent(ctx context.Context, id int64) error
}

// HostTable is the discovery snooper's learned state
type HostTable interface {
	Hosts() []discovery.Host
	Stats() discovery.Stats
}

// PoolStats reports worker pool counters
type PoolStats interface {
	Stats() worker.Stats
}

// WatcherStats reports change watcher counters
type WatcherStats interface {
	Stats() watcher.Stats
}

// DropCounter reports packet-ins dropped on full switch queues
type DropCounter interface {
	Dropped() uint64
}
