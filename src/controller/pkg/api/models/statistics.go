// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package models

import (
	"github.com/sdn-microsegment/src/controller/pkg/discovery"
	"github.com/sdn-microsegment/src/controller/pkg/events"
	"github.com/sdn-microsegment/src/controller/pkg/switchsync"
	"github.com/sdn-microsegment/src/controller/pkg/watcher"
	"github.com/sdn-microsegment/src/controller/pkg/worker"
)

// StatisticsResponse represents all controller counters
type StatisticsResponse struct {
	Discovery    discovery.Stats  `json:"discovery"`
	Sync         switchsync.Stats `json:"sync"`
	Pipeline     *worker.Stats    `json:"pipeline,omitempty"`
	Watcher      *watcher.Stats   `json:"watcher,omitempty"`
	DroppedPktIn uint64           `json:"dropped_packet_ins"`
}

// HostListResponse represents the learned host table
type HostListResponse struct {
	Hosts []discovery.Host `json:"hosts"`
	Count int              `json:"count"`
}

// EventListResponse represents stored discovery events
type EventListResponse struct {
	Events []events.Event `json:"events"`
	Count  int            `json:"count"`
}
