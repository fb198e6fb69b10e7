// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sdn-microsegment/src/controller/pkg/discovery"
	"github.com/sdn-microsegment/src/controller/pkg/events"
	"github.com/sdn-microsegment/src/controller/pkg/policy"
	"github.com/sdn-microsegment/src/controller/pkg/switchsync"
	"github.com/sdn-microsegment/src/controller/pkg/watcher"
	"github.com/sdn-microsegment/src/controller/pkg/worker"
)

// MockController is a mock implementation of Controller for testing
type MockController struct {
	mock.Mock
}

func (m *MockController) Compiled() policy.Result {
	return m.Called().Get(0).(policy.Result)
}

func (m *MockController) Switches() []switchsync.SwitchInfo {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]switchsync.SwitchInfo)
}

func (m *MockController) Stats() switchsync.Stats {
	return m.Called().Get(0).(switchsync.Stats)
}

func (m *MockController) Resync(ctx context.Context) (policy.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(policy.Result), args.Error(1)
}

// MockEventStore is a mock implementation of EventStore for testing
type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) Revision(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEventStore) ListEvents(ctx context.Context, limit int) ([]events.Event, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]events.Event), args.Error(1)
}

func (m *MockEventStore) DeleteEvent(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

// staticHosts is a fixed host table
type staticHosts struct {
	hosts []discovery.Host
	stats discovery.Stats
}

func (s *staticHosts) Hosts() []discovery.Host { return s.hosts }

func (s *staticHosts) Stats() discovery.Stats { return s.stats }

type staticPool worker.Stats

func (s staticPool) Stats() worker.Stats { return worker.Stats(s) }

type staticWatcher watcher.Stats

func (s staticWatcher) Stats() watcher.Stats { return watcher.Stats(s) }

type staticDrops uint64

func (s staticDrops) Dropped() uint64 { return uint64(s) }
