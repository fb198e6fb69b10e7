// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package pipeline

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/events"
	"github.com/sdn-microsegment/src/controller/pkg/store"
	"github.com/sdn-microsegment/src/controller/pkg/worker"
)

// DefaultManagedGroups are the groups populated from discovery
var DefaultManagedGroups = []string{store.WindowsGroup, store.LinuxGroup}

// Services lists the registered notification targets
type Services interface {
	ListServices(ctx context.Context) ([]store.Service, error)
}

// Members mutates group membership idempotently
type Members interface {
	Add(ctx context.Context, group, ip string) error
	Remove(ctx context.Context, group, ip string) error
}

// Submitter queues fire-and-forget work
type Submitter interface {
	Submit(ctx context.Context, task worker.Task) error
}

// Config holds pipeline settings
type Config struct {
	ManagedGroups []string
}

// Pipeline turns discovery event transitions into notification and
// membership tasks
type Pipeline struct {
	services Services
	members  Members
	notifier *Notifier
	pool     Submitter
	managed  map[string]struct{}
}

// New creates a pipeline. An empty managed group list uses the defaults.
func New(cfg Config, services Services, members Members, notifier *Notifier, pool Submitter) *Pipeline {
	groups := cfg.ManagedGroups
	if len(groups) == 0 {
		groups = DefaultManagedGroups
	}
	managed := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		managed[g] = struct{}{}
	}

	return &Pipeline{
		services: services,
		members:  members,
		notifier: notifier,
		pool:     pool,
		managed:  managed,
	}
}

// GroupName derives the managed group for an OS type
func GroupName(osType string) string {
	return strings.ToLower(strings.TrimSpace(osType)) + "_group"
}

// Run consumes msgs until the channel closes or ctx is done
func (p *Pipeline) Run(ctx context.Context, msgs <-chan events.Message) {
	log.Info("Event pipeline started")
	defer log.Info("Event pipeline stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			p.Handle(ctx, msg)
		}
	}
}

// Handle dispatches the tasks for one transition. It returns once they are
// queued, not when they complete.
func (p *Pipeline) Handle(ctx context.Context, msg events.Message) {
	ev := msg.Event
	switch msg.Type {
	case events.Created:
		p.submit(ctx, worker.Task{
			Name: fmt.Sprintf("notify-event-%d", ev.ID),
			Run: func(ctx context.Context) error {
				p.notifyAll(ctx, ev)
				return nil
			},
		})
		if group, ok := p.managedGroup(ev.OSType); ok {
			p.submit(ctx, worker.Task{
				Name: fmt.Sprintf("add-%s-%s", group, ev.IP),
				Run: func(ctx context.Context) error {
					return p.members.Add(ctx, group, ev.IP)
				},
			})
		}

	case events.Deleted:
		if group, ok := p.managedGroup(ev.OSType); ok {
			p.submit(ctx, worker.Task{
				Name: fmt.Sprintf("remove-%s-%s", group, ev.IP),
				Run: func(ctx context.Context) error {
					return p.members.Remove(ctx, group, ev.IP)
				},
			})
		}

	default:
		log.Warnf("Ignoring event message of type %s", msg.Type)
	}
}

func (p *Pipeline) managedGroup(osType string) (string, bool) {
	group := GroupName(osType)
	_, ok := p.managed[group]
	if !ok {
		log.Debugf("No managed group for os_type %q", osType)
	}
	return group, ok
}

func (p *Pipeline) submit(ctx context.Context, task worker.Task) {
	if err := p.pool.Submit(ctx, task); err != nil {
		log.Warnf("Failed to queue task %s: %v", task.Name, err)
	}
}

// notifyAll posts ev to every registered service. Failures are logged.
func (p *Pipeline) notifyAll(ctx context.Context, ev events.Event) {
	services, err := p.services.ListServices(ctx)
	if err != nil {
		log.Warnf("Failed to list services for event %d: %v", ev.ID, err)
		return
	}

	for _, svc := range services {
		if err := p.notifier.Notify(ctx, svc, ev); err != nil {
			log.WithField("service", svc.Name).Warn(err)
		}
	}
}
