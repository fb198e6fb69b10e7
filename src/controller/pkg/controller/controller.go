// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package controller assembles the SDN controller: the policy store, event
// bus, worker pool, event pipeline, discovery snooper, switch synchronizer,
// switch dispatcher, change watcher, OVS driver and operational API.
package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/api"
	"github.com/sdn-microsegment/src/controller/pkg/config"
	"github.com/sdn-microsegment/src/controller/pkg/discovery"
	"github.com/sdn-microsegment/src/controller/pkg/events"
	"github.com/sdn-microsegment/src/controller/pkg/membership"
	"github.com/sdn-microsegment/src/controller/pkg/ovs"
	"github.com/sdn-microsegment/src/controller/pkg/pipeline"
	"github.com/sdn-microsegment/src/controller/pkg/store"
	"github.com/sdn-microsegment/src/controller/pkg/switchport"
	"github.com/sdn-microsegment/src/controller/pkg/switchsync"
	"github.com/sdn-microsegment/src/controller/pkg/watcher"
	"github.com/sdn-microsegment/src/controller/pkg/worker"
)

// busBuffer is the pipeline's subscription buffer
const busBuffer = 128

// Option customizes a controller
type Option func(*options)

type options struct {
	classifier discovery.Classifier
}

// WithClassifier replaces the static OS classifier built from the
// discovery.os_type setting
func WithClassifier(c discovery.Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// Controller owns every component and their goroutines
type Controller struct {
	cfg *config.Config

	bus        *events.Bus
	store      *store.Store
	pool       *worker.Pool
	members    *membership.Manager
	pipeline   *pipeline.Pipeline
	snooper    *discovery.Snooper
	sync       *switchsync.Synchronizer
	dispatcher *switchport.Dispatcher
	watcher    *watcher.Watcher
	driver     *ovs.Driver
	api        *api.Server

	msgs <-chan events.Message

	ctx        context.Context
	cancel     context.CancelFunc
	poolCancel context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// New opens the store and builds every component. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Controller, error) {
	o := options{classifier: discovery.StaticClassifier(cfg.Discovery.OSType)}
	for _, opt := range opts {
		opt(&o)
	}

	bus := events.NewBus()
	st, err := store.Open(cfg.Store, bus)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to open policy store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	if cfg.Store.SeedDefaults {
		if err := st.SeedDefaults(ctx); err != nil {
			cancel()
			st.Close()
			bus.Close()
			return nil, fmt.Errorf("failed to seed defaults: %w", err)
		}
		// No switch is connected yet, so the seed's change signal is stale
		select {
		case <-st.Changes():
		default:
		}
	}

	snooper, err := discovery.NewSnooper(discovery.Config{SeenHosts: cfg.Discovery.SeenHosts}, st, o.classifier)
	if err != nil {
		cancel()
		st.Close()
		bus.Close()
		return nil, fmt.Errorf("failed to create snooper: %w", err)
	}

	poolCtx, poolCancel := context.WithCancel(context.Background())
	pool := worker.NewPool(poolCtx, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize)
	members := membership.NewManager(st)
	notifier := pipeline.NewNotifier(cfg.Pipeline.NotifyTimeout, cfg.Pipeline.NotifySecret)

	c := &Controller{
		cfg:        cfg,
		bus:        bus,
		store:      st,
		pool:       pool,
		members:    members,
		pipeline:   pipeline.New(pipeline.Config{ManagedGroups: cfg.Pipeline.ManagedGroups}, st, members, notifier, pool),
		snooper:    snooper,
		sync:       switchsync.New(st),
		msgs:       bus.Subscribe(busBuffer),
		ctx:        ctx,
		cancel:     cancel,
		poolCancel: poolCancel,
	}

	// The synchronizer installs the ARP flow before the snooper sees traffic
	c.dispatcher = switchport.NewDispatcher(ctx, switchport.DefaultQueueSize, c.sync, c.snooper)
	c.watcher = watcher.New(cfg.WatcherSettings(st.Path()), st, c.sync)

	if cfg.OVS.Enabled {
		c.driver = ovs.NewDriver(cfg.OVS, c.dispatcher)
	}

	c.api, err = api.NewAPIServer(cfg.APIServer(), api.Deps{
		Controller: c.sync,
		Store:      st,
		Hosts:      snooper,
		Pool:       pool,
		Watcher:    c.watcher,
		Dispatcher: c.dispatcher,
	})
	if err != nil {
		c.Stop()
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}

	return c, nil
}

// Start runs the pipeline, watcher, OVS driver and API server
func (c *Controller) Start() error {
	c.goRun("pipeline", func(ctx context.Context) error {
		c.pipeline.Run(ctx, c.msgs)
		return nil
	})
	c.goRun("watcher", c.watcher.Run)
	if c.driver != nil {
		c.goRun("ovs driver", c.driver.Run)
	}

	if c.cfg.API.Enabled {
		if err := c.api.Start(); err != nil {
			return err
		}
	}

	log.Infof("Controller started: store=%s ovs=%t api=%t",
		c.cfg.Store.Driver, c.cfg.OVS.Enabled, c.cfg.API.Enabled)
	return nil
}

func (c *Controller) goRun(name string, fn func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(c.ctx); err != nil {
			log.Errorf("%s stopped: %v", name, err)
		}
	}()
}

// Stop shuts every component down in dependency order. Queued membership
// and notification tasks finish before the store closes.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		log.Info("Stopping controller...")
		if c.api != nil {
			if err := c.api.Stop(); err != nil {
				log.Errorf("Error stopping API server: %v", err)
			}
		}

		c.cancel()
		c.dispatcher.Close()
		c.bus.Close()
		c.wg.Wait()

		c.pool.Stop()
		c.poolCancel()

		if err := c.store.Close(); err != nil {
			log.Errorf("Error closing policy store: %v", err)
		}
		log.Info("Controller stopped")
	})
}

// Store returns the policy store
func (c *Controller) Store() *store.Store {
	return c.store
}

// Dispatcher returns the switch dispatcher transports report to
func (c *Controller) Dispatcher() *switchport.Dispatcher {
	return c.dispatcher
}

// Synchronizer returns the switch synchronizer
func (c *Controller) Synchronizer() *switchsync.Synchronizer {
	return c.sync
}

// Snooper returns the discovery snooper
func (c *Controller) Snooper() *discovery.Snooper {
	return c.snooper
}

// Watcher returns the change watcher
func (c *Controller) Watcher() *watcher.Watcher {
	return c.watcher
}

// Pool returns the worker pool
func (c *Controller) Pool() *worker.Pool {
	return c.pool
}

// Router returns the API router, served or not
func (c *Controller) Router() *gin.Engine {
	return c.api.GetRouter()
}
