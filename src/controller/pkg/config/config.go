// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package config loads the controller configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sdn-microsegment/src/controller/pkg/api"
	"github.com/sdn-microsegment/src/controller/pkg/discovery"
	"github.com/sdn-microsegment/src/controller/pkg/ovs"
	"github.com/sdn-microsegment/src/controller/pkg/pipeline"
	"github.com/sdn-microsegment/src/controller/pkg/store"
	"github.com/sdn-microsegment/src/controller/pkg/watcher"
)

// Config is the complete controller configuration
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Store     store.Config    `yaml:"store"`
	API       APIConfig       `yaml:"api"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	OVS       ovs.Config      `yaml:"ovs"`
}

// APIConfig holds the operational API settings
type APIConfig struct {
	Enabled    bool `yaml:"enabled"`
	api.Config `yaml:",inline"`
}

// DiscoveryConfig holds snooper settings
type DiscoveryConfig struct {
	// OSType is reported for every discovered host
	OSType    string `yaml:"os_type"`
	SeenHosts int    `yaml:"seen_hosts"`
}

// PipelineConfig holds event pipeline and notification settings
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	ManagedGroups []string      `yaml:"managed_groups"`
	NotifyTimeout time.Duration `yaml:"notify_timeout"`

	// NotifySecret signs notifications with an HS256 bearer token when set
	NotifySecret string `yaml:"notify_secret"`
}

// WatcherConfig holds change watcher settings
type WatcherConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`

	// WatchFile watches the SQLite file for writers in other processes
	WatchFile bool `yaml:"watch_file"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Store: store.Config{
			Driver:       store.DriverSQLite,
			DSN:          "controller.db",
			SeedDefaults: true,
		},
		API: APIConfig{
			Enabled: true,
			Config:  *api.DefaultConfig(),
		},
		Discovery: DiscoveryConfig{
			OSType:    "Windows",
			SeenHosts: discovery.DefaultSeenHosts,
		},
		Pipeline: PipelineConfig{
			Workers:       4,
			QueueSize:     256,
			ManagedGroups: append([]string(nil), pipeline.DefaultManagedGroups...),
			NotifyTimeout: 5 * time.Second,
		},
		Watcher: WatcherConfig{
			PollInterval: watcher.DefaultPollInterval,
			WatchFile:    true,
		},
		OVS: ovs.Config{
			PollInterval: ovs.DefaultPollInterval,
			Capture:      true,
		},
	}
}

// Load reads a YAML configuration. Missing keys keep their defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the configuration at path
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Validate checks value ranges and enumerations. The store driver is
// rewritten to its canonical name.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	driver, err := store.NormalizeDriver(c.Store.Driver)
	if err != nil {
		return fmt.Errorf("invalid store.driver %q: must be sqlite3 or mysql", c.Store.Driver)
	}
	c.Store.Driver = driver
	if c.Store.DSN == "" {
		return errors.New("store.dsn is required")
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("invalid api.port %d", c.API.Port)
	}
	if c.API.MaxEvents < 0 {
		return fmt.Errorf("invalid api.max_events %d: must not be negative", c.API.MaxEvents)
	}
	if c.Discovery.SeenHosts <= 0 {
		return fmt.Errorf("invalid discovery.seen_hosts %d: must be positive", c.Discovery.SeenHosts)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("invalid pipeline.workers %d: must be positive", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize < 0 {
		return fmt.Errorf("invalid pipeline.queue_size %d", c.Pipeline.QueueSize)
	}
	if c.Pipeline.NotifyTimeout <= 0 {
		return fmt.Errorf("invalid pipeline.notify_timeout %s", c.Pipeline.NotifyTimeout)
	}
	if c.OVS.Enabled && c.OVS.PollInterval <= 0 {
		return fmt.Errorf("invalid ovs.poll_interval %s", c.OVS.PollInterval)
	}
	return nil
}

// APIServer converts the API section for the server
func (c *Config) APIServer() *api.Config {
	ac := c.API.Config
	ac.LogLevel = c.LogLevel
	return &ac
}

// WatcherSettings converts the watcher section. The database file is only
// watched for the sqlite3 driver.
func (c *Config) WatcherSettings(dbPath string) watcher.Config {
	wc := watcher.Config{PollInterval: c.Watcher.PollInterval}
	driver, err := store.NormalizeDriver(c.Store.Driver)
	if c.Watcher.WatchFile && err == nil && driver == store.DriverSQLite {
		wc.WatchFile = dbPath
	}
	return wc
}
