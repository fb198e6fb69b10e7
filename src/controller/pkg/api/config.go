// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package api

import (
	"fmt"
	"time"
)

// DefaultMaxEvents caps GET /events when the caller asks for everything
const DefaultMaxEvents = 1000

// Config holds the ops API listener and request limits
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds how long Stop waits for in-flight requests
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	EnableCORS bool `yaml:"enable_cors"`

	// MaxEvents is the largest page the events endpoint returns; 0 is unlimited
	MaxEvents int `yaml:"max_events"`

	// LogLevel is the controller log level; debug puts gin in debug mode
	LogLevel string `yaml:"-"`
}

// DefaultConfig returns a loopback listener on 8080
func DefaultConfig() *Config {
	return &Config{
		Host:            "127.0.0.1",
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		EnableCORS:      true,
		MaxEvents:       DefaultMaxEvents,
		LogLevel:        "info",
	}
}

// Addr is the host:port the server listens on
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
