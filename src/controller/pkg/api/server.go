// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/api/handlers"
)

// Version is reported by the status endpoint
var Version = "0.1.0"

// Deps are the controller components the API reads and drives. Pool,
// Watcher and Dispatcher are optional.
type Deps struct {
	Controller handlers.Controller
	Store      handlers.EventStore
	Hosts      handlers.HostTable
	Pool       handlers.PoolStats
	Watcher    handlers.WatcherStats
	Dispatcher handlers.DropCounter
}

// Server is the operational HTTP API of the controller
type Server struct {
	config     *Config
	deps       Deps
	httpServer *http.Server
	router     *gin.Engine
}

// NewAPIServer creates a server with its middleware and routes registered.
// A nil cfg uses defaults.
func NewAPIServer(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Controller == nil || deps.Store == nil || deps.Hosts == nil {
		return nil, errors.New("api server requires a controller, a store and a host table")
	}

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config: cfg,
		deps:   deps,
		router: gin.New(),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server, nil
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	addr := s.config.Addr()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	log.Infof("Starting API server on %s", ln.Addr())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("API server failed: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server, waiting up to the configured
// shutdown timeout for in-flight requests
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	log.Info("Shutting down API server...")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Errorf("API server forced to shutdown: %v", err)
		return err
	}

	log.Info("API server stopped gracefully")
	return nil
}

// GetRouter returns the underlying Gin router, for tests
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
