// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package api

import (
	"github.com/sdn-microsegment/src/controller/pkg/api/handlers"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	d := s.deps
	healthHandler := handlers.NewHealthHandler(Version, d.Controller, d.Store, d.Hosts)
	flowHandler := handlers.NewFlowHandler(d.Controller)
	eventHandler := handlers.NewEventHandler(d.Store, s.config.MaxEvents)
	statsHandler := handlers.NewStatisticsHandler(d.Controller, d.Hosts, d.Pool, d.Watcher, d.Dispatcher)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.GetHealth)
		v1.GET("/status", healthHandler.GetStatus)

		v1.GET("/flows", flowHandler.ListFlows)
		v1.GET("/switches", flowHandler.ListSwitches)
		v1.POST("/resync", flowHandler.Resync)

		v1.GET("/hosts", statsHandler.ListHosts)
		v1.GET("/stats", statsHandler.GetAllStats)

		events := v1.Group("/events")
		{
			events.GET("", eventHandler.ListEvents)
			events.DELETE("/:id", eventHandler.DeleteEvent)
		}
	}
}
