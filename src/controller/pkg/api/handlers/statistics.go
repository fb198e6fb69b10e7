// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sdn-microsegment/src/controller/pkg/api/models"
	"github.com/sdn-microsegment/src/controller/pkg/discovery"
)

// StatisticsHandler handles counter and host table requests
type StatisticsHandler struct {
	controller Controller
	hosts      HostTable
	pool       PoolStats
	watcher    WatcherStats
	drops      DropCounter
}

// NewStatisticsHandler creates a new statistics handler. pool, watcher and
// drops may be nil.
func NewStatisticsHandler(ctrl Controller, hosts HostTable, pool PoolStats, w WatcherStats, drops DropCounter) *StatisticsHandler {
	return &StatisticsHandler{
		controller: ctrl,
		hosts:      hosts,
		pool:       pool,
		watcher:    w,
		drops:      drops,
	}
}

// GetAllStats handles GET /api/v1/stats
func (h *StatisticsHandler) GetAllStats(c *gin.Context) {
	response := models.StatisticsResponse{
		Discovery: h.hosts.Stats(),
		Sync:      h.controller.Stats(),
	}
	if h.pool != nil {
		ps := h.pool.Stats()
		response.Pipeline = &ps
	}
	if h.watcher != nil {
		ws := h.watcher.Stats()
		response.Watcher = &ws
	}
	if h.drops != nil {
		response.DroppedPktIn = h.drops.Dropped()
	}

	c.JSON(http.StatusOK, response)
}

// ListHosts handles GET /api/v1/hosts
func (h *StatisticsHandler) ListHosts(c *gin.Context) {
	hosts := h.hosts.Hosts()
	if hosts == nil {
		hosts = []discovery.Host{}
	}

	c.JSON(http.StatusOK, models.HostListResponse{
		Hosts: hosts,
		Count: len(hosts),
	})
}
