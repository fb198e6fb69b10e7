// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sdn-microsegment/src/controller/pkg/api/models"
)

var startTime = time.Now()

// HealthHandler handles health check requests
type HealthHandler struct {
	version    string
	controller Controller
	store      EventStore
	hosts      HostTable
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, ctrl Controller, store EventStore, hosts HostTable) *HealthHandler {
	return &HealthHandler{
		version:    version,
		controller: ctrl,
		store:      store,
		hosts:      hosts,
	}
}

// GetHealth handles GET /api/v1/health
func (h *HealthHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Message: "Controller is healthy",
	})
}

// GetStatus handles GET /api/v1/status
// The status is degraded when the policy store cannot be read.
func (h *HealthHandler) GetStatus(c *gin.Context) {
	compiled := h.controller.Compiled()

	response := models.StatusResponse{
		Status:  "ok",
		Version: h.version,
		Store:   models.StoreStatus{Status: "ok"},
		Policy: models.PolicyState{
			Rules:    compiled.Rules,
			Entries:  len(compiled.Entries),
			Warnings: len(compiled.Warnings),
		},
		Switches: len(h.controller.Switches()),
		Uptime:   int64(time.Since(startTime).Seconds()),
	}

	rev, err := h.store.Revision(c.Request.Context())
	if err != nil {
		response.Status = "degraded"
		response.Store = models.StoreStatus{Status: "error", Message: err.Error()}
	} else {
		response.Store.Revision = rev
	}

	if h.hosts != nil {
		response.Hosts = len(h.hosts.Hosts())
	}

	c.JSON(http.StatusOK, response)
}
