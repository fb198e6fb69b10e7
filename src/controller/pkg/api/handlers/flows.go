// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/api/models"
)

// FlowHandler handles compiled policy and switch requests
type FlowHandler struct {
	controller Controller
}

// NewFlowHandler creates a new flow handler
func NewFlowHandler(ctrl Controller) *FlowHandler {
	return &FlowHandler{
		controller: ctrl,
	}
}

// ListFlows handles GET /api/v1/flows
func (h *FlowHandler) ListFlows(c *gin.Context) {
	c.JSON(http.StatusOK, models.NewFlowListResponse(h.controller.Compiled()))
}

// ListSwitches handles GET /api/v1/switches
func (h *FlowHandler) ListSwitches(c *gin.Context) {
	switches := h.controller.Switches()

	response := models.SwitchListResponse{
		Switches: make([]models.SwitchResponse, 0, len(switches)),
		Count:    len(switches),
	}
	for _, sw := range switches {
		response.Switches = append(response.Switches, models.SwitchResponse{
			SwitchID:    sw.ID,
			ConnectedAt: sw.ConnectedAt,
			LastSync:    sw.LastSync,
			Installed:   sw.Installed,
			Failed:      sw.Failed,
		})
	}

	c.JSON(http.StatusOK, response)
}

// Resync handles POST /api/v1/resync
// It recompiles the policy and reinstalls it on every connected switch.
func (h *FlowHandler) Resync(c *gin.Context) {
	res, err := h.controller.Resync(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to resync switches: %v", err)
		c.JSON(http.StatusInternalServerError, models.NewErrorResponse(
			http.StatusInternalServerError,
			"resync_error",
			"Failed to resync switches",
			err.Error(),
		))
		return
	}

	c.JSON(http.StatusOK, models.ResyncResponse{
		Entries:  len(res.Entries),
		Warnings: len(res.Warnings),
		Switches: len(h.controller.Switches()),
	})
}
