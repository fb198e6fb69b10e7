// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/api/models"
	"github.com/sdn-microsegment/src/controller/pkg/store"
)

// EventHandler handles discovery event requests
type EventHandler struct {
	store     EventStore
	maxEvents int
}

// NewEventHandler creates a new event handler. A positive maxEvents caps
// every listing.
func NewEventHandler(s EventStore, maxEvents int) *EventHandler {
	return &EventHandler{
		store:     s,
		maxEvents: maxEvents,
	}
}

// ListEvents handles GET /api/v1/events
// The optional limit query parameter bounds the result, newest first.
func (h *EventHandler) ListEvents(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, models.NewErrorResponse(
				http.StatusBadRequest,
				"validation_error",
				"Invalid limit",
				raw,
			))
			return
		}
		limit = n
	}
	if h.maxEvents > 0 && (limit == 0 || limit > h.maxEvents) {
		limit = h.maxEvents
	}

	list, err := h.store.ListEvents(c.Request.Context(), limit)
	if err != nil {
		log.Errorf("Failed to list events: %v", err)
		c.JSON(http.StatusInternalServerError, models.NewErrorResponse(
			http.StatusInternalServerError,
			"store_error",
			"Failed to retrieve events",
			err.Error(),
		))
		return
	}

	c.JSON(http.StatusOK, models.EventListResponse{
		Events: list,
		Count:  len(list),
	})
}

// DeleteEvent handles DELETE /api/v1/events/:id
// Deleting an event removes its host from the managed group.
func (h *EventHandler) DeleteEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, models.NewErrorResponse(
			http.StatusBadRequest,
			"validation_error",
			"Invalid event ID",
			c.Param("id"),
		))
		return
	}

	err = h.store.DeleteEvent(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.NewErrorResponse(
			http.StatusNotFound,
			"not_found",
			fmt.Sprintf("Event %d not found", id),
			nil,
		))
		return
	}
	if err != nil {
		log.Errorf("Failed to delete event: %v", err)
		c.JSON(http.StatusInternalServerError, models.NewErrorResponse(
			http.StatusInternalServerError,
			"store_error",
			"Failed to delete event",
			err.Error(),
		))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Event %d deleted successfully", id),
	})
}
