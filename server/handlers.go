// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the scheduler state over HTTP.
//
// The surface is read-mostly: progress and per-component status snapshots,
// an abort endpoint, a Prometheus metrics endpoint, and a WebSocket stream
// of lifecycle events for dashboards.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/ignition/loader"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers contains the HTTP handlers for the scheduler API.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	sched  *loader.Scheduler
	logger *slog.Logger
}

// NewHandlers creates handlers for the given scheduler.
//
// Inputs:
//
//	sched - The scheduler to expose. Must not be nil.
//
// Outputs:
//
//	*Handlers - The configured handlers.
func NewHandlers(sched *loader.Scheduler) *Handlers {
	return &Handlers{
		sched:  sched,
		logger: slog.Default().With(slog.String("subsystem", "server")),
	}
}

// HandleProgress handles GET /v1/ignition/progress.
//
// Response:
//
//	200 OK: loader.Progress snapshot
func (h *Handlers) HandleProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.sched.Progress())
}

// HandleComponents handles GET /v1/ignition/components.
//
// Response:
//
//	200 OK: []loader.ComponentStatus, one entry per registered component
func (h *Handlers) HandleComponents(c *gin.Context) {
	c.JSON(http.StatusOK, h.sched.Components())
}

// HandleComponent handles GET /v1/ignition/components/:id.
//
// Response:
//
//	200 OK: loader.ComponentStatus
//	404 Not Found: Unknown component id
func (h *Handlers) HandleComponent(c *gin.Context) {
	id := c.Param("id")
	status, ok := h.sched.ComponentStatus(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Unknown component: " + id,
			Code:  "COMPONENT_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleAbort handles POST /v1/ignition/abort.
//
// Description:
//
//	Requests cooperative abort of the active run. In-flight loads finish;
//	no new loads start. Idempotent, and a no-op when no run is active.
//
// Response:
//
//	202 Accepted: Abort requested
func (h *Handlers) HandleAbort(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	h.logger.Info("Abort requested over HTTP", slog.String("request_id", requestID))
	h.sched.AbortLoading()
	c.JSON(http.StatusAccepted, gin.H{"status": "abort_requested"})
}

// HandleEvents handles GET /v1/ignition/events.
//
// Description:
//
//	Returns buffered lifecycle events, optionally filtered by type or
//	bounded by the ?limit query parameter.
//
// Response:
//
//	200 OK: []events.Event
//	400 Bad Request: Invalid limit
func (h *Handlers) HandleEvents(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_LIMIT",
		})
		return
	}

	buf := h.sched.Emitter().GetBuffer()
	if limit > 0 && limit < len(buf) {
		buf = buf[len(buf)-limit:]
	}
	c.JSON(http.StatusOK, buf)
}

// HandleHealth handles GET /v1/ignition/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseLimit parses the optional ?limit parameter. Empty means no limit.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, errors.New("limit must be a non-negative integer")
		}
		limit = limit*10 + int(r-'0')
		if limit > 1<<20 {
			return 0, errors.New("limit too large")
		}
	}
	return limit, nil
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
