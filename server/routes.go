// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/ignition/telemetry"
)

// RegisterRoutes registers all scheduler API routes with the router group.
//
// Description:
//
//	Registers the /ignition/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET  /v1/ignition/progress - Aggregate run progress
//	GET  /v1/ignition/components - All component statuses
//	GET  /v1/ignition/components/:id - Single component status
//	GET  /v1/ignition/events - Buffered lifecycle events
//	GET  /v1/ignition/events/stream - Live event stream over WebSocket
//	POST /v1/ignition/abort - Request cooperative abort
//	GET  /v1/ignition/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	ignition := rg.Group("/ignition")
	{
		ignition.GET("/progress", handlers.HandleProgress)
		ignition.GET("/components", handlers.HandleComponents)
		ignition.GET("/components/:id", handlers.HandleComponent)

		ignition.GET("/events", handlers.HandleEvents)
		ignition.GET("/events/stream", handlers.HandleEventStream)

		ignition.POST("/abort", handlers.HandleAbort)

		ignition.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds the default router: recovery middleware, OpenTelemetry
// instrumentation, the /metrics Prometheus endpoint, and all /v1 routes.
func NewRouter(handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("ignition"))

	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}
