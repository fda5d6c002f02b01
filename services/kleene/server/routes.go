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

	"github.com/AleutianAI/kleene/services/kleene/telemetry"
)

// RegisterRoutes registers the API under rg.
//
// Endpoints:
//
//	POST /v1/eval - Evaluate a tree document
//	POST /v1/fuse - Fuse a readings document
//	GET  /v1/threshold - Controller state
//	POST /v1/threshold/checkpoints - Save the controller
//	POST /v1/threshold/restore - Restore the controller
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.POST("/eval", h.HandleEval)
	rg.POST("/fuse", h.HandleFuse)

	th := rg.Group("/threshold")
	{
		th.GET("", h.HandleThreshold)
		th.POST("/checkpoints", h.HandleSaveCheckpoint)
		th.POST("/restore", h.HandleRestoreCheckpoint)
	}
}

// RegisterOperational adds /health and /metrics.
func RegisterOperational(router *gin.Engine, h *Handlers) {
	if h != nil {
		router.GET("/health", h.HandleHealth)
	}
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
}

// NewRouter builds the full engine with recovery and tracing middleware.
// h may be nil for a metrics-only router.
func NewRouter(serviceName string, h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	RegisterOperational(router, h)
	if h != nil {
		RegisterRoutes(router.Group("/v1"), h)
	}
	return router
}
