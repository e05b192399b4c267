// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imxlabs/nutria/services/orchestrator/handlers"
	"github.com/imxlabs/nutria/services/orchestrator/observability"
	"github.com/imxlabs/nutria/services/orchestrator/qlog"
	"github.com/imxlabs/nutria/services/orchestrator/services"
	"github.com/imxlabs/nutria/services/orchestrator/session"
)

// Deps carries everything the route handlers need.
type Deps struct {
	Query     *services.QueryService
	Sessions  session.Store
	Retriever services.Retriever
	Log       *qlog.Log
	Ingester  handlers.Ingester
	Metrics   *observability.QueryMetrics
}

// SetupRoutes registers the full HTTP surface on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.Health())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/query", handlers.Query(deps.Query, deps.Metrics))
	router.POST("/update", handlers.Update(deps.Ingester))

	api := router.Group("/api")
	{
		api.GET("/references", handlers.GetReferences(deps.Sessions, deps.Retriever))
		api.POST("/reset_session", handlers.ResetSession(deps.Sessions))
		api.GET("/session_info", handlers.SessionInfo(deps.Sessions))
		api.POST("/add_comment", handlers.AddComment(deps.Log))
		api.POST("/like_answer", handlers.LikeAnswer(deps.Log))
		api.GET("/download_log", handlers.DownloadLog(deps.Log))
	}
}
