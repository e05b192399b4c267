// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the gin HTTP handlers for the orchestrator.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
	"github.com/imxlabs/nutria/services/orchestrator/observability"
	"github.com/imxlabs/nutria/services/orchestrator/services"
)

// keepAliveInterval paces SSE comment pings during long operations.
const keepAliveInterval = 15 * time.Second

// Query handles POST /query: it validates the request, switches the
// response to SSE, and runs the query pipeline against the stream.
//
// Event order on the wire: session, zero or more chunks, references or
// error, done. Keepalive comments are interleaved while the pipeline works.
func Query(svc *services.QueryService, metrics *observability.QueryMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			slog.Warn("Rejected an invalid query request", "error", err)
			if metrics != nil {
				metrics.RecordError(observability.StageValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "question is required and limited to 16KB"})
			return
		}
		req.EnsureDefaults()

		SetSSEHeaders(c.Writer)
		writer, err := newSSEWriter(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		// Keepalives run until the pipeline returns.
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(keepAliveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := writer.WriteKeepAlive(); err != nil {
						return
					}
					if metrics != nil {
						metrics.RecordKeepAlive()
					}
				case <-done:
					return
				}
			}
		}()
		defer close(done)

		if err := svc.Process(c.Request.Context(), &req, writer); err != nil {
			// The stream is already committed; all we can do is log.
			slog.Error("Query stream aborted", "error", err)
		}
	}
}
