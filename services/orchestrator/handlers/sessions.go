// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
	"github.com/imxlabs/nutria/services/orchestrator/session"
)

// ResetSession handles POST /api/reset_session: it drops the conversation
// so the next query starts fresh. Resetting a session that no longer
// exists is not an error; the client just learns there was nothing to do.
func ResetSession(store session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ResetSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
			return
		}

		err := store.Delete(c.Request.Context(), req.SessionID)
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "info",
				"message": "No active session to reset",
			})
			return
		}
		if err != nil {
			slog.Error("Failed to reset a session", "session_id", req.SessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset the session"})
			return
		}

		slog.Info("Session reset", "session_id", req.SessionID)
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "Session reset successfully",
		})
	}
}

// SessionInfo handles GET /api/session_info: lifecycle metadata for a
// session without touching its activity timestamp. Missing or expired
// sessions answer exists=false instead of a 404 so polling clients can
// treat both states uniformly.
func SessionInfo(store session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("session_id")
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
			return
		}

		info, err := store.Info(c.Request.Context(), id)
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{
				"exists":  false,
				"message": "Session not found or expired",
			})
			return
		}
		if err != nil {
			slog.Error("Failed to read session info", "session_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read session info"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"exists":        true,
			"session_id":    info.SessionID,
			"message_count": info.MessageCount,
			"created_at":    info.CreatedAt,
			"last_activity": info.LastActivity,
		})
	}
}
