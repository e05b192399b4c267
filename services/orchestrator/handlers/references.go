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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
	"github.com/imxlabs/nutria/services/orchestrator/retrieval"
	"github.com/imxlabs/nutria/services/orchestrator/services"
	"github.com/imxlabs/nutria/services/orchestrator/session"
)

// GetReferences handles GET /api/references.
//
// Two lookup modes:
//   - session_id + question_id: serve the references cached when the answer
//     was generated. Refused or disclaimer-classified answers always come
//     back empty, no matter what retrieval would find now.
//   - question: run retrieval for a standalone question and extract fresh
//     references, without touching any session.
//
// Both modes answer an empty list rather than an error when nothing is
// found.
func GetReferences(store session.Store, retriever services.Retriever) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ReferenceRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
			return
		}

		if req.SessionID != "" && req.QuestionID != "" {
			sess, err := store.Get(c.Request.Context(), req.SessionID)
			if err != nil {
				slog.Error("Failed to load a session for reference lookup",
					"session_id", req.SessionID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load the session"})
				return
			}
			refs := []string{}
			if sess != nil && !sess.Refusals[req.QuestionID] {
				if cached, ok := sess.Links[req.QuestionID]; ok && cached != nil {
					refs = cached
				}
			}
			c.JSON(http.StatusOK, gin.H{"references": refs})
			return
		}

		if req.Question != "" {
			result, err := retriever.Retrieve(c.Request.Context(), req.Question, retrieval.DefaultTopK)
			if err != nil {
				slog.Warn("Standalone reference lookup failed", "error", err)
				c.JSON(http.StatusOK, gin.H{"references": []string{}})
				return
			}
			c.JSON(http.StatusOK, gin.H{"references": result.References})
			return
		}

		c.JSON(http.StatusBadRequest, gin.H{
			"error": "provide session_id and question_id, or a question",
		})
	}
}
