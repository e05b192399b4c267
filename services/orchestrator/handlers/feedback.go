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
	"os"

	"github.com/gin-gonic/gin"

	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
	"github.com/imxlabs/nutria/services/orchestrator/qlog"
)

// AddComment handles POST /api/add_comment: it attaches a reviewer comment
// to a logged question, replacing any previous comment on it.
func AddComment(log *qlog.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CommentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "question_id and comment are required"})
			return
		}

		err := log.AddComment(req.QuestionID, req.Comment)
		if errors.Is(err, qlog.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"status":  "error",
				"message": "Question ID not found",
			})
			return
		}
		if err != nil {
			slog.Error("Failed to add a comment", "question_id", req.QuestionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save the comment"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "Comment added",
		})
	}
}

// LikeAnswer handles POST /api/like_answer: it records a thumbs up/down on
// an answer, replacing any previous vote.
func LikeAnswer(log *qlog.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.LikeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil || req.Liked == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "question_id and liked are required"})
			return
		}

		err := log.SetLike(req.QuestionID, *req.Liked)
		if errors.Is(err, qlog.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"status":  "error",
				"message": "Question ID not found",
			})
			return
		}
		if err != nil {
			slog.Error("Failed to record a vote", "question_id", req.QuestionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record the vote"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "Vote recorded",
		})
	}
}

// DownloadLog handles GET /api/download_log: it serves the raw question
// log file to operators. Access is gated by the ADMIN_LOG_KEY environment
// variable; when it is unset the endpoint is disabled entirely.
func DownloadLog(log *qlog.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		adminKey := os.Getenv("ADMIN_LOG_KEY")
		if adminKey == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "log download is disabled"})
			return
		}
		if c.Query("key") != adminKey {
			slog.Warn("Rejected a log download with a bad key", "remote", c.ClientIP())
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid key"})
			return
		}

		if _, err := os.Stat(log.Path()); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no question log yet"})
			return
		}
		c.Header("Content-Disposition", "attachment; filename=question_log.json")
		c.File(log.Path())
	}
}
