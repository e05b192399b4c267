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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultAgent is the knowledge base updated when the caller omits the
// agent parameter.
const DefaultAgent = "nutria"

// updateTimeout bounds a full indexing run. Document pipelines are slow;
// this is deliberately generous.
const updateTimeout = 15 * time.Minute

// IngestionResult is what the indexing pipeline reports back.
type IngestionResult struct {
	Error     string `json:"error,omitempty"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

// Ingester triggers a document indexing run for one knowledge base.
type Ingester interface {
	Run(agent string) (*IngestionResult, error)
}

// HTTPIngester proxies indexing runs to the ingestion service.
type HTTPIngester struct {
	baseURL string
	client  *http.Client
}

// NewHTTPIngester builds an ingester for the pipeline at baseURL.
func NewHTTPIngester(baseURL string) *HTTPIngester {
	return &HTTPIngester{
		baseURL: baseURL,
		client:  &http.Client{Timeout: updateTimeout},
	}
}

// Run triggers the pipeline and decodes its report.
func (i *HTTPIngester) Run(agent string) (*IngestionResult, error) {
	url := fmt.Sprintf("%s/run?agent=%s", i.baseURL, agent)
	resp, err := i.client.Post(url, "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to reach the ingestion pipeline: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read the pipeline response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingestion pipeline returned status %d", resp.StatusCode)
	}

	var result IngestionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse the pipeline response: %w", err)
	}
	return &result, nil
}

// Update handles POST /update: it triggers a document indexing run for the
// selected knowledge base. Called by the scheduler daily; the response
// reports how many documents were processed.
func Update(ingester Ingester) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent := c.DefaultQuery("agent", DefaultAgent)
		slog.Info("Indexing pipeline triggered",
			"agent", agent,
			"user_agent", c.GetHeader("User-Agent"))

		result, err := ingester.Run(agent)
		if err != nil {
			slog.Error("Indexing pipeline failed", "agent", agent, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{
				"status":    "error",
				"message":   fmt.Sprintf("Pipeline failed for %s", agent),
				"timestamp": time.Now().Format(time.RFC3339),
			})
			return
		}
		if result.Error != "" {
			slog.Error("Indexing pipeline reported an error", "agent", agent, "error", result.Error)
			c.JSON(http.StatusOK, gin.H{
				"status":    "error",
				"message":   result.Error,
				"timestamp": time.Now().Format(time.RFC3339),
			})
			return
		}

		slog.Info("Indexing pipeline completed",
			"agent", agent, "processed", result.Processed, "total", result.Total)
		c.JSON(http.StatusOK, gin.H{
			"status":    "success",
			"message":   fmt.Sprintf("Pipeline executed successfully for %s", agent),
			"agent":     agent,
			"processed": result.Processed,
			"total":     result.Total,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}
