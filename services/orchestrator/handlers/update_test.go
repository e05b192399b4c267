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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIngester struct {
	result *IngestionResult
	err    error
	agent  string
}

func (s *stubIngester) Run(agent string) (*IngestionResult, error) {
	s.agent = agent
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestUpdate_Success(t *testing.T) {
	ingester := &stubIngester{result: &IngestionResult{Processed: 7, Total: 9}}

	rec := performJSON(t, Update(ingester), http.MethodPost, "/update", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "nutria", body["agent"])
	assert.Equal(t, float64(7), body["processed"])
	assert.Equal(t, float64(9), body["total"])
	assert.Equal(t, "nutria", ingester.agent)
}

func TestUpdate_CustomAgent(t *testing.T) {
	ingester := &stubIngester{result: &IngestionResult{}}

	rec := performJSON(t, Update(ingester), http.MethodPost, "/update?agent=cardio", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cardio", ingester.agent)
}

func TestUpdate_PipelineUnreachable(t *testing.T) {
	ingester := &stubIngester{err: errors.New("connection refused")}

	rec := performJSON(t, Update(ingester), http.MethodPost, "/update", "")

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "error", decodeBody(t, rec)["status"])
}

func TestUpdate_PipelineReportsError(t *testing.T) {
	ingester := &stubIngester{result: &IngestionResult{Error: "drive auth expired"}}

	rec := performJSON(t, Update(ingester), http.MethodPost, "/update", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "drive auth expired", body["message"])
}

func TestHTTPIngester_Run(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "nutria", r.URL.Query().Get("agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"processed":3,"total":5}`))
	}))
	defer server.Close()

	result, err := NewHTTPIngester(server.URL).Run("nutria")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 5, result.Total)
}

func TestHTTPIngester_Run_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewHTTPIngester(server.URL).Run("nutria")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHealth(t *testing.T) {
	rec := performJSON(t, Health(), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}
