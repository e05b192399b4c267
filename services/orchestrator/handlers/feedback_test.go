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
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imxlabs/nutria/services/orchestrator/qlog"
)

func newTestQLog(t *testing.T) *qlog.Log {
	t.Helper()
	log := qlog.NewLog(filepath.Join(t.TempDir(), "question_log.json"))
	require.NoError(t, log.Append("q-1", "Quels sont les effets des fibres ?", "Les fibres ralentissent la digestion."))
	return log
}

func TestAddComment_Success(t *testing.T) {
	log := newTestQLog(t)

	rec := performJSON(t, AddComment(log), http.MethodPost,
		"/api/add_comment", `{"question_id":"q-1","comment":"bonne réponse"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decodeBody(t, rec)["status"])

	entries, err := log.Entries()
	require.NoError(t, err)
	require.Len(t, entries[0].Comments, 1)
	assert.Equal(t, "bonne réponse", entries[0].Comments[0].Comment)
}

func TestAddComment_UnknownQuestion(t *testing.T) {
	log := newTestQLog(t)

	rec := performJSON(t, AddComment(log), http.MethodPost,
		"/api/add_comment", `{"question_id":"nope","comment":"x"}`)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Question ID not found", decodeBody(t, rec)["message"])
}

func TestAddComment_MissingFields(t *testing.T) {
	log := newTestQLog(t)

	rec := performJSON(t, AddComment(log), http.MethodPost,
		"/api/add_comment", `{"question_id":"q-1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLikeAnswer_RecordsVote(t *testing.T) {
	log := newTestQLog(t)

	rec := performJSON(t, LikeAnswer(log), http.MethodPost,
		"/api/like_answer", `{"question_id":"q-1","liked":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Vote recorded", decodeBody(t, rec)["message"])

	entries, err := log.Entries()
	require.NoError(t, err)
	require.NotNil(t, entries[0].Likes)
	assert.True(t, entries[0].Likes.Like)
}

func TestLikeAnswer_RequiresLikedField(t *testing.T) {
	log := newTestQLog(t)

	rec := performJSON(t, LikeAnswer(log), http.MethodPost,
		"/api/like_answer", `{"question_id":"q-1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLikeAnswer_UnknownQuestion(t *testing.T) {
	log := newTestQLog(t)

	rec := performJSON(t, LikeAnswer(log), http.MethodPost,
		"/api/like_answer", `{"question_id":"nope","liked":false}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadLog_DisabledWithoutKey(t *testing.T) {
	log := newTestQLog(t)
	t.Setenv("ADMIN_LOG_KEY", "")

	rec := performJSON(t, DownloadLog(log), http.MethodGet,
		"/api/download_log?key=anything", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDownloadLog_RejectsBadKey(t *testing.T) {
	log := newTestQLog(t)
	t.Setenv("ADMIN_LOG_KEY", "secret")

	rec := performJSON(t, DownloadLog(log), http.MethodGet,
		"/api/download_log?key=wrong", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDownloadLog_ServesFile(t *testing.T) {
	log := newTestQLog(t)
	t.Setenv("ADMIN_LOG_KEY", "secret")

	rec := performJSON(t, DownloadLog(log), http.MethodGet,
		"/api/download_log?key=secret", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "question_log.json")
	assert.Contains(t, rec.Body.String(), "q-1")
}
