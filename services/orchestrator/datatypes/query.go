// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the request types for the query pipeline and the
// question-log collaborators (comments, likes).
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

const (
	// MaxQuestionBytes is the maximum size of a single question.
	MaxQuestionBytes = 16 * 1024 // 16KB

	// DefaultLanguage is applied when the client omits the language field.
	DefaultLanguage = "fr"

	// DefaultTimezone is applied when the client omits the timezone field.
	DefaultTimezone = "UTC"

	// DefaultLocale is applied when the client omits the locale field.
	DefaultLocale = "fr-FR"
)

// queryValidate is the validator instance for query datatypes.
var queryValidate *validator.Validate

func init() {
	queryValidate = validator.New()
	_ = queryValidate.RegisterValidation("maxbytes", validateQuestionBytes)
}

// validateQuestionBytes checks byte length (not rune count) so oversized
// payloads are rejected regardless of encoding.
func validateQuestionBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQuestionBytes
}

// QueryRequest is the body of POST /query.
//
// # Fields
//
//   - Question: Required. The raw user question. Limited to 16KB.
//   - Language: Optional. "fr" or "en"; defaults to "fr". Drives the risk
//     gate pattern table, the prompt template, and the canned responses.
//   - Timezone: Optional. IANA timezone name surfaced to the prompt
//     assembler for date rendering. Defaults to "UTC".
//   - Locale: Optional. BCP-47 locale for date formatting. Defaults to
//     "fr-FR".
//   - SessionID: Optional. Reuses an existing conversation when it still
//     exists; a fresh session is created otherwise (including when the
//     referenced session expired).
type QueryRequest struct {
	Question  string `json:"question" validate:"required,maxbytes"`
	Language  string `json:"language" validate:"omitempty,oneof=fr en"`
	Timezone  string `json:"timezone"`
	Locale    string `json:"locale"`
	SessionID string `json:"session_id"`
}

// Validate validates the QueryRequest fields after JSON binding.
func (r *QueryRequest) Validate() error {
	return queryValidate.Struct(r)
}

// EnsureDefaults populates the optional fields the client omitted.
func (r *QueryRequest) EnsureDefaults() {
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	if r.Timezone == "" {
		r.Timezone = DefaultTimezone
	}
	if r.Locale == "" {
		r.Locale = DefaultLocale
	}
}

// ReferenceRequest is the query string of GET /api/references. Either a
// (SessionID, QuestionID) pair or a standalone Question must be provided.
type ReferenceRequest struct {
	SessionID  string `form:"session_id"`
	QuestionID string `form:"question_id"`
	Question   string `form:"question"`
}

// ResetSessionRequest is the body of POST /api/reset_session.
type ResetSessionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

// Validate validates the ResetSessionRequest fields.
func (r *ResetSessionRequest) Validate() error {
	return queryValidate.Struct(r)
}

// CommentRequest is the body of POST /api/add_comment. Comments attach to a
// logged question by its question ID.
type CommentRequest struct {
	QuestionID string `json:"question_id" validate:"required"`
	Comment    string `json:"comment" validate:"required,maxbytes"`
	Author     string `json:"author"`
}

// Validate validates the CommentRequest fields.
func (r *CommentRequest) Validate() error {
	return queryValidate.Struct(r)
}

// LikeRequest is the body of POST /api/like_answer. Liked is a pointer so an
// explicit "liked": false survives JSON binding as a downvote; requests that
// omit the field are rejected.
type LikeRequest struct {
	QuestionID string `json:"question_id" validate:"required"`
	Liked      *bool  `json:"liked"`
}

// Validate validates the LikeRequest fields.
func (r *LikeRequest) Validate() error {
	return queryValidate.Struct(r)
}
