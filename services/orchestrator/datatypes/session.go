// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package datatypes

import (
	"time"
)

// Message is a single conversation turn, shared between the session history
// and the LLM chat APIs.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session holds the full per-conversation state kept by the session store.
//
// # Fields
//
//   - ID: UUID v4 session identifier, generated server-side.
//   - Messages: Chronological conversation history (user and assistant turns).
//     Refused questions are removed again before the request finishes, so
//     they never poison later prompts.
//   - CreatedAt / LastActivity: Lifecycle timestamps. LastActivity drives
//     expiry; any query against the session refreshes it.
//   - Links: question ID -> extracted reference identifiers for that answer.
//     Consulted by the reference lookup endpoint.
//   - Refusals: question IDs whose answers must never surface references
//     (refused questions and disclaimer-classified answers).
type Session struct {
	ID           string              `json:"session_id"`
	Messages     []Message           `json:"messages"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActivity time.Time           `json:"last_activity"`
	Links        map[string][]string `json:"links"`
	Refusals     map[string]bool     `json:"refusals"`
}

// NewSession creates an empty session with both timestamps set to now.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Messages:     []Message{},
		CreatedAt:    now,
		LastActivity: now,
		Links:        make(map[string][]string),
		Refusals:     make(map[string]bool),
	}
}

// Touch refreshes the activity timestamp.
func (s *Session) Touch() {
	s.LastActivity = time.Now()
}

// Expired reports whether the session has been idle longer than ttl.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastActivity) > ttl
}

// Append adds a turn to the conversation history.
func (s *Session) Append(role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

// TrimLastMessage removes the most recent turn. Used to unwind the user
// turn of a refused question so history stays as it was before the request.
func (s *Session) TrimLastMessage() {
	if len(s.Messages) > 0 {
		s.Messages = s.Messages[:len(s.Messages)-1]
	}
}

// SessionInfo is the response of GET /api/session_info.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}
