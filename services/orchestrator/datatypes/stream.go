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

// StreamEvent is the wire payload of a single SSE event on /query.
//
// Every event carries integrity metadata: a UUID, a creation timestamp, a
// SHA-256 hash of its content, and the hash of the previous event, forming a
// verifiable chain over the streamed answer.
//
// Event types:
//   - "session": bootstrap event with SessionId and QuestionId.
//   - "chunk": one answer fragment in Content.
//   - "references": extracted reference identifiers for the answer. Emitted
//     exactly once per query; empty for refused answers and answers the
//     post-response classifier flagged.
//   - "error": sanitized failure message in Error.
//   - "done": terminal event.
type StreamEvent struct {
	Id         string   `json:"id"`
	Type       string   `json:"type"`
	CreatedAt  int64    `json:"created_at"`
	Hash       string   `json:"hash"`
	PrevHash   string   `json:"prev_hash"`
	Content    string   `json:"content,omitempty"`
	Error      string   `json:"error,omitempty"`
	SessionId  string   `json:"session_id,omitempty"`
	QuestionId string   `json:"question_id,omitempty"`
	References []string `json:"references,omitempty"`
}

// ModelConfig selects the generation backend and model for a query. It is
// resolved by the prompt assembler from the language template, with
// environment overrides applied at startup.
type ModelConfig struct {
	Supplier string `json:"supplier"`
	Name     string `json:"name"`
}
