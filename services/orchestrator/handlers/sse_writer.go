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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
)

// =============================================================================
// SSE Writer
// =============================================================================

// sseWriter serializes stream events onto an HTTP response in SSE wire
// format:
//
//	event: {type}
//	data: {json}
//
// Each event carries integrity metadata: a UUID, a creation timestamp, a
// SHA-256 hash of its content, and the hash of the previous event, forming
// a verifiable chain over the streamed answer.
//
// # Thread Safety
//
// Thread-safe via mutex; the keepalive ticker and the pipeline may write
// concurrently. Hash chain integrity is maintained across concurrent
// writes.
//
// # Limitations
//
//   - Requires an http.Flusher-compatible ResponseWriter.
//   - Cannot be reused across requests.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// newSSEWriter wraps w for SSE streaming. The caller must set the SSE
// headers (SetSSEHeaders) before the first write.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// writeEvent assigns the event metadata, extends the hash chain, and
// flushes the serialized event.
func (w *sseWriter) writeEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// computeEventHash hashes every content field so the chain covers the
// answer text, the references, and the identifiers.
func computeEventHash(event datatypes.StreamEvent) string {
	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Error,
		event.SessionId,
		event.QuestionId,
		strings.Join(event.References, ","),
	)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// Session writes the bootstrap event carrying the resolved IDs.
func (w *sseWriter) Session(sessionID, questionID string) error {
	return w.writeEvent(datatypes.StreamEvent{
		Type:       "session",
		SessionId:  sessionID,
		QuestionId: questionID,
	})
}

// Chunk writes one answer fragment. Each call flushes immediately.
func (w *sseWriter) Chunk(content string) error {
	return w.writeEvent(datatypes.StreamEvent{
		Type:    "chunk",
		Content: content,
	})
}

// References writes the reference identifiers for the finished answer. An
// empty slice still produces the event so clients always see it once.
func (w *sseWriter) References(refs []string) error {
	return w.writeEvent(datatypes.StreamEvent{
		Type:       "references",
		References: refs,
	})
}

// Error writes a sanitized failure message. The stream should be closed
// right after (via Done).
func (w *sseWriter) Error(message string) error {
	return w.writeEvent(datatypes.StreamEvent{
		Type:  "error",
		Error: message,
	})
}

// Done writes the terminal event.
func (w *sseWriter) Done() error {
	return w.writeEvent(datatypes.StreamEvent{Type: "done"})
}

// WriteKeepAlive sends an SSE comment (": ping") to keep the TCP
// connection alive during long operations. Clients ignore comments but
// load balancer timeout counters reset. Comments do not extend the hash
// chain.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response headers required for SSE
// streaming. Must be called before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
