// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
)

// DefaultTTL is the idle timeout after which a session is dropped.
const DefaultTTL = 2 * time.Hour

// MemoryStore is the in-process Store driver. The RWMutex guards the map
// itself; returned *Session values are shared live state (see the Store
// interface for the concurrency contract).
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*datatypes.Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore creates a MemoryStore with the given idle TTL. A zero or
// negative ttl falls back to DefaultTTL with a logged warning.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		slog.Warn("Session TTL not set, using default", "default", DefaultTTL)
		ttl = DefaultTTL
	}
	return &MemoryStore{
		sessions: make(map[string]*datatypes.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*datatypes.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id], nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, id string) (*datatypes.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := datatypes.NewSession(id)
	s.sessions[id] = sess
	slog.Info("Created session", "session_id", id)
	return sess, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	slog.Info("Deleted session", "session_id", id)
	return nil
}

// SweepExpired implements Store.
func (s *MemoryStore) SweepExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dropped := 0
	for id, sess := range s.sessions {
		if sess.Expired(s.ttl, now) {
			delete(s.sessions, id)
			dropped++
		}
	}
	if dropped > 0 {
		slog.Info("Swept expired sessions", "dropped", dropped, "remaining", len(s.sessions))
	}
	return dropped
}

// Info implements Store.
func (s *MemoryStore) Info(ctx context.Context, id string) (*datatypes.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &datatypes.SessionInfo{
		SessionID:    sess.ID,
		MessageCount: len(sess.Messages),
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
	}, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
