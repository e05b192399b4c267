// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session stores per-conversation state with idle-based expiry.
// The query pipeline sweeps expired sessions at the start of every request
// instead of running a background reaper.
package session

import (
	"context"
	"errors"

	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
)

// ErrNotFound is returned by Info and Delete when the session does not
// exist (or has already expired and been swept).
var ErrNotFound = errors.New("session not found")

// Store is the contract for session storage drivers.
//
// Get and Create return a live pointer into the store: mutations made by
// the caller are visible to every other holder of the same session without
// a write-back call. Drivers synchronize the session *map*, not the
// contents of individual sessions — two in-flight requests on the same
// session ID can interleave their history mutations. That hazard is an
// accepted product constraint (one browser tab per conversation); a driver
// that serializes per-session access can be swapped in behind this
// interface without touching the pipeline.
type Store interface {
	// Get returns the session for id, or (nil, nil) when absent.
	Get(ctx context.Context, id string) (*datatypes.Session, error)

	// Create creates and returns an empty session under id.
	Create(ctx context.Context, id string) (*datatypes.Session, error)

	// Delete removes the session. Returns ErrNotFound when absent.
	Delete(ctx context.Context, id string) error

	// SweepExpired removes every session idle beyond the TTL and returns
	// how many were dropped.
	SweepExpired(ctx context.Context) int

	// Info returns lifecycle metadata for the session without touching its
	// activity timestamp. Returns ErrNotFound when absent.
	Info(ctx context.Context, id string) (*datatypes.SessionInfo, error)

	// Close releases driver resources.
	Close() error
}
