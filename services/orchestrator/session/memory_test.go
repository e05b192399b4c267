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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(DefaultTTL)
	ctx := context.Background()

	created, err := store.Create(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, created)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Same(t, created, got, "Get must return the live session pointer")

	missing, err := store.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStore_MutationsVisibleWithoutWriteBack(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(DefaultTTL)
	ctx := context.Background()

	sess, err := store.Create(ctx, "sess-1")
	require.NoError(t, err)

	sess.Append("user", "bonjour")
	sess.Append("assistant", "bonjour, comment puis-je aider ?")

	again, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, again.Messages, 2)
}

func TestMemoryStore_Delete(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(DefaultTTL)
	ctx := context.Background()

	_, err := store.Create(ctx, "sess-1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "sess-1"))
	assert.ErrorIs(t, store.Delete(ctx, "sess-1"), ErrNotFound)
}

func TestMemoryStore_SweepExpired(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(2 * time.Hour)
	ctx := context.Background()

	stale, err := store.Create(ctx, "stale")
	require.NoError(t, err)
	fresh, err := store.Create(ctx, "fresh")
	require.NoError(t, err)

	base := time.Now()
	stale.LastActivity = base.Add(-3 * time.Hour)
	fresh.LastActivity = base.Add(-1 * time.Hour)
	store.now = func() time.Time { return base }

	dropped := store.SweepExpired(ctx)
	assert.Equal(t, 1, dropped)

	got, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, got, "idle sessions past the TTL are removed")

	got, err = store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestMemoryStore_SweepKeepsSessionAtExactTTL(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(2 * time.Hour)
	ctx := context.Background()

	sess, err := store.Create(ctx, "edge")
	require.NoError(t, err)

	base := time.Now()
	sess.LastActivity = base.Add(-2 * time.Hour)
	store.now = func() time.Time { return base }

	assert.Equal(t, 0, store.SweepExpired(ctx), "expiry is strictly greater than the TTL")
}

func TestMemoryStore_Info(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(DefaultTTL)
	ctx := context.Background()

	sess, err := store.Create(ctx, "sess-1")
	require.NoError(t, err)
	sess.Append("user", "question")

	info, err := store.Info(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", info.SessionID)
	assert.Equal(t, 1, info.MessageCount)
	assert.Equal(t, sess.CreatedAt, info.CreatedAt)

	_, err = store.Info(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewMemoryStore_ZeroTTLFallsBack(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(0)
	assert.Equal(t, DefaultTTL, store.ttl)
}
