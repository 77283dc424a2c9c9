// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleHistoryAppendAndRecent(t *testing.T) {
	db := newTestDB(t)
	store := NewCycleHistoryStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	for i := range 5 {
		r := &CycleRecord{
			InstanceID:      1,
			Hash:            "aaa",
			Name:            "torrent",
			CycleIndex:      i + 1,
			Phase:           "steady",
			StartedAt:       now.Add(-time.Hour),
			EndedAt:         now,
			DurationSeconds: 1800,
			UploadedBytes:   int64(i) * 1024,
			TargetBytes:     4096,
			Ratio:           1.0,
			Success:         true,
		}
		require.NoError(t, store.Append(ctx, r))
		assert.Positive(t, r.ID)
	}
	require.NoError(t, store.Append(ctx, &CycleRecord{InstanceID: 2, Hash: "bbb", CycleIndex: 1, Phase: "finish", Ratio: 0.5}))

	// Newest first, limited.
	records, err := store.Recent(ctx, 0, "", 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "bbb", records[0].Hash)
	assert.Equal(t, 5, records[1].CycleIndex)

	// Filtered to one torrent.
	records, err = store.Recent(ctx, 1, "aaa", 100)
	require.NoError(t, err)
	assert.Len(t, records, 5)
	for _, r := range records {
		assert.Equal(t, "aaa", r.Hash)
	}
	assert.True(t, records[0].EndedAt.Equal(now))
}

func TestCycleHistoryPrune(t *testing.T) {
	db := newTestDB(t)
	store := NewCycleHistoryStore(db)
	ctx := context.Background()

	for i := range 10 {
		require.NoError(t, store.Append(ctx, &CycleRecord{
			InstanceID: 1, Hash: fmt.Sprintf("h%d", i), CycleIndex: i, Phase: "steady",
		}))
	}

	removed, err := store.Prune(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), removed)

	records, err := store.Recent(ctx, 0, "", 100)
	require.NoError(t, err)
	require.Len(t, records, 4)
	// The newest rows survive.
	assert.Equal(t, "h9", records[0].Hash)
	assert.Equal(t, "h6", records[3].Hash)
}
