// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTorrentStateStoreSaveBatchUpserts(t *testing.T) {
	db := newTestDB(t)
	store := NewTorrentStateStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	records := []*TorrentStateRecord{
		{InstanceID: 1, Hash: "aaa", Name: "first", CycleIndex: 1, CycleStart: now, TargetBps: 1 << 20, LastUpLimit: -1, LastDownLimitKiB: -1},
		{InstanceID: 1, Hash: "bbb", Name: "second", CycleIndex: 3, CycleSynced: true, CycleInterval: 1800, JumpCount: 4},
	}
	require.NoError(t, store.SaveBatch(ctx, records))

	// Saving again with changed fields updates in place instead of duplicating.
	records[0].Name = "first-renamed"
	records[0].CycleIndex = 2
	require.NoError(t, store.SaveBatch(ctx, records))

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	byHash := map[string]*TorrentStateRecord{}
	for _, r := range all {
		byHash[r.Hash] = r
	}
	assert.Equal(t, "first-renamed", byHash["aaa"].Name)
	assert.Equal(t, 2, byHash["aaa"].CycleIndex)
	assert.Equal(t, int64(1<<20), byHash["aaa"].TargetBps)
	assert.True(t, byHash["aaa"].CycleStart.Equal(now))
	assert.True(t, byHash["bbb"].CycleSynced)
	assert.InDelta(t, 1800, byHash["bbb"].CycleInterval, 0.1)
	assert.Equal(t, 4, byHash["bbb"].JumpCount)

	// Zero times come back zero, not as some epoch value.
	assert.True(t, byHash["bbb"].CycleStart.IsZero())
}

func TestTorrentStateStoreSaveBatchEmpty(t *testing.T) {
	db := newTestDB(t)
	store := NewTorrentStateStore(db)

	assert.NoError(t, store.SaveBatch(context.Background(), nil))
}

func TestTorrentStateStoreDelete(t *testing.T) {
	db := newTestDB(t)
	store := NewTorrentStateStore(db)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, []*TorrentStateRecord{
		{InstanceID: 1, Hash: "aaa"},
		{InstanceID: 2, Hash: "aaa"},
	}))

	require.NoError(t, store.Delete(ctx, 1, "aaa"))

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].InstanceID)

	// Deleting a missing row is not an error.
	assert.NoError(t, store.Delete(ctx, 9, "zzz"))
}

func TestTorrentStateStorePruneStale(t *testing.T) {
	db := newTestDB(t)
	store := NewTorrentStateStore(db)
	ctx := context.Background()

	require.NoError(t, store.SaveBatch(ctx, []*TorrentStateRecord{
		{InstanceID: 1, Hash: "aaa"},
		{InstanceID: 1, Hash: "bbb"},
	}))

	// A cutoff in the past keeps freshly written rows.
	n, err := store.PruneStale(ctx, time.Now().Add(-365*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	// A cutoff in the future removes everything.
	n, err = store.PruneStale(ctx, time.Now().Add(365*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
