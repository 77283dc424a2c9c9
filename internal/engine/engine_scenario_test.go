// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/cruise/internal/database"
	"github.com/autobrr/cruise/internal/models"
)

type fakeAssist struct {
	siteID int
}

func (f *fakeAssist) Match(string) int              { return f.siteID }
func (f *fakeAssist) ReannounceOptEnabled(int) bool { return true }
func (f *fakeAssist) DownLimitEnabled(int) bool     { return false }
func (f *fakeAssist) SpeedLimitBps(int) int64       { return 0 }

func (f *fakeAssist) CheckCookies(context.Context) ([]string, error) { return nil, nil }

func (f *fakeAssist) SearchByHash(context.Context, int, string) (*SiteTorrentInfo, error) {
	return nil, nil
}

func (f *fakeAssist) PeerList(context.Context, int, int64) (*PeerInfo, error) {
	return nil, nil
}

// newStoreEngine builds an engine backed by a real sqlite database.
func newStoreEngine(t *testing.T, client *fakeClient, rules RuleSource) (*Engine, *time.Time, *database.DB) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "cruise.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e := New(Config{SpeedLimit: 10 * 1024 * 1024}, DefaultTuning(), client, nil, rules, nil,
		models.NewTorrentStateStore(db), models.NewCycleHistoryStore(db), models.NewEngineStatsStore(db))
	cur := time.Now()
	e.now = func() time.Time { return cur }
	return e, &cur, db
}

func newAssistEngine(client *fakeClient, rules RuleSource, sink EventSink) (*Engine, *time.Time) {
	e := New(Config{SpeedLimit: 10 * 1024 * 1024}, DefaultTuning(), client, &fakeAssist{siteID: 7}, rules, sink, nil, nil, nil)
	cur := time.Now()
	e.now = func() time.Time { return cur }
	return e, &cur
}

// TestSteadyCycleConvergence drives one torrent through three full tracker
// cycles at one-second resolution. The simulated peer swarm uploads at
// 2 MiB/s unless capped; the controller should land the third, synced cycle
// within 3% of the 1 MiB/s target.
func TestSteadyCycleConvergence(t *testing.T) {
	const (
		interval = 1800 // matches the young-torrent announce estimate
		target   = int64(1 << 20)
		natural  = int64(2 << 20)
		hash     = "aaa"
	)

	client := newFakeClient()
	e, cur, db := newStoreEngine(t, client, &fakeRules{targetBps: target})
	historyStore := models.NewCycleHistoryStore(db)

	tor := testTorrent(hash)
	tor.TotalSize = 64 << 30
	tor.Progress = 0.5
	tor.AddedOn = *cur

	var uploaded, speed int64
	countdown := interval

	for step := 0; step <= 3*interval; step++ {
		tor.Uploaded = uploaded
		tor.UpSpeed = speed
		client.mu.Lock()
		client.torrents[1] = []Torrent{tor}
		client.secs[hash] = float64(countdown)
		client.mu.Unlock()

		e.pass()

		e.mu.Lock()
		limit := e.states[stateKey{1, hash}].LastUpLimit
		e.mu.Unlock()

		// One second of upload: the swarm rate, clipped by the applied cap.
		speed = natural
		if limit > 0 && limit < natural {
			speed = limit
		}
		uploaded += speed

		*cur = cur.Add(time.Second)
		countdown--
		if countdown <= 0 {
			countdown = interval
			// The tracker received the announce; surface it the way the
			// peer-list worker does.
			e.mu.Lock()
			e.states[stateKey{1, hash}].LastAnnounceTime = *cur
			e.mu.Unlock()
		}
	}

	e.mu.Lock()
	state := e.states[stateKey{1, hash}]
	e.mu.Unlock()
	require.NotNil(t, state)
	assert.True(t, state.CycleSynced)

	records, err := historyStore.Recent(context.Background(), 0, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first: the synced third cycle must close on target.
	closed := records[0]
	assert.Equal(t, 3, closed.CycleIndex)
	assert.InDelta(t, float64(interval), closed.DurationSeconds, 1)
	assert.InDelta(t, 1.0, closed.Ratio, 0.03)
	assert.True(t, closed.Success)
}

// TestWaitingReannounceStallsThenResolves covers the full waiting flow through
// the engine: the stall cap while the flag is set, then the forced reannounce
// once the cycle is old enough and the average has recovered.
func TestWaitingReannounceStallsThenResolves(t *testing.T) {
	client := newFakeClient()
	client.torrents[1] = []Torrent{testTorrent("aaa")}
	client.secs["aaa"] = 1200

	sink := &fakeSink{}
	e, cur := newAssistEngine(client, &fakeRules{targetBps: 1 << 20}, sink)
	e.pass()

	e.mu.Lock()
	state := e.states[stateKey{1, "aaa"}]
	require.NotNil(t, state)
	state.WaitingReannounce = true
	e.mu.Unlock()

	*cur = cur.Add(30 * time.Second)
	client.mu.Lock()
	client.secs["aaa"] = 1170
	client.mu.Unlock()
	e.pass()

	e.mu.Lock()
	assert.Equal(t, "waiting-reannounce", state.LastUpReason)
	assert.Equal(t, ReannounceWaitLimit*1024, state.LastUpLimit)
	e.mu.Unlock()

	// Past the minimum cycle age with no upload recorded, the average is far
	// under the ceiling: the wait resolves into a forced reannounce.
	*cur = cur.Add(900 * time.Second)
	client.mu.Lock()
	client.secs["aaa"] = 270
	client.mu.Unlock()
	e.pass()

	client.mu.Lock()
	assert.Equal(t, []string{"aaa"}, client.reannounced)
	client.mu.Unlock()

	e.mu.Lock()
	assert.False(t, state.WaitingReannounce)
	assert.True(t, state.ReannouncedThisCycle)
	assert.Equal(t, *cur, state.LastReannounce)
	e.mu.Unlock()
	assert.Contains(t, sink.kinds(), EventForcedReannounce)
}

// A wait set up before an earlier forced reannounce still resolves in the
// same cycle; only fresh triggers are once-per-cycle.
func TestWaitingResolvesAfterEarlierReannounce(t *testing.T) {
	client := newFakeClient()
	client.torrents[1] = []Torrent{testTorrent("aaa")}
	client.secs["aaa"] = 1200

	e, cur := newAssistEngine(client, &fakeRules{targetBps: 1 << 20}, nil)
	e.pass()

	e.mu.Lock()
	state := e.states[stateKey{1, "aaa"}]
	require.NotNil(t, state)
	state.WaitingReannounce = true
	state.ReannouncedThisCycle = true
	e.mu.Unlock()

	*cur = cur.Add(930 * time.Second)
	client.mu.Lock()
	client.secs["aaa"] = 270
	client.mu.Unlock()
	e.pass()

	client.mu.Lock()
	assert.Equal(t, []string{"aaa"}, client.reannounced)
	client.mu.Unlock()

	e.mu.Lock()
	assert.False(t, state.WaitingReannounce)
	e.mu.Unlock()
}

// TestRestoredStateEvictsWhenTorrentGone: a state loaded from the database
// whose torrent never reappears must age out like any other, both in memory
// and in the store.
func TestRestoredStateEvictsWhenTorrentGone(t *testing.T) {
	client := newFakeClient()
	e, cur, db := newStoreEngine(t, client, &fakeRules{})
	stateStore := models.NewTorrentStateStore(db)
	ctx := context.Background()

	require.NoError(t, stateStore.SaveBatch(ctx, []*models.TorrentStateRecord{
		{InstanceID: 1, Hash: "aaa", Name: "ghost", CycleIndex: 4, TargetBps: 1 << 20},
	}))

	e.restore(ctx)
	e.mu.Lock()
	state := e.states[stateKey{1, "aaa"}]
	require.NotNil(t, state)
	assert.False(t, state.LastSeen.IsZero())
	e.mu.Unlock()

	*cur = cur.Add(StateEvictAfter + time.Minute)
	e.pass()

	e.mu.Lock()
	assert.Empty(t, e.states)
	e.mu.Unlock()

	all, err := stateStore.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// TestPersistRestoreRoundTrip writes states and counters through one engine
// and reloads them into a second.
func TestPersistRestoreRoundTrip(t *testing.T) {
	client := newFakeClient()
	client.torrents[1] = []Torrent{testTorrent("aaa")}
	client.secs["aaa"] = 900

	e1, _, db := newStoreEngine(t, client, &fakeRules{targetBps: 1 << 20})
	ctx := context.Background()

	e1.pass()
	e1.totalCycles.Add(5)
	e1.successCycles.Add(3)
	e1.managedUploaded.Add(42 << 20)
	e1.persist(ctx)

	e2 := New(Config{SpeedLimit: 10 * 1024 * 1024}, DefaultTuning(), newFakeClient(), nil, &fakeRules{}, nil,
		models.NewTorrentStateStore(db), models.NewCycleHistoryStore(db), models.NewEngineStatsStore(db))
	cur2 := time.Now()
	e2.now = func() time.Time { return cur2 }
	e2.restore(ctx)

	e2.mu.Lock()
	state := e2.states[stateKey{1, "aaa"}]
	e2.mu.Unlock()
	require.NotNil(t, state)
	assert.Equal(t, "t-aaa", state.Name)
	assert.Equal(t, "tracker.example.org", state.Tracker)
	assert.Equal(t, 1, state.CycleIndex)
	assert.Equal(t, int64(1<<20), state.TargetBps)
	assert.False(t, state.LastSeen.IsZero())

	assert.Equal(t, int64(5), e2.totalCycles.Load())
	assert.Equal(t, int64(3), e2.successCycles.Load())
	assert.Equal(t, int64(42<<20), e2.managedUploaded.Load())
}

// TestPersistPrunesAbandonedRows: rows left behind by a crash, with no
// in-memory state to evict, are swept on the persist tick.
func TestPersistPrunesAbandonedRows(t *testing.T) {
	e, _, db := newStoreEngine(t, newFakeClient(), &fakeRules{})
	stateStore := models.NewTorrentStateStore(db)
	ctx := context.Background()

	require.NoError(t, stateStore.SaveBatch(ctx, []*models.TorrentStateRecord{
		{InstanceID: 1, Hash: "old", Name: "abandoned"},
	}))
	_, err := db.ExecContext(ctx, `UPDATE torrent_states SET updated_at = ? WHERE hash = ?`,
		time.Now().Add(-365*24*time.Hour), "old")
	require.NoError(t, err)

	e.persist(ctx)

	all, err := stateStore.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
