// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// reannounceState opens a cycle elapsed seconds ago and backfills the speed
// ring with a constant up/down speed over the last five minutes.
func reannounceState(now time.Time, elapsed float64, upBps, downBps float64) *TorrentState {
	s := NewTorrentState("hash", DefaultTuning())
	s.CycleStart = now.Add(-time.Duration(elapsed * float64(time.Second)))
	for i := range 300 {
		s.Ring().Record(now.Add(time.Duration(i-299)*time.Second), upBps, downBps)
	}
	return s
}

func TestReannounceBlockedByMinInterval(t *testing.T) {
	t.Parallel()

	o := NewReannounceOptimizer(testCeiling)
	now := time.Now()
	s := reannounceState(now, 1000, 50e6, 50e6)
	s.LastReannounce = now.Add(-5 * time.Minute)

	force, reason := o.ShouldReannounce(s, 0, 1<<33, 1<<34, now)
	assert.False(t, force)
	assert.Empty(t, reason)
}

func TestReannounceNotUnderCeiling(t *testing.T) {
	t.Parallel()

	o := NewReannounceOptimizer(testCeiling)
	now := time.Now()
	// Recent average well under the ceiling.
	s := reannounceState(now, 1000, 1e6, 50e6)

	force, _ := o.ShouldReannounce(s, 0, 1<<33, 1<<34, now)
	assert.False(t, force)
}

func TestReannounceNothingRemaining(t *testing.T) {
	t.Parallel()

	o := NewReannounceOptimizer(testCeiling)
	now := time.Now()
	s := reannounceState(now, 1000, 50e6, 50e6)

	force, _ := o.ShouldReannounce(s, 1<<34, 1<<33, 1<<34, now)
	assert.False(t, force)
}

func TestReannounceEarlyCycleBlocked(t *testing.T) {
	t.Parallel()

	o := NewReannounceOptimizer(testCeiling)
	now := time.Now()
	// Only 60s into the cycle: even a perfect candidate must wait out the
	// 900s minimum spacing from the cycle opening.
	s := reannounceState(now, 60, 50e6, 50e6)

	force, _ := o.ShouldReannounce(s, 0, int64(50e6*60), 1<<34, now)
	assert.False(t, force)
}

func TestResolveWaitingRequiresFlag(t *testing.T) {
	t.Parallel()

	o := NewReannounceOptimizer(testCeiling)
	now := time.Now()
	s := reannounceState(now, 1000, 1e6, 0)

	force, _ := o.ResolveWaiting(s, 0, now)
	assert.False(t, force)
}

func TestResolveWaitingFiresWhenAverageRecovers(t *testing.T) {
	t.Parallel()

	o := NewReannounceOptimizer(testCeiling)
	now := time.Now()
	s := reannounceState(now, 1000, 1e6, 0)
	s.WaitingReannounce = true

	// 1000s elapsed, low cycle upload: average under the ceiling.
	force, reason := o.ResolveWaiting(s, 1000, now)
	assert.True(t, force)
	assert.Equal(t, "average-recovered", reason)
	assert.False(t, s.WaitingReannounce)
}

func TestResolveWaitingHoldsWhileAverageHigh(t *testing.T) {
	t.Parallel()

	o := NewReannounceOptimizer(testCeiling)
	now := time.Now()
	s := reannounceState(now, 1000, 1e6, 0)
	s.WaitingReannounce = true

	// Average still 20 MiB/s over the 10 MiB/s ceiling.
	force, _ := o.ResolveWaiting(s, int64(20*1024*1024*1000), now)
	assert.False(t, force)
	assert.True(t, s.WaitingReannounce)
}

func TestResolveWaitingTooEarlyInCycle(t *testing.T) {
	t.Parallel()

	o := NewReannounceOptimizer(testCeiling)
	now := time.Now()
	s := reannounceState(now, 100, 1e6, 0)
	s.WaitingReannounce = true

	force, _ := o.ResolveWaiting(s, 0, now)
	assert.False(t, force)
	assert.True(t, s.WaitingReannounce)
}
