// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testCeiling int64 = 10 * 1024 * 1024 // 10 MiB/s

// downState builds a state whose cycle opened elapsed seconds ago with the
// given upload baseline.
func downState(now time.Time, elapsed float64, uploadedStart int64) *TorrentState {
	s := NewTorrentState("hash", DefaultTuning())
	s.CycleStart = now.Add(-time.Duration(elapsed * float64(time.Second)))
	s.CycleUploadedStart = uploadedStart
	return s
}

func TestDownLimiterTooEarly(t *testing.T) {
	t.Parallel()

	d := NewDownLimiter(testCeiling)
	now := time.Now()
	s := downState(now, 1, 0)

	kib, reason := d.Calc(s, 0, 1<<30, 1<<31, 1e6, now)
	assert.Equal(t, int64(-1), kib)
	assert.Empty(t, reason)
}

func TestDownLimiterUnderCeilingNoAction(t *testing.T) {
	t.Parallel()

	d := NewDownLimiter(testCeiling)
	now := time.Now()
	s := downState(now, 100, 0)

	// 100 MiB over 100s = 1 MiB/s, well under the ceiling.
	kib, reason := d.Calc(s, 0, 100*1024*1024, 1<<31, 1e6, now)
	assert.Equal(t, int64(-1), kib)
	assert.Empty(t, reason)
}

func TestDownLimiterReleasesWhenRecovered(t *testing.T) {
	t.Parallel()

	d := NewDownLimiter(testCeiling)
	now := time.Now()
	s := downState(now, 100, 0)
	s.LastDownLimitK = 2048

	kib, reason := d.Calc(s, 0, 100*1024*1024, 1<<31, 1e6, now)
	assert.Equal(t, int64(-1), kib)
	assert.Equal(t, "release", reason)
}

func TestDownLimiterCapsWhenFinishingTooFast(t *testing.T) {
	t.Parallel()

	d := NewDownLimiter(testCeiling)
	now := time.Now()
	s := downState(now, 100, 0)

	// Average 20 MiB/s, double the ceiling; 50 MiB left at 10 MiB/s
	// downloads in 5s, inside the action window.
	uploaded := int64(2000 * 1024 * 1024)
	size := int64(4000 * 1024 * 1024)
	done := size - 50*1024*1024

	kib, reason := d.Calc(s, done, uploaded, size, 10*1024*1024, now)
	assert.Greater(t, kib, int64(0))
	assert.Equal(t, "avg-over-limit", reason)
	assert.GreaterOrEqual(t, kib, int64(DownLimitMinKiB))
}

func TestDownLimiterNoCapWhenDownloadIsSlow(t *testing.T) {
	t.Parallel()

	d := NewDownLimiter(testCeiling)
	now := time.Now()
	s := downState(now, 100, 0)

	// Over the ceiling but hours of download left: no need to act yet.
	uploaded := int64(2000 * 1024 * 1024)
	size := int64(400 * 1024 * 1024 * 1024)
	kib, reason := d.Calc(s, 0, uploaded, size, 10*1024*1024, now)
	assert.Equal(t, int64(-1), kib)
	assert.Empty(t, reason)
}

func TestDownLimiterActsEarlierUnderUploadCap(t *testing.T) {
	t.Parallel()

	d := NewDownLimiter(testCeiling)
	now := time.Now()

	uploaded := int64(2000 * 1024 * 1024)
	size := int64(4000 * 1024 * 1024)
	// ETA 30s: outside the base 20s window but inside the doubled one.
	done := size - 300*1024*1024

	uncapped := downState(now, 100, 0)
	kib, _ := d.Calc(uncapped, done, uploaded, size, 10*1024*1024, now)
	assert.Equal(t, int64(-1), kib)

	capped := downState(now, 100, 0)
	capped.LastUpLimit = 100 * 1024
	kib, reason := d.Calc(capped, done, uploaded, size, 10*1024*1024, now)
	assert.Greater(t, kib, int64(0))
	assert.Equal(t, "avg-over-limit", reason)
}

func TestDownLimiterTightensActiveCap(t *testing.T) {
	t.Parallel()

	d := NewDownLimiter(testCeiling)
	now := time.Now()
	s := downState(now, 100, 0)
	s.LastDownLimitK = 50_000

	uploaded := int64(2000 * 1024 * 1024)
	size := int64(4000 * 1024 * 1024)
	done := size - 100*1024*1024

	kib, reason := d.Calc(s, done, uploaded, size, 20*1024*1024, now)
	assert.Greater(t, kib, int64(0))
	assert.Equal(t, "tighten", reason)
	assert.Less(t, float64(kib), float64(s.LastDownLimitK)*0.95)
}
