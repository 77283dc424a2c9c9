// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// warmController feeds a constant speed for n seconds ending at now.
func warmController(c *LimitController, now time.Time, n int, speed float64) {
	for i := range n {
		c.RecordSpeed(now.Add(time.Duration(i-n)*time.Second), speed)
	}
}

func TestCalculateAnnouncing(t *testing.T) {
	t.Parallel()

	c := NewLimitController(DefaultTuning())
	limit, reason, _ := c.Calculate(1e6, 0, 0, 100, PhaseSteady, time.Now(), 1.0)
	assert.Equal(t, int64(-1), limit)
	assert.Equal(t, "announcing", reason)
}

func TestCalculateWarmupBehindIsUncapped(t *testing.T) {
	t.Parallel()

	c := NewLimitController(DefaultTuning())
	now := time.Now()
	warmController(c, now, 30, 1e6)

	// Only 10% of target accumulated: let it run.
	limit, reason, _ := c.Calculate(1e6, 100*1e6/1000, 900, 100, PhaseWarmup, now, 1.0)
	assert.Equal(t, int64(-1), limit)
	assert.Equal(t, "warmup", reason)
}

func TestCalculateWarmupOverTargetClampsToMin(t *testing.T) {
	t.Parallel()

	tuning := DefaultTuning()
	c := NewLimitController(tuning)
	now := time.Now()
	warmController(c, now, 30, 1000)

	// Already uploaded more than the whole cycle target.
	limit, reason, _ := c.Calculate(1000, 10_000_000, 900, 100, PhaseWarmup, now, 1.0)
	assert.Equal(t, tuning.MinLimit, limit)
	assert.Contains(t, reason, "over:")
}

func TestCalculateSteadyTracksRequiredSpeed(t *testing.T) {
	t.Parallel()

	c := NewLimitController(DefaultTuning())
	now := time.Now()
	warmController(c, now, 60, 1e6)

	// Halfway through a 2000s cycle, exactly on track at 1 MB/s.
	target := 1e6
	uploaded := int64(1000 * 1e6)
	limit, reason, debug := c.Calculate(target, uploaded, 1000, 1000, PhaseSteady, now, 1.0)

	assert.Contains(t, reason, "steady:")
	assert.Greater(t, limit, int64(0))
	// Required speed is the target itself; the cap lands within a few
	// percent of it (headroom, PID, quantiser).
	assert.InDelta(t, 1e6, float64(limit), 1e6*0.1)
	assert.InDelta(t, 1e6, debug.RequiredSpeed, 1)
}

func TestCalculateCatchReleasesWhenHopelesslyBehind(t *testing.T) {
	t.Parallel()

	c := NewLimitController(DefaultTuning())
	now := time.Now()
	warmController(c, now, 60, 1e6)

	// 30s left, essentially nothing uploaded: required speed is far past
	// five times the target.
	limit, reason, _ := c.Calculate(1e6, 0, 30, 1770, PhaseCatch, now, 1.0)
	assert.Equal(t, int64(-1), limit)
	assert.Equal(t, "catch-release", reason)
}

func TestCalculateFinishIssuesCap(t *testing.T) {
	t.Parallel()

	c := NewLimitController(DefaultTuning())
	now := time.Now()
	warmController(c, now, 60, 1e6)

	// 5s left, a little behind target.
	target := 1e6
	uploaded := int64(1790 * 1e6)
	limit, reason, _ := c.Calculate(target, uploaded, 5, 1795, PhaseFinish, now, 1.0)

	assert.Greater(t, limit, int64(0))
	assert.Contains(t, reason, "finish:")
	// Must cover the remaining 10 MB in 5s, so at least ~2 MB/s.
	assert.Greater(t, limit, int64(1e6))
}

func TestCalculatePrecisionAdjustmentScalesTarget(t *testing.T) {
	t.Parallel()

	now := time.Now()

	run := func(adj float64) int64 {
		c := NewLimitController(DefaultTuning())
		warmController(c, now, 60, 1e6)
		limit, _, _ := c.Calculate(1e6, int64(500*1e6), 500, 500, PhaseSteady, now, adj)
		return limit
	}

	assert.Less(t, run(0.95), run(1.05))
}

func TestSmoothDampsLargeSwings(t *testing.T) {
	t.Parallel()

	c := NewLimitController(DefaultTuning())

	first := c.smooth(100_000, PhaseSteady)
	assert.Equal(t, int64(100_000), first)

	// A doubling is pulled halfway back.
	second := c.smooth(200_000, PhaseSteady)
	assert.Equal(t, int64(150_000), second)

	// Small changes pass through.
	third := c.smooth(155_000, PhaseSteady)
	assert.Equal(t, int64(155_000), third)
}

func TestSmoothBypassedInFinish(t *testing.T) {
	t.Parallel()

	c := NewLimitController(DefaultTuning())
	c.smooth(100_000, PhaseSteady)
	got := c.smooth(500_000, PhaseFinish)
	assert.Equal(t, int64(500_000), got)
}

func TestControllerResetClearsEstimators(t *testing.T) {
	t.Parallel()

	c := NewLimitController(DefaultTuning())
	now := time.Now()
	warmController(c, now, 60, 1e6)
	assert.Greater(t, c.KalmanSpeed(), 0.0)

	c.Reset()
	assert.Zero(t, c.KalmanSpeed())
	assert.Equal(t, int64(-1), c.smoothLimit)
}
