// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpeedRingAvgSpeeds(t *testing.T) {
	t.Parallel()

	r := NewSpeedRing()
	now := time.Now()

	up, down := r.AvgSpeeds(now, time.Minute)
	assert.Zero(t, up)
	assert.Zero(t, down)

	for i := range 60 {
		r.Record(now.Add(time.Duration(i-59)*time.Second), 100, 200)
	}
	up, down = r.AvgSpeeds(now, time.Minute)
	assert.InDelta(t, 100, up, 0.1)
	assert.InDelta(t, 200, down, 0.1)

	// Samples outside the window are excluded.
	up, _ = r.AvgSpeeds(now.Add(2*time.Minute), time.Minute)
	assert.Zero(t, up)
}

func TestSpeedRingWindowOrder(t *testing.T) {
	t.Parallel()

	r := NewSpeedRing()
	now := time.Now()
	for i := range 10 {
		r.Record(now.Add(time.Duration(i)*time.Second), float64(i), 0)
	}

	samples := r.Window(now)
	assert.Len(t, samples, 10)
	for i := 1; i < len(samples); i++ {
		assert.True(t, !samples[i].At.Before(samples[i-1].At))
	}
}

func TestSpeedRingClear(t *testing.T) {
	t.Parallel()

	r := NewSpeedRing()
	now := time.Now()
	r.Record(now, 1, 1)
	r.Clear()
	assert.Empty(t, r.Window(now.Add(-time.Hour)))
}
