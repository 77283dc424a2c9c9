// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMultiWindowWeightedAvgEmptyIsZero(t *testing.T) {
	t.Parallel()

	m := NewMultiWindow()
	assert.Zero(t, m.WeightedAvg(time.Now(), PhaseSteady))
}

func TestMultiWindowWeightedAvgUniformSpeed(t *testing.T) {
	t.Parallel()

	m := NewMultiWindow()
	now := time.Now()
	for i := range 60 {
		m.Record(now.Add(time.Duration(i-60)*time.Second), 1000)
	}

	for _, phase := range []Phase{PhaseWarmup, PhaseCatch, PhaseSteady, PhaseFinish} {
		assert.InDelta(t, 1000, m.WeightedAvg(now, phase), 1)
	}
}

func TestMultiWindowFinishFavoursRecent(t *testing.T) {
	t.Parallel()

	m := NewMultiWindow()
	now := time.Now()
	// Old samples slow, last 5s fast.
	for i := range 60 {
		speed := 100.0
		if i >= 55 {
			speed = 1000.0
		}
		m.Record(now.Add(time.Duration(i-59)*time.Second), speed)
	}

	finish := m.WeightedAvg(now, PhaseFinish)
	warmup := m.WeightedAvg(now, PhaseWarmup)
	assert.Greater(t, finish, warmup)
}

func TestMultiWindowRecentTrend(t *testing.T) {
	t.Parallel()

	m := NewMultiWindow()
	now := time.Now()

	// Fewer than 5 recent samples yields no trend.
	m.Record(now, 100)
	assert.Zero(t, m.RecentTrend(now))

	m.Clear()
	for i := range 10 {
		m.Record(now.Add(time.Duration(i-9)*time.Second), float64(100+i*100))
	}
	assert.Greater(t, m.RecentTrend(now), 0.0)

	m.Clear()
	for i := range 10 {
		m.Record(now.Add(time.Duration(i-9)*time.Second), float64(1000-i*100))
	}
	assert.Less(t, m.RecentTrend(now), 0.0)
}

func TestMultiWindowClear(t *testing.T) {
	t.Parallel()

	m := NewMultiWindow()
	now := time.Now()
	m.Record(now, 500)
	m.Clear()
	assert.Zero(t, m.WeightedAvg(now, PhaseSteady))
}

func TestMultiWindowOverwritesOldest(t *testing.T) {
	t.Parallel()

	m := NewMultiWindow()
	now := time.Now()
	for i := range multiWindowCapacity + 100 {
		m.Record(now.Add(time.Duration(i)*time.Millisecond), float64(i))
	}
	// The ring stays bounded and still answers.
	assert.NotZero(t, m.WeightedAvg(now.Add(2*time.Second), PhaseSteady))
}
