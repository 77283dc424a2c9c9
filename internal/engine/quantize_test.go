// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantizeUncappedPassesThrough(t *testing.T) {
	t.Parallel()

	tuning := DefaultTuning()
	assert.Equal(t, int64(-1), Quantize(-1, PhaseSteady, 0, 0, tuning, 0))
	assert.Equal(t, int64(0), Quantize(0, PhaseSteady, 0, 0, tuning, 0))
}

func TestQuantizeRoundsToStep(t *testing.T) {
	t.Parallel()

	tuning := DefaultTuning()

	// Steady at speed near target uses base/2 = 256.
	q := Quantize(100_000, PhaseSteady, 1000, 1000, tuning, 0)
	assert.Zero(t, q%256)
	assert.InDelta(t, 100_000, float64(q), 256)
}

func TestQuantizeFinishUsesFinestStep(t *testing.T) {
	t.Parallel()

	tuning := DefaultTuning()
	q := Quantize(99_999, PhaseFinish, 5000, 1000, tuning, 0)
	assert.Zero(t, q%quantStepMin)
}

func TestQuantizeWidensWhenFarOverTarget(t *testing.T) {
	t.Parallel()

	tuning := DefaultTuning()

	// ratio > 1.2 doubles the base step for the phase.
	q := Quantize(1_000_000, PhaseCatch, 5000, 1000, tuning, 0)
	assert.Zero(t, q%(tuning.QuantSteps[PhaseCatch]*2))
}

func TestQuantizeTrendTightensStep(t *testing.T) {
	t.Parallel()

	tuning := DefaultTuning()

	steady := Quantize(1_000_000, PhaseCatch, 5000, 1000, tuning, 0)
	moving := Quantize(1_000_000, PhaseCatch, 5000, 1000, tuning, 0.5)
	// Same command, finer grid when the speed is trending.
	assert.Zero(t, steady%(tuning.QuantSteps[PhaseCatch]*2))
	assert.Zero(t, moving%tuning.QuantSteps[PhaseCatch])
}

func TestQuantizeFloorsAtMinLimit(t *testing.T) {
	t.Parallel()

	tuning := DefaultTuning()
	q := Quantize(1, PhaseSteady, 1000, 1000, tuning, 0)
	assert.Equal(t, tuning.MinLimit, q)
}
