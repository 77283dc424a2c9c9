// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

const (
	quantStepMin int64 = 256
	quantStepMax int64 = 8192
)

// Quantize rounds a rate command to the nearest valid step so successive caps
// stay stable instead of chattering. The step widens when the current speed is
// far above target and tightens when the speed is trending. Non-positive
// commands (uncapped) pass through untouched.
func Quantize(limit int64, phase Phase, currentSpeed, target float64, tuning Tuning, trend float64) int64 {
	if limit <= 0 {
		return limit
	}

	base, ok := tuning.QuantSteps[phase]
	if !ok {
		base = 1024
	}

	ratio := safeDiv(currentSpeed, target, 1)
	var step int64
	switch {
	case phase == PhaseFinish:
		step = quantStepMin
	case ratio > 1.2:
		step = base * 2
	case ratio > 1.05:
		step = base
	case ratio > 0.8:
		step = base / 2
	default:
		step = base
	}

	if trend > 0.1 || trend < -0.1 {
		step /= 2
		if step < quantStepMin {
			step = quantStepMin
		}
	}

	if step < quantStepMin {
		step = quantStepMin
	}
	if step > quantStepMax {
		step = quantStepMax
	}

	q := (limit + step/2) / step * step
	if q < tuning.MinLimit {
		return tuning.MinLimit
	}
	return q
}
