// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"fmt"
	"time"
)

// CalcDebug exposes the controller internals for the inspection API.
type CalcDebug struct {
	PredictedRatio float64 `json:"predictedRatio"`
	RequiredSpeed  float64 `json:"requiredSpeed"`
	PIDOutput      float64 `json:"pidOutput"`
	FinalLimit     int64   `json:"finalLimit"`
}

// LimitController fuses the speed estimator, the PID and the quantiser into
// one per-torrent rate command. One controller per torrent; reset in place at
// each cycle boundary.
type LimitController struct {
	tuning  Tuning
	kalman  *Kalman
	tracker *MultiWindow
	pid     *PID

	smoothLimit int64
}

func NewLimitController(tuning Tuning) *LimitController {
	return &LimitController{
		tuning:      tuning,
		kalman:      NewKalman(tuning.KalmanQSpeed, tuning.KalmanQAccel, tuning.KalmanR),
		tracker:     NewMultiWindow(),
		pid:         NewPID(),
		smoothLimit: -1,
	}
}

// RecordSpeed feeds one instantaneous upload speed sample to both estimators.
func (c *LimitController) RecordSpeed(now time.Time, speed float64) {
	c.kalman.Update(speed, now)
	c.tracker.Record(now, speed)
}

// KalmanSpeed returns the current filtered speed.
func (c *LimitController) KalmanSpeed() float64 {
	return c.kalman.Speed
}

// PredictUpload extrapolates bytes uploaded over the next timeLeft seconds.
func (c *LimitController) PredictUpload(timeLeft float64) float64 {
	return c.kalman.PredictUpload(timeLeft)
}

// Calculate produces the upload cap (bytes/second, -1 uncapped) for the
// current tick. target is the effective per-second target; uploaded the bytes
// accumulated in this cycle. precisionAdj is the learned bias multiplier.
func (c *LimitController) Calculate(target float64, uploaded int64, timeLeft, elapsed float64, phase Phase, now time.Time, precisionAdj float64) (int64, string, CalcDebug) {
	var debug CalcDebug

	adjustedTarget := target * precisionAdj

	kalmanSpeed := c.kalman.Speed
	weightedSpeed := c.tracker.WeightedAvg(now, phase)
	trend := c.tracker.RecentTrend(now)

	// Finish phase trusts the short-window average; otherwise the Kalman
	// estimate unless it has not warmed up yet.
	currentSpeed := kalmanSpeed
	if phase == PhaseFinish && weightedSpeed > 0 {
		currentSpeed = weightedSpeed
	} else if kalmanSpeed <= 0 {
		currentSpeed = weightedSpeed
	}

	totalTime := elapsed + timeLeft
	targetTotal := adjustedTarget * totalTime
	debug.PredictedRatio = safeDiv(float64(uploaded)+c.kalman.PredictUpload(timeLeft), targetTotal, 0)

	need := maxf(0, targetTotal-float64(uploaded))
	if timeLeft <= 0 {
		return -1, "announcing", debug
	}
	requiredSpeed := need / timeLeft
	debug.RequiredSpeed = requiredSpeed

	c.pid.SetPhase(phase, c.tuning)
	pidOutput := c.pid.Update(targetTotal, float64(uploaded), now)
	debug.PIDOutput = pidOutput

	headroom := c.tuning.Gains(phase).Headroom

	var limit int64 = -1
	var reason string

	switch phase {
	case PhaseFinish:
		pred := debug.PredictedRatio
		correction := 1.0
		if pred > 1.002 {
			correction = maxf(0.8, 1-(pred-1)*3)
		} else if pred < 0.998 {
			correction = minf(1.2, 1+(1-pred)*3)
		}
		limit = int64(requiredSpeed * pidOutput * correction)
		reason = fmt.Sprintf("finish:%.0fK", requiredSpeed/1024)

	case PhaseSteady:
		if debug.PredictedRatio > 1.01 {
			headroom = 1.0
		}
		limit = int64(requiredSpeed * headroom * pidOutput)
		reason = fmt.Sprintf("steady:%.0fK", requiredSpeed/1024)

	case PhaseCatch:
		if requiredSpeed > adjustedTarget*5 {
			// Hopelessly behind: uncapped is the right call.
			limit = -1
			reason = "catch-release"
		} else {
			limit = int64(requiredSpeed * headroom * pidOutput)
			reason = fmt.Sprintf("catch:%.0fK", requiredSpeed/1024)
		}

	default: // warmup, cycle not yet synced
		progress := safeDiv(float64(uploaded), targetTotal, 0)
		switch {
		case progress >= 1.0:
			limit = c.tuning.MinLimit
			reason = fmt.Sprintf("over:%.0f%%", (progress-1)*100)
		case progress >= 0.8:
			limit = int64(requiredSpeed * 1.01 * pidOutput)
			reason = "warmup-fine"
		case progress >= 0.5:
			limit = int64(requiredSpeed * 1.05)
			reason = "warmup-soft"
		default:
			limit = -1
			reason = "warmup"
		}
	}

	if limit > 0 {
		limit = Quantize(limit, phase, currentSpeed, adjustedTarget, c.tuning, trend)
	}
	limit = c.smooth(limit, phase)
	debug.FinalLimit = limit
	return limit, reason, debug
}

// smooth damps successive commands so caps do not chatter. Bypassed in
// finish phase where latency matters more than stability.
func (c *LimitController) smooth(newLimit int64, phase Phase) int64 {
	if newLimit <= 0 || c.smoothLimit <= 0 || phase == PhaseFinish {
		c.smoothLimit = newLimit
		return newLimit
	}
	change := absf(float64(newLimit-c.smoothLimit)) / float64(c.smoothLimit)
	if change < 0.2 {
		c.smoothLimit = newLimit
	} else {
		factor := 0.3
		if change >= 0.5 {
			factor = 0.5
		}
		c.smoothLimit = int64((1-factor)*float64(c.smoothLimit) + factor*float64(newLimit))
	}
	return c.smoothLimit
}

// Reset clears all estimator and controller state for a new cycle.
func (c *LimitController) Reset() {
	c.kalman.Reset()
	c.tracker.Clear()
	c.pid.Reset()
	c.smoothLimit = -1
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
