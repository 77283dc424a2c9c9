// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "time"

const pidIntegralLimit = 0.3

// PID produces a multiplicative correction factor in [0.5, 2.0] from the gap
// between the cumulative target and the cumulative uploaded bytes. 1.0 means
// no correction. Gains are swapped per phase via SetPhase.
type PID struct {
	kp, kd, ki float64

	integral         float64
	lastError        float64
	lastTime         time.Time
	lastOutput       float64
	derivativeFilter float64
	initialized      bool
}

func NewPID() *PID {
	p := &PID{}
	p.Reset()
	return p
}

// SetPhase installs the gain set for the given phase.
func (p *PID) SetPhase(phase Phase, tuning Tuning) {
	g := tuning.Gains(phase)
	p.kp, p.ki, p.kd = g.Kp, g.Ki, g.Kd
}

// Update computes the correction factor for cumulative target vs actual.
// The error is unitless: (target-actual)/max(target,1). The first call
// initialises and returns exactly 1.0; calls within 10ms reuse the last
// output.
func (p *PID) Update(target, actual float64, now time.Time) float64 {
	err := safeDiv(target-actual, maxf(target, 1), 0)
	if !p.initialized {
		p.lastError = err
		p.lastTime = now
		p.initialized = true
		return 1.0
	}

	dt := now.Sub(p.lastTime).Seconds()
	if dt <= 0.01 {
		return p.lastOutput
	}
	p.lastTime = now

	pTerm := p.kp * err

	p.integral = clamp(p.integral+err*dt, -pidIntegralLimit, pidIntegralLimit)
	iTerm := p.ki * p.integral

	rawDerivative := (err - p.lastError) / dt
	p.derivativeFilter = 0.3*rawDerivative + 0.7*p.derivativeFilter
	dTerm := p.kd * p.derivativeFilter
	p.lastError = err

	output := clamp(1.0+pTerm+iTerm+dTerm, 0.5, 2.0)
	p.lastOutput = output
	return output
}

// Reset clears accumulated state; called at each new cycle.
func (p *PID) Reset() {
	p.integral = 0
	p.lastError = 0
	p.lastTime = time.Time{}
	p.lastOutput = 1.0
	p.derivativeFilter = 0
	p.initialized = false
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
