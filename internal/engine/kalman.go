// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "time"

// Kalman filters the observed upload speed with a constant-acceleration model.
// State is [speed, accel]; only speed is measured. The filter is reset at each
// new cycle and warms back up from live samples within a few ticks.
type Kalman struct {
	Speed float64
	Accel float64

	p00, p01, p10, p11 float64

	qSpeed float64
	qAccel float64
	r      float64

	lastTime    time.Time
	initialized bool
}

const kalmanInitialCovariance = 1000.0

// NewKalman constructs a filter with the given process/measurement noise.
func NewKalman(qSpeed, qAccel, r float64) *Kalman {
	k := &Kalman{qSpeed: qSpeed, qAccel: qAccel, r: r}
	k.Reset()
	return k
}

// Update folds one speed measurement into the filter and returns the filtered
// speed and acceleration. The first sample initialises the state directly;
// samples closer than 10ms apart are ignored.
func (k *Kalman) Update(measurement float64, now time.Time) (speed, accel float64) {
	if !k.initialized {
		k.Speed = measurement
		k.lastTime = now
		k.initialized = true
		return measurement, 0
	}

	dt := now.Sub(k.lastTime).Seconds()
	if dt <= 0.01 {
		return k.Speed, k.Accel
	}
	k.lastTime = now

	predSpeed := k.Speed + k.Accel*dt
	p00 := k.p00 + dt*(k.p10+k.p01) + dt*dt*k.p11 + k.qSpeed
	p01 := k.p01 + dt*k.p11
	p10 := k.p10 + dt*k.p11
	p11 := k.p11 + k.qAccel

	s := p00 + k.r
	if s < 1e-10 && s > -1e-10 {
		return k.Speed, k.Accel
	}
	k0 := p00 / s
	k1 := p10 / s
	innovation := measurement - predSpeed

	k.Speed = predSpeed + k0*innovation
	k.Accel += k1 * innovation
	k.p00 = (1 - k0) * p00
	k.p01 = (1 - k0) * p01
	k.p10 = -k1*p00 + p10
	k.p11 = -k1*p01 + p11

	return k.Speed, k.Accel
}

// PredictUpload extrapolates the bytes uploaded over the next timeLeft
// seconds, floored at zero.
func (k *Kalman) PredictUpload(timeLeft float64) float64 {
	predicted := k.Speed*timeLeft + 0.5*k.Accel*timeLeft*timeLeft
	if predicted < 0 {
		return 0
	}
	return predicted
}

// Reset returns the filter to its uninitialised state with large covariance.
func (k *Kalman) Reset() {
	k.Speed = 0
	k.Accel = 0
	k.p00 = kalmanInitialCovariance
	k.p01 = 0
	k.p10 = 0
	k.p11 = kalmanInitialCovariance
	k.lastTime = time.Time{}
	k.initialized = false
}
