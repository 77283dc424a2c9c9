// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestKalman() *Kalman {
	tuning := DefaultTuning()
	return NewKalman(tuning.KalmanQSpeed, tuning.KalmanQAccel, tuning.KalmanR)
}

func TestKalmanFirstSampleInitialises(t *testing.T) {
	t.Parallel()

	k := newTestKalman()
	now := time.Now()

	speed, accel := k.Update(1024*1024, now)
	assert.Equal(t, float64(1024*1024), speed)
	assert.Zero(t, accel)
}

func TestKalmanConvergesToConstantSpeed(t *testing.T) {
	t.Parallel()

	k := newTestKalman()
	now := time.Now()

	const target = 5 * 1024 * 1024.0
	var speed float64
	for i := range 60 {
		speed, _ = k.Update(target, now.Add(time.Duration(i)*time.Second))
	}

	assert.InDelta(t, target, speed, target*0.01)
	assert.InDelta(t, 0, k.Accel, target*0.01)
}

func TestKalmanTracksAcceleration(t *testing.T) {
	t.Parallel()

	k := newTestKalman()
	now := time.Now()

	// Speed grows 100 KiB/s every second.
	for i := range 120 {
		k.Update(float64(i)*100*1024, now.Add(time.Duration(i)*time.Second))
	}

	assert.Greater(t, k.Accel, 0.0)
	assert.Greater(t, k.Speed, 100*100*1024.0)
}

func TestKalmanIgnoresTooCloseSamples(t *testing.T) {
	t.Parallel()

	k := newTestKalman()
	now := time.Now()

	k.Update(1000, now)
	speed, _ := k.Update(99999, now.Add(5*time.Millisecond))
	assert.Equal(t, 1000.0, speed)
}

func TestKalmanPredictUpload(t *testing.T) {
	t.Parallel()

	k := newTestKalman()
	now := time.Now()
	for i := range 30 {
		k.Update(2048, now.Add(time.Duration(i)*time.Second))
	}

	pred := k.PredictUpload(100)
	assert.InDelta(t, 2048*100, pred, 2048*10)

	// A sharply decelerating filter must never predict negative bytes.
	k.Speed = 10
	k.Accel = -100
	assert.Zero(t, k.PredictUpload(60))
}

func TestKalmanReset(t *testing.T) {
	t.Parallel()

	k := newTestKalman()
	now := time.Now()
	k.Update(5000, now)
	k.Update(5000, now.Add(time.Second))

	k.Reset()
	assert.Zero(t, k.Speed)
	assert.Zero(t, k.Accel)

	// First sample after reset initialises again.
	speed, _ := k.Update(777, now.Add(2*time.Second))
	assert.Equal(t, 777.0, speed)
}
