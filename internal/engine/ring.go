// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"sync"
	"time"
)

const speedRingCapacity = 3600

// SpeedSample is one observed (upload, download) speed pair.
type SpeedSample struct {
	At      time.Time `json:"t"`
	UpBps   float64   `json:"up"`
	DownBps float64   `json:"dl"`
}

// SpeedRing keeps roughly an hour of per-tick speed samples. The reannounce
// optimiser reads recent averages from it and the API serves it to the UI.
type SpeedRing struct {
	mu      sync.Mutex
	samples []SpeedSample
	head    int
	size    int
}

func NewSpeedRing() *SpeedRing {
	return &SpeedRing{samples: make([]SpeedSample, speedRingCapacity)}
}

// Record appends one sample, overwriting the oldest when full.
func (r *SpeedRing) Record(now time.Time, upBps, downBps float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.head] = SpeedSample{At: now, UpBps: upBps, DownBps: downBps}
	r.head = (r.head + 1) % len(r.samples)
	if r.size < len(r.samples) {
		r.size++
	}
}

// AvgSpeeds returns the mean upload and download speed over the trailing
// window. Zero when no samples fall inside it.
func (r *SpeedRing) AvgSpeeds(now time.Time, window time.Duration) (avgUp, avgDown float64) {
	cutoff := now.Add(-window)
	var up, down float64
	var n int
	for _, s := range r.Window(cutoff) {
		up += s.UpBps
		down += s.DownBps
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return up / float64(n), down / float64(n)
}

// Window returns all samples at or after cutoff, oldest first.
func (r *SpeedRing) Window(cutoff time.Time) []SpeedSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SpeedSample, 0, r.size)
	start := r.head - r.size
	if start < 0 {
		start += len(r.samples)
	}
	for i := 0; i < r.size; i++ {
		s := r.samples[(start+i)%len(r.samples)]
		if !s.At.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Clear drops all samples.
func (r *SpeedRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.size = 0
}
