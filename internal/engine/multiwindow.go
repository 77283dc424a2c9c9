// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"sync"
	"time"
)

// multiWindowCapacity keeps at least 20 minutes of once-per-second samples.
const multiWindowCapacity = 1200

var phaseWindowWeights = map[Phase]map[int]float64{
	PhaseWarmup: {5: 0.10, 15: 0.20, 30: 0.30, 60: 0.40},
	PhaseCatch:  {5: 0.20, 15: 0.30, 30: 0.30, 60: 0.20},
	PhaseSteady: {5: 0.30, 15: 0.30, 30: 0.20, 60: 0.20},
	PhaseFinish: {5: 0.50, 15: 0.30, 30: 0.15, 60: 0.05},
}

var windowSizes = []int{5, 15, 30, 60}

type speedSample struct {
	at    time.Time
	speed float64
}

// MultiWindow keeps a bounded ring of speed samples and answers
// phase-weighted averages across several lookback windows. Short windows
// dominate in finish phase, long windows during warmup.
type MultiWindow struct {
	mu      sync.Mutex
	samples []speedSample
	head    int
	size    int
}

func NewMultiWindow() *MultiWindow {
	return &MultiWindow{samples: make([]speedSample, multiWindowCapacity)}
}

// Record appends a sample, overwriting the oldest when full.
func (m *MultiWindow) Record(now time.Time, speed float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[m.head] = speedSample{at: now, speed: speed}
	m.head = (m.head + 1) % len(m.samples)
	if m.size < len(m.samples) {
		m.size++
	}
}

// snapshot returns samples oldest-first. Caller must not hold the lock.
func (m *MultiWindow) snapshot() []speedSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]speedSample, 0, m.size)
	start := m.head - m.size
	if start < 0 {
		start += len(m.samples)
	}
	for i := 0; i < m.size; i++ {
		out = append(out, m.samples[(start+i)%len(m.samples)])
	}
	return out
}

// WeightedAvg computes the phase-weighted average speed. Windows with no
// samples are skipped and their weight excluded from the normaliser.
func (m *MultiWindow) WeightedAvg(now time.Time, phase Phase) float64 {
	weights, ok := phaseWindowWeights[phase]
	if !ok {
		weights = phaseWindowWeights[PhaseSteady]
	}

	samples := m.snapshot()

	var weightedSum, totalWeight float64
	for _, window := range windowSizes {
		cutoff := now.Add(-time.Duration(window) * time.Second)
		var sum float64
		var n int
		for _, s := range samples {
			if !s.at.Before(cutoff) {
				sum += s.speed
				n++
			}
		}
		if n == 0 {
			continue
		}
		w := weights[window]
		weightedSum += (sum / float64(n)) * w
		totalWeight += w
	}
	if totalWeight <= 0 {
		return 0
	}
	return weightedSum / totalWeight
}

// RecentTrend splits the last 10s of samples in halves and returns the
// relative change between their averages. The quantiser tightens its step
// when the speed is moving.
func (m *MultiWindow) RecentTrend(now time.Time) float64 {
	cutoff := now.Add(-10 * time.Second)
	samples := m.snapshot()

	recent := samples[:0:0]
	for _, s := range samples {
		if !s.at.Before(cutoff) {
			recent = append(recent, s)
		}
	}
	if len(recent) < 5 {
		return 0
	}
	mid := len(recent) / 2
	var first, second float64
	for _, s := range recent[:mid] {
		first += s.speed
	}
	for _, s := range recent[mid:] {
		second += s.speed
	}
	first /= float64(mid)
	second /= float64(len(recent) - mid)
	return safeDiv(second-first, first, 0)
}

// Clear drops all samples.
func (m *MultiWindow) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = 0
	m.size = 0
}
