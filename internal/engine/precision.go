// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"sync"
	"time"
)

const precisionWindow = 30

type cycleOutcome struct {
	ratio float64
	phase Phase
	at    time.Time
}

// PrecisionTracker learns a small multiplicative bias from realised cycle
// ratios and feeds it back into the effective target, correcting systematic
// over/undershoot across all torrents. Per-phase adjustments stay within
// [0.92, 1.08]; the global adjustment within [0.95, 1.05].
type PrecisionTracker struct {
	mu        sync.Mutex
	history   []cycleOutcome
	phaseAdj  map[Phase]float64
	globalAdj float64
}

func NewPrecisionTracker() *PrecisionTracker {
	return &PrecisionTracker{
		phaseAdj: map[Phase]float64{
			PhaseWarmup: 1.0,
			PhaseCatch:  1.0,
			PhaseSteady: 1.0,
			PhaseFinish: 1.0,
		},
		globalAdj: 1.0,
	}
}

// Record adds one realised cycle ratio labelled with the phase active at
// cycle end, then refreshes the adjustments.
func (p *PrecisionTracker) Record(ratio float64, phase Phase, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, cycleOutcome{ratio: ratio, phase: phase, at: now})
	if len(p.history) > precisionWindow {
		p.history = p.history[len(p.history)-precisionWindow:]
	}
	p.update()
}

func (p *PrecisionTracker) update() {
	if len(p.history) < 5 {
		return
	}

	byPhase := make(map[Phase][]float64)
	for _, o := range p.history {
		byPhase[o.phase] = append(byPhase[o.phase], o.ratio)
	}

	for phase, ratios := range byPhase {
		if len(ratios) < 3 {
			continue
		}
		var sum float64
		for _, r := range ratios {
			sum += r
		}
		avg := sum / float64(len(ratios))

		adj := 1.0
		switch {
		case avg > 1.005:
			adj = 0.998
		case avg > 1.001:
			adj = 0.999
		case avg < 0.99:
			adj = 1.002
		case avg < 0.995:
			adj = 1.001
		}
		p.phaseAdj[phase] = clamp(p.phaseAdj[phase]*adj, 0.92, 1.08)
	}

	var total float64
	for _, o := range p.history {
		total += o.ratio
	}
	globalAvg := total / float64(len(p.history))
	if globalAvg > 1.002 {
		p.globalAdj = clamp(p.globalAdj*0.999, 0.95, 1.05)
	} else if globalAvg < 0.995 {
		p.globalAdj = clamp(p.globalAdj*1.001, 0.95, 1.05)
	}
}

// Adjustment returns the multiplier the controller applies to the effective
// target before computing the required rate.
func (p *PrecisionTracker) Adjustment(phase Phase) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	adj, ok := p.phaseAdj[phase]
	if !ok {
		adj = 1.0
	}
	return adj * p.globalAdj
}

// BiasSnapshot captures the learned adjustments for persistence.
type BiasSnapshot struct {
	Warmup float64 `json:"warmup"`
	Catch  float64 `json:"catch"`
	Steady float64 `json:"steady"`
	Finish float64 `json:"finish"`
	Global float64 `json:"global"`
}

// Snapshot exports the current bias state.
func (p *PrecisionTracker) Snapshot() BiasSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return BiasSnapshot{
		Warmup: p.phaseAdj[PhaseWarmup],
		Catch:  p.phaseAdj[PhaseCatch],
		Steady: p.phaseAdj[PhaseSteady],
		Finish: p.phaseAdj[PhaseFinish],
		Global: p.globalAdj,
	}
}

// Restore installs persisted bias state. Values are re-clamped so a
// corrupted row cannot push the adjustments out of range.
func (p *PrecisionTracker) Restore(s BiasSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	restore := func(v float64) float64 {
		if v <= 0 {
			return 1.0
		}
		return clamp(v, 0.92, 1.08)
	}
	p.phaseAdj[PhaseWarmup] = restore(s.Warmup)
	p.phaseAdj[PhaseCatch] = restore(s.Catch)
	p.phaseAdj[PhaseSteady] = restore(s.Steady)
	p.phaseAdj[PhaseFinish] = restore(s.Finish)
	if s.Global <= 0 {
		p.globalAdj = 1.0
	} else {
		p.globalAdj = clamp(s.Global, 0.95, 1.05)
	}
}
