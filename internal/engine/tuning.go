// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "time"

// Protocol constants. These are fixed by the control contract and shared with
// every deployment; per-site overrides go through EngineConfig instead.
const (
	// MinLimit is the lowest upload cap ever issued, in bytes/second.
	MinLimit int64 = 4096

	// DefaultSpeedLimit is the hard per-session ceiling some trackers enforce,
	// in bytes/second. Site-overridable.
	DefaultSpeedLimit int64 = 50 * 1024 * 1024

	// MaxReannounce is the upper bound on a plausible time-to-announce; any
	// larger value is treated as invalid.
	MaxReannounce float64 = 86400

	// ReannounceMinInterval is the minimum spacing between forced reannounces.
	ReannounceMinInterval = 900 * time.Second

	// ReannounceWaitLimit is the temporary upload cap while stalling for a
	// reannounce, in KiB/s.
	ReannounceWaitLimit int64 = 5120

	// ProgressProtect is the completion fraction above which a torrent close
	// to its announce is never left uncapped.
	ProgressProtect = 0.90

	// Announce interval buckets by torrent age.
	AnnounceIntervalNew  = 1800
	AnnounceIntervalWeek = 2700
	AnnounceIntervalOld  = 3600

	// DBSaveInterval is how often torrent state is flushed to the store.
	DBSaveInterval = 180 * time.Second

	// CookieCheckInterval is how often site cookies are revalidated.
	CookieCheckInterval = 3600 * time.Second

	// StateEvictAfter removes states whose torrent has not been seen.
	StateEvictAfter = 2 * time.Hour
)

// PIDGains holds the per-phase controller gains and the headroom multiplier
// applied to the required rate.
type PIDGains struct {
	Kp       float64
	Ki       float64
	Kd       float64
	Headroom float64
}

// Tuning bundles every knob of the control path. DefaultTuning matches the
// values the controller was hand-tuned with; tests construct variants.
type Tuning struct {
	PID        map[Phase]PIDGains
	QuantSteps map[Phase]int64
	MinLimit   int64

	KalmanQSpeed float64
	KalmanQAccel float64
	KalmanR      float64
}

// DefaultTuning returns the production gain schedule.
func DefaultTuning() Tuning {
	return Tuning{
		PID: map[Phase]PIDGains{
			PhaseWarmup: {Kp: 0.3, Ki: 0.05, Kd: 0.02, Headroom: 1.030},
			PhaseCatch:  {Kp: 0.5, Ki: 0.10, Kd: 0.05, Headroom: 1.020},
			PhaseSteady: {Kp: 0.6, Ki: 0.15, Kd: 0.08, Headroom: 1.005},
			PhaseFinish: {Kp: 0.8, Ki: 0.20, Kd: 0.12, Headroom: 1.001},
		},
		QuantSteps: map[Phase]int64{
			PhaseWarmup: 4096,
			PhaseCatch:  2048,
			PhaseSteady: 512,
			PhaseFinish: 256,
		},
		MinLimit:     MinLimit,
		KalmanQSpeed: 0.1,
		KalmanQAccel: 0.05,
		KalmanR:      0.5,
	}
}

// Gains returns the gain set for a phase, falling back to steady.
func (t Tuning) Gains(phase Phase) PIDGains {
	if g, ok := t.PID[phase]; ok {
		return g
	}
	return t.PID[PhaseSteady]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// safeDiv divides a by b, returning def when b is zero or effectively zero.
func safeDiv(a, b, def float64) float64 {
	if b == 0 || (b < 1e-10 && b > -1e-10) {
		return def
	}
	return a / b
}
