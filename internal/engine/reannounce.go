// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "time"

// reannounceSpeedWindow is the lookback over the speed ring used to decide
// whether the recent history exceeds the ceiling.
const reannounceSpeedWindow = 300 * time.Second

// DefaultRecoverySlope is the assumed rate (bytes/second) at which the
// over-ceiling surplus drains once upload is stalled. Hand-tuned; kept
// configurable.
const DefaultRecoverySlope int64 = 45 * 1024 * 1024

// ReannounceOptimizer decides when to force a tracker reannounce so that a
// torrent racing past the session ceiling reports a clean average. Applies
// only to sites that opt in.
type ReannounceOptimizer struct {
	SpeedLimit    int64 // bytes/second ceiling
	RecoverySlope int64 // bytes/second
}

func NewReannounceOptimizer(speedLimit int64) *ReannounceOptimizer {
	return &ReannounceOptimizer{SpeedLimit: speedLimit, RecoverySlope: DefaultRecoverySlope}
}

// ShouldReannounce evaluates the optimisation for one tick. It may set
// state.WaitingReannounce as a side effect, asking the engine to stall
// upload until the average recovers.
func (o *ReannounceOptimizer) ShouldReannounce(state *TorrentState, totalDone, totalUploaded, totalSize int64, now time.Time) (bool, string) {
	if !state.LastReannounce.IsZero() && now.Sub(state.LastReannounce) < ReannounceMinInterval {
		return false, ""
	}

	cycleUp := state.CycleUploaded(totalUploaded)
	cycleElapsed := state.CycleElapsed(now)
	if cycleElapsed < 30 {
		return false, ""
	}

	avgUp, avgDown := state.Ring().AvgSpeeds(now, reannounceSpeedWindow)
	if avgUp <= float64(o.SpeedLimit) || avgDown <= 0 {
		return false, ""
	}

	remaining := totalSize - totalDone
	if remaining <= 0 {
		return false, ""
	}

	announceInterval := float64(state.AnnounceInterval(now))
	completeTime := now.Add(secs(float64(remaining) / avgDown))
	perfectTime := completeTime.Add(-secs(announceInterval * float64(o.SpeedLimit) / avgUp))

	overshoot := float64(cycleUp)/cycleElapsed > float64(o.SpeedLimit)
	earliest := now
	if overshoot {
		surplus := float64(cycleUp) - float64(o.SpeedLimit)*cycleElapsed
		earliest = now.Add(secs(surplus / float64(o.RecoverySlope)))
	}

	// Never reannounce within the minimum interval of the cycle opening.
	cycleStart := now.Add(-secs(cycleElapsed))
	if earliest.Sub(cycleStart) < ReannounceMinInterval {
		return false, ""
	}

	if earliest.After(perfectTime) {
		if !now.Before(earliest) {
			if overshoot {
				return true, "optimised"
			}
		} else if earliest.Before(perfectTime.Add(60 * time.Second)) {
			state.WaitingReannounce = true
			return false, "waiting"
		}
	}

	return false, ""
}

// ResolveWaiting checks whether a pending wait-to-reannounce can complete:
// enough of the cycle has passed and the running average is back under the
// ceiling. Clears the flag and asks for a forced reannounce when it has.
func (o *ReannounceOptimizer) ResolveWaiting(state *TorrentState, totalUploaded int64, now time.Time) (bool, string) {
	if !state.WaitingReannounce {
		return false, ""
	}

	cycleElapsed := state.CycleElapsed(now)
	if cycleElapsed < ReannounceMinInterval.Seconds() {
		return false, ""
	}

	avg := safeDiv(float64(state.CycleUploaded(totalUploaded)), cycleElapsed, 0)
	if avg < float64(o.SpeedLimit) {
		state.WaitingReannounce = false
		return true, "average-recovered"
	}

	return false, ""
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
