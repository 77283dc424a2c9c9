// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "time"

// Download limiter defaults. Buffers are hand-tuned and kept configurable.
const (
	DownLimitMinTime      = 20.0 // seconds of ETA below which a cap is considered
	DownLimitBuffer       = 30.0 // seconds of slack in the first cap
	DownLimitAdjustBuffer = 60.0 // seconds of slack when tightening
	DownLimitMinKiB       = 512  // floor, KiB/s
)

// DownLimiter computes the download cap that keeps the in-cycle average
// upload under the hard session ceiling. This is the safety ceiling, not the
// user target: downloading to completion would end the cycle early and lock
// in an over-limit average, so the download is stretched instead.
type DownLimiter struct {
	SpeedLimit   int64 // bytes/second ceiling
	MinTime      float64
	Buffer       float64
	AdjustBuffer float64
}

func NewDownLimiter(speedLimit int64) *DownLimiter {
	return &DownLimiter{
		SpeedLimit:   speedLimit,
		MinTime:      DownLimitMinTime,
		Buffer:       DownLimitBuffer,
		AdjustBuffer: DownLimitAdjustBuffer,
	}
}

// Calc returns (KiB/s, reason). A negative value with reason "release" asks
// the engine to lift an active cap; a negative value with an empty reason
// means no change.
func (d *DownLimiter) Calc(state *TorrentState, totalDone, totalUploaded, totalSize int64, downSpeed float64, now time.Time) (int64, string) {
	cycleUp := state.CycleUploaded(totalUploaded)
	cycleElapsed := state.CycleElapsed(now)
	if cycleElapsed < 2 {
		return -1, ""
	}

	avgSpeed := float64(cycleUp) / cycleElapsed
	if avgSpeed <= float64(d.SpeedLimit) {
		if state.LastDownLimitK > 0 {
			return -1, "release"
		}
		return -1, ""
	}

	remaining := totalSize - totalDone
	if remaining <= 0 {
		return -1, ""
	}

	eta := float64(remaining) / maxf(downSpeed, 1)
	minTime := d.MinTime
	if state.LastUpLimit > 0 {
		// An active upload cap slows the average recovery, so act earlier.
		minTime *= 2
	}

	if state.LastDownLimitK <= 0 {
		if eta > 0 && eta <= minTime {
			denominator := float64(cycleUp)/float64(d.SpeedLimit) - cycleElapsed + d.Buffer
			if denominator <= 0 {
				return DownLimitMinKiB, "overspeed-severe"
			}
			limit := int64(float64(remaining) / denominator / 1024)
			if limit < DownLimitMinKiB {
				limit = DownLimitMinKiB
			}
			return limit, "avg-over-limit"
		}
		return -1, ""
	}

	// Cap already active and the average is still above the ceiling: tighten,
	// but only when the client is not already throttled well below the cap and
	// the recomputed value is meaningfully lower.
	if downSpeed/1024 < 2*float64(state.LastDownLimitK) {
		denominator := float64(cycleUp)/float64(d.SpeedLimit) - cycleElapsed + d.AdjustBuffer
		if denominator <= 0 {
			return DownLimitMinKiB, "overspeed-persistent"
		}
		limit := int64(float64(remaining) / denominator / 1024)
		if limit < DownLimitMinKiB {
			limit = DownLimitMinKiB
		}
		if float64(limit) < float64(state.LastDownLimitK)*0.95 {
			return limit, "tighten"
		}
	}

	return -1, ""
}
