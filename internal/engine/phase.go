// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

// Phase classifies where inside an announce cycle a torrent currently is.
// The controller picks gains, quantiser steps and refresh cadence by phase.
type Phase string

const (
	// PhaseWarmup applies until two announce jumps have been observed and the
	// tracker period is known.
	PhaseWarmup Phase = "warmup"
	// PhaseSteady applies with more than a minute to the next announce.
	PhaseSteady Phase = "steady"
	// PhaseCatch applies in the 10-60s window before the announce.
	PhaseCatch Phase = "catch"
	// PhaseFinish applies in the last 10s, where the final kilobytes decide
	// whether the cycle average lands on target.
	PhaseFinish Phase = "finish"
)

// ClassifyPhase is a pure function of cycle sync state and time left.
func ClassifyPhase(cycleSynced bool, timeLeft float64) Phase {
	if !cycleSynced {
		return PhaseWarmup
	}
	if timeLeft < 10 {
		return PhaseFinish
	}
	if timeLeft < 60 {
		return PhaseCatch
	}
	return PhaseSteady
}
