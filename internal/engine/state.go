// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "time"

// TimeLeftSource records where the current time-to-announce estimate came from.
type TimeLeftSource string

const (
	SourceClient    TimeLeftSource = "client"
	SourceSite      TimeLeftSource = "site"
	SourceEstimated TimeLeftSource = "estimated"
)

// Cap sentinels for LastUpLimit.
const (
	// CapUncapped means the torrent is deliberately left without a cap.
	CapUncapped int64 = -1
	// CapUninitialized means no cap has ever been issued for this torrent.
	CapUninitialized int64 = -2
)

// TorrentState is the engine's per-torrent bookkeeping: cycle boundaries,
// tracker-time cache, site-resolved metadata and the embedded controller.
// The engine owns the state map; background workers mutate only the
// site-resolved subset, under the engine's lock.
type TorrentState struct {
	Hash       string
	Name       string
	Tracker    string
	InstanceID int
	TotalSize  int64
	AddedAt    time.Time

	// Session baseline for the real-average watchdog.
	SessionStart         time.Time
	SessionUploadedStart int64

	// Cycle bookkeeping.
	CycleIndex         int
	CycleStart         time.Time
	CycleUploadedStart int64
	CycleInterval      float64 // learned tracker period, seconds
	CycleSynced        bool
	PrevTimeLeft       float64
	JumpCount          int
	LastJump           time.Time

	// Tracker-time cache.
	CachedTimeLeft float64
	CacheAt        time.Time
	Source         TimeLeftSource
	LastProps      time.Time

	// Site-resolved fields, best-effort.
	SiteID            int // 0 = unmatched
	TID               int64
	Promotion         string
	PublishTime       time.Time
	TIDSearched       bool
	TIDSearchAt       time.Time
	TIDNotFoundUntil  time.Time
	LastPeerListCheck time.Time
	LastAnnounceTime  time.Time
	PeerListUploaded  int64

	// Control state.
	TargetBps       int64
	LastUpLimit     int64
	LastUpReason    string
	LastDownLimitK  int64 // KiB/s, -1 = none

	// Per-cycle flags.
	DownLimitedThisCycle bool
	ReannouncedThisCycle bool
	WaitingReannounce    bool
	LastReannounce       time.Time

	LastSeen        time.Time
	MonitorNotified bool

	controller *LimitController
	ring       *SpeedRing
	lastDebug  CalcDebug
}

// NewTorrentState creates a fresh state with its embedded controller.
func NewTorrentState(hash string, tuning Tuning) *TorrentState {
	return &TorrentState{
		Hash:           hash,
		LastUpLimit:    CapUninitialized,
		LastDownLimitK: -1,
		controller:     NewLimitController(tuning),
		ring:           NewSpeedRing(),
	}
}

// Controller returns the embedded limit controller, creating it on demand
// for states rebuilt from persistence.
func (s *TorrentState) Controller(tuning Tuning) *LimitController {
	if s.controller == nil {
		s.controller = NewLimitController(tuning)
	}
	return s.controller
}

// Ring returns the embedded speed sample ring.
func (s *TorrentState) Ring() *SpeedRing {
	if s.ring == nil {
		s.ring = NewSpeedRing()
	}
	return s.ring
}

// AnnounceInterval estimates the tracker announce period from torrent age:
// under a week 1800s, under a month 2700s, then 3600s. Site publish time
// wins over the client's added-on timestamp when known.
func (s *TorrentState) AnnounceInterval(now time.Time) int {
	ref := s.PublishTime
	if ref.IsZero() {
		ref = s.AddedAt
	}
	if ref.IsZero() {
		return AnnounceIntervalNew
	}
	age := now.Sub(ref)
	if age < 0 {
		age = 0
	}
	switch {
	case age < 7*24*time.Hour:
		return AnnounceIntervalNew
	case age < 30*24*time.Hour:
		return AnnounceIntervalWeek
	default:
		return AnnounceIntervalOld
	}
}

// TimeLeft returns seconds until the next announce. Priority: site-supplied
// last announce time, then the decayed client cache, then a sentinel 9999.
func (s *TorrentState) TimeLeft(now time.Time) float64 {
	if !s.LastAnnounceTime.IsZero() {
		interval := float64(s.AnnounceInterval(now))
		next := s.LastAnnounceTime.Add(time.Duration(interval * float64(time.Second)))
		tl := next.Sub(now).Seconds()
		if tl < 0 {
			return 0
		}
		return tl
	}

	if s.CacheAt.IsZero() {
		return 9999
	}
	tl := s.CachedTimeLeft - now.Sub(s.CacheAt).Seconds()
	if tl < 0 {
		return 0
	}
	return tl
}

// TimeLeftValid reports whether tl is a plausible announce countdown.
func TimeLeftValid(tl float64) bool {
	return tl > 0 && tl < MaxReannounce
}

// Phase classifies the current cycle position.
func (s *TorrentState) Phase(tl float64) Phase {
	return ClassifyPhase(s.CycleSynced, tl)
}

// CycleElapsed is seconds since the cycle opened, floored at zero.
func (s *TorrentState) CycleElapsed(now time.Time) float64 {
	if s.CycleStart.IsZero() {
		return 0
	}
	e := now.Sub(s.CycleStart).Seconds()
	if e < 0 {
		return 0
	}
	return e
}

// CycleUploaded is bytes uploaded since the cycle baseline. Clamped at zero
// so a decreasing client counter cannot go negative.
func (s *TorrentState) CycleUploaded(totalUploaded int64) int64 {
	up := totalUploaded - s.CycleUploadedStart
	if up < 0 {
		return 0
	}
	return up
}

// EstimateTotalCycleTime prefers elapsed+timeLeft when the countdown is
// valid, then the learned interval, then elapsed itself (degenerate).
func (s *TorrentState) EstimateTotalCycleTime(now time.Time, tl float64) float64 {
	elapsed := s.CycleElapsed(now)
	if TimeLeftValid(tl) {
		return maxf(1, elapsed+tl)
	}
	if s.CycleSynced && s.CycleInterval > 0 {
		return maxf(1, s.CycleInterval)
	}
	return maxf(1, elapsed)
}

// OpenCycle starts a new cycle at now. A detected jump increments the jump
// counter and, once two jumps more than a minute apart have been seen, locks
// in the tracker interval. Without a jump (first observation) the baseline is
// seeded synthetically: back out the Kalman speed over the elapsed part of
// the assumed interval, clamped to [0, uploaded]. That first cycle's ratio is
// informational only.
func (s *TorrentState) OpenCycle(now time.Time, uploaded int64, tl float64, isJump bool) {
	if isJump {
		s.JumpCount++
		if !s.LastJump.IsZero() {
			interval := now.Sub(s.LastJump).Seconds()
			if interval > 60 {
				s.CycleInterval = interval
				if s.JumpCount >= 2 {
					s.CycleSynced = true
				}
			}
		}
		s.LastJump = now
		s.LastAnnounceTime = now
		s.CycleUploadedStart = uploaded
	} else {
		interval := float64(s.AnnounceInterval(now))
		var elapsedInCycle float64
		if tl > 0 && tl < interval {
			elapsedInCycle = interval - tl
		}
		switch {
		case !s.AddedAt.IsZero() && now.Sub(s.AddedAt).Seconds() < interval:
			// Young torrent: everything uploaded so far belongs to this cycle.
			s.CycleUploadedStart = 0
		case elapsedInCycle > 60:
			var speed float64
			if s.controller != nil {
				speed = maxf(0, s.controller.KalmanSpeed())
			}
			if speed > 0 {
				est := uploaded - int64(speed*elapsedInCycle)
				if est < 0 {
					est = 0
				}
				s.CycleUploadedStart = est
			} else {
				s.CycleUploadedStart = uploaded
			}
		default:
			s.CycleUploadedStart = uploaded
		}
	}

	s.CycleStart = now
	s.CycleIndex++

	s.DownLimitedThisCycle = false
	s.ReannouncedThisCycle = false
	s.LastDownLimitK = -1

	if s.controller != nil {
		s.controller.Reset()
	}
	s.Ring().Clear()
	s.PrevTimeLeft = tl
}

// RealAvgSpeed is the session-wide average upload speed used by the
// overspeed watchdog.
func (s *TorrentState) RealAvgSpeed(totalUploaded int64, now time.Time) float64 {
	if s.SessionStart.IsZero() {
		return 0
	}
	dt := now.Sub(s.SessionStart).Seconds()
	if dt < 1e-6 {
		dt = 1e-6
	}
	return float64(totalUploaded-s.SessionUploadedStart) / dt
}

// Debug returns the most recent controller debug values.
func (s *TorrentState) Debug() CalcDebug {
	return s.lastDebug
}
