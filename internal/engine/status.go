// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"sort"
	"time"

	"github.com/autobrr/cruise/internal/models"
)

// TorrentStatus is the per-torrent view served to the control surface.
type TorrentStatus struct {
	Hash           string    `json:"hash"`
	Name           string    `json:"name"`
	InstanceID     int       `json:"instanceId"`
	SiteID         int       `json:"siteId,omitempty"`
	Phase          Phase     `json:"phase"`
	TimeLeft       float64   `json:"timeLeft"`
	CycleIndex     int       `json:"cycleIndex"`
	CycleSynced    bool      `json:"cycleSynced"`
	TargetKiB      int64     `json:"targetKib"`
	UpLimit        int64     `json:"upLimit"`
	UpLimitReason  string    `json:"upLimitReason,omitempty"`
	DownLimitKiB   int64     `json:"downLimitKib"`
	WaitingReann   bool      `json:"waitingReannounce,omitempty"`
	LastReannounce time.Time `json:"lastReannounce,omitempty"`
	Debug          CalcDebug `json:"debug"`
}

// Status is the engine-level snapshot.
type Status struct {
	Running       bool            `json:"running"`
	Paused        bool            `json:"paused"`
	TempTargetKiB int64           `json:"tempTargetKib,omitempty"`
	TotalCycles   int64           `json:"totalCycles"`
	SuccessCycles int64           `json:"successCycles"`
	PreciseCycles int64           `json:"preciseCycles"`
	ManagedBytes  int64           `json:"managedBytes"`
	StartedAt     time.Time       `json:"startedAt,omitempty"`
	Bias          BiasSnapshot    `json:"bias"`
	Torrents      []TorrentStatus `json:"torrents"`
}

// Status snapshots the engine under a short lock.
func (e *Engine) Status() Status {
	now := e.now()

	e.mu.Lock()
	status := Status{
		Running:       e.running,
		Paused:        e.paused,
		TempTargetKiB: e.tempTargetKiB,
		StartedAt:     e.startedAt,
		Bias:          e.precision.Snapshot(),
		Torrents:      make([]TorrentStatus, 0, len(e.states)),
	}
	for _, s := range e.states {
		tl := s.TimeLeft(now)
		status.Torrents = append(status.Torrents, TorrentStatus{
			Hash:           s.Hash,
			Name:           s.Name,
			InstanceID:     s.InstanceID,
			SiteID:         s.SiteID,
			Phase:          s.Phase(tl),
			TimeLeft:       tl,
			CycleIndex:     s.CycleIndex,
			CycleSynced:    s.CycleSynced,
			TargetKiB:      s.TargetBps / 1024,
			UpLimit:        s.LastUpLimit,
			UpLimitReason:  s.LastUpReason,
			DownLimitKiB:   s.LastDownLimitK,
			WaitingReann:   s.WaitingReannounce,
			LastReannounce: s.LastReannounce,
			Debug:          s.lastDebug,
		})
	}
	e.mu.Unlock()

	status.TotalCycles = e.totalCycles.Load()
	status.SuccessCycles = e.successCycles.Load()
	status.PreciseCycles = e.preciseCycles.Load()
	status.ManagedBytes = e.managedUploaded.Load()

	sort.Slice(status.Torrents, func(i, j int) bool {
		return status.Torrents[i].TimeLeft < status.Torrents[j].TimeLeft
	})
	return status
}

// Samples returns the speed samples for one torrent over the trailing
// window, oldest first.
func (e *Engine) Samples(hash string, window time.Duration) []SpeedSample {
	now := e.now()

	e.mu.Lock()
	var ring *SpeedRing
	for k, s := range e.states {
		if k.hash == hash {
			ring = s.Ring()
			break
		}
	}
	e.mu.Unlock()

	if ring == nil {
		return nil
	}
	return ring.Window(now.Add(-window))
}

// History returns the most recent cycle records, optionally for one torrent.
func (e *Engine) History(ctx context.Context, hash string, limit int) ([]*models.CycleRecord, error) {
	if e.historyStore == nil {
		return nil, nil
	}

	instanceID := 0
	if hash != "" {
		e.mu.Lock()
		for k := range e.states {
			if k.hash == hash {
				instanceID = k.instanceID
				break
			}
		}
		e.mu.Unlock()
	}

	return e.historyStore.Recent(ctx, instanceID, hash, limit)
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Paused reports the pause flag.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}
