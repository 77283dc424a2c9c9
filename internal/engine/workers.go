// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	lookupQueueSize = 64

	tidSearchCooldown   = 60 * time.Second
	tidNotFoundCooldown = time.Hour
	peerListCooldown    = 300 * time.Second

	siteLookupTimeout = 15 * time.Second
)

type lookupReq struct {
	key    stateKey
	siteID int
	tid    int64
}

// enqueueLookupsLocked schedules best-effort site lookups for one torrent.
// Queues are bounded; a full queue drops the request and the cooldown stamp
// means it retries on a later pass. Called under mu.
func (e *Engine) enqueueLookupsLocked(state *TorrentState, now time.Time) {
	if e.sites == nil || state.SiteID == 0 {
		return
	}

	key := stateKey{instanceID: state.InstanceID, hash: state.Hash}

	if state.TID == 0 && now.After(state.TIDNotFoundUntil) &&
		(state.TIDSearchAt.IsZero() || now.Sub(state.TIDSearchAt) >= tidSearchCooldown) {
		state.TIDSearchAt = now
		select {
		case e.tidQueue <- lookupReq{key: key, siteID: state.SiteID}:
		default:
		}
	}

	if state.TID != 0 &&
		(state.LastPeerListCheck.IsZero() || now.Sub(state.LastPeerListCheck) >= peerListCooldown) {
		state.LastPeerListCheck = now
		select {
		case e.peerQueue <- lookupReq{key: key, siteID: state.SiteID, tid: state.TID}:
		default:
		}
	}
}

// tidWorker resolves torrents to site IDs. One outstanding request per site
// helper at a time; results merge into the state under mu.
func (e *Engine) tidWorker() {
	defer e.workerWG.Done()

	for {
		select {
		case <-e.stop:
			return
		case req := <-e.tidQueue:
			e.searchTID(req)
		}
	}
}

func (e *Engine) searchTID(req lookupReq) {
	ctx, cancel := context.WithTimeout(context.Background(), siteLookupTimeout)
	defer cancel()

	info, err := e.sites.SearchByHash(ctx, req.siteID, req.key.hash)

	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.states[req.key]
	if !ok {
		return
	}

	if err != nil {
		log.Debug().Err(err).Str("hash", req.key.hash).Int("siteID", req.siteID).Msg("tid search failed")
		return
	}
	if info == nil {
		state.TIDNotFoundUntil = e.now().Add(tidNotFoundCooldown)
		state.TIDSearched = true
		return
	}

	state.TID = info.TID
	state.Promotion = info.Promotion
	state.PublishTime = info.PublishTime
	state.TIDSearched = true
	log.Debug().Str("hash", req.key.hash).Int64("tid", info.TID).Str("promotion", info.Promotion).Msg("resolved site tid")
}

// peerWorker fetches our own peer row from the site, which carries the exact
// last announce time. That upgrades the torrent's countdown source from the
// client estimate to site truth.
func (e *Engine) peerWorker() {
	defer e.workerWG.Done()

	for {
		select {
		case <-e.stop:
			return
		case req := <-e.peerQueue:
			e.fetchPeerList(req)
		}
	}
}

func (e *Engine) fetchPeerList(req lookupReq) {
	ctx, cancel := context.WithTimeout(context.Background(), siteLookupTimeout)
	defer cancel()

	info, err := e.sites.PeerList(ctx, req.siteID, req.tid)

	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.states[req.key]
	if !ok {
		return
	}

	if err != nil || info == nil {
		log.Debug().Err(err).Str("hash", req.key.hash).Int64("tid", req.tid).Msg("peer list fetch failed")
		return
	}

	state.PeerListUploaded = info.UploadedBytes
	if !info.LastAnnounce.IsZero() {
		state.LastAnnounceTime = info.LastAnnounce
		state.Source = SourceSite
	}
}
