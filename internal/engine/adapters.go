// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"time"
)

// Torrent is the engine's view of one client torrent, refreshed every pass
// from the client's sync endpoint.
type Torrent struct {
	Hash        string
	Name        string
	Tracker     string // announce URL host
	Category    string
	State       string
	TotalSize   int64
	Progress    float64
	Uploaded    int64 // session total, bytes
	Downloaded  int64
	Done        int64 // completed bytes
	UpSpeed     int64 // bytes/second
	DownSpeed   int64
	UpLimit     int64 // bytes/second, -1 uncapped
	DownLimit   int64
	AddedOn     time.Time
	IsPaused    bool
	IsUploading bool
}

// LimitBatch groups hashes that should receive the same cap so the adapter
// can issue one RPC per distinct value.
type LimitBatch struct {
	InstanceID int
	LimitBps   int64 // -1 removes the cap
	Hashes     []string
}

// ClientAdapter is what the engine needs from a torrent client. Implemented
// for qBittorrent; all methods must be safe for concurrent use.
type ClientAdapter interface {
	// ConnectedInstances lists instance IDs with a healthy connection.
	ConnectedInstances() []int

	// ActiveTorrents returns the torrents worth supervising on one instance:
	// uploading, downloading or recently active.
	ActiveTorrents(ctx context.Context, instanceID int) ([]Torrent, error)

	// SecondsToAnnounce fetches the tracker countdown for one torrent via the
	// properties endpoint. Expensive; the engine budgets calls to it.
	SecondsToAnnounce(ctx context.Context, instanceID int, hash string) (float64, error)

	// SetUploadLimits applies one cap to all hashes in the batch.
	SetUploadLimits(ctx context.Context, batch LimitBatch) error

	// SetDownloadLimits applies one download cap to all hashes in the batch.
	SetDownloadLimits(ctx context.Context, batch LimitBatch) error

	// Reannounce forces a tracker announce.
	Reannounce(ctx context.Context, instanceID int, hash string) error
}

// SiteTorrentInfo is what a site lookup resolves for a torrent.
type SiteTorrentInfo struct {
	TID         int64
	Promotion   string
	PublishTime time.Time
}

// PeerInfo is one peer row from a site's peer list page.
type PeerInfo struct {
	UploadedBytes int64
	LastAnnounce  time.Time
}

// SiteAssist is the optional site-side helper: per-tracker metadata lookups
// and cookie health. All methods are best-effort; errors degrade the engine
// to client-only estimates.
type SiteAssist interface {
	// Match resolves a tracker host to a site ID, 0 when unmatched.
	Match(trackerHost string) int

	// ReannounceOptEnabled reports whether the site opted into forced
	// reannounce optimisation.
	ReannounceOptEnabled(siteID int) bool

	// DownLimitEnabled reports whether the site opted into download capping.
	DownLimitEnabled(siteID int) bool

	// SpeedLimitBps returns the site's session ceiling override, or 0 for the
	// global default.
	SpeedLimitBps(siteID int) int64

	// SearchByHash looks the torrent up on the site.
	SearchByHash(ctx context.Context, siteID int, hash string) (*SiteTorrentInfo, error)

	// PeerList fetches our own peer row for the torrent.
	PeerList(ctx context.Context, siteID int, tid int64) (*PeerInfo, error)

	// CheckCookies verifies each enabled site's session, returning the names
	// of sites whose cookie no longer authenticates.
	CheckCookies(ctx context.Context) ([]string, error)
}

// RuleTarget is a resolved per-torrent target.
type RuleTarget struct {
	TargetBps int64
	RuleName  string
}

// RuleSource resolves a torrent to its upload target. Implementations cache;
// the engine calls this every pass for every torrent.
type RuleSource interface {
	Resolve(ctx context.Context, siteID int, trackerHost, category string) (RuleTarget, bool)
}
