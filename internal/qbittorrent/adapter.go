// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"
	"net/url"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/autobrr/cruise/internal/engine"
)

// Adapter implements engine.ClientAdapter on top of the pool. Every method
// converts transient RPC failures into errors the engine skips for the tick.
type Adapter struct {
	pool *ClientPool
}

func NewAdapter(pool *ClientPool) *Adapter {
	return &Adapter{pool: pool}
}

func (a *Adapter) ConnectedInstances() []int {
	return a.pool.ConnectedIDs()
}

func (a *Adapter) ActiveTorrents(ctx context.Context, instanceID int) ([]engine.Torrent, error) {
	client, err := a.pool.GetClient(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	torrents, err := client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{
		Filter: qbt.TorrentFilterActive,
	})
	if err != nil {
		return nil, fmt.Errorf("list active torrents: %w", err)
	}

	out := make([]engine.Torrent, 0, len(torrents))
	for _, t := range torrents {
		out = append(out, engine.Torrent{
			Hash:        t.Hash,
			Name:        t.Name,
			Tracker:     trackerHost(t.Tracker),
			Category:    t.Category,
			State:       string(t.State),
			TotalSize:   t.Size,
			Progress:    t.Progress,
			Uploaded:    t.Uploaded,
			Downloaded:  t.Downloaded,
			Done:        t.Completed,
			UpSpeed:     t.UpSpeed,
			DownSpeed:   t.DlSpeed,
			UpLimit:     t.UpLimit,
			DownLimit:   t.DlLimit,
			AddedOn:     time.Unix(t.AddedOn, 0),
			IsPaused:    isPausedState(t.State),
			IsUploading: t.UpSpeed > 0,
		})
	}
	return out, nil
}

func (a *Adapter) SecondsToAnnounce(ctx context.Context, instanceID int, hash string) (float64, error) {
	client, err := a.pool.GetClient(ctx, instanceID)
	if err != nil {
		return 0, err
	}

	props, err := client.GetTorrentPropertiesCtx(ctx, hash)
	if err != nil {
		return 0, fmt.Errorf("torrent properties: %w", err)
	}
	return float64(props.Reannounce), nil
}

func (a *Adapter) SetUploadLimits(ctx context.Context, batch engine.LimitBatch) error {
	client, err := a.pool.GetClient(ctx, batch.InstanceID)
	if err != nil {
		return err
	}
	// qBittorrent treats 0 as unlimited.
	limit := batch.LimitBps
	if limit < 0 {
		limit = 0
	}
	if err := client.SetTorrentUploadLimitCtx(ctx, batch.Hashes, limit); err != nil {
		return fmt.Errorf("set upload limit: %w", err)
	}
	return nil
}

func (a *Adapter) SetDownloadLimits(ctx context.Context, batch engine.LimitBatch) error {
	client, err := a.pool.GetClient(ctx, batch.InstanceID)
	if err != nil {
		return err
	}
	limit := batch.LimitBps
	if limit < 0 {
		limit = 0
	}
	if err := client.SetTorrentDownloadLimitCtx(ctx, batch.Hashes, limit); err != nil {
		return fmt.Errorf("set download limit: %w", err)
	}
	return nil
}

func (a *Adapter) Reannounce(ctx context.Context, instanceID int, hash string) error {
	client, err := a.pool.GetClient(ctx, instanceID)
	if err != nil {
		return err
	}
	if err := client.ReAnnounceTorrentsCtx(ctx, []string{hash}); err != nil {
		return fmt.Errorf("reannounce: %w", err)
	}
	return nil
}

// FreeSpace reports free disk bytes on the instance's default save path.
func (a *Adapter) FreeSpace(ctx context.Context, instanceID int) (int64, error) {
	client, err := a.pool.GetClient(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	free, err := client.GetFreeSpaceOnDiskCtx(ctx)
	if err != nil {
		return 0, fmt.Errorf("free space: %w", err)
	}
	return free, nil
}

// AppVersion returns the client version string for the startup notification.
func (a *Adapter) AppVersion(ctx context.Context, instanceID int) (string, error) {
	client, err := a.pool.GetClient(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return client.GetAppVersionCtx(ctx)
}

// trackerHost reduces an announce URL to its host for site matching.
func trackerHost(tracker string) string {
	if tracker == "" {
		return ""
	}
	u, err := url.Parse(tracker)
	if err != nil || u.Host == "" {
		return tracker
	}
	return u.Hostname()
}

func isPausedState(state qbt.TorrentState) bool {
	switch state {
	case qbt.TorrentStatePausedDl, qbt.TorrentStatePausedUp,
		qbt.TorrentStateStoppedDl, qbt.TorrentStateStoppedUp:
		return true
	}
	return false
}
