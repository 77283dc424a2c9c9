// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/cruise/internal/dbinterface"
)

// TorrentStateRecord is the durable subset of the engine's per-torrent state.
// Controller internals (filters, PID, rings) are rebuilt from scratch after a
// restart; only what cannot be re-learned quickly is persisted.
type TorrentStateRecord struct {
	InstanceID         int
	Hash               string
	Name               string
	Tracker            string
	TotalSize          int64
	AddedAt            time.Time
	CycleIndex         int
	CycleStart         time.Time
	CycleUploadedStart int64
	CycleInterval      float64
	CycleSynced        bool
	JumpCount          int
	LastJump           time.Time
	SiteID             int
	TID                int64
	Promotion          string
	PublishTime        time.Time
	LastAnnounceTime   time.Time
	TargetBps          int64
	LastUpLimit        int64
	LastDownLimitKiB   int64
	UpdatedAt          time.Time
}

type TorrentStateStore struct {
	db dbinterface.TxBeginner
}

func NewTorrentStateStore(db dbinterface.TxBeginner) *TorrentStateStore {
	return &TorrentStateStore{db: db}
}

const torrentStateColumns = `
	instance_id, hash, name, tracker, total_size, added_at,
	cycle_index, cycle_start, cycle_uploaded_start, cycle_interval, cycle_synced,
	jump_count, last_jump, site_id, tid, promotion, publish_time, last_announce_time,
	target_bps, last_up_limit, last_down_limit_kib`

// SaveBatch upserts all records in one transaction. Called on the periodic
// persist tick and at shutdown.
func (s *TorrentStateStore) SaveBatch(ctx context.Context, records []*TorrentStateRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin state save")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO torrent_states (`+torrentStateColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (instance_id, hash) DO UPDATE SET
			name = excluded.name,
			tracker = excluded.tracker,
			total_size = excluded.total_size,
			added_at = excluded.added_at,
			cycle_index = excluded.cycle_index,
			cycle_start = excluded.cycle_start,
			cycle_uploaded_start = excluded.cycle_uploaded_start,
			cycle_interval = excluded.cycle_interval,
			cycle_synced = excluded.cycle_synced,
			jump_count = excluded.jump_count,
			last_jump = excluded.last_jump,
			site_id = excluded.site_id,
			tid = excluded.tid,
			promotion = excluded.promotion,
			publish_time = excluded.publish_time,
			last_announce_time = excluded.last_announce_time,
			target_bps = excluded.target_bps,
			last_up_limit = excluded.last_up_limit,
			last_down_limit_kib = excluded.last_down_limit_kib,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return errors.Wrap(err, "prepare state upsert")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.InstanceID, r.Hash, r.Name, r.Tracker, r.TotalSize, nullTime(r.AddedAt),
			r.CycleIndex, nullTime(r.CycleStart), r.CycleUploadedStart, r.CycleInterval, r.CycleSynced,
			r.JumpCount, nullTime(r.LastJump), r.SiteID, r.TID, r.Promotion,
			nullTime(r.PublishTime), nullTime(r.LastAnnounceTime),
			r.TargetBps, r.LastUpLimit, r.LastDownLimitKiB,
		); err != nil {
			return errors.Wrapf(err, "upsert state %s", r.Hash)
		}
	}

	return errors.Wrap(tx.Commit(), "commit state save")
}

// All loads every persisted state, newest first.
func (s *TorrentStateStore) All(ctx context.Context) ([]*TorrentStateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+torrentStateColumns+`, updated_at
		FROM torrent_states ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "load torrent states")
	}
	defer rows.Close()

	var records []*TorrentStateRecord
	for rows.Next() {
		var r TorrentStateRecord
		var addedAt, cycleStart, lastJump, publishTime, lastAnnounce, updatedAt sql.NullTime
		if err := rows.Scan(&r.InstanceID, &r.Hash, &r.Name, &r.Tracker, &r.TotalSize, &addedAt,
			&r.CycleIndex, &cycleStart, &r.CycleUploadedStart, &r.CycleInterval, &r.CycleSynced,
			&r.JumpCount, &lastJump, &r.SiteID, &r.TID, &r.Promotion, &publishTime, &lastAnnounce,
			&r.TargetBps, &r.LastUpLimit, &r.LastDownLimitKiB, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan torrent state: %w", err)
		}
		r.AddedAt = addedAt.Time
		r.CycleStart = cycleStart.Time
		r.LastJump = lastJump.Time
		r.PublishTime = publishTime.Time
		r.LastAnnounceTime = lastAnnounce.Time
		r.UpdatedAt = updatedAt.Time
		records = append(records, &r)
	}
	return records, rows.Err()
}

// Delete removes one persisted state.
func (s *TorrentStateStore) Delete(ctx context.Context, instanceID int, hash string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM torrent_states WHERE instance_id = ? AND hash = ?", instanceID, hash)
	return errors.Wrap(err, "delete torrent state")
}

// PruneStale drops rows not refreshed since cutoff. Both sides go through
// datetime() so the driver's text timestamp format and CURRENT_TIMESTAMP
// compare as instants, not strings.
func (s *TorrentStateStore) PruneStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM torrent_states WHERE datetime(updated_at) < datetime(?)", cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "prune torrent states")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
