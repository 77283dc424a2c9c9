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

// CycleRecord is one completed announce cycle, as reported when the engine
// detects the announce boundary.
type CycleRecord struct {
	ID              int64     `json:"id"`
	InstanceID      int       `json:"instanceId"`
	Hash            string    `json:"hash"`
	Name            string    `json:"name"`
	SiteID          int       `json:"siteId"`
	CycleIndex      int       `json:"cycleIndex"`
	Phase           string    `json:"phase"`
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	UploadedBytes   int64     `json:"uploadedBytes"`
	TargetBytes     int64     `json:"targetBytes"`
	Ratio           float64   `json:"ratio"`
	Success         bool      `json:"success"`
	Precise         bool      `json:"precise"`
}

type CycleHistoryStore struct {
	db dbinterface.Querier
}

func NewCycleHistoryStore(db dbinterface.Querier) *CycleHistoryStore {
	return &CycleHistoryStore{db: db}
}

func (s *CycleHistoryStore) Append(ctx context.Context, r *CycleRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cycle_history
			(instance_id, hash, name, site_id, cycle_index, phase, started_at, ended_at,
			 duration_seconds, uploaded_bytes, target_bytes, ratio, success, precise)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.InstanceID, r.Hash, r.Name, r.SiteID, r.CycleIndex, r.Phase,
		nullTime(r.StartedAt), nullTime(r.EndedAt), r.DurationSeconds,
		r.UploadedBytes, r.TargetBytes, r.Ratio, r.Success, r.Precise)
	if err != nil {
		return errors.Wrap(err, "insert cycle record")
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// Recent returns the newest records, optionally filtered to one torrent.
func (s *CycleHistoryStore) Recent(ctx context.Context, instanceID int, hash string, limit int) ([]*CycleRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, instance_id, hash, name, site_id, cycle_index, phase, started_at, ended_at,
		       duration_seconds, uploaded_bytes, target_bytes, ratio, success, precise
		FROM cycle_history
	`
	var args []any
	if hash != "" {
		query += " WHERE instance_id = ? AND hash = ?"
		args = append(args, instanceID, hash)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query cycle history")
	}
	defer rows.Close()

	var records []*CycleRecord
	for rows.Next() {
		var r CycleRecord
		var startedAt, endedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.InstanceID, &r.Hash, &r.Name, &r.SiteID, &r.CycleIndex,
			&r.Phase, &startedAt, &endedAt, &r.DurationSeconds, &r.UploadedBytes,
			&r.TargetBytes, &r.Ratio, &r.Success, &r.Precise); err != nil {
			return nil, fmt.Errorf("scan cycle record: %w", err)
		}
		r.StartedAt = startedAt.Time
		r.EndedAt = endedAt.Time
		records = append(records, &r)
	}
	return records, rows.Err()
}

// Prune keeps the newest keep rows and deletes the rest.
func (s *CycleHistoryStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		keep = 10000
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cycle_history
		WHERE id NOT IN (SELECT id FROM cycle_history ORDER BY id DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, errors.Wrap(err, "prune cycle history")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
