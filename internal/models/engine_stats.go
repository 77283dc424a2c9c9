// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/cruise/internal/dbinterface"
)

// EngineStats is the single-row lifetime counter set, including the learned
// precision bias so it survives restarts.
type EngineStats struct {
	TotalCycles          int64     `json:"totalCycles"`
	SuccessCycles        int64     `json:"successCycles"`
	PreciseCycles        int64     `json:"preciseCycles"`
	ManagedUploadedBytes int64     `json:"managedUploadedBytes"`
	BiasWarmup           float64   `json:"biasWarmup"`
	BiasCatch            float64   `json:"biasCatch"`
	BiasSteady           float64   `json:"biasSteady"`
	BiasFinish           float64   `json:"biasFinish"`
	BiasGlobal           float64   `json:"biasGlobal"`
	StartedAt            time.Time `json:"startedAt"`
}

type EngineStatsStore struct {
	db dbinterface.Querier
}

func NewEngineStatsStore(db dbinterface.Querier) *EngineStatsStore {
	return &EngineStatsStore{db: db}
}

// Load returns the stats row, or zero-valued stats with unit biases when none
// has been written yet.
func (s *EngineStatsStore) Load(ctx context.Context) (*EngineStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT total_cycles, success_cycles, precise_cycles, managed_uploaded_bytes,
		       bias_warmup, bias_catch, bias_steady, bias_finish, bias_global, started_at
		FROM engine_stats WHERE id = 1
	`)

	var stats EngineStats
	var startedAt sql.NullTime
	err := row.Scan(&stats.TotalCycles, &stats.SuccessCycles, &stats.PreciseCycles,
		&stats.ManagedUploadedBytes, &stats.BiasWarmup, &stats.BiasCatch, &stats.BiasSteady,
		&stats.BiasFinish, &stats.BiasGlobal, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &EngineStats{BiasWarmup: 1, BiasCatch: 1, BiasSteady: 1, BiasFinish: 1, BiasGlobal: 1}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load engine stats")
	}
	stats.StartedAt = startedAt.Time
	return &stats, nil
}

func (s *EngineStatsStore) Save(ctx context.Context, stats *EngineStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_stats
			(id, total_cycles, success_cycles, precise_cycles, managed_uploaded_bytes,
			 bias_warmup, bias_catch, bias_steady, bias_finish, bias_global, started_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			total_cycles = excluded.total_cycles,
			success_cycles = excluded.success_cycles,
			precise_cycles = excluded.precise_cycles,
			managed_uploaded_bytes = excluded.managed_uploaded_bytes,
			bias_warmup = excluded.bias_warmup,
			bias_catch = excluded.bias_catch,
			bias_steady = excluded.bias_steady,
			bias_finish = excluded.bias_finish,
			bias_global = excluded.bias_global,
			started_at = excluded.started_at,
			updated_at = CURRENT_TIMESTAMP
	`, stats.TotalCycles, stats.SuccessCycles, stats.PreciseCycles, stats.ManagedUploadedBytes,
		stats.BiasWarmup, stats.BiasCatch, stats.BiasSteady, stats.BiasFinish, stats.BiasGlobal,
		nullTime(stats.StartedAt))
	return errors.Wrap(err, "save engine stats")
}
