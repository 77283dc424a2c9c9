// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/autobrr/cruise/internal/dbinterface"
)

var ErrSpeedRuleNotFound = errors.New("speed rule not found")

// SpeedRule maps torrents to an average upload target. A torrent matches
// when its site, tracker substring and category (those that are set) all
// match; the highest-priority match wins.
type SpeedRule struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	SiteID          *int   `json:"siteId,omitempty"`
	TrackerContains string `json:"trackerContains,omitempty"`
	Category        string `json:"category,omitempty"`
	TargetKiB       int64   `json:"targetKib"`
	SafetyMargin    float64 `json:"safetyMargin"`
	Priority        int     `json:"priority"`
	Enabled         bool    `json:"enabled"`
}

// TargetBps is the rule target in bytes/second with the safety margin
// applied.
func (r *SpeedRule) TargetBps() int64 {
	margin := r.SafetyMargin
	if margin <= 0 {
		margin = 1.0
	}
	return int64(float64(r.TargetKiB*1024) * margin)
}

// Matches reports whether the rule applies to a torrent. Empty criteria match
// everything.
func (r *SpeedRule) Matches(siteID int, trackerHost, category string) bool {
	if r.SiteID != nil && *r.SiteID != siteID {
		return false
	}
	if r.TrackerContains != "" && !strings.Contains(strings.ToLower(trackerHost), strings.ToLower(r.TrackerContains)) {
		return false
	}
	if r.Category != "" && r.Category != category {
		return false
	}
	return true
}

type SpeedRuleStore struct {
	db dbinterface.Querier
}

func NewSpeedRuleStore(db dbinterface.Querier) *SpeedRuleStore {
	return &SpeedRuleStore{db: db}
}

func (s *SpeedRuleStore) Create(ctx context.Context, rule *SpeedRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return errors.New("rule name is required")
	}
	if rule.TargetKiB <= 0 {
		return errors.New("rule target must be positive")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO speed_rules (name, site_id, tracker_contains, category, target_kib, safety_margin, priority, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.Name, rule.SiteID, rule.TrackerContains, rule.Category, rule.TargetKiB, rule.SafetyMargin, rule.Priority, rule.Enabled)
	if err != nil {
		return errors.Wrap(err, "insert speed rule")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "speed rule id")
	}
	rule.ID = int(id)
	return nil
}

func (s *SpeedRuleStore) Update(ctx context.Context, rule *SpeedRule) error {
	if rule.TargetKiB <= 0 {
		return errors.New("rule target must be positive")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE speed_rules
		SET name = ?, site_id = ?, tracker_contains = ?, category = ?, target_kib = ?,
		    safety_margin = ?, priority = ?, enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, rule.Name, rule.SiteID, rule.TrackerContains, rule.Category, rule.TargetKiB,
		rule.SafetyMargin, rule.Priority, rule.Enabled, rule.ID)
	if err != nil {
		return errors.Wrap(err, "update speed rule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSpeedRuleNotFound
	}
	return nil
}

func (s *SpeedRuleStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM speed_rules WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "delete speed rule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSpeedRuleNotFound
	}
	return nil
}

// List returns rules ordered by priority, highest first, so the first match
// during rule resolution wins.
func (s *SpeedRuleStore) List(ctx context.Context, enabledOnly bool) ([]*SpeedRule, error) {
	query := `
		SELECT id, name, site_id, tracker_contains, category, target_kib, safety_margin, priority, enabled
		FROM speed_rules
	`
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY priority DESC, id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list speed rules")
	}
	defer rows.Close()

	var rules []*SpeedRule
	for rows.Next() {
		var rule SpeedRule
		var siteID sql.NullInt64
		if err := rows.Scan(&rule.ID, &rule.Name, &siteID, &rule.TrackerContains,
			&rule.Category, &rule.TargetKiB, &rule.SafetyMargin, &rule.Priority, &rule.Enabled); err != nil {
			return nil, fmt.Errorf("scan speed rule: %w", err)
		}
		if siteID.Valid {
			id := int(siteID.Int64)
			rule.SiteID = &id
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}
