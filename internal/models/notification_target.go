// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/autobrr/cruise/internal/dbinterface"
)

var ErrNotificationTargetNotFound = errors.New("notification target not found")

// NotificationTarget is one configured notification destination, addressed
// by a shoutrrr URL. An empty EventKinds list subscribes to everything.
type NotificationTarget struct {
	ID         int      `json:"id"`
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	Enabled    bool     `json:"enabled"`
	EventKinds []string `json:"eventKinds"`
}

// AllowsKind reports whether the target subscribes to the event kind.
func (t *NotificationTarget) AllowsKind(kind string) bool {
	return len(t.EventKinds) == 0 || slices.Contains(t.EventKinds, kind)
}

type NotificationTargetStore struct {
	db dbinterface.Querier
}

func NewNotificationTargetStore(db dbinterface.Querier) *NotificationTargetStore {
	return &NotificationTargetStore{db: db}
}

func (s *NotificationTargetStore) Create(ctx context.Context, target *NotificationTarget) error {
	if strings.TrimSpace(target.URL) == "" {
		return errors.New("notification target url is required")
	}

	kinds, err := json.Marshal(target.EventKinds)
	if err != nil {
		return fmt.Errorf("marshal event kinds: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_targets (name, url, enabled, event_kinds) VALUES (?, ?, ?, ?)
	`, target.Name, target.URL, target.Enabled, string(kinds))
	if err != nil {
		return fmt.Errorf("insert notification target: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("notification target id: %w", err)
	}
	target.ID = int(id)
	return nil
}

func (s *NotificationTargetStore) Update(ctx context.Context, target *NotificationTarget) error {
	kinds, err := json.Marshal(target.EventKinds)
	if err != nil {
		return fmt.Errorf("marshal event kinds: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_targets
		SET name = ?, url = ?, enabled = ?, event_kinds = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, target.Name, target.URL, target.Enabled, string(kinds), target.ID)
	if err != nil {
		return fmt.Errorf("update notification target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotificationTargetNotFound
	}
	return nil
}

func (s *NotificationTargetStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM notification_targets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete notification target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotificationTargetNotFound
	}
	return nil
}

func (s *NotificationTargetStore) List(ctx context.Context, enabledOnly bool) ([]*NotificationTarget, error) {
	query := "SELECT id, name, url, enabled, event_kinds FROM notification_targets"
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list notification targets: %w", err)
	}
	defer rows.Close()

	var targets []*NotificationTarget
	for rows.Next() {
		var t NotificationTarget
		var kinds sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.URL, &t.Enabled, &kinds); err != nil {
			return nil, fmt.Errorf("scan notification target: %w", err)
		}
		if kinds.Valid && kinds.String != "" {
			if err := json.Unmarshal([]byte(kinds.String), &t.EventKinds); err != nil {
				return nil, fmt.Errorf("unmarshal event kinds: %w", err)
			}
		}
		targets = append(targets, &t)
	}
	return targets, rows.Err()
}
