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

var ErrSiteNotFound = errors.New("site not found")

// Site is one private tracker the engine knows how to talk to. Matching is by
// keyword against the torrent's tracker host.
type Site struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	BaseURL       string `json:"baseUrl"`
	MatchKeywords string `json:"matchKeywords"` // comma separated substrings
	Cookie        string `json:"-"`
	UserAgent     string `json:"userAgent,omitempty"`
	ReannounceOpt bool   `json:"reannounceOpt"`
	DownLimit     bool   `json:"downLimit"`
	SpeedLimitKiB *int64 `json:"speedLimitKib,omitempty"` // session ceiling override
	Enabled       bool   `json:"enabled"`
}

// Keywords splits MatchKeywords into trimmed, lowercased tokens.
func (s *Site) Keywords() []string {
	var out []string
	for _, k := range strings.Split(s.MatchKeywords, ",") {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Matches reports whether trackerHost belongs to this site.
func (s *Site) Matches(trackerHost string) bool {
	host := strings.ToLower(trackerHost)
	for _, k := range s.Keywords() {
		if strings.Contains(host, k) {
			return true
		}
	}
	return false
}

type SiteStore struct {
	db dbinterface.Querier
}

func NewSiteStore(db dbinterface.Querier) *SiteStore {
	return &SiteStore{db: db}
}

func (s *SiteStore) Create(ctx context.Context, site *Site) error {
	if strings.TrimSpace(site.Name) == "" {
		return errors.New("site name is required")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (name, base_url, match_keywords, cookie, user_agent, reannounce_opt, down_limit, speed_limit_kib, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, site.Name, site.BaseURL, site.MatchKeywords, site.Cookie, site.UserAgent,
		site.ReannounceOpt, site.DownLimit, site.SpeedLimitKiB, site.Enabled)
	if err != nil {
		return errors.Wrap(err, "insert site")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "site id")
	}
	site.ID = int(id)
	return nil
}

func (s *SiteStore) Update(ctx context.Context, site *Site) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sites
		SET name = ?, base_url = ?, match_keywords = ?, cookie = ?, user_agent = ?,
		    reannounce_opt = ?, down_limit = ?, speed_limit_kib = ?, enabled = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, site.Name, site.BaseURL, site.MatchKeywords, site.Cookie, site.UserAgent,
		site.ReannounceOpt, site.DownLimit, site.SpeedLimitKiB, site.Enabled, site.ID)
	if err != nil {
		return errors.Wrap(err, "update site")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSiteNotFound
	}
	return nil
}

// UpdateCookie persists a refreshed session cookie without touching the rest
// of the row.
func (s *SiteStore) UpdateCookie(ctx context.Context, id int, cookie string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sites SET cookie = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, cookie, id)
	if err != nil {
		return errors.Wrap(err, "update site cookie")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSiteNotFound
	}
	return nil
}

func (s *SiteStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sites WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "delete site")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSiteNotFound
	}
	return nil
}

func (s *SiteStore) Get(ctx context.Context, id int) (*Site, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, base_url, match_keywords, cookie, user_agent, reannounce_opt, down_limit, speed_limit_kib, enabled
		FROM sites WHERE id = ?
	`, id)
	return scanSite(row)
}

func (s *SiteStore) List(ctx context.Context, enabledOnly bool) ([]*Site, error) {
	query := `
		SELECT id, name, base_url, match_keywords, cookie, user_agent, reannounce_opt, down_limit, speed_limit_kib, enabled
		FROM sites
	`
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list sites")
	}
	defer rows.Close()

	var sites []*Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

func scanSite(row rowScanner) (*Site, error) {
	var site Site
	var speedLimit sql.NullInt64

	err := row.Scan(&site.ID, &site.Name, &site.BaseURL, &site.MatchKeywords, &site.Cookie,
		&site.UserAgent, &site.ReannounceOpt, &site.DownLimit, &speedLimit, &site.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan site: %w", err)
	}

	if speedLimit.Valid {
		site.SpeedLimitKiB = &speedLimit.Int64
	}
	return &site, nil
}
