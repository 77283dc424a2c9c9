// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sites implements the tracker-side helper: best-effort torrent
// lookups and peer-list scraping against NexusPHP-style private trackers,
// used to refine the engine's announce timing. Everything here degrades
// gracefully; an unreachable or cookie-expired site just means the engine
// falls back to client estimates.
package sites

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/cruise/internal/models"
)

const (
	siteCacheTTL   = 10 * time.Second
	requestTimeout = 15 * time.Second
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Manager implements engine.SiteAssist over the configured sites. Site rows
// are read through a short cache so config edits take effect without a
// restart; HTTP clients and their cookie jars live for the process.
type Manager struct {
	store *models.SiteStore
	kv    *models.KVStore

	cache *ttlcache.Cache[string, []*models.Site]

	mu      sync.Mutex
	clients map[int]*http.Client
}

// NewManager builds the site helper. kv may be nil; it persists resolved user
// IDs so a restart does not re-scrape every index page.
func NewManager(store *models.SiteStore, kv *models.KVStore) *Manager {
	return &Manager{
		store:   store,
		kv:      kv,
		cache:   ttlcache.New(ttlcache.Options[string, []*models.Site]{}.SetDefaultTTL(siteCacheTTL)),
		clients: make(map[int]*http.Client),
	}
}

func (m *Manager) sites() []*models.Site {
	if cached, ok := m.cache.Get("sites"); ok {
		return cached
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sites, err := m.store.List(ctx, true)
	if err != nil {
		log.Debug().Err(err).Msg("failed to load sites")
		return nil
	}
	m.cache.Set("sites", sites, ttlcache.DefaultTTL)
	return sites
}

// Invalidate drops the cached site list after a config change.
func (m *Manager) Invalidate() {
	m.cache.Delete("sites")
}

func (m *Manager) site(siteID int) *models.Site {
	for _, s := range m.sites() {
		if s.ID == siteID {
			return s
		}
	}
	return nil
}

// httpClient returns the per-site client. One jar per site; workers are the
// single producer so no further serialisation is needed.
func (m *Manager) httpClient(siteID int) *http.Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[siteID]; ok {
		return c
	}
	jar, _ := cookiejar.New(nil)
	c := &http.Client{
		Timeout: requestTimeout,
		Jar:     jar,
	}
	m.clients[siteID] = c
	return c
}

// Match resolves a tracker host to a site ID, 0 when no keyword matches.
func (m *Manager) Match(trackerHost string) int {
	if trackerHost == "" {
		return 0
	}
	for _, s := range m.sites() {
		if s.Matches(trackerHost) {
			return s.ID
		}
	}
	return 0
}

func (m *Manager) ReannounceOptEnabled(siteID int) bool {
	s := m.site(siteID)
	return s != nil && s.ReannounceOpt
}

func (m *Manager) DownLimitEnabled(siteID int) bool {
	s := m.site(siteID)
	return s != nil && s.DownLimit
}

func (m *Manager) SpeedLimitBps(siteID int) int64 {
	s := m.site(siteID)
	if s == nil || s.SpeedLimitKiB == nil {
		return 0
	}
	return *s.SpeedLimitKiB * 1024
}

// CheckCookies probes each enabled site and returns the names of those whose
// session no longer authenticates.
func (m *Manager) CheckCookies(ctx context.Context) ([]string, error) {
	var invalid []string
	for _, s := range m.sites() {
		if s.Cookie == "" {
			continue
		}
		ok, err := m.checkCookie(ctx, s)
		if err != nil {
			log.Debug().Err(err).Str("site", s.Name).Msg("cookie check request failed")
			continue
		}
		if !ok {
			invalid = append(invalid, s.Name)
		}
	}
	return invalid, nil
}

func (m *Manager) get(ctx context.Context, site *models.Site, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Cookie", site.Cookie)

	ua := site.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := m.httpClient(site.ID).Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request %s", site.Name)
	}
	return resp, nil
}
