// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sites

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/cruise/internal/engine"
	"github.com/autobrr/cruise/internal/models"
)

// NexusPHP page shapes. These cover the large family of Chinese private
// trackers the original deployment targets.
var (
	detailsLinkRe  = regexp.MustCompile(`details\.php\?id=(\d+)`)
	userDetailsRe  = regexp.MustCompile(`userdetails\.php\?id=(\d+)`)
	publishTimeRe  = regexp.MustCompile(`title="(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})"`)
	promotionRe    = regexp.MustCompile(`class="(?:pro_)(free2up|free|twoup|2up|50pctdown2up|50pctdown|30pctdown|custom)`)
	sizeRe         = regexp.MustCompile(`(?i)([\d,.]+)\s*(B|KB|KiB|MB|MiB|GB|GiB|TB|TiB|PB|PiB)`)
	idleClockRe    = regexp.MustCompile(`(\d{1,2}):(\d{2})(?::(\d{2}))?`)
	loginFormRe    = regexp.MustCompile(`(?i)takelogin\.php|action="login|form id="login`)
	maxResponseLen = int64(4 << 20)
)

var promotionLabels = map[string]string{
	"free":         "free",
	"twoup":        "2x",
	"2up":          "2x",
	"free2up":      "free 2x",
	"50pctdown":    "50%",
	"50pctdown2up": "50% 2x",
	"30pctdown":    "30%",
	"custom":       "custom",
}

// SearchByHash looks the torrent up on the site's search page and parses the
// torrent ID, promotion badge and publish time out of the result row.
func (m *Manager) SearchByHash(ctx context.Context, siteID int, hash string) (*engine.SiteTorrentInfo, error) {
	site := m.site(siteID)
	if site == nil {
		return nil, errors.Errorf("unknown site %d", siteID)
	}

	searchURL := fmt.Sprintf("%s/torrents.php?incldead=1&search=%s&search_area=5",
		strings.TrimRight(site.BaseURL, "/"), url.QueryEscape(hash))

	body, err := m.fetch(ctx, site, searchURL)
	if err != nil {
		return nil, err
	}

	tidMatch := detailsLinkRe.FindStringSubmatch(body)
	if tidMatch == nil {
		// Not found is a valid answer, cached by the caller.
		return nil, nil
	}
	tid, err := strconv.ParseInt(tidMatch[1], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse tid")
	}

	info := &engine.SiteTorrentInfo{TID: tid}

	if pm := promotionRe.FindStringSubmatch(body); pm != nil {
		info.Promotion = promotionLabels[pm[1]]
	}
	if tm := publishTimeRe.FindStringSubmatch(body); tm != nil {
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", tm[1], time.Local); err == nil {
			info.PublishTime = t
		}
	}

	log.Debug().Str("site", site.Name).Str("hash", hash).Int64("tid", tid).
		Str("promotion", info.Promotion).Msg("resolved torrent on site")
	return info, nil
}

// PeerList fetches the torrent's peer list and returns our own row: the
// uploaded counter the site has recorded and the last announce time derived
// from the idle column.
func (m *Manager) PeerList(ctx context.Context, siteID int, tid int64) (*engine.PeerInfo, error) {
	site := m.site(siteID)
	if site == nil {
		return nil, errors.Errorf("unknown site %d", siteID)
	}

	userID, err := m.userID(ctx, site)
	if err != nil {
		return nil, err
	}

	peerURL := fmt.Sprintf("%s/viewpeerlist.php?id=%d", strings.TrimRight(site.BaseURL, "/"), tid)
	body, err := m.fetch(ctx, site, peerURL)
	if err != nil {
		return nil, err
	}

	row := findOwnRow(body, userID)
	if row == "" {
		return nil, nil
	}

	info := &engine.PeerInfo{}
	if sm := sizeRe.FindStringSubmatch(row); sm != nil {
		info.UploadedBytes = parseSize(sm[1], sm[2])
	}
	if idle, ok := parseIdle(row); ok {
		info.LastAnnounce = time.Now().Add(-idle)
	}
	return info, nil
}

func (m *Manager) checkCookie(ctx context.Context, site *models.Site) (bool, error) {
	body, err := m.fetch(ctx, site, strings.TrimRight(site.BaseURL, "/")+"/index.php")
	if err != nil {
		return false, err
	}
	if loginFormRe.MatchString(body) {
		return false, nil
	}
	return userDetailsRe.MatchString(body), nil
}

// userID resolves and caches our own user ID, needed to pick our row out of
// the peer list. Resolution order: memory cache, kv store, index page scrape.
func (m *Manager) userID(ctx context.Context, site *models.Site) (int, error) {
	cacheKey := fmt.Sprintf("uid:%d", site.ID)
	if cached, ok := m.cache.Get(cacheKey); ok && len(cached) == 1 && cached[0] != nil {
		return cached[0].ID, nil
	}

	kvKey := fmt.Sprintf("site_uid:%d", site.ID)
	if m.kv != nil {
		if stored, err := m.kv.Get(ctx, kvKey); err == nil && stored != "" {
			if id, err := strconv.Atoi(stored); err == nil && id > 0 {
				m.cache.Set(cacheKey, []*models.Site{{ID: id}}, 24*time.Hour)
				return id, nil
			}
		}
	}

	body, err := m.fetch(ctx, site, strings.TrimRight(site.BaseURL, "/")+"/index.php")
	if err != nil {
		return 0, err
	}
	match := userDetailsRe.FindStringSubmatch(body)
	if match == nil {
		return 0, errors.Errorf("no user id on %s index page", site.Name)
	}
	id, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, errors.Wrap(err, "parse user id")
	}

	// Reuse the site cache slot shape; a day is plenty.
	m.cache.Set(cacheKey, []*models.Site{{ID: id}}, 24*time.Hour)
	if m.kv != nil {
		if err := m.kv.Set(ctx, kvKey, strconv.Itoa(id)); err != nil {
			log.Debug().Err(err).Str("site", site.Name).Msg("failed to persist user id")
		}
	}
	return id, nil
}

func (m *Manager) fetch(ctx context.Context, site *models.Site, pageURL string) (string, error) {
	resp, err := m.get(ctx, site, pageURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", errors.Errorf("%s returned status %d", site.Name, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}
	return string(data), nil
}

// findOwnRow slices out the table row containing our userdetails link.
func findOwnRow(body string, userID int) string {
	needle := fmt.Sprintf("userdetails.php?id=%d", userID)
	idx := strings.Index(body, needle)
	if idx < 0 {
		return ""
	}
	start := strings.LastIndex(body[:idx], "<tr")
	if start < 0 {
		start = 0
	}
	end := strings.Index(body[idx:], "</tr>")
	if end < 0 {
		return body[start:]
	}
	return body[start : idx+end]
}

func parseSize(num, unit string) int64 {
	value, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
	if err != nil {
		return 0
	}

	var mult float64 = 1
	switch strings.ToUpper(strings.TrimSuffix(strings.ToUpper(unit), "IB")) {
	case "K", "KB":
		mult = 1024
	case "M", "MB":
		mult = 1024 * 1024
	case "G", "GB":
		mult = 1024 * 1024 * 1024
	case "T", "TB":
		mult = 1024 * 1024 * 1024 * 1024
	case "P", "PB":
		mult = 1024 * 1024 * 1024 * 1024 * 1024
	}
	return int64(value * mult)
}

// parseIdle reads the idle column, a clock-style duration like "12:34" or
// "1:02:03".
func parseIdle(row string) (time.Duration, bool) {
	match := idleClockRe.FindStringSubmatch(row)
	if match == nil {
		return 0, false
	}

	first, _ := strconv.Atoi(match[1])
	second, _ := strconv.Atoi(match[2])
	if match[3] != "" {
		third, _ := strconv.Atoi(match[3])
		return time.Duration(first)*time.Hour + time.Duration(second)*time.Minute + time.Duration(third)*time.Second, true
	}
	return time.Duration(first)*time.Minute + time.Duration(second)*time.Second, true
}
