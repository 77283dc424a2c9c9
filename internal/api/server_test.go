// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/cruise/internal/config"
	"github.com/autobrr/cruise/internal/database"
	"github.com/autobrr/cruise/internal/models"
	internalqbittorrent "github.com/autobrr/cruise/internal/qbittorrent"
	"github.com/autobrr/cruise/internal/services/notifications"
	"github.com/autobrr/cruise/internal/services/rules"
	"github.com/autobrr/cruise/internal/sites"
)

// newTestServer builds a server over a fresh database with the engine
// disabled, the way a minimal deployment runs.
func newTestServer(t *testing.T) (*httptest.Server, *Dependencies) {
	t.Helper()

	cfg, err := config.New(t.TempDir(), "test")
	require.NoError(t, err)

	db, err := database.New(filepath.Join(t.TempDir(), "cruise.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	instanceStore := models.NewInstanceStore(db, nil)
	siteStore := models.NewSiteStore(db)
	ruleStore := models.NewSpeedRuleStore(db)
	targetStore := models.NewNotificationTargetStore(db)

	pool, err := internalqbittorrent.NewClientPool(instanceStore)
	require.NoError(t, err)

	deps := &Dependencies{
		Config:                  cfg,
		ClientPool:              pool,
		SiteManager:             sites.NewManager(siteStore, nil),
		RuleService:             rules.NewService(ruleStore),
		Notification:            notifications.NewService(targetStore),
		InstanceStore:           instanceStore,
		SiteStore:               siteStore,
		SpeedRuleStore:          ruleStore,
		NotificationTargetStore: targetStore,
	}

	srv := httptest.NewServer(NewServer(deps).Handler())
	t.Cleanup(srv.Close)
	return srv, deps
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestVersionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["version"])
}

func TestEngineEndpointsWithoutEngine(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/engine/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/engine/pause", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/engine/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRulesRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := `{"name":"example","trackerContains":"example","targetKib":500,"priority":5,"enabled":true}`
	resp, err := http.Post(srv.URL+"/api/rules/", "application/json", bytes.NewBufferString(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.SpeedRule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Positive(t, created.ID)

	resp, err = http.Get(srv.URL + "/api/rules/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed []models.SpeedRule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "example", listed[0].Name)
}

func TestRulesRejectInvalidTarget(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/rules/", "application/json",
		bytes.NewBufferString(`{"name":"bad","targetKib":0}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSitesListRedactsCookie(t *testing.T) {
	srv, deps := newTestServer(t)

	require.NoError(t, deps.SiteStore.Create(context.Background(), &models.Site{
		Name: "example", BaseURL: "https://example.org", MatchKeywords: "example",
		Cookie: "session=verysecret", Enabled: true,
	}))

	resp, err := http.Get(srv.URL + "/api/sites/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "verysecret")

	var body []map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Len(t, body, 1)
	assert.Equal(t, "example", body[0]["name"])
}

func TestInstancesRejectBadHost(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/instances/", "application/json",
		bytes.NewBufferString(`{"name":"x","host":"ftp://example.com"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
