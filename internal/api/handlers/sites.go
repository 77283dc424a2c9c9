// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/cruise/internal/models"
	"github.com/autobrr/cruise/internal/sites"
)

type SitesHandler struct {
	siteStore *models.SiteStore
	manager   *sites.Manager
}

func NewSitesHandler(siteStore *models.SiteStore, manager *sites.Manager) *SitesHandler {
	return &SitesHandler{
		siteStore: siteStore,
		manager:   manager,
	}
}

type siteRequest struct {
	Name          string `json:"name"`
	BaseURL       string `json:"baseUrl"`
	MatchKeywords string `json:"matchKeywords"`
	Cookie        string `json:"cookie"`
	UserAgent     string `json:"userAgent"`
	ReannounceOpt bool   `json:"reannounceOpt"`
	DownLimit     bool   `json:"downLimit"`
	SpeedLimitKiB *int64 `json:"speedLimitKib"`
	Enabled       *bool  `json:"enabled"`
}

func (req *siteRequest) toModel(id int) *models.Site {
	site := &models.Site{
		ID:            id,
		Name:          req.Name,
		BaseURL:       req.BaseURL,
		MatchKeywords: req.MatchKeywords,
		Cookie:        req.Cookie,
		UserAgent:     req.UserAgent,
		ReannounceOpt: req.ReannounceOpt,
		DownLimit:     req.DownLimit,
		SpeedLimitKiB: req.SpeedLimitKiB,
		Enabled:       true,
	}
	if req.Enabled != nil {
		site.Enabled = *req.Enabled
	}
	return site
}

// List handles GET /api/sites. Cookies are never echoed back in full.
func (h *SitesHandler) List(w http.ResponseWriter, r *http.Request) {
	siteList, err := h.siteStore.List(r.Context(), false)
	if err != nil {
		log.Error().Err(err).Msg("failed to list sites")
		RespondError(w, http.StatusInternalServerError, "failed to list sites")
		return
	}

	for _, site := range siteList {
		site.Cookie = redactCookie(site.Cookie)
	}
	RespondJSON(w, http.StatusOK, siteList)
}

// Create handles POST /api/sites
func (h *SitesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	site := req.toModel(0)
	if err := h.siteStore.Create(r.Context(), site); err != nil {
		log.Error().Err(err).Str("name", req.Name).Msg("failed to create site")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.manager.Invalidate()
	log.Info().Int("siteID", site.ID).Str("name", site.Name).Msg("site created")

	site.Cookie = redactCookie(site.Cookie)
	RespondJSON(w, http.StatusCreated, site)
}

// Update handles PUT /api/sites/{siteID}
func (h *SitesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "siteID", "site ID")
	if !ok {
		return
	}

	var req siteRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	site := req.toModel(id)
	if err := h.siteStore.Update(r.Context(), site); err != nil {
		if errors.Is(err, models.ErrSiteNotFound) {
			RespondError(w, http.StatusNotFound, "Site not found")
			return
		}
		log.Error().Err(err).Int("siteID", id).Msg("failed to update site")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.manager.Invalidate()

	site.Cookie = redactCookie(site.Cookie)
	RespondJSON(w, http.StatusOK, site)
}

type cookieRequest struct {
	Cookie string `json:"cookie"`
}

// UpdateCookie handles PUT /api/sites/{siteID}/cookie, the common path when
// a tracker session expires.
func (h *SitesHandler) UpdateCookie(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "siteID", "site ID")
	if !ok {
		return
	}

	var req cookieRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.siteStore.UpdateCookie(r.Context(), id, req.Cookie); err != nil {
		if errors.Is(err, models.ErrSiteNotFound) {
			RespondError(w, http.StatusNotFound, "Site not found")
			return
		}
		log.Error().Err(err).Int("siteID", id).Msg("failed to update site cookie")
		RespondError(w, http.StatusInternalServerError, "failed to update site cookie")
		return
	}

	h.manager.Invalidate()
	log.Info().Int("siteID", id).Msg("site cookie updated")
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/sites/{siteID}
func (h *SitesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "siteID", "site ID")
	if !ok {
		return
	}

	if err := h.siteStore.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrSiteNotFound) {
			RespondError(w, http.StatusNotFound, "Site not found")
			return
		}
		log.Error().Err(err).Int("siteID", id).Msg("failed to delete site")
		RespondError(w, http.StatusInternalServerError, "failed to delete site")
		return
	}

	h.manager.Invalidate()
	log.Info().Int("siteID", id).Msg("site deleted")
	w.WriteHeader(http.StatusNoContent)
}

// CheckCookies handles POST /api/sites/check-cookies and returns the names
// of sites whose session is no longer valid.
func (h *SitesHandler) CheckCookies(w http.ResponseWriter, r *http.Request) {
	invalid, err := h.manager.CheckCookies(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("cookie check failed")
		RespondError(w, http.StatusInternalServerError, "cookie check failed")
		return
	}
	if invalid == nil {
		invalid = []string{}
	}
	RespondJSON(w, http.StatusOK, map[string][]string{"invalid": invalid})
}

func redactCookie(cookie string) string {
	if cookie == "" {
		return ""
	}
	return "********"
}
