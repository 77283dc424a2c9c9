// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/cruise/internal/engine"
)

type EngineHandler struct {
	engine *engine.Engine
}

func NewEngineHandler(eng *engine.Engine) *EngineHandler {
	return &EngineHandler{engine: eng}
}

func (h *EngineHandler) ready(w http.ResponseWriter) bool {
	if h.engine == nil {
		RespondError(w, http.StatusServiceUnavailable, "engine is disabled")
		return false
	}
	return true
}

// Status handles GET /api/engine/status
func (h *EngineHandler) Status(w http.ResponseWriter, _ *http.Request) {
	if !h.ready(w) {
		return
	}
	RespondJSON(w, http.StatusOK, h.engine.Status())
}

// Stats handles GET /api/engine/stats, the lifetime counters without the
// per-torrent list.
func (h *EngineHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	if !h.ready(w) {
		return
	}
	st := h.engine.Status()
	RespondJSON(w, http.StatusOK, map[string]any{
		"totalCycles":   st.TotalCycles,
		"successCycles": st.SuccessCycles,
		"preciseCycles": st.PreciseCycles,
		"managedBytes":  st.ManagedBytes,
		"startedAt":     st.StartedAt,
		"bias":          st.Bias,
	})
}

// Pause handles POST /api/engine/pause. The loop keeps running but every
// managed torrent gets its limit removed until Resume.
func (h *EngineHandler) Pause(w http.ResponseWriter, _ *http.Request) {
	if !h.ready(w) {
		return
	}
	h.engine.Pause()
	log.Info().Msg("engine paused via API")
	RespondJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// Resume handles POST /api/engine/resume
func (h *EngineHandler) Resume(w http.ResponseWriter, _ *http.Request) {
	if !h.ready(w) {
		return
	}
	h.engine.Resume()
	log.Info().Msg("engine resumed via API")
	RespondJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

type tempTargetRequest struct {
	TargetKiB int64 `json:"targetKib"`
}

// SetTempTarget handles PUT /api/engine/temp-target. A zero target clears
// the override and rule resolution takes over again.
func (h *EngineHandler) SetTempTarget(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var req tempTargetRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.TargetKiB < 0 {
		RespondError(w, http.StatusBadRequest, "targetKib must not be negative")
		return
	}

	h.engine.SetTempTarget(req.TargetKiB)
	log.Info().Int64("targetKib", req.TargetKiB).Msg("temporary target set via API")
	RespondJSON(w, http.StatusOK, map[string]int64{"targetKib": req.TargetKiB})
}

// Samples handles GET /api/engine/torrents/{hash}/samples?window=120
func (h *EngineHandler) Samples(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	hash := chi.URLParam(r, "hash")
	if hash == "" {
		RespondError(w, http.StatusBadRequest, "Missing torrent hash")
		return
	}

	window := 120 * time.Second
	if raw := r.URL.Query().Get("window"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			RespondError(w, http.StatusBadRequest, "Invalid window")
			return
		}
		window = time.Duration(secs) * time.Second
	}

	samples := h.engine.Samples(hash, window)
	if samples == nil {
		samples = []engine.SpeedSample{}
	}
	RespondJSON(w, http.StatusOK, samples)
}

// History handles GET /api/engine/history?hash=...&limit=50
func (h *EngineHandler) History(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			RespondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	records, err := h.engine.History(r.Context(), r.URL.Query().Get("hash"), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to load cycle history")
		RespondError(w, http.StatusInternalServerError, "failed to load cycle history")
		return
	}
	RespondJSON(w, http.StatusOK, records)
}
