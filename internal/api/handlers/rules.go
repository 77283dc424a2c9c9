// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/cruise/internal/models"
	"github.com/autobrr/cruise/internal/services/rules"
)

type RulesHandler struct {
	ruleStore *models.SpeedRuleStore
	service   *rules.Service
}

func NewRulesHandler(ruleStore *models.SpeedRuleStore, service *rules.Service) *RulesHandler {
	return &RulesHandler{
		ruleStore: ruleStore,
		service:   service,
	}
}

type ruleRequest struct {
	Name            string  `json:"name"`
	SiteID          *int    `json:"siteId"`
	TrackerContains string  `json:"trackerContains"`
	Category        string  `json:"category"`
	TargetKiB       int64   `json:"targetKib"`
	SafetyMargin    float64 `json:"safetyMargin"`
	Priority        int     `json:"priority"`
	Enabled         *bool   `json:"enabled"`
}

func (req *ruleRequest) toModel(id int) *models.SpeedRule {
	rule := &models.SpeedRule{
		ID:              id,
		Name:            req.Name,
		SiteID:          req.SiteID,
		TrackerContains: req.TrackerContains,
		Category:        req.Category,
		TargetKiB:       req.TargetKiB,
		SafetyMargin:    req.SafetyMargin,
		Priority:        req.Priority,
		Enabled:         true,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	return rule
}

func validateRule(rule *models.SpeedRule) error {
	if rule.TargetKiB <= 0 {
		return errors.New("targetKib must be positive")
	}
	if rule.SafetyMargin < 0 || rule.SafetyMargin > 2 {
		return errors.New("safetyMargin must be between 0 and 2")
	}
	return nil
}

// List handles GET /api/rules
func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	ruleList, err := h.ruleStore.List(r.Context(), false)
	if err != nil {
		log.Error().Err(err).Msg("failed to list speed rules")
		RespondError(w, http.StatusInternalServerError, "failed to list speed rules")
		return
	}
	RespondJSON(w, http.StatusOK, ruleList)
}

// Create handles POST /api/rules
func (h *RulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	rule := req.toModel(0)
	if err := validateRule(rule); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ruleStore.Create(r.Context(), rule); err != nil {
		log.Error().Err(err).Str("name", req.Name).Msg("failed to create speed rule")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.service.Invalidate()
	log.Info().Int("ruleID", rule.ID).Str("name", rule.Name).Int64("targetKib", rule.TargetKiB).Msg("speed rule created")
	RespondJSON(w, http.StatusCreated, rule)
}

// Update handles PUT /api/rules/{ruleID}
func (h *RulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "ruleID", "rule ID")
	if !ok {
		return
	}

	var req ruleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	rule := req.toModel(id)
	if err := validateRule(rule); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ruleStore.Update(r.Context(), rule); err != nil {
		if errors.Is(err, models.ErrSpeedRuleNotFound) {
			RespondError(w, http.StatusNotFound, "Rule not found")
			return
		}
		log.Error().Err(err).Int("ruleID", id).Msg("failed to update speed rule")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.service.Invalidate()
	RespondJSON(w, http.StatusOK, rule)
}

// Delete handles DELETE /api/rules/{ruleID}
func (h *RulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "ruleID", "rule ID")
	if !ok {
		return
	}

	if err := h.ruleStore.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrSpeedRuleNotFound) {
			RespondError(w, http.StatusNotFound, "Rule not found")
			return
		}
		log.Error().Err(err).Int("ruleID", id).Msg("failed to delete speed rule")
		RespondError(w, http.StatusInternalServerError, "failed to delete speed rule")
		return
	}

	h.service.Invalidate()
	log.Info().Int("ruleID", id).Msg("speed rule deleted")
	w.WriteHeader(http.StatusNoContent)
}
