// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/cruise/internal/engine"
	"github.com/autobrr/cruise/internal/models"
	"github.com/autobrr/cruise/internal/services/notifications"
)

type NotificationsHandler struct {
	store   *models.NotificationTargetStore
	service *notifications.Service
}

func NewNotificationsHandler(store *models.NotificationTargetStore, service *notifications.Service) *NotificationsHandler {
	return &NotificationsHandler{
		store:   store,
		service: service,
	}
}

type notificationTargetRequest struct {
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	Enabled    *bool    `json:"enabled"`
	EventKinds []string `json:"eventKinds"`
}

func (req *notificationTargetRequest) toModel(id int) *models.NotificationTarget {
	target := &models.NotificationTarget{
		ID:         id,
		Name:       req.Name,
		URL:        req.URL,
		EventKinds: req.EventKinds,
		Enabled:    true,
	}
	if req.Enabled != nil {
		target.Enabled = *req.Enabled
	}
	return target
}

// ListTargets handles GET /api/notifications/targets
func (h *NotificationsHandler) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.store.List(r.Context(), false)
	if err != nil {
		log.Error().Err(err).Msg("failed to list notification targets")
		RespondError(w, http.StatusInternalServerError, "failed to list notification targets")
		return
	}
	if targets == nil {
		targets = []*models.NotificationTarget{}
	}
	RespondJSON(w, http.StatusOK, targets)
}

// CreateTarget handles POST /api/notifications/targets
func (h *NotificationsHandler) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var req notificationTargetRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := notifications.ValidateURL(req.URL); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid notification URL: "+err.Error())
		return
	}

	target := req.toModel(0)
	if err := h.store.Create(r.Context(), target); err != nil {
		log.Error().Err(err).Str("name", req.Name).Msg("failed to create notification target")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Int("targetID", target.ID).Str("name", target.Name).Msg("notification target created")
	RespondJSON(w, http.StatusCreated, target)
}

// UpdateTarget handles PUT /api/notifications/targets/{targetID}
func (h *NotificationsHandler) UpdateTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "targetID", "target ID")
	if !ok {
		return
	}

	var req notificationTargetRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := notifications.ValidateURL(req.URL); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid notification URL: "+err.Error())
		return
	}

	target := req.toModel(id)
	if err := h.store.Update(r.Context(), target); err != nil {
		if errors.Is(err, models.ErrNotificationTargetNotFound) {
			RespondError(w, http.StatusNotFound, "Notification target not found")
			return
		}
		log.Error().Err(err).Int("targetID", id).Msg("failed to update notification target")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	RespondJSON(w, http.StatusOK, target)
}

// DeleteTarget handles DELETE /api/notifications/targets/{targetID}
func (h *NotificationsHandler) DeleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "targetID", "target ID")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotificationTargetNotFound) {
			RespondError(w, http.StatusNotFound, "Notification target not found")
			return
		}
		log.Error().Err(err).Int("targetID", id).Msg("failed to delete notification target")
		RespondError(w, http.StatusInternalServerError, "failed to delete notification target")
		return
	}

	log.Info().Int("targetID", id).Msg("notification target deleted")
	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /api/notifications/test and pushes a test event through
// the normal queue so filtering behaves exactly like production traffic.
func (h *NotificationsHandler) Test(w http.ResponseWriter, _ *http.Request) {
	h.service.Publish(engine.Event{
		Kind:    engine.EventStartup,
		Title:   "cruise test notification",
		Message: "If you can read this, the notification target works.",
		At:      time.Now(),
	})
	w.WriteHeader(http.StatusNoContent)
}
