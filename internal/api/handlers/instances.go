// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/cruise/internal/models"
	internalqbittorrent "github.com/autobrr/cruise/internal/qbittorrent"
)

type InstancesHandler struct {
	instanceStore *models.InstanceStore
	clientPool    *internalqbittorrent.ClientPool
}

func NewInstancesHandler(instanceStore *models.InstanceStore, clientPool *internalqbittorrent.ClientPool) *InstancesHandler {
	return &InstancesHandler{
		instanceStore: instanceStore,
		clientPool:    clientPool,
	}
}

type InstanceResponse struct {
	*models.Instance
	Connected       bool   `json:"connected"`
	ConnectionError string `json:"connectionError,omitempty"`
}

type instanceRequest struct {
	Name          string  `json:"name"`
	Host          string  `json:"host"`
	Username      string  `json:"username"`
	Password      string  `json:"password"`
	BasicUsername *string `json:"basicUsername"`
	BasicPassword *string `json:"basicPassword"`
	TLSSkipVerify bool    `json:"tlsSkipVerify"`
	Enabled       *bool   `json:"enabled"`
}

func (h *InstancesHandler) buildResponse(ctx context.Context, instance *models.Instance) InstanceResponse {
	resp := InstanceResponse{Instance: instance}
	if !instance.Enabled {
		return resp
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := h.clientPool.GetClient(checkCtx, instance.ID)
	if err != nil {
		resp.ConnectionError = err.Error()
		return resp
	}
	if err := client.HealthCheck(checkCtx); err != nil {
		resp.ConnectionError = err.Error()
		return resp
	}

	resp.Connected = true
	return resp
}

// List handles GET /api/instances
func (h *InstancesHandler) List(w http.ResponseWriter, r *http.Request) {
	instances, err := h.instanceStore.List(r.Context(), false)
	if err != nil {
		log.Error().Err(err).Msg("failed to list instances")
		RespondError(w, http.StatusInternalServerError, "failed to list instances")
		return
	}

	responses := make([]InstanceResponse, 0, len(instances))
	for _, instance := range instances {
		responses = append(responses, h.buildResponse(r.Context(), instance))
	}
	RespondJSON(w, http.StatusOK, responses)
}

// Create handles POST /api/instances
func (h *InstancesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req instanceRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	instance := &models.Instance{
		Name:          req.Name,
		Host:          req.Host,
		Username:      req.Username,
		Password:      req.Password,
		BasicUsername: req.BasicUsername,
		BasicPassword: req.BasicPassword,
		TLSSkipVerify: req.TLSSkipVerify,
		Enabled:       true,
	}
	if req.Enabled != nil {
		instance.Enabled = *req.Enabled
	}

	if err := h.instanceStore.Create(r.Context(), instance); err != nil {
		log.Error().Err(err).Str("name", req.Name).Msg("failed to create instance")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Int("instanceID", instance.ID).Str("name", instance.Name).Msg("instance created")
	RespondJSON(w, http.StatusCreated, h.buildResponse(r.Context(), instance))
}

// Update handles PUT /api/instances/{instanceID}
func (h *InstancesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "instanceID", "instance ID")
	if !ok {
		return
	}

	var req instanceRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	instance := &models.Instance{
		ID:            id,
		Name:          req.Name,
		Host:          req.Host,
		Username:      req.Username,
		Password:      req.Password,
		BasicUsername: req.BasicUsername,
		BasicPassword: req.BasicPassword,
		TLSSkipVerify: req.TLSSkipVerify,
		Enabled:       true,
	}
	if req.Enabled != nil {
		instance.Enabled = *req.Enabled
	}

	if err := h.instanceStore.Update(r.Context(), instance); err != nil {
		if errors.Is(err, models.ErrInstanceNotFound) {
			RespondError(w, http.StatusNotFound, "Instance not found")
			return
		}
		log.Error().Err(err).Int("instanceID", id).Msg("failed to update instance")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Credentials may have changed, force a fresh login on next use.
	h.clientPool.Evict(id)

	RespondJSON(w, http.StatusOK, h.buildResponse(r.Context(), instance))
}

// Delete handles DELETE /api/instances/{instanceID}
func (h *InstancesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "instanceID", "instance ID")
	if !ok {
		return
	}

	if err := h.instanceStore.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrInstanceNotFound) {
			RespondError(w, http.StatusNotFound, "Instance not found")
			return
		}
		log.Error().Err(err).Int("instanceID", id).Msg("failed to delete instance")
		RespondError(w, http.StatusInternalServerError, "failed to delete instance")
		return
	}

	h.clientPool.Evict(id)
	log.Info().Int("instanceID", id).Msg("instance deleted")
	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /api/instances/{instanceID}/test
func (h *InstancesHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIntParam(w, r, "instanceID", "instance ID")
	if !ok {
		return
	}

	instance, err := h.instanceStore.Get(r.Context(), id)
	if err != nil {
		RespondError(w, http.StatusNotFound, "Instance not found")
		return
	}

	resp := h.buildResponse(r.Context(), instance)
	RespondJSON(w, http.StatusOK, map[string]any{
		"connected": resp.Connected,
		"error":     resp.ConnectionError,
	})
}
