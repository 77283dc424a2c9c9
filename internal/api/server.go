// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api exposes the HTTP control surface: engine status and controls
// plus CRUD for instances, sites, speed rules and notification targets.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/cruise/internal/api/handlers"
	"github.com/autobrr/cruise/internal/buildinfo"
	"github.com/autobrr/cruise/internal/config"
	"github.com/autobrr/cruise/internal/engine"
	"github.com/autobrr/cruise/internal/models"
	internalqbittorrent "github.com/autobrr/cruise/internal/qbittorrent"
	"github.com/autobrr/cruise/internal/services/notifications"
	"github.com/autobrr/cruise/internal/services/rules"
	"github.com/autobrr/cruise/internal/sites"
)

// Dependencies wires the server handlers.
type Dependencies struct {
	Config *config.AppConfig

	Engine       *engine.Engine
	ClientPool   *internalqbittorrent.ClientPool
	SiteManager  *sites.Manager
	RuleService  *rules.Service
	Notification *notifications.Service

	InstanceStore           *models.InstanceStore
	SiteStore               *models.SiteStore
	SpeedRuleStore          *models.SpeedRuleStore
	NotificationTargetStore *models.NotificationTargetStore
}

type Server struct {
	deps *Dependencies
	srv  *http.Server
}

func NewServer(deps *Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/version", s.handleVersion)

	engineHandler := handlers.NewEngineHandler(s.deps.Engine)
	instancesHandler := handlers.NewInstancesHandler(s.deps.InstanceStore, s.deps.ClientPool)
	sitesHandler := handlers.NewSitesHandler(s.deps.SiteStore, s.deps.SiteManager)
	rulesHandler := handlers.NewRulesHandler(s.deps.SpeedRuleStore, s.deps.RuleService)
	notificationsHandler := handlers.NewNotificationsHandler(s.deps.NotificationTargetStore, s.deps.Notification)

	r.Route("/api", func(r chi.Router) {
		r.Route("/engine", func(r chi.Router) {
			r.Get("/status", engineHandler.Status)
			r.Get("/stats", engineHandler.Stats)
			r.Post("/pause", engineHandler.Pause)
			r.Post("/resume", engineHandler.Resume)
			r.Put("/temp-target", engineHandler.SetTempTarget)
			r.Get("/history", engineHandler.History)
			r.Get("/torrents/{hash}/samples", engineHandler.Samples)
		})

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", instancesHandler.List)
			r.Post("/", instancesHandler.Create)
			r.Route("/{instanceID}", func(r chi.Router) {
				r.Put("/", instancesHandler.Update)
				r.Delete("/", instancesHandler.Delete)
				r.Post("/test", instancesHandler.Test)
			})
		})

		r.Route("/sites", func(r chi.Router) {
			r.Get("/", sitesHandler.List)
			r.Post("/", sitesHandler.Create)
			r.Post("/check-cookies", sitesHandler.CheckCookies)
			r.Route("/{siteID}", func(r chi.Router) {
				r.Put("/", sitesHandler.Update)
				r.Put("/cookie", sitesHandler.UpdateCookie)
				r.Delete("/", sitesHandler.Delete)
			})
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", rulesHandler.List)
			r.Post("/", rulesHandler.Create)
			r.Route("/{ruleID}", func(r chi.Router) {
				r.Put("/", rulesHandler.Update)
				r.Delete("/", rulesHandler.Delete)
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/targets", notificationsHandler.ListTargets)
			r.Post("/targets", notificationsHandler.CreateTarget)
			r.Put("/targets/{targetID}", notificationsHandler.UpdateTarget)
			r.Delete("/targets/{targetID}", notificationsHandler.DeleteTarget)
			r.Post("/test", notificationsHandler.Test)
		})
	})

	baseURL := s.deps.Config.Config.BaseURL
	if baseURL != "" && baseURL != "/" {
		outer := chi.NewRouter()
		outer.Mount("/"+strings.Trim(baseURL, "/"), r)
		return outer
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"status": "ok",
	}
	if s.deps.Engine != nil {
		status["engineRunning"] = s.deps.Engine.Running()
		status["enginePaused"] = s.deps.Engine.Paused()
	}
	handlers.RespondJSON(w, http.StatusOK, status)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	handlers.RespondJSON(w, http.StatusOK, map[string]string{
		"version": buildinfo.Version,
		"commit":  buildinfo.Commit,
		"date":    buildinfo.Date,
	})
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	cfg := s.deps.Config.Config
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("starting API server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
