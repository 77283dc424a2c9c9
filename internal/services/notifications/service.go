// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notifications fans engine events out to the configured shoutrrr
// targets. Delivery is queued and best-effort; the engine never blocks on a
// slow webhook.
package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/cruise/internal/engine"
	"github.com/autobrr/cruise/internal/models"
)

const (
	defaultQueueSize = 100
	defaultWorkers   = 2

	maxTitleLength   = 200
	maxMessageLength = 4000
)

type Service struct {
	store     *models.NotificationTargetStore
	queue     chan engine.Event
	startOnce sync.Once
}

func NewService(store *models.NotificationTargetStore) *Service {
	return &Service{
		store: store,
		queue: make(chan engine.Event, defaultQueueSize),
	}
}

// ValidateURL checks a shoutrrr URL without sending anything.
func ValidateURL(rawURL string) error {
	_, err := router.New(nil, rawURL)
	return err
}

func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for range defaultWorkers {
			go s.worker(ctx)
		}
	})
}

// Publish implements engine.EventSink. Drops when the queue is full.
func (s *Service) Publish(event engine.Event) {
	select {
	case s.queue <- event:
	default:
		log.Warn().Str("kind", string(event.Kind)).Msg("notifications: queue full, dropping event")
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.queue:
			s.dispatch(ctx, event)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, event engine.Event) {
	targets, err := s.store.List(ctx, true)
	if err != nil {
		log.Error().Err(err).Msg("notifications: failed to list targets")
		return
	}
	if len(targets) == 0 {
		return
	}

	if strings.TrimSpace(event.Message) == "" && strings.TrimSpace(event.Title) == "" {
		return
	}

	for _, target := range targets {
		if !target.AllowsKind(string(event.Kind)) {
			continue
		}
		if err := send(target, event.Title, event.Message); err != nil {
			log.Error().Err(err).Str("target", target.Name).Str("kind", string(event.Kind)).Msg("notifications: send failed")
		}
	}
}

func send(target *models.NotificationTarget, title, message string) error {
	sender, err := router.New(nil, target.URL)
	if err != nil {
		return fmt.Errorf("build sender: %w", err)
	}

	params := types.Params{}
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		params.SetTitle(truncate(trimmed, maxTitleLength))
	}

	for _, sendErr := range sender.Send(truncate(message, maxMessageLength), &params) {
		if sendErr != nil {
			return sendErr
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
