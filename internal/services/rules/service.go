// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rules resolves torrents to their upload speed targets. The rule
// table is read through a short cache so the engine can ask on every tick
// without hitting the database.
package rules

import (
	"context"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/cruise/internal/engine"
	"github.com/autobrr/cruise/internal/models"
)

const ruleCacheTTL = 10 * time.Second

type Service struct {
	store *models.SpeedRuleStore
	cache *ttlcache.Cache[string, []*models.SpeedRule]
}

func NewService(store *models.SpeedRuleStore) *Service {
	return &Service{
		store: store,
		cache: ttlcache.New(ttlcache.Options[string, []*models.SpeedRule]{}.SetDefaultTTL(ruleCacheTTL)),
	}
}

func (s *Service) rules(ctx context.Context) []*models.SpeedRule {
	if cached, ok := s.cache.Get("rules"); ok {
		return cached
	}

	rules, err := s.store.List(ctx, true)
	if err != nil {
		log.Debug().Err(err).Msg("failed to load speed rules")
		return nil
	}
	s.cache.Set("rules", rules, ttlcache.DefaultTTL)
	return rules
}

// Resolve returns the highest-priority matching rule's target. The store
// orders by priority, so the first match wins.
func (s *Service) Resolve(ctx context.Context, siteID int, trackerHost, category string) (engine.RuleTarget, bool) {
	for _, r := range s.rules(ctx) {
		if r.Matches(siteID, trackerHost, category) {
			return engine.RuleTarget{TargetBps: r.TargetBps(), RuleName: r.Name}, true
		}
	}
	return engine.RuleTarget{}, false
}

// Invalidate drops the cache so a config write takes effect immediately.
func (s *Service) Invalidate() {
	s.cache.Delete("rules")
}
