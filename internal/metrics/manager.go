// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes engine and instance gauges on a dedicated
// Prometheus endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/cruise/internal/engine"
	"github.com/autobrr/cruise/internal/qbittorrent"
)

type Manager struct {
	registry        *prometheus.Registry
	engineCollector *EngineCollector
}

func NewManager(eng *engine.Engine, clientPool *qbittorrent.ClientPool) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engineCollector := NewEngineCollector(eng, clientPool)
	registry.MustRegister(engineCollector)

	log.Info().Msg("Metrics manager initialized with engine collector")

	return &Manager{
		registry:        registry,
		engineCollector: engineCollector,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}
