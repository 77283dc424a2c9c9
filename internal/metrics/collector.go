// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/autobrr/cruise/internal/engine"
	"github.com/autobrr/cruise/internal/qbittorrent"
)

// EngineCollector exposes a point-in-time snapshot of the limit engine. All
// values come from one Status() call per scrape.
type EngineCollector struct {
	engine     *engine.Engine
	clientPool *qbittorrent.ClientPool

	engineRunningDesc     *prometheus.Desc
	enginePausedDesc      *prometheus.Desc
	managedTorrentsDesc   *prometheus.Desc
	totalCyclesDesc       *prometheus.Desc
	successCyclesDesc     *prometheus.Desc
	preciseCyclesDesc     *prometheus.Desc
	managedBytesDesc      *prometheus.Desc
	phaseBiasDesc         *prometheus.Desc
	torrentTimeLeftDesc   *prometheus.Desc
	torrentUpLimitDesc    *prometheus.Desc
	instanceConnectedDesc *prometheus.Desc
}

func NewEngineCollector(eng *engine.Engine, clientPool *qbittorrent.ClientPool) *EngineCollector {
	return &EngineCollector{
		engine:     eng,
		clientPool: clientPool,

		engineRunningDesc: prometheus.NewDesc(
			"cruise_engine_running",
			"Whether the limit engine loop is running (1=running, 0=stopped)",
			nil,
			nil,
		),
		enginePausedDesc: prometheus.NewDesc(
			"cruise_engine_paused",
			"Whether the limit engine is paused (1=paused, 0=active)",
			nil,
			nil,
		),
		managedTorrentsDesc: prometheus.NewDesc(
			"cruise_managed_torrents",
			"Number of torrents currently under management",
			nil,
			nil,
		),
		totalCyclesDesc: prometheus.NewDesc(
			"cruise_cycles_total",
			"Total number of completed announce cycles",
			nil,
			nil,
		),
		successCyclesDesc: prometheus.NewDesc(
			"cruise_cycles_success_total",
			"Announce cycles that landed within 3 percent of target",
			nil,
			nil,
		),
		preciseCyclesDesc: prometheus.NewDesc(
			"cruise_cycles_precise_total",
			"Announce cycles that landed within 1 percent of target",
			nil,
			nil,
		),
		managedBytesDesc: prometheus.NewDesc(
			"cruise_managed_uploaded_bytes_total",
			"Bytes uploaded across all managed cycles",
			nil,
			nil,
		),
		phaseBiasDesc: prometheus.NewDesc(
			"cruise_phase_bias",
			"Multiplicative precision bias per controller phase",
			[]string{"phase"},
			nil,
		),
		torrentTimeLeftDesc: prometheus.NewDesc(
			"cruise_torrent_announce_seconds",
			"Seconds until the next tracker announce by torrent",
			[]string{"instance_id", "hash"},
			nil,
		),
		torrentUpLimitDesc: prometheus.NewDesc(
			"cruise_torrent_upload_limit_bytes",
			"Current upload limit in bytes per second by torrent (-1=uncapped)",
			[]string{"instance_id", "hash"},
			nil,
		),
		instanceConnectedDesc: prometheus.NewDesc(
			"cruise_instance_connection_status",
			"Connection status of qBittorrent instance (1=connected, 0=disconnected)",
			[]string{"instance_id"},
			nil,
		),
	}
}

func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.engineRunningDesc
	ch <- c.enginePausedDesc
	ch <- c.managedTorrentsDesc
	ch <- c.totalCyclesDesc
	ch <- c.successCyclesDesc
	ch <- c.preciseCyclesDesc
	ch <- c.managedBytesDesc
	ch <- c.phaseBiasDesc
	ch <- c.torrentTimeLeftDesc
	ch <- c.torrentUpLimitDesc
	ch <- c.instanceConnectedDesc
}

func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	if c.clientPool != nil {
		for _, id := range c.clientPool.ConnectedIDs() {
			ch <- prometheus.MustNewConstMetric(c.instanceConnectedDesc, prometheus.GaugeValue,
				1, strconv.Itoa(id))
		}
	}

	if c.engine == nil {
		ch <- prometheus.MustNewConstMetric(c.engineRunningDesc, prometheus.GaugeValue, 0)
		return
	}

	status := c.engine.Status()

	ch <- prometheus.MustNewConstMetric(c.engineRunningDesc, prometheus.GaugeValue, boolValue(status.Running))
	ch <- prometheus.MustNewConstMetric(c.enginePausedDesc, prometheus.GaugeValue, boolValue(status.Paused))
	ch <- prometheus.MustNewConstMetric(c.managedTorrentsDesc, prometheus.GaugeValue, float64(len(status.Torrents)))
	ch <- prometheus.MustNewConstMetric(c.totalCyclesDesc, prometheus.CounterValue, float64(status.TotalCycles))
	ch <- prometheus.MustNewConstMetric(c.successCyclesDesc, prometheus.CounterValue, float64(status.SuccessCycles))
	ch <- prometheus.MustNewConstMetric(c.preciseCyclesDesc, prometheus.CounterValue, float64(status.PreciseCycles))
	ch <- prometheus.MustNewConstMetric(c.managedBytesDesc, prometheus.CounterValue, float64(status.ManagedBytes))

	for phase, bias := range map[string]float64{
		"warmup": status.Bias.Warmup,
		"catch":  status.Bias.Catch,
		"steady": status.Bias.Steady,
		"finish": status.Bias.Finish,
		"global": status.Bias.Global,
	} {
		ch <- prometheus.MustNewConstMetric(c.phaseBiasDesc, prometheus.GaugeValue, bias, phase)
	}

	for _, t := range status.Torrents {
		instanceID := strconv.Itoa(t.InstanceID)
		ch <- prometheus.MustNewConstMetric(c.torrentTimeLeftDesc, prometheus.GaugeValue,
			t.TimeLeft, instanceID, t.Hash)
		ch <- prometheus.MustNewConstMetric(c.torrentUpLimitDesc, prometheus.GaugeValue,
			float64(t.UpLimit), instanceID, t.Hash)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
