// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package engine implements the precision average-speed control loop: one
// supervisor goroutine that observes every active torrent, learns its
// tracker-announce cycle, and steers per-torrent upload and download caps so
// each cycle's average upload speed lands on the configured target.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/autobrr/cruise/internal/models"
)

// Config carries the engine-wide knobs. Zero values fall back to the
// defaults below.
type Config struct {
	// SpeedLimit is the hard per-session ceiling in bytes/second, overridable
	// per site. Default 50 MiB/s.
	SpeedLimit int64

	// DefaultTargetKiB applies to torrents no rule matches. 0 leaves them
	// observed but uncapped.
	DefaultTargetKiB int64

	// RecoverySlope feeds the reannounce optimiser. Default 45 MiB/s.
	RecoverySlope int64

	// PropsPerSecond budgets the expensive per-torrent properties RPC across
	// all torrents. Default 20.
	PropsPerSecond int

	// HistoryKeep bounds the cycle history table. Default 10000 rows.
	HistoryKeep int
}

func (c *Config) defaults() {
	if c.SpeedLimit <= 0 {
		c.SpeedLimit = DefaultSpeedLimit
	}
	if c.RecoverySlope <= 0 {
		c.RecoverySlope = DefaultRecoverySlope
	}
	if c.PropsPerSecond <= 0 {
		c.PropsPerSecond = 20
	}
	if c.HistoryKeep <= 0 {
		c.HistoryKeep = 10000
	}
}

type stateKey struct {
	instanceID int
	hash       string
}

// Engine owns the TorrentState map and runs the tick loop. Background
// workers mutate only the site-resolved subset of fields, under mu.
type Engine struct {
	cfg    Config
	tuning Tuning

	client ClientAdapter
	sites  SiteAssist // nil disables all site assistance
	rules  RuleSource
	sink   EventSink

	stateStore   *models.TorrentStateStore
	historyStore *models.CycleHistoryStore
	statsStore   *models.EngineStatsStore

	mu            sync.Mutex
	states        map[stateKey]*TorrentState
	running       bool
	paused        bool
	tempTargetKiB int64

	precision *PrecisionTracker

	totalCycles     atomic.Int64
	successCycles   atomic.Int64
	preciseCycles   atomic.Int64
	managedUploaded atomic.Int64
	startedAt       time.Time

	propsLimiter *rate.Limiter

	tidQueue  chan lookupReq
	peerQueue chan lookupReq

	emitMu   sync.Mutex
	lastEmit map[string]time.Time

	lastPersist     time.Time
	lastCookieCheck time.Time

	stop     chan struct{}
	loopDone chan struct{}
	workerWG sync.WaitGroup

	now func() time.Time
}

func New(cfg Config, tuning Tuning, client ClientAdapter, sites SiteAssist, rules RuleSource, sink EventSink,
	stateStore *models.TorrentStateStore, historyStore *models.CycleHistoryStore, statsStore *models.EngineStatsStore,
) *Engine {
	cfg.defaults()
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{
		cfg:          cfg,
		tuning:       tuning,
		client:       client,
		sites:        sites,
		rules:        rules,
		sink:         sink,
		stateStore:   stateStore,
		historyStore: historyStore,
		statsStore:   statsStore,
		states:       make(map[stateKey]*TorrentState),
		precision:    NewPrecisionTracker(),
		propsLimiter: rate.NewLimiter(rate.Limit(cfg.PropsPerSecond), cfg.PropsPerSecond),
		tidQueue:     make(chan lookupReq, lookupQueueSize),
		peerQueue:    make(chan lookupReq, lookupQueueSize),
		lastEmit:     make(map[string]time.Time),
		now:          time.Now,
	}
}

// Start loads persisted state, launches the workers and the tick loop. A
// load failure is downgraded to an empty start; live torrents repopulate the
// map within one pass.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.startedAt = e.now()
	e.lastPersist = e.startedAt
	e.lastCookieCheck = e.startedAt
	e.stop = make(chan struct{})
	e.loopDone = make(chan struct{})
	e.mu.Unlock()

	e.restore(ctx)

	e.workerWG.Add(2)
	go e.tidWorker()
	go e.peerWorker()

	go e.run()

	e.sink.Publish(Event{
		Kind:  EventStartup,
		Title: "Engine started",
		Message: fmt.Sprintf("ceiling %d KiB/s, site assist %v",
			e.cfg.SpeedLimit/1024, e.sites != nil),
		At: e.now(),
	})
	log.Info().Int64("speedLimit", e.cfg.SpeedLimit).Bool("siteAssist", e.sites != nil).Msg("limit engine started")
	return nil
}

// Stop halts the loop, persists everything and removes every cap the engine
// ever applied.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	done := e.loopDone
	e.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("tick loop did not exit within 5s")
	}
	e.workerWG.Wait()

	e.persist(ctx)
	e.removeAllLimits(ctx)

	e.sink.Publish(Event{Kind: EventShutdown, Title: "Engine stopped", At: e.now()})
	log.Info().Msg("limit engine stopped")
}

// Pause uncaps every torrent on the next pass without stopping observation.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	log.Info().Msg("limit engine paused")
}

func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	log.Info().Msg("limit engine resumed")
}

// SetTempTarget overrides every rule's target until restart. 0 clears.
func (e *Engine) SetTempTarget(kib int64) {
	e.mu.Lock()
	e.tempTargetKiB = kib
	e.mu.Unlock()
	log.Info().Int64("targetKiB", kib).Msg("temporary target set")
}

func (e *Engine) run() {
	defer close(e.loopDone)

	for {
		start := e.now()
		minTL := e.pass()
		passDuration := e.now().Sub(start)

		sleep := tickSleep(minTL) - passDuration
		if sleep < 100*time.Millisecond {
			sleep = 100 * time.Millisecond
		}

		select {
		case <-e.stop:
			return
		case <-time.After(sleep):
		}
	}
}

// tickSleep maps the smallest time-to-announce across active torrents to the
// loop period: coarse when nothing is near the boundary, sub-second in the
// final seconds where the last few kilobytes decide the cycle ratio.
func tickSleep(minTL float64) time.Duration {
	switch {
	case minTL >= 1800:
		return 5 * time.Second
	case minTL >= 600:
		return 4 * time.Second
	case minTL >= 180:
		return 2 * time.Second
	case minTL >= 60:
		return time.Second
	case minTL >= 10:
		return 500 * time.Millisecond
	default:
		return 150 * time.Millisecond
	}
}

// capIntent is one torrent's desired caps for this pass.
type capIntent struct {
	key         stateKey
	upBps       int64 // -1 uncapped
	upChanged   bool
	downKiB     int64 // -1 none
	downChanged bool
}

type reannounceIntent struct {
	key    stateKey
	reason string
}

// pass runs one full tick over every connected instance and returns the
// smallest time_left seen, for the sleep calculation.
func (e *Engine) pass() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	minTL := 9999.0
	var intents []capIntent
	var reannounces []reannounceIntent

	for _, instanceID := range e.client.ConnectedInstances() {
		torrents, err := e.client.ActiveTorrents(ctx, instanceID)
		if err != nil {
			log.Debug().Err(err).Int("instanceID", instanceID).Msg("failed to list active torrents, skipping tick")
			continue
		}

		for i := range torrents {
			t := &torrents[i]
			tl, intent, reann := e.processTorrent(ctx, instanceID, t)
			if tl < minTL {
				minTL = tl
			}
			if intent != nil {
				intents = append(intents, *intent)
			}
			if reann != nil {
				reannounces = append(reannounces, *reann)
			}
		}
	}

	e.applyIntents(ctx, intents)
	e.applyReannounces(ctx, reannounces)
	e.maintenance(ctx)

	return minTL
}

// processTorrent runs the per-torrent sequence: upsert state, feed the
// estimators, refresh the announce countdown, detect the cycle boundary,
// resolve the target and compute the cap intents.
func (e *Engine) processTorrent(ctx context.Context, instanceID int, t *Torrent) (float64, *capIntent, *reannounceIntent) {
	now := e.now()
	key := stateKey{instanceID: instanceID, hash: t.Hash}

	e.mu.Lock()
	state, ok := e.states[key]
	if !ok {
		state = NewTorrentState(t.Hash, e.tuning)
		state.InstanceID = instanceID
		state.SessionStart = now
		state.SessionUploadedStart = t.Uploaded
		e.states[key] = state
	}
	state.Name = t.Name
	state.Tracker = t.Tracker
	state.TotalSize = t.TotalSize
	state.AddedAt = t.AddedOn
	state.LastSeen = now

	if e.sites != nil && state.SiteID == 0 {
		state.SiteID = e.sites.Match(t.Tracker)
	}

	state.Controller(e.tuning).RecordSpeed(now, float64(t.UpSpeed))
	state.Ring().Record(now, float64(t.UpSpeed), float64(t.DownSpeed))

	e.enqueueLookupsLocked(state, now)

	needProps, cadenceOK := e.propsDue(state, now)
	e.mu.Unlock()

	// Properties RPC outside the lock, budgeted globally.
	if needProps && cadenceOK && e.propsLimiter.Allow() {
		if secs, err := e.client.SecondsToAnnounce(ctx, instanceID, t.Hash); err != nil {
			log.Debug().Err(err).Str("hash", t.Hash).Msg("properties refresh failed, skipping")
		} else {
			e.mu.Lock()
			state.LastProps = now
			if secs >= 0 && secs < MaxReannounce {
				state.CachedTimeLeft = secs
				state.CacheAt = now
				state.Source = SourceClient
			}
			e.mu.Unlock()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tl := state.TimeLeft(now)

	// Cycle boundary: a countdown jumping up by more than 30s means the
	// tracker just re-set it.
	isJump := state.PrevTimeLeft > 0 && tl > state.PrevTimeLeft+30
	if state.CycleStart.IsZero() {
		state.OpenCycle(now, t.Uploaded, tl, false)
	} else if isJump {
		e.closeCycleLocked(state, t, now)
		state.OpenCycle(now, t.Uploaded, tl, true)
	}
	state.PrevTimeLeft = tl

	e.resolveTargetLocked(state, t)

	if !state.MonitorNotified && (state.TID != 0 || now.Sub(state.SessionStart) > 60*time.Second) {
		state.MonitorNotified = true
		e.emit(EventMonitorStart, t.Hash, "Monitoring torrent",
			fmt.Sprintf("%s target %d KiB/s", t.Name, state.TargetBps/1024), 0)
	}

	ceiling := e.ceilingFor(state.SiteID)
	var reann *reannounceIntent

	if e.siteReannounceEnabled(state.SiteID) {
		opt := ReannounceOptimizer{SpeedLimit: ceiling, RecoverySlope: e.cfg.RecoverySlope}
		// A pending wait resolves even after a reannounce already fired this
		// cycle; only fresh triggers are once-per-cycle.
		if force, reason := opt.ResolveWaiting(state, t.Uploaded, now); force {
			reann = &reannounceIntent{key: stateKey{instanceID, t.Hash}, reason: reason}
		} else if !state.ReannouncedThisCycle {
			if force, reason := opt.ShouldReannounce(state, t.Done, t.Uploaded, t.TotalSize, now); force {
				reann = &reannounceIntent{key: stateKey{instanceID, t.Hash}, reason: reason}
			}
		}
	}

	upBps, reason := e.calculateLocked(state, t, tl, ceiling, now)
	state.LastUpReason = reason

	intent := capIntent{key: stateKey{instanceID, t.Hash}}
	intent.upBps = upBps
	intent.upChanged = upBps != state.LastUpLimit

	downKiB := int64(-1)
	if e.siteDownLimitEnabled(state.SiteID) && t.Progress < 1.0 {
		dl := DownLimiter{SpeedLimit: ceiling, MinTime: DownLimitMinTime, Buffer: DownLimitBuffer, AdjustBuffer: DownLimitAdjustBuffer}
		kib, dlReason := dl.Calc(state, t.Done, t.Uploaded, t.TotalSize, float64(t.DownSpeed), now)
		switch {
		case kib > 0:
			downKiB = kib
			intent.downChanged = kib != state.LastDownLimitK
			if intent.downChanged {
				e.emit(EventDownLimit, t.Hash, "Download cap applied",
					fmt.Sprintf("%s capped to %d KiB/s (%s)", t.Name, kib, dlReason), time.Minute)
			}
		case dlReason == "release" && state.LastDownLimitK > 0:
			intent.downChanged = true
		}
	}
	intent.downKiB = downKiB

	if !intent.upChanged && !intent.downChanged {
		return tl, nil, reann
	}
	return tl, &intent, reann
}

// propsDue reports whether the countdown cache is stale for the torrent's
// phase cadence. Called under mu.
func (e *Engine) propsDue(state *TorrentState, now time.Time) (needProps, cadenceOK bool) {
	tl := state.TimeLeft(now)
	phase := state.Phase(tl)

	var cadence time.Duration
	switch phase {
	case PhaseFinish:
		cadence = 200 * time.Millisecond
	case PhaseCatch:
		cadence = time.Second
	case PhaseSteady:
		cadence = 500 * time.Millisecond
	default:
		cadence = 2 * time.Second
	}

	return state.Source != SourceSite, state.LastProps.IsZero() || now.Sub(state.LastProps) >= cadence
}

// resolveTargetLocked computes the effective target: temporary override wins
// over the rule match; precision bias is applied later in the controller.
func (e *Engine) resolveTargetLocked(state *TorrentState, t *Torrent) {
	if e.tempTargetKiB > 0 {
		state.TargetBps = e.tempTargetKiB * 1024
		return
	}

	if e.rules != nil {
		if target, ok := e.rules.Resolve(context.Background(), state.SiteID, t.Tracker, t.Category); ok {
			state.TargetBps = target.TargetBps
			return
		}
	}

	state.TargetBps = e.cfg.DefaultTargetKiB * 1024
}

// calculateLocked is the cap decision for one tick: safety overrides first,
// then the phase-aware controller, then the near-completion protect floor.
func (e *Engine) calculateLocked(state *TorrentState, t *Torrent, tl float64, ceiling int64, now time.Time) (int64, string) {
	if e.paused {
		return -1, "paused"
	}
	if t.IsPaused {
		return -1, "torrent-paused"
	}
	if state.TargetBps <= 0 {
		return -1, "no-rule"
	}

	if realAvg := state.RealAvgSpeed(t.Uploaded, now); realAvg > float64(ceiling)*1.05 {
		e.emit(EventOverspeed, t.Hash, "Overspeed brake",
			fmt.Sprintf("%s session average %.0f KiB/s exceeds ceiling", t.Name, realAvg/1024), 2*time.Minute)
		return MinLimit, "overspeed-brake"
	}

	if state.WaitingReannounce {
		return ReannounceWaitLimit * 1024, "waiting-reannounce"
	}

	phase := state.Phase(tl)
	elapsed := state.CycleElapsed(now)
	adj := e.precision.Adjustment(phase)

	limit, reason, debug := state.Controller(e.tuning).Calculate(
		float64(state.TargetBps), state.CycleUploaded(t.Uploaded), tl, elapsed, phase, now, adj)
	state.lastDebug = debug

	// Close to done and close to the boundary, an uncapped torrent could blow
	// the cycle in the last seconds.
	if limit == -1 && t.Progress > ProgressProtect && TimeLeftValid(tl) && tl < 30 {
		limit = state.TargetBps
		reason += "+protect"
	}

	return limit, reason
}

// closeCycleLocked reports the cycle that just ended. The first, synthetic
// cycle (opened without an observed jump) is informational only and excluded
// from the precision tracker.
func (e *Engine) closeCycleLocked(state *TorrentState, t *Torrent, now time.Time) {
	uploaded := state.CycleUploaded(t.Uploaded)
	duration := state.CycleElapsed(now)
	if duration < 1 || state.TargetBps <= 0 {
		return
	}

	avg := float64(uploaded) / duration
	ratio := avg / float64(state.TargetBps)
	success := absf(ratio-1) <= 0.03
	precise := absf(ratio-1) <= 0.01
	informational := state.JumpCount == 0

	phase := state.Phase(state.PrevTimeLeft)

	e.totalCycles.Add(1)
	if success {
		e.successCycles.Add(1)
	}
	if precise {
		e.preciseCycles.Add(1)
	}
	e.managedUploaded.Add(uploaded)

	if !informational {
		e.precision.Record(ratio, phase, now)
	}

	if e.historyStore != nil {
		record := &models.CycleRecord{
			InstanceID:      state.InstanceID,
			Hash:            state.Hash,
			Name:            state.Name,
			SiteID:          state.SiteID,
			CycleIndex:      state.CycleIndex,
			Phase:           string(phase),
			StartedAt:       state.CycleStart,
			EndedAt:         now,
			DurationSeconds: duration,
			UploadedBytes:   uploaded,
			TargetBytes:     int64(float64(state.TargetBps) * duration),
			Ratio:           ratio,
			Success:         success,
			Precise:         precise,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.historyStore.Append(ctx, record); err != nil {
			log.Debug().Err(err).Str("hash", state.Hash).Msg("failed to append cycle record")
		}
		cancel()
	}

	grade := "miss"
	if precise {
		grade = "precise"
	} else if success {
		grade = "hit"
	}
	e.emit(EventCycleReport, state.Hash, "Cycle complete",
		fmt.Sprintf("%s cycle %d ratio %.3f (%s), %d MiB in %.0fs",
			state.Name, state.CycleIndex, ratio, grade, uploaded/1024/1024, duration), 0)

	log.Debug().
		Str("hash", state.Hash).
		Int("cycle", state.CycleIndex).
		Float64("ratio", ratio).
		Bool("informational", informational).
		Msg("cycle closed")
}

// applyIntents groups cap changes by (instance, value) so N torrents sharing
// a cap cost one RPC, then records what was actually applied.
func (e *Engine) applyIntents(ctx context.Context, intents []capIntent) {
	type groupKey struct {
		instanceID int
		limit      int64
	}

	upGroups := make(map[groupKey][]string)
	downGroups := make(map[groupKey][]string)

	for _, in := range intents {
		if in.upChanged {
			k := groupKey{in.key.instanceID, in.upBps}
			upGroups[k] = append(upGroups[k], in.key.hash)
		}
		if in.downChanged {
			k := groupKey{in.key.instanceID, in.downKiB}
			downGroups[k] = append(downGroups[k], in.key.hash)
		}
	}

	for k, hashes := range upGroups {
		batch := LimitBatch{InstanceID: k.instanceID, LimitBps: k.limit, Hashes: hashes}
		if err := e.client.SetUploadLimits(ctx, batch); err != nil {
			log.Debug().Err(err).Int("instanceID", k.instanceID).Int64("limit", k.limit).Msg("failed to apply upload limits")
			continue
		}
		e.mu.Lock()
		for _, h := range hashes {
			if s, ok := e.states[stateKey{k.instanceID, h}]; ok {
				s.LastUpLimit = k.limit
			}
		}
		e.mu.Unlock()
	}

	for k, hashes := range downGroups {
		limitBps := k.limit * 1024
		if k.limit < 0 {
			limitBps = -1
		}
		batch := LimitBatch{InstanceID: k.instanceID, LimitBps: limitBps, Hashes: hashes}
		if err := e.client.SetDownloadLimits(ctx, batch); err != nil {
			log.Debug().Err(err).Int("instanceID", k.instanceID).Int64("limitKiB", k.limit).Msg("failed to apply download limits")
			continue
		}
		e.mu.Lock()
		for _, h := range hashes {
			if s, ok := e.states[stateKey{k.instanceID, h}]; ok {
				s.LastDownLimitK = k.limit
				if k.limit > 0 {
					s.DownLimitedThisCycle = true
				}
			}
		}
		e.mu.Unlock()
	}
}

func (e *Engine) applyReannounces(ctx context.Context, intents []reannounceIntent) {
	for _, in := range intents {
		if err := e.client.Reannounce(ctx, in.key.instanceID, in.key.hash); err != nil {
			log.Debug().Err(err).Str("hash", in.key.hash).Msg("forced reannounce failed")
			continue
		}
		now := e.now()
		e.mu.Lock()
		if s, ok := e.states[in.key]; ok {
			s.LastReannounce = now
			s.ReannouncedThisCycle = true
			s.WaitingReannounce = false
			e.emit(EventForcedReannounce, in.key.hash, "Forced reannounce",
				fmt.Sprintf("%s (%s)", s.Name, in.reason), time.Minute)
		}
		e.mu.Unlock()
	}
}

// maintenance runs the slow periodic work inside the loop: persistence,
// cookie checks and stale-state eviction.
func (e *Engine) maintenance(ctx context.Context) {
	now := e.now()

	if now.Sub(e.lastPersist) >= DBSaveInterval {
		e.lastPersist = now
		e.persist(ctx)
	}

	if e.sites != nil && now.Sub(e.lastCookieCheck) >= CookieCheckInterval {
		e.lastCookieCheck = now
		go e.checkCookies()
	}

	e.evictStale(ctx, now)
}

func (e *Engine) checkCookies() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	invalid, err := e.sites.CheckCookies(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("cookie check failed")
		return
	}
	for _, name := range invalid {
		e.emit(EventCookieInvalid, name, "Site cookie invalid",
			fmt.Sprintf("cookie for %s no longer authenticates", name), time.Hour)
	}
}

func (e *Engine) evictStale(ctx context.Context, now time.Time) {
	var evicted []stateKey

	e.mu.Lock()
	for k, s := range e.states {
		if !s.LastSeen.IsZero() && now.Sub(s.LastSeen) > StateEvictAfter {
			delete(e.states, k)
			evicted = append(evicted, k)
		}
	}
	e.mu.Unlock()

	for _, k := range evicted {
		if e.stateStore != nil {
			if err := e.stateStore.Delete(ctx, k.instanceID, k.hash); err != nil {
				log.Debug().Err(err).Str("hash", k.hash).Msg("failed to delete evicted state")
			}
		}
		log.Debug().Str("hash", k.hash).Msg("evicted stale torrent state")
	}
}

// persist writes the durable subset of every state plus the lifetime
// counters and learned bias.
func (e *Engine) persist(ctx context.Context) {
	e.mu.Lock()
	records := make([]*models.TorrentStateRecord, 0, len(e.states))
	for k, s := range e.states {
		records = append(records, &models.TorrentStateRecord{
			InstanceID:         k.instanceID,
			Hash:               s.Hash,
			Name:               s.Name,
			Tracker:            s.Tracker,
			TotalSize:          s.TotalSize,
			AddedAt:            s.AddedAt,
			CycleIndex:         s.CycleIndex,
			CycleStart:         s.CycleStart,
			CycleUploadedStart: s.CycleUploadedStart,
			CycleInterval:      s.CycleInterval,
			CycleSynced:        s.CycleSynced,
			JumpCount:          s.JumpCount,
			LastJump:           s.LastJump,
			SiteID:             s.SiteID,
			TID:                s.TID,
			Promotion:          s.Promotion,
			PublishTime:        s.PublishTime,
			LastAnnounceTime:   s.LastAnnounceTime,
			TargetBps:          s.TargetBps,
			LastUpLimit:        s.LastUpLimit,
			LastDownLimitKiB:   s.LastDownLimitK,
		})
	}
	bias := e.precision.Snapshot()
	e.mu.Unlock()

	if e.stateStore != nil {
		if err := e.stateStore.SaveBatch(ctx, records); err != nil {
			log.Error().Err(err).Msg("failed to persist torrent states")
		}
		// Rows abandoned by a crash never get an in-memory eviction, so sweep
		// anything not refreshed within twice the eviction horizon.
		if _, err := e.stateStore.PruneStale(ctx, e.now().Add(-2*StateEvictAfter)); err != nil {
			log.Debug().Err(err).Msg("failed to prune stale torrent states")
		}
	}

	if e.statsStore != nil {
		stats := &models.EngineStats{
			TotalCycles:          e.totalCycles.Load(),
			SuccessCycles:        e.successCycles.Load(),
			PreciseCycles:        e.preciseCycles.Load(),
			ManagedUploadedBytes: e.managedUploaded.Load(),
			BiasWarmup:           bias.Warmup,
			BiasCatch:            bias.Catch,
			BiasSteady:           bias.Steady,
			BiasFinish:           bias.Finish,
			BiasGlobal:           bias.Global,
			StartedAt:            e.startedAt,
		}
		if err := e.statsStore.Save(ctx, stats); err != nil {
			log.Error().Err(err).Msg("failed to persist engine stats")
		}
	}

	if e.historyStore != nil {
		if _, err := e.historyStore.Prune(ctx, e.cfg.HistoryKeep); err != nil {
			log.Debug().Err(err).Msg("failed to prune cycle history")
		}
	}
}

// restore reloads states and counters. Any failure starts empty.
func (e *Engine) restore(ctx context.Context) {
	if e.statsStore != nil {
		if stats, err := e.statsStore.Load(ctx); err != nil {
			log.Error().Err(err).Msg("failed to load engine stats, starting fresh")
		} else {
			e.totalCycles.Store(stats.TotalCycles)
			e.successCycles.Store(stats.SuccessCycles)
			e.preciseCycles.Store(stats.PreciseCycles)
			e.managedUploaded.Store(stats.ManagedUploadedBytes)
			e.precision.Restore(BiasSnapshot{
				Warmup: stats.BiasWarmup,
				Catch:  stats.BiasCatch,
				Steady: stats.BiasSteady,
				Finish: stats.BiasFinish,
				Global: stats.BiasGlobal,
			})
		}
	}

	if e.stateStore == nil {
		return
	}
	records, err := e.stateStore.All(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load torrent states, starting fresh")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		s := NewTorrentState(r.Hash, e.tuning)
		s.InstanceID = r.InstanceID
		s.Name = r.Name
		s.Tracker = r.Tracker
		s.TotalSize = r.TotalSize
		s.AddedAt = r.AddedAt
		s.CycleIndex = r.CycleIndex
		s.CycleStart = r.CycleStart
		s.CycleUploadedStart = r.CycleUploadedStart
		s.CycleInterval = r.CycleInterval
		s.CycleSynced = r.CycleSynced
		s.JumpCount = r.JumpCount
		s.LastJump = r.LastJump
		s.SiteID = r.SiteID
		s.TID = r.TID
		s.Promotion = r.Promotion
		s.PublishTime = r.PublishTime
		s.LastAnnounceTime = r.LastAnnounceTime
		s.TargetBps = r.TargetBps
		s.LastUpLimit = r.LastUpLimit
		s.LastDownLimitK = r.LastDownLimitKiB
		s.SessionStart = e.now()
		// Start the eviction clock now. If the torrent never reappears the
		// state ages out instead of surviving restarts forever.
		s.LastSeen = e.now()
		e.states[stateKey{r.InstanceID, r.Hash}] = s
	}
	log.Info().Int("states", len(records)).Msg("restored torrent states")
}

// removeAllLimits uncaps everything the engine capped, batched like a normal
// apply.
func (e *Engine) removeAllLimits(ctx context.Context) {
	e.mu.Lock()
	upByInstance := make(map[int][]string)
	downByInstance := make(map[int][]string)
	for k, s := range e.states {
		if s.LastUpLimit > 0 {
			upByInstance[k.instanceID] = append(upByInstance[k.instanceID], k.hash)
		}
		if s.LastDownLimitK > 0 {
			downByInstance[k.instanceID] = append(downByInstance[k.instanceID], k.hash)
		}
	}
	e.mu.Unlock()

	for instanceID, hashes := range upByInstance {
		if err := e.client.SetUploadLimits(ctx, LimitBatch{InstanceID: instanceID, LimitBps: -1, Hashes: hashes}); err != nil {
			log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to remove upload limits at shutdown")
		}
	}
	for instanceID, hashes := range downByInstance {
		if err := e.client.SetDownloadLimits(ctx, LimitBatch{InstanceID: instanceID, LimitBps: -1, Hashes: hashes}); err != nil {
			log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to remove download limits at shutdown")
		}
	}
}

func (e *Engine) ceilingFor(siteID int) int64 {
	if e.sites != nil && siteID != 0 {
		if override := e.sites.SpeedLimitBps(siteID); override > 0 {
			return override
		}
	}
	return e.cfg.SpeedLimit
}

func (e *Engine) siteReannounceEnabled(siteID int) bool {
	return e.sites != nil && siteID != 0 && e.sites.ReannounceOptEnabled(siteID)
}

func (e *Engine) siteDownLimitEnabled(siteID int) bool {
	return e.sites != nil && siteID != 0 && e.sites.DownLimitEnabled(siteID)
}

// emit publishes an event, rate limited per (kind, key) when every > 0.
func (e *Engine) emit(kind EventKind, key, title, message string, every time.Duration) {
	now := e.now()
	if every > 0 {
		limitKey := string(kind) + ":" + key
		e.emitMu.Lock()
		if last, ok := e.lastEmit[limitKey]; ok && now.Sub(last) < every {
			e.emitMu.Unlock()
			return
		}
		e.lastEmit[limitKey] = now
		e.emitMu.Unlock()
	}
	e.sink.Publish(Event{Kind: kind, Key: key, Title: title, Message: message, At: now})
}
