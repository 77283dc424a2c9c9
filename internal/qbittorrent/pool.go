// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/cruise/internal/models"
)

const (
	shortBackoff       = 30 * time.Second
	banBackoff         = 5 * time.Minute
	maxBackoff         = 30 * time.Minute
	healthCheckTimeout = 10 * time.Second
)

type failureInfo struct {
	failures  int
	lastError error
	nextRetry time.Time
}

// ClientPool owns one Client per instance, creating them lazily and backing
// off after failures. Ban-shaped errors get a much longer backoff so we do
// not make an IP ban worse by hammering the login endpoint.
type ClientPool struct {
	instanceStore  *models.InstanceStore
	mu             sync.RWMutex
	clients        map[int]*Client
	failureTracker map[int]*failureInfo
	closed         bool
}

func NewClientPool(instanceStore *models.InstanceStore) (*ClientPool, error) {
	return &ClientPool{
		instanceStore:  instanceStore,
		clients:        make(map[int]*Client),
		failureTracker: make(map[int]*failureInfo),
	}, nil
}

// GetClient returns a healthy client for the instance, dialing on demand.
func (p *ClientPool) GetClient(ctx context.Context, instanceID int) (*Client, error) {
	p.mu.RLock()
	client, ok := p.clients[instanceID]
	p.mu.RUnlock()
	if ok {
		return client, nil
	}

	if p.isInBackoff(instanceID) {
		return nil, fmt.Errorf("instance %d is in backoff", instanceID)
	}

	instance, err := p.instanceStore.Get(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance %d: %w", instanceID, err)
	}

	client, err = NewClient(instance.ID, instance.Host, instance.Username, instance.Password,
		instance.BasicUsername, instance.BasicPassword)
	if err != nil {
		p.trackFailure(instanceID, err)
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("client pool closed")
	}
	p.clients[instanceID] = client
	p.mu.Unlock()

	p.resetFailureTracking(instanceID)
	return client, nil
}

// ConnectedIDs lists instances with a live client.
func (p *ClientPool) ConnectedIDs() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]int, 0, len(p.clients))
	for id, c := range p.clients {
		if c.IsHealthy() {
			ids = append(ids, id)
		}
	}
	return ids
}

// HealthCheckAll pings every pooled client concurrently, dropping the ones
// that fail so the next GetClient re-dials.
func (p *ClientPool) HealthCheckAll(ctx context.Context) {
	p.mu.RLock()
	clients := make(map[int]*Client, len(p.clients))
	for id, c := range p.clients {
		clients[id] = c
	}
	p.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for id, c := range clients {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := c.HealthCheck(checkCtx)
			cancel()
			if err != nil {
				log.Warn().Err(err).Int("instanceID", id).Msg("instance health check failed, dropping client")
				p.trackFailure(id, err)
				p.mu.Lock()
				delete(p.clients, id)
				p.mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// isBanError detects errors where retrying quickly would extend the ban.
func (p *ClientPool) isBanError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "banned") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "forbidden")
}

func (p *ClientPool) trackFailure(instanceID int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, ok := p.failureTracker[instanceID]
	if !ok {
		info = &failureInfo{}
		p.failureTracker[instanceID] = info
	}
	info.failures++
	info.lastError = err

	backoff := shortBackoff
	if p.isBanError(err) {
		backoff = banBackoff
	}
	// Escalate with consecutive failures, capped.
	backoff *= time.Duration(info.failures)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	info.nextRetry = time.Now().Add(backoff)

	log.Debug().Err(err).Int("instanceID", instanceID).Int("failures", info.failures).
		Dur("backoff", backoff).Msg("tracked instance failure")
}

func (p *ClientPool) isInBackoff(instanceID int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info, ok := p.failureTracker[instanceID]
	return ok && time.Now().Before(info.nextRetry)
}

// Evict drops the pooled client and failure state for an instance so the
// next GetClient dials with fresh credentials.
func (p *ClientPool) Evict(instanceID int) {
	p.mu.Lock()
	delete(p.clients, instanceID)
	delete(p.failureTracker, instanceID)
	p.mu.Unlock()
}

func (p *ClientPool) resetFailureTracking(instanceID int) {
	p.mu.Lock()
	delete(p.failureTracker, instanceID)
	p.mu.Unlock()
}

func (p *ClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.clients = make(map[int]*Client)
}
