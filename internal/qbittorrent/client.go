// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent wraps the go-qbittorrent binding behind the engine's
// client adapter: a pool of per-instance clients with failure backoff, and
// batched limit application.
package qbittorrent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
)

type Client struct {
	*qbt.Client
	instanceID      int
	webAPIVersion   string
	lastHealthCheck time.Time
	isHealthy       bool
	mu              sync.RWMutex
}

func NewClient(instanceID int, instanceHost, username, password string, basicUsername, basicPassword *string) (*Client, error) {
	cfg := qbt.Config{
		Host:     instanceHost,
		Username: username,
		Password: password,
		Timeout:  30,
	}

	if basicUsername != nil && *basicUsername != "" {
		cfg.BasicUser = *basicUsername
		if basicPassword != nil {
			cfg.BasicPass = *basicPassword
		}
	}

	qbtClient := qbt.NewClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := retry.Do(func() error {
		return qbtClient.LoginCtx(ctx)
	}, retry.Attempts(3), retry.Delay(time.Second), retry.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qBittorrent instance: %w", err)
	}

	webAPIVersion, err := qbtClient.GetWebAPIVersionCtx(ctx)
	if err != nil {
		webAPIVersion = ""
	}

	// The reannounce endpoint landed in WebAPI 2.0.2; anything modern has it,
	// but a helpful log line beats a silent 404 on ancient builds.
	if webAPIVersion != "" {
		if v, err := semver.NewVersion(webAPIVersion); err == nil && v.LessThan(semver.MustParse("2.0.2")) {
			log.Warn().Int("instanceID", instanceID).Str("webAPIVersion", webAPIVersion).
				Msg("qBittorrent WebAPI predates the reannounce endpoint")
		}
	}

	client := &Client{
		Client:          qbtClient,
		instanceID:      instanceID,
		webAPIVersion:   webAPIVersion,
		lastHealthCheck: time.Now(),
		isHealthy:       true,
	}

	log.Debug().
		Int("instanceID", instanceID).
		Str("host", instanceHost).
		Str("webAPIVersion", webAPIVersion).
		Msg("qBittorrent client created successfully")

	return client, nil
}

func (c *Client) GetInstanceID() int {
	return c.instanceID
}

func (c *Client) GetWebAPIVersion() string {
	return c.webAPIVersion
}

func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isHealthy
}

func (c *Client) GetLastHealthCheck() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHealthCheck
}

// HealthCheck pings the WebAPI and relogs in when the session expired.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.GetWebAPIVersionCtx(ctx)
	if err != nil {
		if loginErr := c.LoginCtx(ctx); loginErr != nil {
			c.mu.Lock()
			c.isHealthy = false
			c.lastHealthCheck = time.Now()
			c.mu.Unlock()
			return fmt.Errorf("health check failed: login error: %w", loginErr)
		}
	}

	c.mu.Lock()
	c.isHealthy = true
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
	return nil
}
