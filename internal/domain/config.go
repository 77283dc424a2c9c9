// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the application configuration, loaded from config.toml with
// CRUISE__ environment overrides.
type Config struct {
	Version string

	Host    string `toml:"host" mapstructure:"host"`
	Port    int    `toml:"port" mapstructure:"port"`
	BaseURL string `toml:"baseUrl" mapstructure:"baseUrl"`

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	DataDir      string `toml:"dataDir" mapstructure:"dataDir"`
	DatabasePath string `toml:"databasePath" mapstructure:"databasePath"`

	// EncryptionKey protects stored qBittorrent passwords. Leaving it empty
	// stores them in plain text.
	EncryptionKey string `toml:"encryptionKey" mapstructure:"encryptionKey"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	// Engine knobs. SpeedLimitKiB is the hard per-session ceiling some
	// trackers enforce; DefaultTargetKiB applies to torrents no rule matches.
	EngineEnabled      bool  `toml:"engineEnabled" mapstructure:"engineEnabled"`
	SpeedLimitKiB      int64 `toml:"speedLimitKib" mapstructure:"speedLimitKib"`
	DefaultTargetKiB   int64 `toml:"defaultTargetKib" mapstructure:"defaultTargetKib"`
	RecoverySlopeKiB   int64 `toml:"recoverySlopeKib" mapstructure:"recoverySlopeKib"`
	PropsPerSecond     int   `toml:"propsPerSecond" mapstructure:"propsPerSecond"`
	CycleHistoryKeep   int   `toml:"cycleHistoryKeep" mapstructure:"cycleHistoryKeep"`
	SiteAssistEnabled  bool  `toml:"siteAssistEnabled" mapstructure:"siteAssistEnabled"`
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SpeedLimitKiB < 0 {
		return errors.New("speedLimitKib must not be negative")
	}
	if c.DefaultTargetKiB < 0 {
		return errors.New("defaultTargetKib must not be negative")
	}
	switch strings.ToUpper(c.LogLevel) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid logLevel %q", c.LogLevel)
	}
	return nil
}
