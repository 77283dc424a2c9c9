// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the TOML configuration with viper. Every key can be
// overridden through a CRUISE__ environment variable, for example
// CRUISE__LOG_LEVEL or CRUISE__SPEED_LIMIT_KIB.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/cruise/internal/domain"
)

const envPrefix = "CRUISE"

type AppConfig struct {
	Config *domain.Config
	viper  *viper.Viper
}

func New(configPath, version string) (*AppConfig, error) {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults(version)

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	if err := c.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

func (c *AppConfig) defaults(version string) {
	c.Config = &domain.Config{
		Version:          version,
		Host:             "127.0.0.1",
		Port:             7227,
		LogLevel:         "INFO",
		LogMaxSize:       50,
		LogMaxBackups:    3,
		MetricsHost:      "127.0.0.1",
		MetricsPort:      9074,
		EngineEnabled:    true,
		SpeedLimitKiB:    50 * 1024,
		RecoverySlopeKiB: 45 * 1024,
		PropsPerSecond:   20,
		CycleHistoryKeep: 10000,
	}
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetConfigType("toml")

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil && info.IsDir() {
			configPath = filepath.Join(configPath, "config.toml")
		}
		c.viper.SetConfigFile(configPath)
	} else {
		c.viper.SetConfigName("config")
		c.viper.AddConfigPath(".")
		c.viper.AddConfigPath("$HOME/.config/cruise")
		c.viper.AddConfigPath("/config")
	}

	// Seed viper with the defaults so env binding sees every key.
	if err := c.viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("unmarshal defaults: %w", err)
	}

	c.viper.SetEnvPrefix(envPrefix)
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.viper.AutomaticEnv()
	c.bindEnv()

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			log.Debug().Str("path", configPath).Msg("config file not found, using defaults")
		default:
			return fmt.Errorf("read config: %w", err)
		}
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	if c.Config.DataDir == "" {
		c.Config.DataDir = filepath.Dir(c.viper.ConfigFileUsed())
		if c.Config.DataDir == "" || c.Config.DataDir == "." {
			c.Config.DataDir, _ = os.Getwd()
		}
	}
	if c.Config.DatabasePath == "" {
		c.Config.DatabasePath = filepath.Join(c.Config.DataDir, "cruise.db")
	}

	return nil
}

// bindEnv maps each config key to its CRUISE__SNAKE_CASE variable. viper's
// automatic binding only finds keys present in the config file, so the
// important ones are bound explicitly.
func (c *AppConfig) bindEnv() {
	keys := []string{
		"host", "port", "baseUrl",
		"logLevel", "logPath", "logMaxSize", "logMaxBackups",
		"dataDir", "databasePath", "encryptionKey",
		"metricsEnabled", "metricsHost", "metricsPort",
		"engineEnabled", "speedLimitKib", "defaultTargetKib",
		"recoverySlopeKib", "propsPerSecond", "cycleHistoryKeep",
		"siteAssistEnabled",
	}
	for _, key := range keys {
		env := envPrefix + "__" + camelToScreamingSnake(key)
		if err := c.viper.BindEnv(key, env); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("failed to bind env var")
		}
	}
}

func camelToScreamingSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

