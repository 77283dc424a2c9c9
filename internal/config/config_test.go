// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := New(dir, "test")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Config.Host)
	assert.Equal(t, 7227, cfg.Config.Port)
	assert.Equal(t, "INFO", cfg.Config.LogLevel)
	assert.True(t, cfg.Config.EngineEnabled)
	assert.Equal(t, int64(50*1024), cfg.Config.SpeedLimitKiB)
	assert.Equal(t, int64(45*1024), cfg.Config.RecoverySlopeKiB)
	assert.Equal(t, 20, cfg.Config.PropsPerSecond)

	// The database lands next to the config file by default.
	assert.Equal(t, dir, cfg.Config.DataDir)
	assert.Equal(t, filepath.Join(dir, "cruise.db"), cfg.Config.DatabasePath)
}

func TestNewReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
host = "0.0.0.0"
port = 8000
logLevel = "DEBUG"
speedLimitKib = 10240
defaultTargetKib = 512
siteAssistEnabled = true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	cfg, err := New(dir, "test")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Config.Host)
	assert.Equal(t, 8000, cfg.Config.Port)
	assert.Equal(t, "DEBUG", cfg.Config.LogLevel)
	assert.Equal(t, int64(10240), cfg.Config.SpeedLimitKiB)
	assert.Equal(t, int64(512), cfg.Config.DefaultTargetKiB)
	assert.True(t, cfg.Config.SiteAssistEnabled)
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("port = 8000\n"), 0644))

	t.Setenv("CRUISE__PORT", "9001")
	t.Setenv("CRUISE__LOG_LEVEL", "warn")
	t.Setenv("CRUISE__ENCRYPTION_KEY", "from-env")
	t.Setenv("CRUISE__SPEED_LIMIT_KIB", "2048")

	cfg, err := New(dir, "test")
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Config.Port)
	assert.Equal(t, "warn", cfg.Config.LogLevel)
	assert.Equal(t, "from-env", cfg.Config.EncryptionKey)
	assert.Equal(t, int64(2048), cfg.Config.SpeedLimitKiB)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("port = -1\n"), 0644))

	_, err := New(dir, "test")
	assert.Error(t, err)
}

func TestCamelToScreamingSnake(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "PORT", camelToScreamingSnake("port"))
	assert.Equal(t, "LOG_LEVEL", camelToScreamingSnake("logLevel"))
	assert.Equal(t, "SPEED_LIMIT_KIB", camelToScreamingSnake("speedLimitKib"))
	assert.Equal(t, "BASE_URL", camelToScreamingSnake("baseUrl"))
}
