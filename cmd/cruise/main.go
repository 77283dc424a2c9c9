// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/cruise/internal/api"
	"github.com/autobrr/cruise/internal/buildinfo"
	"github.com/autobrr/cruise/internal/config"
	"github.com/autobrr/cruise/internal/crypto"
	"github.com/autobrr/cruise/internal/database"
	"github.com/autobrr/cruise/internal/engine"
	"github.com/autobrr/cruise/internal/logger"
	"github.com/autobrr/cruise/internal/metrics"
	"github.com/autobrr/cruise/internal/models"
	internalqbittorrent "github.com/autobrr/cruise/internal/qbittorrent"
	"github.com/autobrr/cruise/internal/services/notifications"
	"github.com/autobrr/cruise/internal/services/rules"
	"github.com/autobrr/cruise/internal/sites"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "cruise",
		Short: "Precision upload-speed supervisor for qBittorrent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file or directory")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the supervisor daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Print(buildinfo.String())
		},
	})

	rootCmd.AddCommand(RunDBCommand(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildEncryptor(key string) (*crypto.AESEncryptor, error) {
	if key == "" {
		log.Warn().Msg("no encryptionKey configured, instance passwords are stored in plain text")
		return nil, nil
	}
	return crypto.NewAESEncryptor(key)
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.New(configPath, buildinfo.Version)
	if err != nil {
		return err
	}

	logger.Setup(cfg.Config)
	log.Info().Str("version", buildinfo.Version).Str("commit", buildinfo.Commit).Msg("starting cruise")

	db, err := database.New(cfg.Config.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	encryptor, err := buildEncryptor(cfg.Config.EncryptionKey)
	if err != nil {
		return err
	}

	instanceStore := models.NewInstanceStore(db, encryptor)
	siteStore := models.NewSiteStore(db)
	ruleStore := models.NewSpeedRuleStore(db)
	targetStore := models.NewNotificationTargetStore(db)
	stateStore := models.NewTorrentStateStore(db)
	historyStore := models.NewCycleHistoryStore(db)
	statsStore := models.NewEngineStatsStore(db)
	kvStore := models.NewKVStore(db)

	clientPool, err := internalqbittorrent.NewClientPool(instanceStore)
	if err != nil {
		return fmt.Errorf("create client pool: %w", err)
	}
	defer clientPool.Close()

	siteManager := sites.NewManager(siteStore, kvStore)
	ruleService := rules.NewService(ruleStore)
	notificationService := notifications.NewService(targetStore)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationService.Start(ctx)

	var eng *engine.Engine
	if cfg.Config.EngineEnabled {
		var assist engine.SiteAssist
		if cfg.Config.SiteAssistEnabled {
			assist = siteManager
		}

		eng = engine.New(
			engine.Config{
				SpeedLimit:       cfg.Config.SpeedLimitKiB * 1024,
				DefaultTargetKiB: cfg.Config.DefaultTargetKiB,
				RecoverySlope:    cfg.Config.RecoverySlopeKiB * 1024,
				PropsPerSecond:   cfg.Config.PropsPerSecond,
				HistoryKeep:      cfg.Config.CycleHistoryKeep,
			},
			engine.DefaultTuning(),
			internalqbittorrent.NewAdapter(clientPool),
			assist,
			ruleService,
			notificationService,
			stateStore,
			historyStore,
			statsStore,
		)
		if err := eng.Start(ctx); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
	} else {
		log.Warn().Msg("limit engine disabled by configuration")
	}

	srv := api.NewServer(&api.Dependencies{
		Config:                  cfg,
		Engine:                  eng,
		ClientPool:              clientPool,
		SiteManager:             siteManager,
		RuleService:             ruleService,
		Notification:            notificationService,
		InstanceStore:           instanceStore,
		SiteStore:               siteStore,
		SpeedRuleStore:          ruleStore,
		NotificationTargetStore: targetStore,
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	var metricsSrv *metrics.MetricsServer
	if cfg.Config.MetricsEnabled {
		metricsSrv = metrics.NewMetricsServer(
			metrics.NewManager(eng, clientPool),
			cfg.Config.MetricsHost,
			cfg.Config.MetricsPort,
		)
		go func() {
			errCh <- metricsSrv.ListenAndServe()
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if eng != nil {
		eng.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown failed")
		}
	}

	log.Info().Msg("cruise stopped")
	return nil
}
