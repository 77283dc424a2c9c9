// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/autobrr/cruise/internal/buildinfo"
	"github.com/autobrr/cruise/internal/config"
	"github.com/autobrr/cruise/internal/database"
	"github.com/autobrr/cruise/internal/models"
)

func RunDBCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations",
	}

	cmd.AddCommand(runDBMigrateCommand(configPath))
	cmd.AddCommand(runDBPruneCommand(configPath))
	return cmd
}

func openDatabase(configPath string) (*database.DB, error) {
	cfg, err := config.New(configPath, buildinfo.Version)
	if err != nil {
		return nil, err
	}
	return database.New(cfg.Config.DatabasePath)
}

func runDBMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening the database runs pending migrations.
			db, err := openDatabase(*configPath)
			if err != nil {
				return err
			}
			defer db.Close()

			cmd.Println("Database is up to date.")
			return nil
		},
	}
}

func runDBPruneCommand(configPath *string) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Trim the cycle history table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keep <= 0 {
				return errors.New("--keep must be positive")
			}

			db, err := openDatabase(*configPath)
			if err != nil {
				return err
			}
			defer db.Close()

			store := models.NewCycleHistoryStore(db)
			removed, err := store.Prune(cmd.Context(), keep)
			if err != nil {
				return err
			}

			cmd.Printf("Removed %d cycle records, keeping the newest %d.\n", removed, keep)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 10000, "Number of most recent cycle records to keep")
	return cmd
}
