package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"clinicrecords/internal/config"
	"clinicrecords/internal/store"
	"clinicrecords/internal/util"
)

const bootstrapTimeout = 10 * time.Second

// loadConfig reads the config and installs the JSON logger.
func loadConfig() (config.FileConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	util.InitLogger(cfg.LogLevel)
	return cfg, nil
}

// openStore connects the configured store and makes sure the tables exist.
// The caller owns the returned repository.
func openStore(ctx context.Context, cfg config.FileConfig) (store.Repository, error) {
	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	repo, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("store ready")
	return repo, nil
}
