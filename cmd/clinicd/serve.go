package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"clinicrecords/internal/config"
	"clinicrecords/internal/server"
	"clinicrecords/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the clinic records server",
	Long: `Start the clinic records server. The tables are created on startup;
if the store cannot be reached the command fails before listening.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg)
}

// run bootstraps the store, then serves until ctx is cancelled. Nothing is
// bound when bootstrap fails. The store and cache are closed only after
// in-flight exchanges have drained.
func run(ctx context.Context, cfg config.FileConfig) error {
	repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	readTimeout, writeTimeout, cacheTTL := cfg.Durations()
	srvCfg := server.Config{
		Repo:         repo,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}
	if cfg.RedisAddr != "" {
		cache, err := store.NewRedisDoctorCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix, cacheTTL)
		if err != nil {
			return fmt.Errorf("doctor cache: %w", err)
		}
		defer cache.Close()
		srvCfg.DoctorCache = cache
		slog.Info("doctor list cache enabled", "redis", cfg.RedisAddr, "ttl", cacheTTL.String())
	}

	srv, err := server.NewServer(srvCfg)
	if err != nil {
		return err
	}
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
