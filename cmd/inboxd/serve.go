package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GetStream/unified-inbox/adapter"
	"github.com/GetStream/unified-inbox/annotation"
	"github.com/GetStream/unified-inbox/api"
	"github.com/GetStream/unified-inbox/api/validator"
	"github.com/GetStream/unified-inbox/config"
	"github.com/GetStream/unified-inbox/metrics"
	"github.com/GetStream/unified-inbox/postgres"
	"github.com/GetStream/unified-inbox/redis"
	"github.com/GetStream/unified-inbox/storage"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the inbox HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, loader, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg.Logging)
			if used := loader.ConfigFileUsed(); used != "" {
				logger.Debug("Loaded config file", "config_file", used)
			}
			logger.Info("inboxd starting", "version", version, "commit", commit)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the inbox tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg.Logging)

			pg, err := postgres.Connect(cmd.Context(), cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pg.Close()

			if err := pg.CreateSchema(cmd.Context()); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
			logger.Info("Created schema")
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pg, err := postgres.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pg.Close()
	if cfg.Postgres.CreateSchema {
		if err := pg.CreateSchema(ctx); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	var backend adapter.Backend = pg
	a := &api.API{
		Logger:       logger,
		Sources:      pg,
		Annotations:  &annotation.Service{Store: pg, Logger: logger},
		Val:          validator.New(),
		Metrics:      metrics.New(),
		PollInterval: cfg.Inbox.PollInterval,
		SessionTTL:   cfg.Inbox.SessionTTL,
	}

	if cfg.Redis.Addr != "" {
		rdb, err := redis.Connect(ctx, cfg.Redis.Addr, logger)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()
		backend = &adapter.CachedBackend{Backend: pg, Cache: rdb, Logger: logger}
		a.Events = rdb
	} else {
		logger.Warn("Redis disabled, relying on polling")
	}

	if cfg.Storage.Endpoint != "" {
		st, err := storage.Connect(ctx, storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
			PublicURL: cfg.Storage.PublicURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to storage: %w", err)
		}
		a.Uploader = st
	} else {
		logger.Warn("Storage disabled, uploads will be rejected")
	}

	a.Registry = adapter.NewRegistry(backend, adapter.WithThreadLimit(cfg.Inbox.ThreadPageSize))
	defer a.Close()

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: a,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
