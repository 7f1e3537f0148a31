package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"ecobot/internal/content"
	"ecobot/internal/economy"
	"ecobot/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg := server.LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	game, err := server.LoadGameConfig(cfg.GameConfigPath)
	if err != nil {
		return err
	}

	tables := content.Default()
	if cfg.ContentPath != "" {
		if tables, err = content.Load(cfg.ContentPath); err != nil {
			return err
		}
	}
	if err := tables.Validate(); err != nil {
		return err
	}

	store, err := economy.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.New(cfg, server.Deps{
		Store:  store,
		Tables: tables,
		Game:   &game,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.RunMaintenance(ctx, cfg.MaintenanceInterval)
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
