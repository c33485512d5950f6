package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mcoot/tilerush/internal/api"
	"github.com/mcoot/tilerush/internal/config"
	"github.com/mcoot/tilerush/internal/factory"
	"github.com/mcoot/tilerush/internal/services/auth"
	"github.com/mcoot/tilerush/internal/services/ledger"
	"github.com/mcoot/tilerush/internal/services/session"
	"github.com/mcoot/tilerush/internal/services/sweep"
	"github.com/mcoot/tilerush/internal/storage/postgres"
	redisstorage "github.com/mcoot/tilerush/internal/storage/redis"
	"github.com/mcoot/tilerush/internal/transport/ws"
)

func main() {
	cfg, err := config.Load()

	// Set up logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := factory.New(ctx, factoryConfig(cfg, logger))
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("failed to close store", slog.String("error", err.Error()))
		}
	}()

	serverConfig := api.DefaultServerConfig()
	serverConfig.Port = cfg.Port
	server := api.NewServer(app.Router(), serverConfig, logger)

	// Background loops stop when ctx is cancelled
	loopsDone := make(chan struct{})
	go func() {
		defer close(loopsDone)
		app.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("server started",
		slog.String("addr", server.Addr()),
		slog.String("storage", cfg.StorageType))

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			exitCode = 1
		}
		cancel()
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	<-loopsDone
	logger.Info("server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func factoryConfig(cfg config.Config, logger *slog.Logger) factory.Config {
	authCfg := auth.DefaultConfig()
	authCfg.Secret = []byte(cfg.JWTSecret)
	authCfg.Issuer = cfg.JWTIssuer

	sessionCfg := session.DefaultConfig()
	sessionCfg.AuthGrace = cfg.AuthGrace

	ledgerCfg := ledger.DefaultConfig()
	ledgerCfg.Policy = cfg.PlausibilityPolicy

	sweepCfg := sweep.DefaultConfig()
	sweepCfg.Interval = cfg.SweepInterval
	sweepCfg.ReapInterval = cfg.AuthGrace / 2

	wsCfg := ws.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		wsCfg.AllowedOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}

	fc := factory.Config{
		Logger:      logger,
		StorageType: cfg.StorageType,
		Auth:        authCfg,
		Session:     sessionCfg,
		Ledger:      ledgerCfg,
		Sweep:       sweepCfg,
		WS:          wsCfg,
	}

	switch cfg.StorageType {
	case config.StorageRedis:
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.RedisURL
		fc.RedisConfig = &redisCfg
	case config.StoragePostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.DSN = cfg.DatabaseURL
		fc.PostgresConfig = &pgCfg
	}
	return fc
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
