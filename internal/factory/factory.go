package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mcoot/tilerush/internal/api"
	"github.com/mcoot/tilerush/internal/dependencies/clock"
	"github.com/mcoot/tilerush/internal/services/achievement"
	"github.com/mcoot/tilerush/internal/services/auth"
	"github.com/mcoot/tilerush/internal/services/dispatch"
	"github.com/mcoot/tilerush/internal/services/energy"
	"github.com/mcoot/tilerush/internal/services/leaderboard"
	"github.com/mcoot/tilerush/internal/services/ledger"
	"github.com/mcoot/tilerush/internal/services/session"
	"github.com/mcoot/tilerush/internal/services/sweep"
	"github.com/mcoot/tilerush/internal/storage"
	"github.com/mcoot/tilerush/internal/storage/memory"
	"github.com/mcoot/tilerush/internal/storage/postgres"
	redisstorage "github.com/mcoot/tilerush/internal/storage/redis"
	"github.com/mcoot/tilerush/internal/transport"
	"github.com/mcoot/tilerush/internal/transport/sse"
	"github.com/mcoot/tilerush/internal/transport/ws"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.PlayerStore

	// External dependencies
	Clock    clock.Clock
	Verifier session.CredentialVerifier

	// Services
	Registry    *session.Registry
	Energy      *energy.Service
	Ledger      *ledger.Ledger
	Leaderboard *leaderboard.Cache
	Dispatcher  *dispatch.Dispatcher
	Sweeper     *sweep.Sweeper

	// Transports
	Sessions   *ws.Hub
	Spectators *sse.Hub

	logger *slog.Logger
	cfg    Config
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory", "redis" or "postgres")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// PostgresConfig holds database settings (required if StorageType is "postgres")
	PostgresConfig *postgres.Config
	// Auth holds token verification settings; Secret is required
	Auth auth.Config

	// Service settings; zero values fall back to each package's defaults
	Energy      energy.Config
	Session     session.Config
	Ledger      ledger.Config
	Leaderboard leaderboard.Config
	Dispatch    dispatch.Config
	Sweep       sweep.Config
	WS          ws.Config
}

// New creates a new application with all dependencies wired
func New(ctx context.Context, cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	clk := clock.New()

	verifier, err := auth.NewJWTVerifier(cfg.Auth, clk)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return newWithDependencies(store, clk, verifier, cfg, logger), nil
}

func newStore(ctx context.Context, cfg Config) (storage.PlayerStore, error) {
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		return memory.New(), nil
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		store, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return store, nil
	case StorageTypePostgres:
		if cfg.PostgresConfig == nil {
			return nil, errors.New("PostgresConfig required when StorageType is postgres")
		}
		store, err := postgres.New(ctx, *cfg.PostgresConfig)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return store, nil
	default:
		return nil, errors.New("invalid StorageType: must be 'memory', 'redis' or 'postgres'")
	}
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(store storage.PlayerStore, clk clock.Clock, verifier session.CredentialVerifier, cfg Config, logger *slog.Logger) *App {
	sessions := ws.NewHub(logger)
	spectators := sse.NewHub(logger)
	sink := transport.NewFanout(sessions, spectators)

	registry := session.New(verifier, clk, logger, cfg.Session)
	sessions.SetAudience(registry)
	energySvc := energy.NewService(energy.NewPool(cfg.Energy), store, clk, logger)
	board := leaderboard.New(store, registry, clk, logger, cfg.Leaderboard)
	led := ledger.New(store, board, achievement.DefaultCatalog(), clk, logger, cfg.Ledger)
	dispatcher := dispatch.New(registry, energySvc, led, board, sink, clk, logger, cfg.Dispatch)

	sweepCfg := cfg.Sweep
	if sweepCfg.ReapInterval <= 0 {
		sweepCfg.ReapInterval = registry.Config().AuthGrace / 2
	}
	sweeper := sweep.New(registry, energySvc, dispatcher, led, sink, clk, logger, sweepCfg)

	return &App{
		Storage:     store,
		Clock:       clk,
		Verifier:    verifier,
		Registry:    registry,
		Energy:      energySvc,
		Ledger:      led,
		Leaderboard: board,
		Dispatcher:  dispatcher,
		Sweeper:     sweeper,
		Sessions:    sessions,
		Spectators:  spectators,
		logger:      logger,
		cfg:         cfg,
	}
}

// Router builds the HTTP handler serving the API and both realtime transports
func (a *App) Router() http.Handler {
	return api.NewRouter(api.RouterConfig{
		Logger:      a.logger,
		Store:       a.Storage,
		Verifier:    a.Verifier,
		Registry:    a.Registry,
		Energy:      a.Energy,
		Leaderboard: a.Leaderboard,
		Catalog:     a.Ledger.Catalog(),
		Sessions:    ws.NewHandler(a.Sessions, a.Dispatcher, a.logger, a.cfg.WS),
		Spectate:    sse.Handler(a.Spectators),
	})
}

// Run starts the background loops and blocks until ctx is done
func (a *App) Run(ctx context.Context) {
	go a.Spectators.Run()
	a.Sweeper.Run(ctx)
	a.Sessions.Shutdown()
	a.Spectators.Close()
}

// Close releases the backing store
func (a *App) Close() error {
	if c, ok := a.Storage.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
