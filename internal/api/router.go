package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/tilerush/internal/api/handler"
	"github.com/mcoot/tilerush/internal/api/middleware"
	basemiddleware "github.com/mcoot/tilerush/internal/middleware"
	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/services/energy"
	"github.com/mcoot/tilerush/internal/services/leaderboard"
	"github.com/mcoot/tilerush/internal/services/session"
	"github.com/mcoot/tilerush/internal/storage"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger      *slog.Logger
	Store       storage.PlayerStore
	Verifier    session.CredentialVerifier
	Registry    *session.Registry
	Energy      *energy.Service
	Leaderboard *leaderboard.Cache
	Catalog     []model.AchievementDefinition

	// Sessions upgrades player websocket connections
	Sessions http.Handler
	// Spectate streams broadcast events over SSE
	Spectate http.Handler
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	healthHandler := handler.NewHealthHandler(cfg.Store, cfg.Registry, cfg.Logger)
	leaderboardHandler := handler.NewLeaderboardHandler(cfg.Leaderboard)
	playerHandler := handler.NewPlayerHandler(cfg.Store, cfg.Catalog, cfg.Energy)

	// Create middleware
	authMiddleware := middleware.Auth(cfg.Verifier)
	loggingMiddleware := basemiddleware.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)

	api.HandleFunc("/health", healthHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard", leaderboardHandler.Get).Methods(http.MethodGet)

	// Protected player routes; registered before {username} so "me" is not taken as a name
	me := api.PathPrefix("/players/me").Subrouter()
	me.Use(authMiddleware)
	me.HandleFunc("", playerHandler.GetMe).Methods(http.MethodGet)
	me.HandleFunc("/energy", playerHandler.GetMyEnergy).Methods(http.MethodGet)

	// Public player routes
	api.HandleFunc("/players/{username}/stats", playerHandler.Stats).Methods(http.MethodGet)
	api.HandleFunc("/players/{username}/achievements", playerHandler.Achievements).Methods(http.MethodGet)

	// Realtime transports; authentication happens in-band on the socket
	if cfg.Sessions != nil {
		api.Handle("/ws", cfg.Sessions).Methods(http.MethodGet)
	}
	if cfg.Spectate != nil {
		api.Handle("/spectate", cfg.Spectate).Methods(http.MethodGet)
	}

	return r
}
