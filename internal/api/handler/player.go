package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/mcoot/tilerush/internal/api/middleware"
	"github.com/mcoot/tilerush/internal/api/request"
	"github.com/mcoot/tilerush/internal/api/response"
	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/services/energy"
)

// StatsReader loads a player's durable stats
type StatsReader interface {
	GetStats(ctx context.Context, username string) (*model.PlayerStats, error)
}

// PlayerHandler handles player-related endpoints
type PlayerHandler struct {
	stats   StatsReader
	catalog []model.AchievementDefinition
	energy  *energy.Service
}

// NewPlayerHandler creates a new player handler
func NewPlayerHandler(stats StatsReader, catalog []model.AchievementDefinition, energy *energy.Service) *PlayerHandler {
	return &PlayerHandler{
		stats:   stats,
		catalog: catalog,
		energy:  energy,
	}
}

// Stats handles GET /api/v1/players/{username}/stats
func (h *PlayerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	username, err := request.Username(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	stats, err := h.stats.GetStats(r.Context(), username)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.StatsFromModel(*stats))
}

// Achievements handles GET /api/v1/players/{username}/achievements
func (h *PlayerHandler) Achievements(w http.ResponseWriter, r *http.Request) {
	username, err := request.Username(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	stats, err := h.stats.GetStats(r.Context(), username)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.AchievementsFromModel(h.catalog, *stats))
}

// GetMe handles GET /api/v1/players/me. A player who has never finished a
// game gets empty stats rather than a 404.
func (h *PlayerHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	stats, err := h.stats.GetStats(r.Context(), identity.Username)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrPlayerNotFound):
		fresh := model.NewPlayerStats(identity)
		stats = &fresh
	default:
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.StatsFromModel(*stats))
}

// GetMyEnergy handles GET /api/v1/players/me/energy
func (h *PlayerHandler) GetMyEnergy(w http.ResponseWriter, r *http.Request) {
	identity := middleware.MustGetIdentity(r.Context())

	res, err := h.energy.Current(r.Context(), identity.Username)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, h.energy.View(res, 0, true))
}
