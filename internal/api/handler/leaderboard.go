package handler

import (
	"context"
	"net/http"

	"github.com/mcoot/tilerush/internal/api/response"
	"github.com/mcoot/tilerush/internal/services/leaderboard"
)

// LeaderboardReader serves cached leaderboard snapshots
type LeaderboardReader interface {
	Get(ctx context.Context, force bool) (leaderboard.Snapshot, error)
}

// LeaderboardHandler serves the cached top players
type LeaderboardHandler struct {
	board LeaderboardReader
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(board LeaderboardReader) *LeaderboardHandler {
	return &LeaderboardHandler{board: board}
}

// Get handles GET /api/v1/leaderboard. It never forces a refresh; the
// cache's adaptive TTL decides when the store is read.
func (h *LeaderboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.board.Get(r.Context(), false)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.LeaderboardFromSnapshot(snap))
}
