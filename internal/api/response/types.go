package response

import (
	"time"

	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/services/achievement"
	"github.com/mcoot/tilerush/internal/services/leaderboard"
)

// Health is the response for the health endpoint
type Health struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Sessions int    `json:"sessions"`
}

// PlayerStats represents a player's stats in API responses
type PlayerStats struct {
	Username      string     `json:"username"`
	DisplayName   string     `json:"display_name"`
	BestScore     int        `json:"best_score"`
	BestScoreAt   *time.Time `json:"best_score_at,omitempty"`
	Level         int        `json:"level"`
	TotalGames    int        `json:"total_games"`
	TotalPlayTime int        `json:"total_play_time"`
	CurrentStreak int        `json:"current_streak"`
	MaxStreak     int        `json:"max_streak"`
	BestTime      *int       `json:"best_time"`
	Achievements  []string   `json:"achievements"`
}

// StatsFromModel converts model.PlayerStats
func StatsFromModel(s model.PlayerStats) PlayerStats {
	var bestScoreAt *time.Time
	if !s.BestScoreAt.IsZero() {
		at := s.BestScoreAt
		bestScoreAt = &at
	}
	ids := make([]string, len(s.Achievements))
	for i, id := range s.Achievements {
		ids[i] = string(id)
	}
	return PlayerStats{
		Username:      s.Username,
		DisplayName:   s.DisplayName,
		BestScore:     s.BestScore,
		BestScoreAt:   bestScoreAt,
		Level:         s.Level,
		TotalGames:    s.TotalGames,
		TotalPlayTime: s.TotalPlayTime,
		CurrentStreak: s.CurrentStreak,
		MaxStreak:     s.MaxStreak,
		BestTime:      s.BestTime,
		Achievements:  ids,
	}
}

// Achievement is one catalog entry with the player's standing against it
type Achievement struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Unlocked    bool    `json:"unlocked"`
	Progress    float64 `json:"progress"`
}

// Achievements lists the whole catalog for one player
type Achievements struct {
	Username     string        `json:"username"`
	Unlocked     int           `json:"unlocked"`
	Total        int           `json:"total"`
	Achievements []Achievement `json:"achievements"`
}

// AchievementsFromModel builds the catalog view for a player. Unlocked
// entries always report full progress.
func AchievementsFromModel(catalog []model.AchievementDefinition, stats model.PlayerStats) Achievements {
	resp := Achievements{
		Username:     stats.Username,
		Total:        len(catalog),
		Achievements: make([]Achievement, len(catalog)),
	}
	for i, def := range catalog {
		unlocked := stats.HasAchievement(def.ID)
		progress := 1.0
		if !unlocked {
			progress = achievement.Progress(def, stats)
		} else {
			resp.Unlocked++
		}
		resp.Achievements[i] = Achievement{
			ID:          string(def.ID),
			Name:        def.Name,
			Description: def.Description,
			Unlocked:    unlocked,
			Progress:    progress,
		}
	}
	return resp
}

// Leaderboard is the cached leaderboard view
type Leaderboard struct {
	Entries  []model.LeaderboardEntry `json:"entries"`
	CachedAt time.Time                `json:"cached_at"`
	Stale    bool                     `json:"stale"`
}

// LeaderboardFromSnapshot converts a cache snapshot
func LeaderboardFromSnapshot(s leaderboard.Snapshot) Leaderboard {
	entries := s.Entries
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	return Leaderboard{
		Entries:  entries,
		CachedAt: s.CachedAt,
		Stale:    s.Stale,
	}
}
