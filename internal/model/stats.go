package model

import "time"

// PlayerStats is the durable aggregate of a player's results.
// All fields only move forward except CurrentStreak, which resets on a loss.
type PlayerStats struct {
	Username      string          `json:"username"`
	DisplayName   string          `json:"display_name"`
	BestScore     int             `json:"best_score"`
	BestScoreAt   time.Time       `json:"best_score_at"`
	Level         int             `json:"level"`
	TotalGames    int             `json:"total_games"`
	TotalPlayTime int             `json:"total_play_time"` // seconds
	CurrentStreak int             `json:"current_streak"`
	MaxStreak     int             `json:"max_streak"`
	BestTime      *int            `json:"best_time,omitempty"` // seconds, lower is better
	Achievements  []AchievementID `json:"achievements"`
}

// GameResult is one finished game as submitted by a client
type GameResult struct {
	Score       int
	Level       int
	ElapsedTime int // seconds
	Won         bool
}

// NewPlayerStats returns empty stats for a player who has never finished a game
func NewPlayerStats(identity Identity) PlayerStats {
	return PlayerStats{
		Username:     identity.Username,
		DisplayName:  identity.DisplayName,
		Achievements: []AchievementID{},
	}
}

// ApplyScoreAndLevel raises best score and level; neither is ever lowered
func (s PlayerStats) ApplyScoreAndLevel(score, level int, now time.Time) PlayerStats {
	if score > s.BestScore || s.BestScoreAt.IsZero() {
		if score > s.BestScore {
			s.BestScore = score
		}
		s.BestScoreAt = now
	}
	if level > s.Level {
		s.Level = level
	}
	return s
}

// ApplyGameStats counts the game and updates streaks and best time
func (s PlayerStats) ApplyGameStats(elapsed int, won bool) PlayerStats {
	s.TotalGames++
	s.TotalPlayTime += elapsed
	if won {
		s.CurrentStreak++
		if s.CurrentStreak > s.MaxStreak {
			s.MaxStreak = s.CurrentStreak
		}
		if s.BestTime == nil || elapsed < *s.BestTime {
			best := elapsed
			s.BestTime = &best
		}
	} else {
		s.CurrentStreak = 0
	}
	return s
}

// Apply commits a full game result
func (s PlayerStats) Apply(r GameResult, now time.Time) PlayerStats {
	return s.ApplyScoreAndLevel(r.Score, r.Level, now).ApplyGameStats(r.ElapsedTime, r.Won)
}

// HasAchievement reports whether id is already unlocked
func (s PlayerStats) HasAchievement(id AchievementID) bool {
	for _, a := range s.Achievements {
		if a == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to another goroutine
func (s PlayerStats) Clone() PlayerStats {
	if s.BestTime != nil {
		best := *s.BestTime
		s.BestTime = &best
	}
	s.Achievements = append([]AchievementID{}, s.Achievements...)
	return s
}
