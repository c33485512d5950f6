package redis

import "fmt"

// Key generation functions for each entity type

// playerKey returns the Redis key for a Player
func (s *Storage) playerKey(username string) string {
	return fmt.Sprintf("%s:player:%s", s.cfg.KeyPrefix, username)
}

// statsKey returns the Redis key for a player's PlayerStats
func (s *Storage) statsKey(username string) string {
	return fmt.Sprintf("%s:stats:%s", s.cfg.KeyPrefix, username)
}

// energyKey returns the Redis key for a player's ResourceState
func (s *Storage) energyKey(username string) string {
	return fmt.Sprintf("%s:energy:%s", s.cfg.KeyPrefix, username)
}

// achievementsKey returns the Redis key for the SET of unlocked achievement ids
func (s *Storage) achievementsKey(username string) string {
	return fmt.Sprintf("%s:achievements:%s", s.cfg.KeyPrefix, username)
}

// leaderboardKey returns the Redis key for the ZSET of best scores
func (s *Storage) leaderboardKey() string {
	return fmt.Sprintf("%s:leaderboard", s.cfg.KeyPrefix)
}
