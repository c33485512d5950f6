package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/storage"
)

// Storage is an in-memory implementation of the player store
type Storage struct {
	mu sync.RWMutex

	players   map[string]*model.Player
	stats     map[string]*model.PlayerStats
	resources map[string]model.ResourceState
	// badges holds achievements of players with no stats yet
	badges map[string][]model.AchievementID
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		players:   make(map[string]*model.Player),
		stats:     make(map[string]*model.PlayerStats),
		resources: make(map[string]model.ResourceState),
		badges:    make(map[string][]model.AchievementID),
	}
}

// Ensure Storage implements the interfaces
var (
	_ storage.PlayerStore     = (*Storage)(nil)
	_ storage.AtomicCommitter = (*Storage)(nil)
)

// SavePlayer seeds a player record. Registration is owned by an external service;
// this exists for tests and local development.
func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *player
	s.players[player.Username] = &p
	return nil
}

// Player operations

func (s *Storage) FindPlayer(ctx context.Context, username string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[username]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	p := *player
	return &p, nil
}

func (s *Storage) EnsurePlayer(ctx context.Context, identity model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensurePlayerLocked(identity)
	return nil
}

func (s *Storage) GetStats(ctx context.Context, username string) (*model.PlayerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.stats[username]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	c := stats.Clone()
	return &c, nil
}

// Score operations

func (s *Storage) UpsertScoreAndLevel(ctx context.Context, identity model.Identity, score, level int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.statsLocked(identity)
	next := current.ApplyScoreAndLevel(score, level, at)
	s.stats[identity.Username] = &next
	return nil
}

func (s *Storage) UpdateGameStats(ctx context.Context, identity model.Identity, elapsedTime int, won bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.statsLocked(identity)
	next := current.ApplyGameStats(elapsedTime, won)
	s.stats[identity.Username] = &next
	return nil
}

func (s *Storage) GetTop(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*model.PlayerStats, 0, len(s.stats))
	for _, st := range s.stats {
		all = append(all, st)
	}
	entries := make([]model.LeaderboardEntry, 0, len(all))
	// Higher score first; earlier arrival at that score wins ties
	sort.Slice(all, func(i, j int) bool {
		if all[i].BestScore != all[j].BestScore {
			return all[i].BestScore > all[j].BestScore
		}
		if !all[i].BestScoreAt.Equal(all[j].BestScoreAt) {
			return all[i].BestScoreAt.Before(all[j].BestScoreAt)
		}
		return all[i].Username < all[j].Username
	})
	for i, st := range all {
		if n > 0 && i >= n {
			break
		}
		entries = append(entries, model.LeaderboardEntry{
			Username:    st.Username,
			DisplayName: st.DisplayName,
			Score:       st.BestScore,
			Level:       st.Level,
		})
	}
	return entries, nil
}

// CommitGame applies a result and its unlocks under a single lock
func (s *Storage) CommitGame(
	ctx context.Context,
	identity model.Identity,
	result model.GameResult,
	at time.Time,
	evaluate storage.EvaluateFunc,
) (*model.PlayerStats, []model.AchievementID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.statsLocked(identity).Apply(result, at)
	var unlocked []model.AchievementID
	if evaluate != nil {
		for _, id := range evaluate(next.Clone()) {
			if !next.HasAchievement(id) {
				next.Achievements = append(next.Achievements, id)
				unlocked = append(unlocked, id)
			}
		}
	}
	s.stats[identity.Username] = &next

	c := next.Clone()
	return &c, unlocked, nil
}

// Energy operations

func (s *Storage) GetResourceState(ctx context.Context, username string) (*model.ResourceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.resources[username]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	return &state, nil
}

func (s *Storage) SetResourceState(ctx context.Context, username string, state model.ResourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[username] = state
	return nil
}

// UpdateResourceState calls update under the store lock
func (s *Storage) UpdateResourceState(ctx context.Context, username string, update storage.ResourceUpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *model.ResourceState
	if state, ok := s.resources[username]; ok {
		current = &state
	}
	if next, write := update(current); write {
		s.resources[username] = next
	}
	return nil
}

// Achievement operations

func (s *Storage) ListAchievements(ctx context.Context, username string) ([]model.AchievementID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.stats[username]
	if !ok {
		return append([]model.AchievementID{}, s.badges[username]...), nil
	}
	return append([]model.AchievementID{}, stats.Achievements...), nil
}

func (s *Storage) UnlockAchievement(ctx context.Context, username string, id model.AchievementID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.stats[username]
	if !ok {
		if _, known := s.players[username]; !known {
			return false, model.ErrPlayerNotFound
		}
		if slices.Contains(s.badges[username], id) {
			return false, nil
		}
		s.badges[username] = append(s.badges[username], id)
		return true, nil
	}
	if stats.HasAchievement(id) {
		return false, nil
	}
	stats.Achievements = append(stats.Achievements, id)
	return true, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return nil
}

// statsLocked returns the current stats for identity, or fresh ones carrying
// any achievements unlocked before the first game. Caller holds mu.
func (s *Storage) statsLocked(identity model.Identity) model.PlayerStats {
	current, ok := s.stats[identity.Username]
	if !ok {
		s.ensurePlayerLocked(identity)
		fresh := model.NewPlayerStats(identity)
		fresh.Achievements = append(fresh.Achievements, s.badges[identity.Username]...)
		return fresh
	}
	return current.Clone()
}

// ensurePlayerLocked adds a player record if missing. Caller holds mu.
func (s *Storage) ensurePlayerLocked(identity model.Identity) {
	if _, known := s.players[identity.Username]; known {
		return
	}
	s.players[identity.Username] = &model.Player{
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		CreatedAt:   time.Now(),
	}
}
