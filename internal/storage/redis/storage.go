package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/storage"
)

// ErrCommitContention is returned when a watched key keeps changing under a write
var ErrCommitContention = errors.New("redis: too much contention on player record")

// Storage is a Redis-backed implementation of the player store
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if cfg.MaxCommitRetries <= 0 {
		cfg.MaxCommitRetries = DefaultConfig().MaxCommitRetries
	}
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interfaces
var (
	_ storage.PlayerStore     = (*Storage)(nil)
	_ storage.AtomicCommitter = (*Storage)(nil)
)

// Player operations

func (s *Storage) FindPlayer(ctx context.Context, username string) (*model.Player, error) {
	data, err := s.client.Get(ctx, s.playerKey(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	var player model.Player
	if err := json.Unmarshal(data, &player); err != nil {
		return nil, err
	}
	return &player, nil
}

func (s *Storage) EnsurePlayer(ctx context.Context, identity model.Identity) error {
	player, err := json.Marshal(model.Player{
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return err
	}
	return s.client.SetNX(ctx, s.playerKey(identity.Username), player, 0).Err()
}

func (s *Storage) GetStats(ctx context.Context, username string) (*model.PlayerStats, error) {
	stats, found, err := s.readStats(ctx, s.client, username)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, model.ErrPlayerNotFound
	}
	return &stats, nil
}

// Score operations

func (s *Storage) UpsertScoreAndLevel(ctx context.Context, identity model.Identity, score, level int, at time.Time) error {
	_, _, err := s.updateStats(ctx, identity, func(current model.PlayerStats) (model.PlayerStats, []model.AchievementID) {
		return current.ApplyScoreAndLevel(score, level, at), nil
	})
	return err
}

func (s *Storage) UpdateGameStats(ctx context.Context, identity model.Identity, elapsedTime int, won bool) error {
	_, _, err := s.updateStats(ctx, identity, func(current model.PlayerStats) (model.PlayerStats, []model.AchievementID) {
		return current.ApplyGameStats(elapsedTime, won), nil
	})
	return err
}

func (s *Storage) GetTop(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	if n <= 0 {
		return []model.LeaderboardEntry{}, nil
	}

	head, err := s.client.ZRevRangeWithScores(ctx, s.leaderboardKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(head) == 0 {
		return []model.LeaderboardEntry{}, nil
	}

	// Pull in every member tied with the lowest score so arrival order can break the tie
	boundary := head[len(head)-1].Score
	members, err := s.client.ZRevRangeByScore(ctx, s.leaderboardKey(), &redis.ZRangeBy{
		Max: "+inf",
		Min: strconv.FormatFloat(boundary, 'f', -1, 64),
	}).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.statsKey(m)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	all := make([]model.PlayerStats, 0, len(values))
	for _, val := range values {
		raw, ok := val.(string)
		if !ok {
			continue // Stats may have been removed
		}
		var stats model.PlayerStats
		if err := json.Unmarshal([]byte(raw), &stats); err != nil {
			continue // Skip invalid data
		}
		all = append(all, stats)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].BestScore != all[j].BestScore {
			return all[i].BestScore > all[j].BestScore
		}
		if !all[i].BestScoreAt.Equal(all[j].BestScoreAt) {
			return all[i].BestScoreAt.Before(all[j].BestScoreAt)
		}
		return all[i].Username < all[j].Username
	})

	entries := make([]model.LeaderboardEntry, 0, n)
	for _, stats := range all {
		if len(entries) == n {
			break
		}
		entries = append(entries, model.LeaderboardEntry{
			Username:    stats.Username,
			DisplayName: stats.DisplayName,
			Score:       stats.BestScore,
			Level:       stats.Level,
		})
	}
	return entries, nil
}

// CommitGame applies a result and its unlocks in one WATCH/MULTI transaction
func (s *Storage) CommitGame(
	ctx context.Context,
	identity model.Identity,
	result model.GameResult,
	at time.Time,
	evaluate storage.EvaluateFunc,
) (*model.PlayerStats, []model.AchievementID, error) {
	return s.updateStats(ctx, identity, func(current model.PlayerStats) (model.PlayerStats, []model.AchievementID) {
		next := current.Apply(result, at)
		if evaluate == nil {
			return next, nil
		}
		var unlocked []model.AchievementID
		for _, id := range evaluate(next.Clone()) {
			if !next.HasAchievement(id) {
				next.Achievements = append(next.Achievements, id)
				unlocked = append(unlocked, id)
			}
		}
		return next, unlocked
	})
}

// Energy operations

func (s *Storage) GetResourceState(ctx context.Context, username string) (*model.ResourceState, error) {
	data, err := s.client.Get(ctx, s.energyKey(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	var state model.ResourceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Storage) SetResourceState(ctx context.Context, username string, state model.ResourceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.energyKey(username), data, 0).Err()
}

// UpdateResourceState applies update under WATCH on the energy key
func (s *Storage) UpdateResourceState(ctx context.Context, username string, update storage.ResourceUpdateFunc) error {
	key := s.energyKey(username)

	txf := func(tx *redis.Tx) error {
		var current *model.ResourceState
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var state model.ResourceState
			if err := json.Unmarshal(data, &state); err != nil {
				return err
			}
			current = &state
		}

		next, write := update(current)
		if !write {
			return nil
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	return s.watch(ctx, txf, key)
}

// Achievement operations

func (s *Storage) ListAchievements(ctx context.Context, username string) ([]model.AchievementID, error) {
	members, err := s.client.SMembers(ctx, s.achievementsKey(username)).Result()
	if err != nil {
		return nil, err
	}
	return toAchievementIDs(members), nil
}

func (s *Storage) UnlockAchievement(ctx context.Context, username string, id model.AchievementID) (bool, error) {
	added, err := s.client.SAdd(ctx, s.achievementsKey(username), string(id)).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// mutateFunc derives the next stats and any ids to add to the achievement set
type mutateFunc func(current model.PlayerStats) (model.PlayerStats, []model.AchievementID)

// updateStats runs a read-modify-write on one player's stats under WATCH,
// retrying when another writer touches the same record.
func (s *Storage) updateStats(ctx context.Context, identity model.Identity, mutate mutateFunc) (*model.PlayerStats, []model.AchievementID, error) {
	statsKey := s.statsKey(identity.Username)
	achievementsKey := s.achievementsKey(identity.Username)

	var (
		committed model.PlayerStats
		unlocked  []model.AchievementID
	)

	txf := func(tx *redis.Tx) error {
		current, found, err := s.readStats(ctx, tx, identity.Username)
		if err != nil {
			return err
		}
		if !found {
			current = model.NewPlayerStats(identity)
			current.Achievements, err = s.readAchievements(ctx, tx, identity.Username)
			if err != nil {
				return err
			}
		}

		next, added := mutate(current)
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, statsKey, data, 0)
			pipe.ZAdd(ctx, s.leaderboardKey(), redis.Z{Score: float64(next.BestScore), Member: identity.Username})
			if len(added) > 0 {
				members := make([]interface{}, len(added))
				for i, id := range added {
					members[i] = string(id)
				}
				pipe.SAdd(ctx, achievementsKey, members...)
			}
			if !found {
				player, err := json.Marshal(model.Player{
					Username:    identity.Username,
					DisplayName: identity.DisplayName,
					CreatedAt:   time.Now(),
				})
				if err != nil {
					return err
				}
				pipe.SetNX(ctx, s.playerKey(identity.Username), player, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}

		committed = next
		unlocked = added
		return nil
	}

	if err := s.watch(ctx, txf, statsKey, achievementsKey); err != nil {
		return nil, nil, err
	}
	return &committed, unlocked, nil
}

// watch runs txf under WATCH, retrying while another writer touches keys
func (s *Storage) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < s.cfg.MaxCommitRetries; attempt++ {
		err := s.client.Watch(ctx, txf, keys...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ErrCommitContention
}

// statsReader is satisfied by both the client and a watched transaction
type statsReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// readStats loads stats plus the achievement set
func (s *Storage) readStats(ctx context.Context, c statsReader, username string) (model.PlayerStats, bool, error) {
	data, err := c.Get(ctx, s.statsKey(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.PlayerStats{}, false, nil
		}
		return model.PlayerStats{}, false, err
	}

	var stats model.PlayerStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return model.PlayerStats{}, false, err
	}

	stats.Achievements, err = s.readAchievements(ctx, c, username)
	if err != nil {
		return model.PlayerStats{}, false, err
	}
	return stats, true, nil
}

func (s *Storage) readAchievements(ctx context.Context, c statsReader, username string) ([]model.AchievementID, error) {
	members, err := c.SMembers(ctx, s.achievementsKey(username)).Result()
	if err != nil {
		return nil, err
	}
	return toAchievementIDs(members), nil
}

func toAchievementIDs(members []string) []model.AchievementID {
	sort.Strings(members)
	ids := make([]model.AchievementID, len(members))
	for i, m := range members {
		ids[i] = model.AchievementID(m)
	}
	return ids
}
