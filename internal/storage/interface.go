package storage

import (
	"context"
	"time"

	"github.com/mcoot/tilerush/internal/model"
)

// PlayerStore is the narrow capability the session engine needs from the
// backing key/value-by-username table. Implementations must serialize
// updates to a single player themselves; callers hold no locks across calls.
type PlayerStore interface {
	// Player operations
	FindPlayer(ctx context.Context, username string) (*model.Player, error)
	// EnsurePlayer creates the player record if it is missing. It creates no
	// stats, so the player stays off the leaderboard until a game is recorded.
	EnsurePlayer(ctx context.Context, identity model.Identity) error
	GetStats(ctx context.Context, username string) (*model.PlayerStats, error)

	// Score operations
	UpsertScoreAndLevel(ctx context.Context, identity model.Identity, score, level int, at time.Time) error
	UpdateGameStats(ctx context.Context, identity model.Identity, elapsedTime int, won bool) error
	GetTop(ctx context.Context, n int) ([]model.LeaderboardEntry, error)

	// Energy operations
	GetResourceState(ctx context.Context, username string) (*model.ResourceState, error)
	SetResourceState(ctx context.Context, username string, state model.ResourceState) error
	// UpdateResourceState runs a read-modify-write on one player's energy,
	// serialized against every other update to the same player
	UpdateResourceState(ctx context.Context, username string, update ResourceUpdateFunc) error

	// Achievement operations
	ListAchievements(ctx context.Context, username string) ([]model.AchievementID, error)
	// UnlockAchievement is idempotent; it reports whether the id was newly added
	UnlockAchievement(ctx context.Context, username string, id model.AchievementID) (bool, error)

	// Ping checks connectivity to the backing store
	Ping(ctx context.Context) error
}

// ResourceUpdateFunc derives the next energy state from the stored one.
// current is nil when nothing is stored yet; write=false leaves the record
// untouched. It must be pure; stores may call it more than once.
type ResourceUpdateFunc func(current *model.ResourceState) (next model.ResourceState, write bool)

// EvaluateFunc picks the achievements newly satisfied by a post-commit snapshot.
// It must be pure; stores may call it inside a transaction and retry it.
type EvaluateFunc func(stats model.PlayerStats) []model.AchievementID

// AtomicCommitter is implemented by stores that can apply a game result and
// its achievement unlocks in one transaction. It returns the post-commit
// stats and the ids that were newly unlocked.
type AtomicCommitter interface {
	CommitGame(ctx context.Context, identity model.Identity, result model.GameResult, at time.Time, evaluate EvaluateFunc) (*model.PlayerStats, []model.AchievementID, error)
}
