package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mcoot/tilerush/internal/dependencies/clock"
	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/services/achievement"
	"github.com/mcoot/tilerush/internal/services/leaderboard"
	"github.com/mcoot/tilerush/internal/storage"
)

// PlausibilityPolicy decides what happens to a score above the level ceiling
type PlausibilityPolicy string

const (
	// PlausibilityReject logs and refuses the submission
	PlausibilityReject PlausibilityPolicy = "reject"
	// PlausibilityLog logs and commits the submission anyway
	PlausibilityLog PlausibilityPolicy = "log"
)

// ParsePlausibilityPolicy parses a policy name; empty selects the default
func ParsePlausibilityPolicy(s string) (PlausibilityPolicy, error) {
	switch PlausibilityPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PlausibilityReject:
		return PlausibilityReject, nil
	case PlausibilityLog:
		return PlausibilityLog, nil
	default:
		return "", fmt.Errorf("unknown plausibility policy %q", s)
	}
}

// Config holds submission limits
type Config struct {
	MaxScore   int
	MaxElapsed int // seconds
	MinLevel   int
	MaxLevel   int

	// Plausibility ceiling is Level*PointsPerLevel + BaseAllowance
	PointsPerLevel int
	BaseAllowance  int
	Policy         PlausibilityPolicy

	// SubmitInterval is the minimum gap between accepted submissions per player
	SubmitInterval time.Duration
}

// DefaultConfig returns default ledger configuration
func DefaultConfig() Config {
	return Config{
		MaxScore:       1_000_000,
		MaxElapsed:     3600,
		MinLevel:       1,
		MaxLevel:       1000,
		PointsPerLevel: 150,
		BaseAllowance:  500,
		Policy:         PlausibilityReject,
		SubmitInterval: 5 * time.Second,
	}
}

// Refresher is the leaderboard read the ledger forces after a commit
type Refresher interface {
	Get(ctx context.Context, force bool) (leaderboard.Snapshot, error)
}

// Result is what a successful submission produced
type Result struct {
	Stats       model.PlayerStats
	Unlocked    []model.AchievementDefinition
	Leaderboard leaderboard.Snapshot
}

// UnlockedIDs returns the ids of the newly unlocked achievements
func (r *Result) UnlockedIDs() []model.AchievementID {
	ids := make([]model.AchievementID, len(r.Unlocked))
	for i, def := range r.Unlocked {
		ids[i] = def.ID
	}
	return ids
}

// Ledger validates score submissions and turns them into durable stats
type Ledger struct {
	store   storage.PlayerStore
	board   Refresher
	catalog []model.AchievementDefinition
	clock   clock.Clock
	logger  *slog.Logger
	cfg     Config

	mu         sync.Mutex
	lastSubmit map[string]time.Time
}

// New creates a new Ledger
func New(
	store storage.PlayerStore,
	board Refresher,
	catalog []model.AchievementDefinition,
	clock clock.Clock,
	logger *slog.Logger,
	cfg Config,
) *Ledger {
	def := DefaultConfig()
	if cfg.MaxScore <= 0 {
		cfg.MaxScore = def.MaxScore
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = def.MaxElapsed
	}
	if cfg.MinLevel <= 0 {
		cfg.MinLevel = def.MinLevel
	}
	if cfg.MaxLevel <= 0 {
		cfg.MaxLevel = def.MaxLevel
	}
	if cfg.PointsPerLevel <= 0 {
		cfg.PointsPerLevel = def.PointsPerLevel
	}
	if cfg.BaseAllowance <= 0 {
		cfg.BaseAllowance = def.BaseAllowance
	}
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	if cfg.SubmitInterval <= 0 {
		cfg.SubmitInterval = def.SubmitInterval
	}
	return &Ledger{
		store:      store,
		board:      board,
		catalog:    catalog,
		clock:      clock,
		logger:     logger.With(slog.String("component", "ledger")),
		cfg:        cfg,
		lastSubmit: make(map[string]time.Time),
	}
}

// Catalog returns the achievement catalog in use
func (l *Ledger) Catalog() []model.AchievementDefinition {
	return l.catalog
}

// Stats returns a player's stats, or empty stats for a player with no games
func (l *Ledger) Stats(ctx context.Context, identity model.Identity) (model.PlayerStats, error) {
	stats, err := l.store.GetStats(ctx, identity.Username)
	if err == nil {
		return *stats, nil
	}
	if !errors.Is(err, model.ErrPlayerNotFound) {
		return model.PlayerStats{}, model.WrapStorage("get stats", err)
	}

	fresh := model.NewPlayerStats(identity)
	ids, err := l.store.ListAchievements(ctx, identity.Username)
	if err != nil {
		return model.PlayerStats{}, model.WrapStorage("list achievements", err)
	}
	fresh.Achievements = append(fresh.Achievements, ids...)
	return fresh, nil
}

// Welcome unlocks the catalog's created-condition achievements that stats
// does not hold yet and returns the newly unlocked ones. A player who
// already holds them costs no store calls.
func (l *Ledger) Welcome(ctx context.Context, identity model.Identity, stats model.PlayerStats) ([]model.AchievementDefinition, error) {
	var pending []model.AchievementID
	for _, def := range l.catalog {
		if def.Condition == model.ConditionCreated && !stats.HasAchievement(def.ID) && !slices.Contains(pending, def.ID) {
			pending = append(pending, def.ID)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	if err := l.store.EnsurePlayer(ctx, identity); err != nil {
		return nil, model.WrapStorage("ensure player", err)
	}
	var unlocked []model.AchievementID
	for _, id := range pending {
		added, err := l.store.UnlockAchievement(ctx, identity.Username, id)
		if err != nil {
			return nil, model.WrapStorage("unlock achievement", err)
		}
		if added {
			unlocked = append(unlocked, id)
		}
	}
	if len(unlocked) > 0 {
		l.logger.Info("achievements unlocked on join",
			slog.String("username", identity.Username),
			slog.Int("count", len(unlocked)))
	}
	return achievement.Definitions(l.catalog, unlocked), nil
}

// Submit validates and commits one finished game
func (l *Ledger) Submit(ctx context.Context, identity model.Identity, result model.GameResult) (*Result, error) {
	if err := l.validate(result); err != nil {
		return nil, err
	}
	if err := l.checkPlausible(identity, result); err != nil {
		return nil, err
	}

	now := l.clock.Now()
	release, err := l.reserve(identity.Username, now)
	if err != nil {
		return nil, err
	}

	stats, unlocked, err := l.commit(ctx, identity, result, now)
	if err != nil {
		release()
		l.logger.Error("score commit failed",
			slog.String("username", identity.Username),
			slog.String("error", err.Error()))
		return nil, err
	}

	out := &Result{
		Stats:    *stats,
		Unlocked: achievement.Definitions(l.catalog, unlocked),
	}

	snap, err := l.board.Get(ctx, true)
	if err != nil {
		l.logger.Warn("leaderboard refresh after commit failed", slog.String("error", err.Error()))
	}
	out.Leaderboard = snap

	l.logger.Info("score committed",
		slog.String("username", identity.Username),
		slog.Int("score", result.Score),
		slog.Int("best_score", stats.BestScore),
		slog.Int("unlocked", len(unlocked)))
	return out, nil
}

// PruneGate forgets submit timestamps older than the submit interval
func (l *Ledger) PruneGate(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for username, at := range l.lastSubmit {
		if now.Sub(at) >= l.cfg.SubmitInterval {
			delete(l.lastSubmit, username)
			pruned++
		}
	}
	return pruned
}

func (l *Ledger) validate(r model.GameResult) error {
	if r.Score < 0 || r.Score > l.cfg.MaxScore {
		return model.NewValidationError("score", fmt.Sprintf("must be between 0 and %d", l.cfg.MaxScore))
	}
	if r.ElapsedTime < 0 || r.ElapsedTime > l.cfg.MaxElapsed {
		return model.NewValidationError("elapsed_time", fmt.Sprintf("must be between 0 and %d", l.cfg.MaxElapsed))
	}
	if r.Level < l.cfg.MinLevel || r.Level > l.cfg.MaxLevel {
		return model.NewValidationError("level", fmt.Sprintf("must be between %d and %d", l.cfg.MinLevel, l.cfg.MaxLevel))
	}
	return nil
}

func (l *Ledger) checkPlausible(identity model.Identity, r model.GameResult) error {
	ceiling := r.Level*l.cfg.PointsPerLevel + l.cfg.BaseAllowance
	if r.Score <= ceiling {
		return nil
	}

	l.logger.Warn("implausible score",
		slog.String("username", identity.Username),
		slog.Int("score", r.Score),
		slog.Int("level", r.Level),
		slog.Int("ceiling", ceiling),
		slog.String("policy", string(l.cfg.Policy)),
		slog.Bool("security", true))

	if l.cfg.Policy == PlausibilityLog {
		return nil
	}
	return model.ErrImplausibleScore
}

// reserve claims the submit gate for username. The returned func undoes the
// claim when the commit does not go through.
func (l *Ledger) reserve(username string, now time.Time) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, had := l.lastSubmit[username]
	if had && now.Sub(prev) < l.cfg.SubmitInterval {
		return nil, model.ErrSubmitTooSoon
	}
	l.lastSubmit[username] = now

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.lastSubmit[username].Equal(now) {
			if had {
				l.lastSubmit[username] = prev
			} else {
				delete(l.lastSubmit, username)
			}
		}
	}, nil
}

func (l *Ledger) evaluate(stats model.PlayerStats) []model.AchievementID {
	return achievement.Evaluate(l.catalog, stats, stats.Achievements)
}

func (l *Ledger) commit(ctx context.Context, identity model.Identity, r model.GameResult, now time.Time) (*model.PlayerStats, []model.AchievementID, error) {
	if committer, ok := l.store.(storage.AtomicCommitter); ok {
		stats, unlocked, err := committer.CommitGame(ctx, identity, r, now, l.evaluate)
		if err != nil {
			return nil, nil, model.WrapStorage("commit game", err)
		}
		return stats, unlocked, nil
	}
	return l.commitAndVerify(ctx, identity, r, now)
}

// commitAndVerify is used for stores that cannot commit atomically. It applies
// the primitive updates, then re-reads the record and checks the result took.
func (l *Ledger) commitAndVerify(ctx context.Context, identity model.Identity, r model.GameResult, now time.Time) (*model.PlayerStats, []model.AchievementID, error) {
	before, err := l.Stats(ctx, identity)
	if err != nil {
		return nil, nil, err
	}

	if err := l.store.UpsertScoreAndLevel(ctx, identity, r.Score, r.Level, now); err != nil {
		return nil, nil, model.WrapStorage("upsert score and level", err)
	}
	if err := l.store.UpdateGameStats(ctx, identity, r.ElapsedTime, r.Won); err != nil {
		return nil, nil, model.WrapStorage("update game stats", err)
	}

	after, err := l.store.GetStats(ctx, identity.Username)
	if err != nil {
		return nil, nil, model.WrapStorage("verify stats", err)
	}
	if !applied(before, *after, r) {
		return nil, nil, model.ErrCommitUnverified
	}

	var unlocked []model.AchievementID
	for _, id := range l.evaluate(*after) {
		added, err := l.store.UnlockAchievement(ctx, identity.Username, id)
		if err != nil {
			return nil, nil, model.WrapStorage("unlock achievement", err)
		}
		if added {
			unlocked = append(unlocked, id)
			after.Achievements = append(after.Achievements, id)
		}
	}
	return after, unlocked, nil
}

// applied reports whether after reflects r on top of before. Other writers may
// have moved the record further forward, so every check is a lower bound.
func applied(before, after model.PlayerStats, r model.GameResult) bool {
	if after.BestScore < r.Score || after.BestScore < before.BestScore {
		return false
	}
	if after.Level < r.Level || after.Level < before.Level {
		return false
	}
	if after.TotalGames < before.TotalGames+1 {
		return false
	}
	if after.TotalPlayTime < before.TotalPlayTime+r.ElapsedTime {
		return false
	}
	if after.MaxStreak < before.MaxStreak {
		return false
	}
	if r.Won && (after.BestTime == nil || *after.BestTime > r.ElapsedTime) {
		return false
	}
	return true
}
