package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/storage"
)

// foreignKeyViolation is the SQLSTATE raised when a referenced player is missing
const foreignKeyViolation = "23503"

// resourceInsertAttempts bounds retries when two writers race to create the same energy row
const resourceInsertAttempts = 3

// ErrResourceContention is returned when the energy row keeps appearing under a first write
var ErrResourceContention = errors.New("postgres: too much contention on resource state")

// Storage is a Postgres-backed implementation of the player store
type Storage struct {
	db *sql.DB
}

// New opens a connection pool, verifies it and optionally runs the migration
func New(ctx context.Context, cfg Config) (*Storage, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.Migrate {
		if err := RunMigration(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an existing pool
func NewWithDB(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Close closes the connection pool
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ensure Storage implements the interfaces
var (
	_ storage.PlayerStore     = (*Storage)(nil)
	_ storage.AtomicCommitter = (*Storage)(nil)
)

// Player operations

func (s *Storage) FindPlayer(ctx context.Context, username string) (*model.Player, error) {
	var player model.Player
	err := s.db.QueryRowContext(ctx, `
		SELECT username, display_name, created_at
		FROM players
		WHERE username = $1
	`, username).Scan(&player.Username, &player.DisplayName, &player.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}
	return &player, nil
}

func (s *Storage) EnsurePlayer(ctx context.Context, identity model.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (username, display_name)
		VALUES ($1, $2)
		ON CONFLICT (username) DO NOTHING
	`, identity.Username, identity.DisplayName)
	return err
}

func (s *Storage) GetStats(ctx context.Context, username string) (*model.PlayerStats, error) {
	stats, err := scanStats(s.db.QueryRowContext(ctx, selectStats+` WHERE s.username = $1`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	stats.Achievements, err = listAchievements(ctx, s.db, username)
	if err != nil {
		return nil, err
	}
	return stats, nil
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

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.username, p.display_name, s.best_score, s.level
		FROM player_stats s
		JOIN players p ON p.username = s.username
		ORDER BY s.best_score DESC, s.best_score_at ASC NULLS LAST, s.username ASC
		LIMIT $1
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.LeaderboardEntry, 0, n)
	for rows.Next() {
		var entry model.LeaderboardEntry
		if err := rows.Scan(&entry.Username, &entry.DisplayName, &entry.Score, &entry.Level); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CommitGame applies a result and its unlocks in one row-locked transaction
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
	var state model.ResourceState
	err := s.db.QueryRowContext(ctx, `
		SELECT amount, last_update
		FROM resource_states
		WHERE username = $1
	`, username).Scan(&state.Amount, &state.LastUpdate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}
	return &state, nil
}

func (s *Storage) SetResourceState(ctx context.Context, username string, state model.ResourceState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_states (username, amount, last_update)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE
		SET amount = EXCLUDED.amount, last_update = EXCLUDED.last_update
	`, username, state.Amount, state.LastUpdate)
	return err
}

// UpdateResourceState applies update with the energy row locked FOR UPDATE
func (s *Storage) UpdateResourceState(ctx context.Context, username string, update storage.ResourceUpdateFunc) error {
	for attempt := 0; attempt < resourceInsertAttempts; attempt++ {
		done, err := s.tryUpdateResource(ctx, username, update)
		if err != nil || done {
			return err
		}
	}
	return ErrResourceContention
}

// tryUpdateResource reports done=false when a concurrent writer created the
// row after it was found missing
func (s *Storage) tryUpdateResource(ctx context.Context, username string, update storage.ResourceUpdateFunc) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		current *model.ResourceState
		state   model.ResourceState
	)
	err = tx.QueryRowContext(ctx, `
		SELECT amount, last_update
		FROM resource_states
		WHERE username = $1
		FOR UPDATE
	`, username).Scan(&state.Amount, &state.LastUpdate)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, err
	default:
		current = &state
	}

	next, write := update(current)
	if !write {
		return true, nil
	}

	if current == nil {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO resource_states (username, amount, last_update)
			VALUES ($1, $2, $3)
			ON CONFLICT (username) DO NOTHING
		`, username, next.Amount, next.LastUpdate)
		if err != nil {
			return false, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if affected == 0 {
			return false, nil
		}
	} else if _, err := tx.ExecContext(ctx, `
		UPDATE resource_states
		SET amount = $2, last_update = $3
		WHERE username = $1
	`, username, next.Amount, next.LastUpdate); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Achievement operations

func (s *Storage) ListAchievements(ctx context.Context, username string) ([]model.AchievementID, error) {
	return listAchievements(ctx, s.db, username)
}

func (s *Storage) UnlockAchievement(ctx context.Context, username string, id model.AchievementID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO player_achievements (username, achievement_id)
		VALUES ($1, $2)
		ON CONFLICT (username, achievement_id) DO NOTHING
	`, username, string(id))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return false, model.ErrPlayerNotFound
		}
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// mutateFunc derives the next stats and any ids to insert as unlocked
type mutateFunc func(current model.PlayerStats) (model.PlayerStats, []model.AchievementID)

func (s *Storage) updateStats(ctx context.Context, identity model.Identity, mutate mutateFunc) (*model.PlayerStats, []model.AchievementID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO players (username, display_name)
		VALUES ($1, $2)
		ON CONFLICT (username) DO NOTHING
	`, identity.Username, identity.DisplayName); err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO player_stats (username)
		VALUES ($1)
		ON CONFLICT (username) DO NOTHING
	`, identity.Username); err != nil {
		return nil, nil, err
	}

	current, err := scanStats(tx.QueryRowContext(ctx, selectStats+` WHERE s.username = $1 FOR UPDATE OF s`, identity.Username))
	if err != nil {
		return nil, nil, err
	}
	current.Achievements, err = listAchievements(ctx, tx, identity.Username)
	if err != nil {
		return nil, nil, err
	}

	next, added := mutate(*current)

	var bestScoreAt sql.NullTime
	if !next.BestScoreAt.IsZero() {
		bestScoreAt = sql.NullTime{Time: next.BestScoreAt, Valid: true}
	}
	var bestTime sql.NullInt64
	if next.BestTime != nil {
		bestTime = sql.NullInt64{Int64: int64(*next.BestTime), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE player_stats
		SET best_score = $2,
			best_score_at = $3,
			level = $4,
			total_games = $5,
			total_play_time = $6,
			current_streak = $7,
			max_streak = $8,
			best_time = $9,
			updated_at = NOW()
		WHERE username = $1
	`, identity.Username, next.BestScore, bestScoreAt, next.Level, next.TotalGames,
		next.TotalPlayTime, next.CurrentStreak, next.MaxStreak, bestTime); err != nil {
		return nil, nil, err
	}

	for _, id := range added {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO player_achievements (username, achievement_id)
			VALUES ($1, $2)
			ON CONFLICT (username, achievement_id) DO NOTHING
		`, identity.Username, string(id)); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &next, added, nil
}

const selectStats = `
	SELECT s.username, p.display_name, s.best_score, s.best_score_at, s.level,
		s.total_games, s.total_play_time, s.current_streak, s.max_streak, s.best_time
	FROM player_stats s
	JOIN players p ON p.username = s.username`

func scanStats(row *sql.Row) (*model.PlayerStats, error) {
	var (
		stats       model.PlayerStats
		bestScoreAt sql.NullTime
		bestTime    sql.NullInt64
	)
	if err := row.Scan(
		&stats.Username, &stats.DisplayName, &stats.BestScore, &bestScoreAt, &stats.Level,
		&stats.TotalGames, &stats.TotalPlayTime, &stats.CurrentStreak, &stats.MaxStreak, &bestTime,
	); err != nil {
		return nil, err
	}
	if bestScoreAt.Valid {
		stats.BestScoreAt = bestScoreAt.Time
	}
	if bestTime.Valid {
		best := int(bestTime.Int64)
		stats.BestTime = &best
	}
	return &stats, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listAchievements(ctx context.Context, q queryer, username string) ([]model.AchievementID, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT achievement_id
		FROM player_achievements
		WHERE username = $1
		ORDER BY achievement_id
	`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []model.AchievementID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, model.AchievementID(id))
	}
	return ids, rows.Err()
}
