package postgres

import (
	"context"
	"database/sql"
)

const schemaMigration = `
CREATE TABLE IF NOT EXISTS players (
    username text PRIMARY KEY,
    display_name text NOT NULL,
    created_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS player_stats (
    username text PRIMARY KEY REFERENCES players(username) ON DELETE CASCADE,
    best_score integer NOT NULL DEFAULT 0,
    best_score_at timestamptz,
    level integer NOT NULL DEFAULT 0,
    total_games integer NOT NULL DEFAULT 0,
    total_play_time integer NOT NULL DEFAULT 0,
    current_streak integer NOT NULL DEFAULT 0,
    max_streak integer NOT NULL DEFAULT 0,
    best_time integer,
    updated_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS player_stats_leaderboard_idx
ON player_stats (best_score DESC, best_score_at ASC, username ASC);

CREATE TABLE IF NOT EXISTS resource_states (
    username text PRIMARY KEY,
    amount integer NOT NULL,
    last_update timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS player_achievements (
    username text NOT NULL REFERENCES players(username) ON DELETE CASCADE,
    achievement_id text NOT NULL,
    unlocked_at timestamptz NOT NULL DEFAULT NOW(),
    PRIMARY KEY (username, achievement_id)
);
`

// RunMigration creates the schema if it does not exist yet
func RunMigration(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaMigration)
	return err
}
