package postgres

import "time"

// Config holds Postgres connection settings
type Config struct {
	// DSN is a lib/pq connection string or postgres:// URL
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Migrate runs the schema migration on open
	Migrate bool
}

// DefaultConfig returns defaults suitable for local development
func DefaultConfig() Config {
	return Config{
		DSN:             "postgres://localhost:5432/tilerush?sslmode=disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		Migrate:         true,
	}
}
