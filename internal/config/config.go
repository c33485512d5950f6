package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcoot/tilerush/internal/services/ledger"
)

// Storage type values for STORAGE_TYPE
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Config is the server configuration read from the environment
type Config struct {
	Port int

	StorageType string
	RedisURL    string
	DatabaseURL string

	JWTSecret string
	JWTIssuer string

	PlausibilityPolicy ledger.PlausibilityPolicy
	SweepInterval      time.Duration
	AuthGrace          time.Duration

	// AllowedOrigins is a comma-separated list of websocket origins; empty allows any
	AllowedOrigins string
	LogLevel       string
}

// Load reads configuration from the process environment
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv, applying defaults for unset values
func LoadFrom(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:           8080,
		StorageType:    StorageMemory,
		RedisURL:       getenv("REDIS_URL"),
		DatabaseURL:    getenv("DATABASE_URL"),
		JWTSecret:      getenv("JWT_SECRET"),
		JWTIssuer:      "tilerush",
		SweepInterval:  60 * time.Second,
		AuthGrace:      10 * time.Second,
		AllowedOrigins: getenv("ALLOWED_ORIGINS"),
		LogLevel:       "info",
	}

	var errs []error

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("PORT: invalid port %q", v))
		} else {
			cfg.Port = port
		}
	}
	if v := getenv("STORAGE_TYPE"); v != "" {
		cfg.StorageType = v
	}
	if v := getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	policy, err := ledger.ParsePlausibilityPolicy(getenv("PLAUSIBILITY_POLICY"))
	if err != nil {
		errs = append(errs, fmt.Errorf("PLAUSIBILITY_POLICY: %w", err))
	}
	cfg.PlausibilityPolicy = policy

	if d, err := duration(getenv, "SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		errs = append(errs, err)
	} else {
		cfg.SweepInterval = d
	}
	if d, err := duration(getenv, "AUTH_GRACE", cfg.AuthGrace); err != nil {
		errs = append(errs, err)
	} else {
		cfg.AuthGrace = d
	}

	switch cfg.StorageType {
	case StorageMemory:
	case StorageRedis:
		if cfg.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL required when STORAGE_TYPE=redis"))
		}
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL required when STORAGE_TYPE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_TYPE: must be one of memory, redis, postgres (got %q)", cfg.StorageType))
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	return cfg, errors.Join(errs...)
}

func duration(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
