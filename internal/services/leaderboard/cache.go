package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mcoot/tilerush/internal/dependencies/clock"
	"github.com/mcoot/tilerush/internal/model"
)

// TopReader is the slice of the player store the cache reads from
type TopReader interface {
	GetTop(ctx context.Context, n int) ([]model.LeaderboardEntry, error)
}

// SessionCounter reports how many sessions are connected
type SessionCounter interface {
	Count() int
}

// Config holds cache sizing and freshness settings
type Config struct {
	// Size is the number of entries kept
	Size int

	HighLoadTTL time.Duration
	MidLoadTTL  time.Duration
	LowLoadTTL  time.Duration

	// Session counts above which the shorter TTLs apply
	HighLoadSessions int
	MidLoadSessions  int

	// RefreshTimeout bounds a single storage read
	RefreshTimeout time.Duration
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		Size:             10,
		HighLoadTTL:      15 * time.Second,
		MidLoadTTL:       30 * time.Second,
		LowLoadTTL:       60 * time.Second,
		HighLoadSessions: 10,
		MidLoadSessions:  5,
		RefreshTimeout:   5 * time.Second,
	}
}

// Snapshot is one view of the leaderboard
type Snapshot struct {
	Entries  []model.LeaderboardEntry
	CachedAt time.Time
	// Stale is set when the last refresh failed and older data was served
	Stale bool
}

// Payload renders the snapshot for broadcast
func (s Snapshot) Payload() model.LeaderboardPayload {
	return model.LeaderboardPayload{
		Entries:  s.Entries,
		CachedAt: s.CachedAt,
		Stale:    s.Stale,
	}
}

// Cache is a read-through top-N projection with an adaptive TTL.
// Construct one at startup and share it.
type Cache struct {
	store    TopReader
	sessions SessionCounter
	clock    clock.Clock
	logger   *slog.Logger
	cfg      Config

	group singleflight.Group

	mu        sync.Mutex
	entries   []model.LeaderboardEntry
	cachedAt  time.Time
	valid     bool
	expired   bool
	started   uint64 // refreshes begun
	installed uint64 // sequence of the refresh currently cached
}

// New creates a new leaderboard Cache
func New(store TopReader, sessions SessionCounter, clock clock.Clock, logger *slog.Logger, cfg Config) *Cache {
	def := DefaultConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.HighLoadTTL <= 0 {
		cfg.HighLoadTTL = def.HighLoadTTL
	}
	if cfg.MidLoadTTL <= 0 {
		cfg.MidLoadTTL = def.MidLoadTTL
	}
	if cfg.LowLoadTTL <= 0 {
		cfg.LowLoadTTL = def.LowLoadTTL
	}
	if cfg.HighLoadSessions <= 0 {
		cfg.HighLoadSessions = def.HighLoadSessions
	}
	if cfg.MidLoadSessions <= 0 {
		cfg.MidLoadSessions = def.MidLoadSessions
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = def.RefreshTimeout
	}
	return &Cache{
		store:    store,
		sessions: sessions,
		clock:    clock,
		logger:   logger.With(slog.String("component", "leaderboard")),
		cfg:      cfg,
	}
}

// TTL returns the freshness window for the current session count
func (c *Cache) TTL() time.Duration {
	n := c.sessions.Count()
	switch {
	case n > c.cfg.HighLoadSessions:
		return c.cfg.HighLoadTTL
	case n > c.cfg.MidLoadSessions:
		return c.cfg.MidLoadTTL
	default:
		return c.cfg.LowLoadTTL
	}
}

// Get returns the cached leaderboard, refreshing it when expired or forced.
// A failed refresh serves the previous list marked stale; an error is only
// returned when nothing has ever been cached.
func (c *Cache) Get(ctx context.Context, force bool) (Snapshot, error) {
	ttl := c.TTL()

	c.mu.Lock()
	if c.valid && !force && !c.expired && c.clock.Now().Sub(c.cachedAt) <= ttl {
		snap := c.snapshotLocked(false)
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	if force {
		// A forced read must not join a refresh that began before the caller's write
		c.group.Forget(refreshKey)
	}

	v, err, _ := c.group.Do(refreshKey, func() (interface{}, error) {
		return c.refresh(ctx)
	})
	if err == nil {
		return v.(Snapshot), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return Snapshot{}, fmt.Errorf("%w: %w", model.ErrLeaderboardUnavailable, err)
	}
	c.logger.Warn("leaderboard refresh failed, serving stale data",
		slog.String("error", err.Error()),
		slog.Time("cached_at", c.cachedAt))
	return c.snapshotLocked(true), nil
}

// Invalidate marks the cache expired so the next Get refreshes
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expired = true
}

const refreshKey = "top"

func (c *Cache) refresh(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	c.started++
	seq := c.started
	c.mu.Unlock()

	// Waiters share this read, so one caller cancelling must not fail the rest
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RefreshTimeout)
	defer cancel()

	entries, err := c.store.GetTop(ctx, c.cfg.Size)
	if err != nil {
		return Snapshot{}, model.WrapStorage("get top", err)
	}
	entries = rank(entries, c.cfg.Size)
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.installed {
		c.entries = entries
		c.cachedAt = now
		c.valid = true
		c.expired = false
		c.installed = seq
	}
	return c.snapshotLocked(false), nil
}

func (c *Cache) snapshotLocked(stale bool) Snapshot {
	return Snapshot{
		Entries:  append([]model.LeaderboardEntry{}, c.entries...),
		CachedAt: c.cachedAt,
		Stale:    stale,
	}
}

// rank orders entries by score, keeping the store's order among ties, and numbers them
func rank(entries []model.LeaderboardEntry, size int) []model.LeaderboardEntry {
	ranked := append([]model.LeaderboardEntry{}, entries...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > size {
		ranked = ranked[:size]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
