package sweep

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcoot/tilerush/internal/dependencies/clock"
	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/services/dispatch"
	"github.com/mcoot/tilerush/internal/services/energy"
	"github.com/mcoot/tilerush/internal/services/session"
)

// Reaper closes connections that never authenticated
type Reaper interface {
	ExpireIdle(ctx context.Context) int
}

// GatePruner drops expired submit-gate entries
type GatePruner interface {
	PruneGate(now time.Time) int
}

// Config holds sweep timing
type Config struct {
	// Interval between regeneration sweeps
	Interval time.Duration
	// Concurrency bounds how many identities are swept at once
	Concurrency int
	// IdentityTimeout bounds the storage work for one identity
	IdentityTimeout time.Duration
	// ReapInterval between idle-connection reaps
	ReapInterval time.Duration
}

// DefaultConfig returns default sweep configuration
func DefaultConfig() Config {
	return Config{
		Interval:        60 * time.Second,
		Concurrency:     8,
		IdentityTimeout: 5 * time.Second,
		ReapInterval:    5 * time.Second,
	}
}

// Sweeper periodically regenerates energy for connected players and reaps
// idle connections. It keeps no per-player timers.
type Sweeper struct {
	registry *session.Registry
	energy   *energy.Service
	reaper   Reaper
	gate     GatePruner
	sink     dispatch.Sink
	clock    clock.Clock
	logger   *slog.Logger
	cfg      Config

	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a new Sweeper
func New(
	registry *session.Registry,
	energy *energy.Service,
	reaper Reaper,
	gate GatePruner,
	sink dispatch.Sink,
	clock clock.Clock,
	logger *slog.Logger,
	cfg Config,
) *Sweeper {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.IdentityTimeout <= 0 {
		cfg.IdentityTimeout = def.IdentityTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = def.ReapInterval
	}
	return &Sweeper{
		registry: registry,
		energy:   energy,
		reaper:   reaper,
		gate:     gate,
		sink:     sink,
		clock:    clock,
		logger:   logger.With(slog.String("component", "sweep")),
		cfg:      cfg,
	}
}

// Run blocks until ctx is cancelled, then waits for an in-flight sweep to finish
func (s *Sweeper) Run(ctx context.Context) {
	regen := time.NewTicker(s.cfg.Interval)
	defer regen.Stop()
	reap := time.NewTicker(s.cfg.ReapInterval)
	defer reap.Stop()

	s.logger.Info("sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("reap_interval", s.cfg.ReapInterval))

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("sweeper stopped")
			return
		case <-regen.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.SweepOnce(ctx)
			}()
		case <-reap.C:
			s.Reap(ctx)
		}
	}
}

// SweepOnce regenerates every authenticated identity and pushes energy to
// those that gained units. It returns false when a previous sweep is still running.
func (s *Sweeper) SweepOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous sweep still running, skipping tick")
		return false
	}
	defer s.running.Store(false)

	start := time.Now()

	// One storage round trip per identity even with several connections
	usernames := make(map[string]struct{})
	for _, sess := range s.registry.Authenticated() {
		usernames[sess.Identity.Username] = struct{}{}
	}

	var (
		g      errgroup.Group
		pushed atomic.Int32
	)
	g.SetLimit(s.cfg.Concurrency)

	for username := range usernames {
		g.Go(func() error {
			if s.sweepIdentity(ctx, username) {
				pushed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Debug("sweep finished",
		slog.Int("identities", len(usernames)),
		slog.Int("pushed", int(pushed.Load())),
		slog.Duration("took", time.Since(start)))
	return true
}

func (s *Sweeper) sweepIdentity(ctx context.Context, username string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.IdentityTimeout)
	defer cancel()

	res, err := s.energy.Current(ctx, username)
	if err != nil {
		s.logger.Warn("sweep regeneration failed",
			slog.String("username", username),
			slog.String("error", err.Error()))
		return false
	}
	if res.UnitsAdded == 0 {
		return false
	}

	// Looked up after the storage call so handles closed meanwhile are skipped
	handles := s.registry.HandlesFor(username)
	view := s.energy.View(res, 0, true)
	for _, id := range handles {
		s.sink.EmitToOne(id, model.EventEnergy, view)
	}
	return len(handles) > 0
}

// Reap closes idle unauthenticated connections and prunes the submit gate
func (s *Sweeper) Reap(ctx context.Context) {
	if n := s.reaper.ExpireIdle(ctx); n > 0 {
		s.logger.Info("reaped idle connections", slog.Int("count", n))
	}
	s.gate.PruneGate(s.clock.Now())
}
