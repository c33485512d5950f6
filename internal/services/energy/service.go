package energy

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcoot/tilerush/internal/dependencies/clock"
	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/storage"
)

// Service applies the pool to stored resource states
type Service struct {
	pool    *Pool
	storage storage.PlayerStore
	clock   clock.Clock
	logger  *slog.Logger
}

// NewService creates a new energy Service
func NewService(pool *Pool, storage storage.PlayerStore, clock clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		pool:    pool,
		storage: storage,
		clock:   clock,
		logger:  logger.With(slog.String("component", "energy")),
	}
}

// Pool returns the underlying pool
func (s *Service) Pool() *Pool {
	return s.pool
}

// Current regenerates the player's energy, persisting it when it changed
func (s *Service) Current(ctx context.Context, username string) (Result, error) {
	now := s.clock.Now()

	var res Result
	err := s.storage.UpdateResourceState(ctx, username, func(current *model.ResourceState) (model.ResourceState, bool) {
		state, fresh := s.start(current, now)
		res = s.pool.Regenerate(state, now)
		return res.State, fresh || s.changed(state, res.State)
	})
	if err != nil {
		return Result{}, model.WrapStorage("update resource state", err)
	}
	return res, nil
}

// Spend debits cost from the player's energy. The regenerated state is
// persisted even when there is not enough energy.
func (s *Service) Spend(ctx context.Context, username string, cost int) (Result, bool, error) {
	if cost != s.pool.Config().GameCost {
		return Result{}, false, model.ErrInvalidCost
	}

	now := s.clock.Now()

	var (
		res      Result
		ok       bool
		spendErr error
	)
	err := s.storage.UpdateResourceState(ctx, username, func(current *model.ResourceState) (model.ResourceState, bool) {
		state, fresh := s.start(current, now)
		res, ok, spendErr = s.pool.Spend(state, now, cost)
		if spendErr != nil {
			return state, false
		}
		return res.State, fresh || s.changed(state, res.State)
	})
	if err != nil {
		return Result{}, false, model.WrapStorage("update resource state", err)
	}
	if spendErr != nil {
		return Result{}, false, spendErr
	}

	if !ok {
		s.logger.Debug("insufficient energy",
			slog.String("username", username),
			slog.Int("amount", res.State.Amount),
			slog.Int("cost", cost))
	}
	return res, ok, nil
}

// View renders a result for the client
func (s *Service) View(res Result, spent int, ok bool) model.EnergyView {
	return model.EnergyView{
		Amount:               res.State.Amount,
		Cap:                  s.pool.Config().Cap,
		UnitsAdded:           res.UnitsAdded,
		SecondsUntilNextUnit: res.SecondsUntilNextUnit,
		Spent:                spent,
		OK:                   ok,
	}
}

// start returns the stored state, or a full pool when nothing is stored yet
func (s *Service) start(current *model.ResourceState, now time.Time) (model.ResourceState, bool) {
	if current == nil {
		return s.pool.Full(now), true
	}
	return *current, false
}

// changed ignores a timestamp-only move while the pool stays full
func (s *Service) changed(before, after model.ResourceState) bool {
	if full := s.pool.Config().Cap; before.Amount == full && after.Amount == full {
		return false
	}
	return before.Amount != after.Amount || !before.LastUpdate.Equal(after.LastUpdate)
}
