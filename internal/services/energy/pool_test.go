package energy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/tilerush/internal/model"
)

type PoolSuite struct {
	suite.Suite
	pool *Pool
	t0   time.Time
}

func TestPoolSuite(t *testing.T) {
	suite.Run(t, new(PoolSuite))
}

func (s *PoolSuite) SetupTest() {
	s.pool = NewPool(DefaultConfig())
	s.t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// Regenerate tests

func (s *PoolSuite) TestRegenerateAfterTwelveMinutes() {
	state := model.ResourceState{Amount: 40, LastUpdate: s.t0}

	res := s.pool.Regenerate(state, s.t0.Add(12*time.Minute))

	s.Equal(42, res.State.Amount)
	s.Equal(2, res.UnitsAdded)
	s.Equal(180, res.SecondsUntilNextUnit)
	s.True(res.State.LastUpdate.Equal(s.t0.Add(10 * time.Minute)))
}

func (s *PoolSuite) TestRegenerateKeepsPartialProgress() {
	state := model.ResourceState{Amount: 40, LastUpdate: s.t0}

	first := s.pool.Regenerate(state, s.t0.Add(12*time.Minute))
	second := s.pool.Regenerate(first.State, s.t0.Add(15*time.Minute))

	s.Equal(43, second.State.Amount)
	s.Equal(300, second.SecondsUntilNextUnit)
}

func (s *PoolSuite) TestRegenerateClampsAtCap() {
	state := model.ResourceState{Amount: 98, LastUpdate: s.t0}
	now := s.t0.Add(time.Hour)

	res := s.pool.Regenerate(state, now)

	s.Equal(100, res.State.Amount)
	s.Equal(2, res.UnitsAdded)
	s.Equal(0, res.SecondsUntilNextUnit)
	s.True(res.State.LastUpdate.Equal(now))
}

func (s *PoolSuite) TestRegenerateNegativeElapsedIsClamped() {
	state := model.ResourceState{Amount: 40, LastUpdate: s.t0}

	res := s.pool.Regenerate(state, s.t0.Add(-time.Hour))

	s.Equal(40, res.State.Amount)
	s.Equal(0, res.UnitsAdded)
	s.True(res.State.LastUpdate.Equal(s.t0))
}

func (s *PoolSuite) TestRegenerateClampsCorruptAmount() {
	res := s.pool.Regenerate(model.ResourceState{Amount: 150, LastUpdate: s.t0}, s.t0)
	s.Equal(100, res.State.Amount)

	res = s.pool.Regenerate(model.ResourceState{Amount: -5, LastUpdate: s.t0}, s.t0)
	s.Equal(0, res.State.Amount)
}

func (s *PoolSuite) TestRegenerateIsMonotonic() {
	starts := []int{0, 1, 37, 95, 99, 100}
	for _, amount := range starts {
		state := model.ResourceState{Amount: amount, LastUpdate: s.t0}
		prev := -1
		for step := -2; step < 200; step++ {
			now := s.t0.Add(time.Duration(step) * 97 * time.Second)
			got := s.pool.Regenerate(state, now).State.Amount
			s.GreaterOrEqual(got, prev, "amount %d at step %d", amount, step)
			s.LessOrEqual(got, 100)
			prev = got
		}
	}
}

// Spend tests

func (s *PoolSuite) TestSpendAfterRegeneration() {
	state := model.ResourceState{Amount: 40, LastUpdate: s.t0}

	res, ok, err := s.pool.Spend(state, s.t0.Add(12*time.Minute), 10)

	s.Require().NoError(err)
	s.True(ok)
	s.Equal(32, res.State.Amount)
	s.Equal(2, res.UnitsAdded)
}

func (s *PoolSuite) TestSpendInsufficient() {
	state := model.ResourceState{Amount: 5, LastUpdate: s.t0}

	res, ok, err := s.pool.Spend(state, s.t0.Add(7*time.Minute), 10)

	s.Require().NoError(err)
	s.False(ok)
	s.Equal(6, res.State.Amount) // regenerated, not debited
	s.Equal(1, res.UnitsAdded)
}

func (s *PoolSuite) TestSpendRejectsOtherCosts() {
	state := model.ResourceState{Amount: 100, LastUpdate: s.t0}

	for _, cost := range []int{0, 1, 9, 11, 100, -10} {
		_, ok, err := s.pool.Spend(state, s.t0, cost)
		s.ErrorIs(err, model.ErrInvalidCost, "cost %d", cost)
		s.ErrorIs(err, model.ErrValidation)
		s.False(ok)
	}
}

func (s *PoolSuite) TestSpendFromCapStartsNewInterval() {
	state := model.ResourceState{Amount: 100, LastUpdate: s.t0}
	now := s.t0.Add(time.Hour)

	res, ok, err := s.pool.Spend(state, now, 10)

	s.Require().NoError(err)
	s.True(ok)
	s.Equal(90, res.State.Amount)
	s.True(res.State.LastUpdate.Equal(now))
	s.Equal(300, res.SecondsUntilNextUnit)
}

func (s *PoolSuite) TestSpendNeverGoesNegative() {
	state := model.ResourceState{Amount: 10, LastUpdate: s.t0}

	res, ok, err := s.pool.Spend(state, s.t0, 10)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(0, res.State.Amount)

	res, ok, err = s.pool.Spend(res.State, s.t0, 10)
	s.Require().NoError(err)
	s.False(ok)
	s.Equal(0, res.State.Amount)
}

func (s *PoolSuite) TestNewPoolFillsDefaults() {
	p := NewPool(Config{})
	s.Equal(DefaultConfig(), p.Config())
}
