package energy

import (
	"time"

	"github.com/mcoot/tilerush/internal/model"
)

// Config holds the regeneration parameters
type Config struct {
	// Interval is the time needed to regenerate one unit
	Interval time.Duration
	// Cap is the maximum amount a pool can hold
	Cap int
	// GameCost is the only accepted spend amount
	GameCost int
}

// DefaultConfig returns the game's default energy economy
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Cap:      100,
		GameCost: 10,
	}
}

// Result is a regenerated state plus the feedback shown to the player
type Result struct {
	State                model.ResourceState
	UnitsAdded           int
	SecondsUntilNextUnit int
}

// Pool computes lazy regeneration. It holds no per-player state.
type Pool struct {
	cfg Config
}

// NewPool creates a Pool, filling unset fields from DefaultConfig
func NewPool(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Cap <= 0 {
		cfg.Cap = def.Cap
	}
	if cfg.GameCost <= 0 {
		cfg.GameCost = def.GameCost
	}
	return &Pool{cfg: cfg}
}

// Config returns the pool's parameters
func (p *Pool) Config() Config {
	return p.cfg
}

// Full returns a state at cap as of now, used for players with no stored state
func (p *Pool) Full(now time.Time) model.ResourceState {
	return model.ResourceState{Amount: p.cfg.Cap, LastUpdate: now}
}

// Regenerate catches state up to now. It is pure.
func (p *Pool) Regenerate(state model.ResourceState, now time.Time) Result {
	amount := clamp(state.Amount, 0, p.cfg.Cap)

	elapsed := now.Sub(state.LastUpdate)
	if elapsed < 0 {
		// Clock skew; never regenerate backwards
		elapsed = 0
	}

	units := int(elapsed / p.cfg.Interval)
	next := min(p.cfg.Cap, amount+units)

	if next >= p.cfg.Cap {
		// No banking of partial progress while full
		return Result{
			State:      model.ResourceState{Amount: p.cfg.Cap, LastUpdate: now},
			UnitsAdded: next - amount,
		}
	}

	remainder := elapsed % p.cfg.Interval
	return Result{
		State: model.ResourceState{
			Amount:     next,
			LastUpdate: state.LastUpdate.Add(time.Duration(units) * p.cfg.Interval),
		},
		UnitsAdded:           next - amount,
		SecondsUntilNextUnit: int((p.cfg.Interval - remainder).Seconds()),
	}
}

// Spend regenerates then debits cost. When ok is false the returned result is
// the regenerated state, which callers must still persist.
func (p *Pool) Spend(state model.ResourceState, now time.Time, cost int) (Result, bool, error) {
	if cost != p.cfg.GameCost {
		return Result{}, false, model.ErrInvalidCost
	}

	res := p.Regenerate(state, now)
	if res.State.Amount < cost {
		return res, false, nil
	}

	if res.State.Amount == p.cfg.Cap {
		// Leaving cap starts a fresh regeneration interval
		res.State.LastUpdate = now
	}
	res.State.Amount -= cost
	res.SecondsUntilNextUnit = p.secondsUntilNext(res.State, now)
	return res, true, nil
}

func (p *Pool) secondsUntilNext(state model.ResourceState, now time.Time) int {
	if state.Amount >= p.cfg.Cap {
		return 0
	}
	elapsed := max(now.Sub(state.LastUpdate), 0)
	return int((p.cfg.Interval - elapsed%p.cfg.Interval).Seconds())
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
