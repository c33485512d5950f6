package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mcoot/tilerush/internal/dependencies/clock"
	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/services/energy"
	"github.com/mcoot/tilerush/internal/services/leaderboard"
	"github.com/mcoot/tilerush/internal/services/ledger"
	"github.com/mcoot/tilerush/internal/services/session"
)

// Config holds dispatcher settings
type Config struct {
	MaxChatRunes int
}

// DefaultConfig returns default dispatcher configuration
func DefaultConfig() Config {
	return Config{MaxChatRunes: 200}
}

// reasonUnavailable is shown to clients when a store call failed
const reasonUnavailable = "temporarily unavailable, please retry"

// Dispatcher routes inbound session events. Events for one handle must be
// handed in sequentially; different handles may be dispatched concurrently.
type Dispatcher struct {
	registry *session.Registry
	energy   *energy.Service
	ledger   *ledger.Ledger
	board    *leaderboard.Cache
	sink     Sink
	clock    clock.Clock
	logger   *slog.Logger
	cfg      Config
}

// New creates a new Dispatcher
func New(
	registry *session.Registry,
	energy *energy.Service,
	ledger *ledger.Ledger,
	board *leaderboard.Cache,
	sink Sink,
	clock clock.Clock,
	logger *slog.Logger,
	cfg Config,
) *Dispatcher {
	if cfg.MaxChatRunes <= 0 {
		cfg.MaxChatRunes = DefaultConfig().MaxChatRunes
	}
	return &Dispatcher{
		registry: registry,
		energy:   energy,
		ledger:   ledger,
		board:    board,
		sink:     sink,
		clock:    clock,
		logger:   logger.With(slog.String("component", "dispatch")),
		cfg:      cfg,
	}
}

// OnConnect registers a new connection
func (d *Dispatcher) OnConnect(ctx context.Context, id model.HandleID) error {
	if err := d.registry.Attach(id); err != nil {
		return err
	}
	d.logger.Debug("connection attached", slog.String("handle", string(id)))
	return nil
}

// OnDisconnect releases the handle. Once it returns no sweep or broadcast
// will address the handle again.
func (d *Dispatcher) OnDisconnect(ctx context.Context, id model.HandleID) {
	if d.registry.Close(id) {
		d.logger.Debug("connection detached", slog.String("handle", string(id)))
	}
}

// ExpireIdle closes connections that never authenticated within the grace period
func (d *Dispatcher) ExpireIdle(ctx context.Context) int {
	expired := d.registry.ExpireUnauthenticated(d.clock.Now())
	for _, id := range expired {
		d.sink.Close(id)
	}
	return len(expired)
}

// Handle dispatches one inbound event. The returned error is for the
// transport's logs; anything the client should see has already been emitted.
func (d *Dispatcher) Handle(ctx context.Context, id model.HandleID, event model.EventType, payload json.RawMessage) error {
	if !d.registry.IsOpen(id) {
		return model.ErrHandleNotFound
	}

	if !event.IsMutating() {
		switch event {
		case model.EventJoin:
			return d.handleJoin(ctx, id, payload)
		case model.EventHeartbeat:
			return d.handleHeartbeat(id, payload)
		default:
			d.reject(id, event, model.ErrUnknownEvent)
			return model.ErrUnknownEvent
		}
	}

	// Authorization gate: nothing below runs for an unauthenticated handle
	identity, err := d.registry.Require(id)
	if err != nil {
		return err
	}
	if err := d.registry.CheckRate(id); err != nil {
		d.reject(id, event, err)
		return err
	}

	switch event {
	case model.EventSubmitScore:
		return d.handleSubmitScore(ctx, id, identity, payload)
	case model.EventSpendEnergy:
		return d.handleSpendEnergy(ctx, id, identity, payload)
	case model.EventChat:
		return d.handleChat(id, identity, payload)
	default:
		d.reject(id, event, model.ErrUnknownEvent)
		return model.ErrUnknownEvent
	}
}

func (d *Dispatcher) handleJoin(ctx context.Context, id model.HandleID, payload json.RawMessage) error {
	var p model.JoinPayload
	if err := decode(payload, &p); err != nil {
		d.reject(id, model.EventJoin, err)
		return err
	}

	identity, err := d.registry.Authenticate(ctx, id, p.Token)
	if err != nil {
		d.reject(id, model.EventJoin, err)
		return err
	}

	res, err := d.energy.Current(ctx, identity.Username)
	if err != nil {
		d.reject(id, model.EventJoin, err)
		return err
	}
	stats, err := d.ledger.Stats(ctx, identity)
	if err != nil {
		d.reject(id, model.EventJoin, err)
		return err
	}
	welcomed, err := d.ledger.Welcome(ctx, identity, stats)
	if err != nil {
		// Retried on the next join or folded into the next commit
		d.logger.Warn("failed to unlock join achievements",
			slog.String("username", identity.Username),
			slog.String("error", err.Error()))
	}
	for _, def := range welcomed {
		stats.Achievements = append(stats.Achievements, def.ID)
	}
	snap, err := d.board.Get(ctx, false)
	if err != nil {
		// Leaderboard is advisory; sync without it
		d.logger.Warn("leaderboard unavailable during join", slog.String("error", err.Error()))
	}

	d.sink.EmitToOne(id, model.EventSync, model.SyncPayload{
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		Energy:      d.energy.View(res, 0, true),
		Stats:       stats,
		Leaderboard: snap.Entries,
		Unlocked:    welcomed,
	})
	return nil
}

func (d *Dispatcher) handleHeartbeat(id model.HandleID, payload json.RawMessage) error {
	var p model.HeartbeatPayload
	if len(payload) > 0 {
		if err := decode(payload, &p); err != nil {
			d.reject(id, model.EventHeartbeat, err)
			return err
		}
	}
	d.sink.EmitToOne(id, model.EventHeartbeat, model.HeartbeatAckPayload{
		ServerTime: d.clock.Now().UnixMilli(),
		ClientTime: p.SentAt,
	})
	return nil
}

func (d *Dispatcher) handleSubmitScore(ctx context.Context, id model.HandleID, identity model.Identity, payload json.RawMessage) error {
	var p model.SubmitScorePayload
	if err := decode(payload, &p); err != nil {
		d.reject(id, model.EventSubmitScore, err)
		return err
	}
	result, err := gameResult(p)
	if err != nil {
		d.reject(id, model.EventSubmitScore, err)
		return err
	}

	res, err := d.ledger.Submit(ctx, identity, result)
	if err != nil {
		if errors.Is(err, model.ErrSubmitTooSoon) {
			// Dropped without a reply
			d.logger.Debug("score submission gated", slog.String("username", identity.Username))
			return err
		}
		d.reject(id, model.EventSubmitScore, err)
		return err
	}

	d.sink.EmitToOne(id, model.EventScoreResult, model.ScoreResultPayload{
		Stats:    res.Stats,
		Unlocked: res.Unlocked,
	})
	d.sink.EmitToAll(model.EventScorePosted, model.ScorePostedPayload{
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		Score:       result.Score,
		Level:       result.Level,
		Unlocked:    res.UnlockedIDs(),
	})
	if res.Leaderboard.Entries != nil {
		d.sink.EmitToAll(model.EventLeaderboard, res.Leaderboard.Payload())
	}
	return nil
}

func (d *Dispatcher) handleSpendEnergy(ctx context.Context, id model.HandleID, identity model.Identity, payload json.RawMessage) error {
	var p model.SpendEnergyPayload
	if err := decode(payload, &p); err != nil {
		d.reject(id, model.EventSpendEnergy, err)
		return err
	}

	res, ok, err := d.energy.Spend(ctx, identity.Username, p.Cost)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCost) {
			d.logger.Warn("protocol violation: invalid energy cost",
				slog.String("username", identity.Username),
				slog.Int("cost", p.Cost),
				slog.Bool("security", true))
		}
		d.reject(id, model.EventSpendEnergy, err)
		return err
	}

	spent := 0
	if ok {
		spent = p.Cost
	}
	d.sink.EmitToOne(id, model.EventEnergy, d.energy.View(res, spent, ok))
	return nil
}

func (d *Dispatcher) handleChat(id model.HandleID, identity model.Identity, payload json.RawMessage) error {
	var p model.ChatPayload
	if err := decode(payload, &p); err != nil {
		d.reject(id, model.EventChat, err)
		return err
	}
	msg, err := SanitizeChat(p.Message, d.cfg.MaxChatRunes)
	if err != nil {
		d.reject(id, model.EventChat, err)
		return err
	}

	d.sink.EmitToAll(model.EventChatMessage, model.ChatMessagePayload{
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		Message:     msg,
		SentAt:      d.clock.Now(),
	})
	return nil
}

// reject tells the client why an event was refused
func (d *Dispatcher) reject(id model.HandleID, event model.EventType, err error) {
	p := model.RejectedPayload{Event: event, Reason: err.Error()}

	var rl *model.RateLimitError
	switch {
	case errors.As(err, &rl):
		p.RetryAfterMS = rl.RetryAfter.Milliseconds()
	case errors.Is(err, model.ErrStorage):
		p.Reason = reasonUnavailable
	case errors.Is(err, model.ErrAuthorization):
		p.Reason = "not authorized"
	}
	d.sink.EmitToOne(id, model.EventRejected, p)
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return model.NewValidationError("payload", "missing")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return model.NewValidationError("payload", "malformed")
	}
	return nil
}

// gameResult requires every field to be present
func gameResult(p model.SubmitScorePayload) (model.GameResult, error) {
	switch {
	case p.Score == nil:
		return model.GameResult{}, model.NewValidationError("score", "missing")
	case p.Level == nil:
		return model.GameResult{}, model.NewValidationError("level", "missing")
	case p.ElapsedTime == nil:
		return model.GameResult{}, model.NewValidationError("elapsed_time", "missing")
	case p.Won == nil:
		return model.GameResult{}, model.NewValidationError("won", "must be a boolean")
	}
	return model.GameResult{
		Score:       *p.Score,
		Level:       *p.Level,
		ElapsedTime: *p.ElapsedTime,
		Won:         *p.Won,
	}, nil
}
