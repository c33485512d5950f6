package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/tilerush/internal/dependencies/clock"
	"github.com/mcoot/tilerush/internal/model"
)

// ErrHandleExists is returned when attaching an id that is already live
var ErrHandleExists = errors.New("session handle already attached")

// CredentialVerifier turns a credential token into an identity
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (model.Identity, error)
}

// State is a handle's position in its lifecycle
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds registry limits
type Config struct {
	// RateWindow is the sliding window length
	RateWindow time.Duration
	// RateCap is the number of events allowed per window
	RateCap int
	// TightRateCap applies while a handle has outstanding violations
	TightRateCap int
	// AuthGrace is how long a handle may stay unauthenticated
	AuthGrace time.Duration
}

// DefaultConfig returns default registry configuration
func DefaultConfig() Config {
	return Config{
		RateWindow:   10 * time.Second,
		RateCap:      5,
		TightRateCap: 3,
		AuthGrace:    10 * time.Second,
	}
}

// Session is a snapshot of an authenticated handle
type Session struct {
	ID       model.HandleID
	Identity model.Identity
}

type handle struct {
	id          model.HandleID
	state       State
	identity    model.Identity
	connectedAt time.Time

	// Rate limiting
	events       []time.Time
	violations   int
	lastRejected bool
	lastDecay    time.Time
}

// Registry owns every live connection handle. It is safe for concurrent use;
// the mutex is never held across a call to the verifier.
type Registry struct {
	verifier CredentialVerifier
	clock    clock.Clock
	logger   *slog.Logger
	cfg      Config

	mu      sync.Mutex
	handles map[model.HandleID]*handle
}

// New creates a new Registry
func New(verifier CredentialVerifier, clock clock.Clock, logger *slog.Logger, cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.RateCap <= 0 {
		cfg.RateCap = def.RateCap
	}
	if cfg.TightRateCap <= 0 || cfg.TightRateCap > cfg.RateCap {
		cfg.TightRateCap = min(def.TightRateCap, cfg.RateCap)
	}
	if cfg.AuthGrace <= 0 {
		cfg.AuthGrace = def.AuthGrace
	}
	return &Registry{
		verifier: verifier,
		clock:    clock,
		logger:   logger.With(slog.String("component", "session")),
		cfg:      cfg,
		handles:  make(map[model.HandleID]*handle),
	}
}

// Config returns the registry's limits
func (r *Registry) Config() Config {
	return r.cfg
}

// Attach registers a new unauthenticated handle
func (r *Registry) Attach(id model.HandleID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[id]; ok {
		return ErrHandleExists
	}
	r.handles[id] = &handle{
		id:          id,
		state:       StateUnauthenticated,
		connectedAt: r.clock.Now(),
	}
	return nil
}

// Authenticate verifies token and binds the identity to the handle.
// A handle can only be bound once.
func (r *Registry) Authenticate(ctx context.Context, id model.HandleID, token string) (model.Identity, error) {
	if err := r.checkAuthenticatable(id); err != nil {
		return model.Identity{}, err
	}

	identity, err := r.verifier.Verify(ctx, token)
	if err != nil {
		r.security("credential rejected", id, slog.String("error", err.Error()))
		return model.Identity{}, fmt.Errorf("%w: %w", model.ErrInvalidCredential, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The handle may have closed or bound while the verifier ran
	h, ok := r.handles[id]
	if !ok {
		return model.Identity{}, model.ErrHandleNotFound
	}
	if h.state != StateUnauthenticated {
		r.security("re-authentication attempt", id)
		return model.Identity{}, model.ErrAlreadyAuthenticated
	}

	h.state = StateAuthenticated
	h.identity = identity

	r.logger.Info("session authenticated",
		slog.String("handle", string(id)),
		slog.String("username", identity.Username))
	return identity, nil
}

func (r *Registry) checkAuthenticatable(id model.HandleID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if !ok {
		return model.ErrHandleNotFound
	}
	if h.state != StateUnauthenticated {
		r.security("re-authentication attempt", id)
		return model.ErrAlreadyAuthenticated
	}
	return nil
}

// Require is the authorization gate for every mutating operation.
// It returns the bound identity or ErrNotAuthenticated.
func (r *Registry) Require(id model.HandleID) (model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if !ok || h.state != StateAuthenticated {
		r.security("operation on unauthenticated session", id)
		return model.Identity{}, model.ErrNotAuthenticated
	}
	return h.identity, nil
}

// CheckRate records an event against the handle's sliding window. Timestamps
// are only recorded for accepted events.
func (r *Registry) CheckRate(id model.HandleID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if !ok {
		return model.ErrHandleNotFound
	}

	now := r.clock.Now()
	cutoff := now.Add(-r.cfg.RateWindow)
	kept := h.events[:0]
	for _, t := range h.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.events = kept

	limit := r.cfg.RateCap
	if h.violations > 0 {
		limit = r.cfg.TightRateCap
	}

	if len(h.events) >= limit {
		if h.lastRejected {
			h.violations++
			r.security("rate limit violation", id, slog.Int("violations", h.violations))
		}
		h.lastRejected = true

		// Wait until enough events age out to leave room for one more
		oldest := h.events[len(h.events)-limit]
		return &model.RateLimitError{RetryAfter: oldest.Add(r.cfg.RateWindow).Sub(now)}
	}

	h.lastRejected = false
	if h.violations > 0 && len(h.events)*2 < limit && now.Sub(h.lastDecay) >= r.cfg.RateWindow {
		h.violations--
		h.lastDecay = now
	}
	h.events = append(h.events, now)
	return nil
}

// Violations returns the handle's current violation count
func (r *Registry) Violations(id model.HandleID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[id]; ok {
		return h.violations
	}
	return 0
}

// Close releases the handle and its counters. It reports whether the handle
// was open and is safe to call more than once.
func (r *Registry) Close(id model.HandleID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if !ok {
		return false
	}
	h.state = StateClosed
	h.events = nil
	delete(r.handles, id)
	return true
}

// State returns the handle's lifecycle state; unknown handles are closed
func (r *Registry) State(id model.HandleID) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[id]; ok {
		return h.state
	}
	return StateClosed
}

// IsAuthenticated reports whether the handle has passed join
func (r *Registry) IsAuthenticated(id model.HandleID) bool {
	return r.State(id) == StateAuthenticated
}

// IsOpen reports whether the handle is still registered
func (r *Registry) IsOpen(id model.HandleID) bool {
	return r.State(id) != StateClosed
}

// Count returns the number of live handles, authenticated or not
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Authenticated returns a snapshot of every authenticated handle
func (r *Registry) Authenticated() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]Session, 0, len(r.handles))
	for _, h := range r.handles {
		if h.state == StateAuthenticated {
			sessions = append(sessions, Session{ID: h.id, Identity: h.identity})
		}
	}
	return sessions
}

// HandlesFor returns the authenticated handles bound to username
func (r *Registry) HandlesFor(username string) []model.HandleID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []model.HandleID
	for _, h := range r.handles {
		if h.state == StateAuthenticated && h.identity.Username == username {
			ids = append(ids, h.id)
		}
	}
	return ids
}

// ExpireUnauthenticated removes and returns handles that have not
// authenticated within the grace period
func (r *Registry) ExpireUnauthenticated(now time.Time) []model.HandleID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []model.HandleID
	for id, h := range r.handles {
		if h.state == StateUnauthenticated && now.Sub(h.connectedAt) >= r.cfg.AuthGrace {
			h.state = StateClosed
			delete(r.handles, id)
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		r.logger.Warn("closing sessions that never authenticated",
			slog.Int("count", len(expired)),
			slog.Bool("security", true))
	}
	return expired
}

func (r *Registry) security(msg string, id model.HandleID, attrs ...any) {
	args := append([]any{slog.String("handle", string(id)), slog.Bool("security", true)}, attrs...)
	r.logger.Warn(msg, args...)
}
