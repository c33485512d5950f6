package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/storage"
)

// RecordingStore wraps a PlayerStore, counting calls and injecting failures.
// It does not implement storage.AtomicCommitter, so ledgers over it take the verified path.
type RecordingStore struct {
	inner storage.PlayerStore

	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

var _ storage.PlayerStore = (*RecordingStore)(nil)

// NewRecordingStore wraps inner
func NewRecordingStore(inner storage.PlayerStore) *RecordingStore {
	return &RecordingStore{
		inner: inner,
		calls: make(map[string]int),
		fail:  make(map[string]error),
	}
}

// FailOn makes every later call to op return err. A nil err clears it.
func (r *RecordingStore) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, op)
		return
	}
	r.fail[op] = err
}

// Calls returns how many times op was invoked
func (r *RecordingStore) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// TotalCalls returns the number of calls across every operation
func (r *RecordingStore) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.calls {
		total += n
	}
	return total
}

func (r *RecordingStore) record(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[op]++
	return r.fail[op]
}

func (r *RecordingStore) FindPlayer(ctx context.Context, username string) (*model.Player, error) {
	if err := r.record("FindPlayer"); err != nil {
		return nil, err
	}
	return r.inner.FindPlayer(ctx, username)
}

func (r *RecordingStore) EnsurePlayer(ctx context.Context, identity model.Identity) error {
	if err := r.record("EnsurePlayer"); err != nil {
		return err
	}
	return r.inner.EnsurePlayer(ctx, identity)
}

func (r *RecordingStore) GetStats(ctx context.Context, username string) (*model.PlayerStats, error) {
	if err := r.record("GetStats"); err != nil {
		return nil, err
	}
	return r.inner.GetStats(ctx, username)
}

func (r *RecordingStore) UpsertScoreAndLevel(ctx context.Context, identity model.Identity, score, level int, at time.Time) error {
	if err := r.record("UpsertScoreAndLevel"); err != nil {
		return err
	}
	return r.inner.UpsertScoreAndLevel(ctx, identity, score, level, at)
}

func (r *RecordingStore) UpdateGameStats(ctx context.Context, identity model.Identity, elapsedTime int, won bool) error {
	if err := r.record("UpdateGameStats"); err != nil {
		return err
	}
	return r.inner.UpdateGameStats(ctx, identity, elapsedTime, won)
}

func (r *RecordingStore) GetTop(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	if err := r.record("GetTop"); err != nil {
		return nil, err
	}
	return r.inner.GetTop(ctx, n)
}

func (r *RecordingStore) GetResourceState(ctx context.Context, username string) (*model.ResourceState, error) {
	if err := r.record("GetResourceState"); err != nil {
		return nil, err
	}
	return r.inner.GetResourceState(ctx, username)
}

func (r *RecordingStore) SetResourceState(ctx context.Context, username string, state model.ResourceState) error {
	if err := r.record("SetResourceState"); err != nil {
		return err
	}
	return r.inner.SetResourceState(ctx, username, state)
}

// UpdateResourceState records the call; each update that writes is also counted as "ResourceStateWrite"
func (r *RecordingStore) UpdateResourceState(ctx context.Context, username string, update storage.ResourceUpdateFunc) error {
	if err := r.record("UpdateResourceState"); err != nil {
		return err
	}
	return r.inner.UpdateResourceState(ctx, username, func(current *model.ResourceState) (model.ResourceState, bool) {
		next, write := update(current)
		if write {
			_ = r.record("ResourceStateWrite")
		}
		return next, write
	})
}

func (r *RecordingStore) ListAchievements(ctx context.Context, username string) ([]model.AchievementID, error) {
	if err := r.record("ListAchievements"); err != nil {
		return nil, err
	}
	return r.inner.ListAchievements(ctx, username)
}

func (r *RecordingStore) UnlockAchievement(ctx context.Context, username string, id model.AchievementID) (bool, error) {
	if err := r.record("UnlockAchievement"); err != nil {
		return false, err
	}
	return r.inner.UnlockAchievement(ctx, username, id)
}

func (r *RecordingStore) Ping(ctx context.Context) error {
	if err := r.record("Ping"); err != nil {
		return err
	}
	return r.inner.Ping(ctx)
}
