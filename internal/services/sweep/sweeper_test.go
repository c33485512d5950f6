package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/tilerush/internal/dependencies/mocks"
	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/services/energy"
	"github.com/mcoot/tilerush/internal/services/session"
	"github.com/mcoot/tilerush/internal/storage"
	"github.com/mcoot/tilerush/internal/storage/memory"
	"github.com/mcoot/tilerush/internal/testutil"
)

type pushSink struct {
	mu     sync.Mutex
	pushes map[model.HandleID][]model.EnergyView
}

func (p *pushSink) EmitToAll(event model.EventType, payload any) {}

func (p *pushSink) EmitToOne(id model.HandleID, event model.EventType, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event == model.EventEnergy {
		p.pushes[id] = append(p.pushes[id], payload.(model.EnergyView))
	}
}

func (p *pushSink) Close(id model.HandleID) {}

func (p *pushSink) count(id model.HandleID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes[id])
}

// slowStore blocks resource updates for one player until released
type slowStore struct {
	storage.PlayerStore
	username string
	fail     error
	release  chan struct{}
}

func (s *slowStore) UpdateResourceState(ctx context.Context, username string, update storage.ResourceUpdateFunc) error {
	if username == s.username {
		if s.release != nil {
			select {
			case <-s.release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if s.fail != nil {
			return s.fail
		}
	}
	return s.PlayerStore.UpdateResourceState(ctx, username, update)
}

type fakeReaper struct{ calls atomic.Int32 }

func (f *fakeReaper) ExpireIdle(ctx context.Context) int {
	f.calls.Add(1)
	return 0
}

type fakePruner struct{ calls atomic.Int32 }

func (f *fakePruner) PruneGate(now time.Time) int {
	f.calls.Add(1)
	return 0
}

type verifier map[string]model.Identity

func (v verifier) Verify(ctx context.Context, token string) (model.Identity, error) {
	if identity, ok := v[token]; ok {
		return identity, nil
	}
	return model.Identity{}, errors.New("unknown token")
}

type SweeperSuite struct {
	suite.Suite
	memory   *memory.Storage
	store    *slowStore
	clock    *mocks.MockClock
	registry *session.Registry
	sink     *pushSink
	reaper   *fakeReaper
	pruner   *fakePruner
	sweeper  *Sweeper
	ctx      context.Context
}

func TestSweeperSuite(t *testing.T) {
	suite.Run(t, new(SweeperSuite))
}

func (s *SweeperSuite) SetupTest() {
	logger := testutil.NopLogger()
	s.memory = memory.New()
	s.store = &slowStore{PlayerStore: s.memory}
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.registry = session.New(verifier{
		"alice-token": {Username: "alice", DisplayName: "Alice"},
		"bob-token":   {Username: "bob", DisplayName: "Bob"},
	}, s.clock, logger, session.DefaultConfig())
	s.sink = &pushSink{pushes: make(map[model.HandleID][]model.EnergyView)}
	s.reaper = &fakeReaper{}
	s.pruner = &fakePruner{}
	s.ctx = context.Background()

	energySvc := energy.NewService(energy.NewPool(energy.DefaultConfig()), s.store, s.clock, logger)
	cfg := DefaultConfig()
	cfg.IdentityTimeout = time.Second
	s.sweeper = New(s.registry, energySvc, s.reaper, s.pruner, s.sink, s.clock, logger, cfg)
}

func (s *SweeperSuite) connect(id model.HandleID, token string) {
	s.Require().NoError(s.registry.Attach(id))
	_, err := s.registry.Authenticate(s.ctx, id, token)
	s.Require().NoError(err)
}

func (s *SweeperSuite) setEnergy(username string, amount int) {
	s.Require().NoError(s.memory.SetResourceState(s.ctx, username, model.ResourceState{Amount: amount, LastUpdate: s.clock.Now()}))
}

func (s *SweeperSuite) TestPushesToEveryHandleOfRegeneratedIdentity() {
	s.connect("a1", "alice-token")
	s.connect("a2", "alice-token")
	s.connect("b1", "bob-token")
	s.setEnergy("alice", 50)
	s.setEnergy("bob", 100)

	s.clock.Advance(10 * time.Minute)
	s.True(s.sweeper.SweepOnce(s.ctx))

	s.Equal(1, s.sink.count("a1"))
	s.Equal(1, s.sink.count("a2"))
	s.Equal(0, s.sink.count("b1"), "full pool gains nothing")

	stored, err := s.memory.GetResourceState(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(52, stored.Amount)
}

func (s *SweeperSuite) TestNoPushWithoutRegeneration() {
	s.connect("a1", "alice-token")
	s.setEnergy("alice", 50)

	s.clock.Advance(time.Minute)
	s.sweeper.SweepOnce(s.ctx)
	s.Equal(0, s.sink.count("a1"))
}

func (s *SweeperSuite) TestSkipsUnauthenticatedAndClosed() {
	s.Require().NoError(s.registry.Attach("anon"))
	s.connect("a1", "alice-token")
	s.setEnergy("alice", 50)
	s.registry.Close("a1")

	s.clock.Advance(10 * time.Minute)
	s.sweeper.SweepOnce(s.ctx)

	s.Equal(0, s.sink.count("a1"))
	s.Equal(0, s.sink.count("anon"))
}

func (s *SweeperSuite) TestFailureForOneIdentityDoesNotStopOthers() {
	s.store.username = "alice"
	s.store.fail = errors.New("row locked")
	s.connect("a1", "alice-token")
	s.connect("b1", "bob-token")
	s.setEnergy("alice", 50)
	s.setEnergy("bob", 50)

	s.clock.Advance(10 * time.Minute)
	s.True(s.sweeper.SweepOnce(s.ctx))

	s.Equal(0, s.sink.count("a1"))
	s.Equal(1, s.sink.count("b1"))
}

func (s *SweeperSuite) TestSlowIdentityTimesOut() {
	s.store.username = "alice"
	s.store.release = make(chan struct{})
	defer close(s.store.release)
	s.connect("a1", "alice-token")
	s.connect("b1", "bob-token")
	s.setEnergy("bob", 50)

	s.clock.Advance(10 * time.Minute)
	done := make(chan struct{})
	go func() {
		s.sweeper.SweepOnce(s.ctx)
		close(done)
	}()

	s.Eventually(func() bool { return s.sink.count("b1") == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		s.Fail("sweep did not finish after identity timeout")
	}
}

func (s *SweeperSuite) TestOverlappingSweepIsSkipped() {
	s.store.username = "alice"
	s.store.release = make(chan struct{})
	s.connect("a1", "alice-token")

	done := make(chan bool)
	go func() { done <- s.sweeper.SweepOnce(s.ctx) }()

	s.Eventually(func() bool { return s.sweeper.running.Load() }, time.Second, time.Millisecond)
	s.False(s.sweeper.SweepOnce(s.ctx))

	close(s.store.release)
	s.True(<-done)
	s.True(s.sweeper.SweepOnce(s.ctx), "next tick runs once the previous one finished")
}

func (s *SweeperSuite) TestReap() {
	s.sweeper.Reap(s.ctx)
	s.Equal(int32(1), s.reaper.calls.Load())
	s.Equal(int32(1), s.pruner.calls.Load())
}

func (s *SweeperSuite) TestRunStopsOnCancel() {
	cfg := DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.ReapInterval = 5 * time.Millisecond
	s.sweeper.cfg = cfg

	ctx, cancel := context.WithCancel(s.ctx)
	stopped := make(chan struct{})
	go func() {
		s.sweeper.Run(ctx)
		close(stopped)
	}()

	s.Eventually(func() bool { return s.reaper.calls.Load() > 0 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		s.Fail("Run did not return after cancel")
	}
}
