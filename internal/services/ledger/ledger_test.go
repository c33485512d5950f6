package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/tilerush/internal/dependencies/mocks"
	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/services/achievement"
	"github.com/mcoot/tilerush/internal/services/leaderboard"
	"github.com/mcoot/tilerush/internal/storage"
	"github.com/mcoot/tilerush/internal/storage/memory"
	"github.com/mcoot/tilerush/internal/testutil"
)

type noSessions struct{}

func (noSessions) Count() int { return 0 }

// staleStore never reflects writes in its reads
type staleStore struct {
	storage.PlayerStore
}

func (staleStore) GetStats(ctx context.Context, username string) (*model.PlayerStats, error) {
	return &model.PlayerStats{Username: username}, nil
}

type LedgerSuite struct {
	suite.Suite
	memory *memory.Storage
	clock  *mocks.MockClock
	board  *leaderboard.Cache
	ledger *Ledger
	ctx    context.Context
	alice  model.Identity
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.memory = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.ctx = context.Background()
	s.alice = model.Identity{Username: "alice", DisplayName: "Alice"}
	s.ledger = s.newLedger(s.memory, DefaultConfig())
}

func (s *LedgerSuite) newLedger(store storage.PlayerStore, cfg Config) *Ledger {
	s.board = leaderboard.New(store, noSessions{}, s.clock, testutil.NopLogger(), leaderboard.DefaultConfig())
	return New(store, s.board, achievement.DefaultCatalog(), s.clock, testutil.NopLogger(), cfg)
}

// submit advances past the gate before each submission
func (s *LedgerSuite) submit(r model.GameResult) (*Result, error) {
	s.clock.Advance(6 * time.Second)
	return s.ledger.Submit(s.ctx, s.alice, r)
}

// Validation tests

func (s *LedgerSuite) TestRejectsOutOfRange() {
	cases := []struct {
		name   string
		result model.GameResult
		field  string
	}{
		{"negative score", model.GameResult{Score: -1, Level: 1}, "score"},
		{"score too high", model.GameResult{Score: 1_000_001, Level: 1000}, "score"},
		{"negative elapsed", model.GameResult{Level: 1, ElapsedTime: -1}, "elapsed_time"},
		{"elapsed too long", model.GameResult{Level: 1, ElapsedTime: 3601}, "elapsed_time"},
		{"level zero", model.GameResult{Level: 0}, "level"},
		{"level too high", model.GameResult{Level: 1001}, "level"},
	}
	for _, tc := range cases {
		_, err := s.submit(tc.result)
		var ve *model.ValidationError
		s.Require().ErrorAs(err, &ve, tc.name)
		s.Equal(tc.field, ve.Field, tc.name)
		s.ErrorIs(err, model.ErrValidation, tc.name)
	}

	_, err := s.memory.GetStats(s.ctx, "alice")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *LedgerSuite) TestAcceptsBoundaries() {
	_, err := s.submit(model.GameResult{Score: 0, Level: 1, ElapsedTime: 0})
	s.NoError(err)
	_, err = s.submit(model.GameResult{Score: 150_500, Level: 1000, ElapsedTime: 3600})
	s.NoError(err)
}

// Plausibility tests

func (s *LedgerSuite) TestImplausibleScoreRejected() {
	_, err := s.submit(model.GameResult{Score: 100000, Level: 5, ElapsedTime: 30, Won: true})
	s.ErrorIs(err, model.ErrImplausibleScore)
	s.ErrorIs(err, model.ErrValidation)

	_, err = s.memory.GetStats(s.ctx, "alice")
	s.ErrorIs(err, model.ErrPlayerNotFound, "stats unchanged")
}

func (s *LedgerSuite) TestCeilingIsInclusive() {
	res, err := s.submit(model.GameResult{Score: 1250, Level: 5, ElapsedTime: 30, Won: true})
	s.Require().NoError(err)
	s.Equal(1250, res.Stats.BestScore)
}

func (s *LedgerSuite) TestLogPolicyAllowsImplausible() {
	cfg := DefaultConfig()
	cfg.Policy = PlausibilityLog
	s.ledger = s.newLedger(s.memory, cfg)

	res, err := s.submit(model.GameResult{Score: 100000, Level: 5, ElapsedTime: 30, Won: true})
	s.Require().NoError(err)
	s.Equal(100000, res.Stats.BestScore)
}

func (s *LedgerSuite) TestParsePlausibilityPolicy() {
	p, err := ParsePlausibilityPolicy("")
	s.Require().NoError(err)
	s.Equal(PlausibilityReject, p)

	p, err = ParsePlausibilityPolicy(" LOG ")
	s.Require().NoError(err)
	s.Equal(PlausibilityLog, p)

	_, err = ParsePlausibilityPolicy("ignore")
	s.Error(err)
}

// Gate tests

func (s *LedgerSuite) TestSubmitTooSoon() {
	_, err := s.submit(model.GameResult{Score: 100, Level: 1, ElapsedTime: 20, Won: true})
	s.Require().NoError(err)

	s.clock.Advance(4 * time.Second)
	_, err = s.ledger.Submit(s.ctx, s.alice, model.GameResult{Score: 200, Level: 1, ElapsedTime: 20, Won: true})
	s.ErrorIs(err, model.ErrSubmitTooSoon)
	s.ErrorIs(err, model.ErrRateLimited)

	s.clock.Advance(time.Second)
	_, err = s.ledger.Submit(s.ctx, s.alice, model.GameResult{Score: 200, Level: 1, ElapsedTime: 20, Won: true})
	s.NoError(err)
}

func (s *LedgerSuite) TestGateIsPerIdentity() {
	_, err := s.ledger.Submit(s.ctx, s.alice, model.GameResult{Score: 100, Level: 1})
	s.Require().NoError(err)

	bob := model.Identity{Username: "bob", DisplayName: "Bob"}
	_, err = s.ledger.Submit(s.ctx, bob, model.GameResult{Score: 100, Level: 1})
	s.NoError(err)
}

func (s *LedgerSuite) TestRejectedSubmissionDoesNotArmGate() {
	_, err := s.ledger.Submit(s.ctx, s.alice, model.GameResult{Score: 100000, Level: 5})
	s.Require().Error(err)

	_, err = s.ledger.Submit(s.ctx, s.alice, model.GameResult{Score: 100, Level: 1})
	s.NoError(err)
}

func (s *LedgerSuite) TestFailedCommitReleasesGate() {
	store := testutil.NewRecordingStore(s.memory)
	s.ledger = s.newLedger(store, DefaultConfig())

	store.FailOn("UpdateGameStats", errors.New("disk full"))
	_, err := s.ledger.Submit(s.ctx, s.alice, model.GameResult{Score: 100, Level: 1})
	s.ErrorIs(err, model.ErrStorage)

	store.FailOn("UpdateGameStats", nil)
	_, err = s.ledger.Submit(s.ctx, s.alice, model.GameResult{Score: 100, Level: 1})
	s.NoError(err)
}

func (s *LedgerSuite) TestPruneGate() {
	_, err := s.ledger.Submit(s.ctx, s.alice, model.GameResult{Score: 100, Level: 1})
	s.Require().NoError(err)

	s.Equal(0, s.ledger.PruneGate(s.clock.Now().Add(4*time.Second)))
	s.Equal(1, s.ledger.PruneGate(s.clock.Now().Add(5*time.Second)))
}

// Commit tests

func (s *LedgerSuite) TestStreakScenario() {
	res, err := s.submit(model.GameResult{Score: 100, Level: 1, ElapsedTime: 40, Won: true})
	s.Require().NoError(err)
	s.Equal(1, res.Stats.CurrentStreak)
	s.Equal(1, res.Stats.MaxStreak)

	res, err = s.submit(model.GameResult{Score: 100, Level: 1, ElapsedTime: 40, Won: true})
	s.Require().NoError(err)
	s.Equal(2, res.Stats.CurrentStreak)
	s.Equal(2, res.Stats.MaxStreak)

	res, err = s.submit(model.GameResult{Score: 100, Level: 1, ElapsedTime: 40, Won: false})
	s.Require().NoError(err)
	s.Equal(0, res.Stats.CurrentStreak)
	s.Equal(2, res.Stats.MaxStreak)
}

func (s *LedgerSuite) TestScoreMonotonicity() {
	results := []model.GameResult{
		{Score: 500, Level: 3, ElapsedTime: 50, Won: true},
		{Score: 100, Level: 1, ElapsedTime: 90, Won: true},
		{Score: 900, Level: 5, ElapsedTime: 70, Won: false},
		{Score: 0, Level: 2, ElapsedTime: 10, Won: true},
		{Score: 300, Level: 1, ElapsedTime: 200, Won: true},
	}

	var prev model.PlayerStats
	for i, r := range results {
		res, err := s.submit(r)
		s.Require().NoError(err, "submission %d", i)
		got := res.Stats

		s.GreaterOrEqual(got.BestScore, prev.BestScore)
		s.GreaterOrEqual(got.Level, prev.Level)
		s.GreaterOrEqual(got.MaxStreak, prev.MaxStreak)
		if prev.BestTime != nil {
			s.Require().NotNil(got.BestTime)
			s.LessOrEqual(*got.BestTime, *prev.BestTime)
		}
		prev = got
	}
	s.Equal(900, prev.BestScore)
	s.Equal(5, prev.Level)
	s.Equal(10, *prev.BestTime)
	s.Equal(5, prev.TotalGames)
	s.Equal(420, prev.TotalPlayTime)
}

func (s *LedgerSuite) TestFirstSubmissionUnlocks() {
	res, err := s.submit(model.GameResult{Score: 1200, Level: 5, ElapsedTime: 25, Won: true})
	s.Require().NoError(err)

	s.ElementsMatch([]model.AchievementID{"welcome", "first_game", "high_scorer", "speed_demon", "lightning"}, res.UnlockedIDs())
	s.Equal("Welcome", res.Unlocked[0].Name)

	res, err = s.submit(model.GameResult{Score: 1200, Level: 5, ElapsedTime: 25, Won: true})
	s.Require().NoError(err)
	s.Empty(res.Unlocked, "unlocks are reported once")

	ids, err := s.memory.ListAchievements(s.ctx, "alice")
	s.Require().NoError(err)
	s.Len(ids, 5)
}

func (s *LedgerSuite) TestCommitRefreshesLeaderboard() {
	_, err := s.board.Get(s.ctx, false)
	s.Require().NoError(err)

	res, err := s.submit(model.GameResult{Score: 800, Level: 4, ElapsedTime: 30, Won: true})
	s.Require().NoError(err)
	s.Require().Len(res.Leaderboard.Entries, 1)
	s.Equal("alice", res.Leaderboard.Entries[0].Username)
	s.Equal(800, res.Leaderboard.Entries[0].Score)
}

func (s *LedgerSuite) TestStats() {
	stats, err := s.ledger.Stats(s.ctx, s.alice)
	s.Require().NoError(err)
	s.Equal("Alice", stats.DisplayName)
	s.Equal(0, stats.TotalGames)
}

// Non-atomic store tests

func (s *LedgerSuite) TestPrimitivePathCommitsAndVerifies() {
	store := testutil.NewRecordingStore(s.memory)
	s.ledger = s.newLedger(store, DefaultConfig())

	res, err := s.submit(model.GameResult{Score: 800, Level: 4, ElapsedTime: 30, Won: true})
	s.Require().NoError(err)
	s.Equal(800, res.Stats.BestScore)
	s.Contains(res.UnlockedIDs(), model.AchievementID("first_game"))

	s.Equal(1, store.Calls("UpsertScoreAndLevel"))
	s.Equal(1, store.Calls("UpdateGameStats"))
	s.GreaterOrEqual(store.Calls("GetStats"), 2, "re-fetched after commit")

	persisted, err := s.memory.GetStats(s.ctx, "alice")
	s.Require().NoError(err)
	s.Contains(persisted.Achievements, model.AchievementID("first_game"))
}

func (s *LedgerSuite) TestPrimitivePathDetectsLostWrite() {
	s.ledger = s.newLedger(staleStore{PlayerStore: s.memory}, DefaultConfig())

	_, err := s.submit(model.GameResult{Score: 800, Level: 4, ElapsedTime: 30, Won: true})
	s.ErrorIs(err, model.ErrCommitUnverified)

	ids, _ := s.memory.ListAchievements(s.ctx, "alice")
	s.Empty(ids, "no unlocks after a failed verification")
}

func (s *LedgerSuite) TestUnlockFailureIsStorageError() {
	store := testutil.NewRecordingStore(s.memory)
	s.ledger = s.newLedger(store, DefaultConfig())
	store.FailOn("UnlockAchievement", errors.New("timeout"))

	_, err := s.submit(model.GameResult{Score: 100, Level: 1, ElapsedTime: 30, Won: true})
	s.ErrorIs(err, model.ErrStorage)
}

// Join tests

func (s *LedgerSuite) TestWelcomeUnlocksCreatedAchievementsOnce() {
	store := testutil.NewRecordingStore(s.memory)
	s.ledger = s.newLedger(store, DefaultConfig())

	stats, err := s.ledger.Stats(s.ctx, s.alice)
	s.Require().NoError(err)
	unlocked, err := s.ledger.Welcome(s.ctx, s.alice, stats)
	s.Require().NoError(err)
	s.Require().Len(unlocked, 1)
	s.Equal(model.AchievementID("welcome"), unlocked[0].ID)

	stats, err = s.ledger.Stats(s.ctx, s.alice)
	s.Require().NoError(err)
	s.Equal([]model.AchievementID{"welcome"}, stats.Achievements)
	s.Equal(0, stats.TotalGames)

	calls := store.TotalCalls()
	unlocked, err = s.ledger.Welcome(s.ctx, s.alice, stats)
	s.Require().NoError(err)
	s.Empty(unlocked)
	s.Equal(calls, store.TotalCalls(), "no store calls once welcomed")
}

func (s *LedgerSuite) TestSubmitAfterWelcomeDoesNotRepeatIt() {
	stats, err := s.ledger.Stats(s.ctx, s.alice)
	s.Require().NoError(err)
	_, err = s.ledger.Welcome(s.ctx, s.alice, stats)
	s.Require().NoError(err)

	res, err := s.submit(model.GameResult{Score: 100, Level: 1, ElapsedTime: 90, Won: false})
	s.Require().NoError(err)
	s.Equal([]model.AchievementID{"first_game"}, res.UnlockedIDs())
	s.ElementsMatch([]model.AchievementID{"welcome", "first_game"}, res.Stats.Achievements)
}

func (s *LedgerSuite) TestWelcomeStorageFailureIsWrapped() {
	store := testutil.NewRecordingStore(s.memory)
	store.FailOn("EnsurePlayer", errors.New("connection reset"))
	s.ledger = s.newLedger(store, DefaultConfig())

	_, err := s.ledger.Welcome(s.ctx, s.alice, model.NewPlayerStats(s.alice))
	s.ErrorIs(err, model.ErrStorage)
}
