// Package storagetest holds the behaviour every PlayerStore implementation must share.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/storage"
)

// StoreSuite runs the player store contract against the store returned by NewStore.
// Embed it in a package-level suite and set NewStore in SetupTest.
type StoreSuite struct {
	suite.Suite
	NewStore func() storage.PlayerStore

	Store storage.PlayerStore
	Ctx   context.Context
	Now   time.Time
}

var (
	alice = model.Identity{Username: "alice", DisplayName: "Alice"}
	bob   = model.Identity{Username: "bob", DisplayName: "Bob"}
	carol = model.Identity{Username: "carol", DisplayName: "Carol"}
)

// SetupStore must be called from the embedding suite's SetupTest after NewStore is set
func (s *StoreSuite) SetupStore() {
	s.Store = s.NewStore()
	s.Ctx = context.Background()
	s.Now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// Stats tests

func (s *StoreSuite) TestGetStatsNotFound() {
	_, err := s.Store.GetStats(s.Ctx, "nobody")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *StoreSuite) TestUpsertScoreAndLevelOnlyRaises() {
	s.Require().NoError(s.Store.UpsertScoreAndLevel(s.Ctx, alice, 500, 3, s.Now))
	s.Require().NoError(s.Store.UpsertScoreAndLevel(s.Ctx, alice, 200, 1, s.Now.Add(time.Minute)))

	stats, err := s.Store.GetStats(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(500, stats.BestScore)
	s.Equal(3, stats.Level)
	s.Equal("Alice", stats.DisplayName)
}

func (s *StoreSuite) TestUpsertCreatesPlayer() {
	s.Require().NoError(s.Store.UpsertScoreAndLevel(s.Ctx, alice, 10, 1, s.Now))

	player, err := s.Store.FindPlayer(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal("Alice", player.DisplayName)
}

func (s *StoreSuite) TestUpdateGameStatsStreaks() {
	s.Require().NoError(s.Store.UpdateGameStats(s.Ctx, alice, 40, true))
	s.Require().NoError(s.Store.UpdateGameStats(s.Ctx, alice, 30, true))
	s.Require().NoError(s.Store.UpdateGameStats(s.Ctx, alice, 20, false))

	stats, err := s.Store.GetStats(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(3, stats.TotalGames)
	s.Equal(90, stats.TotalPlayTime)
	s.Equal(0, stats.CurrentStreak)
	s.Equal(2, stats.MaxStreak)
	s.Require().NotNil(stats.BestTime)
	s.Equal(30, *stats.BestTime)
}

// Leaderboard tests

func (s *StoreSuite) TestGetTopOrdersByScoreThenArrival() {
	s.Require().NoError(s.Store.UpsertScoreAndLevel(s.Ctx, bob, 300, 2, s.Now))
	s.Require().NoError(s.Store.UpsertScoreAndLevel(s.Ctx, alice, 900, 5, s.Now.Add(time.Second)))
	s.Require().NoError(s.Store.UpsertScoreAndLevel(s.Ctx, carol, 300, 2, s.Now.Add(2*time.Second)))

	top, err := s.Store.GetTop(s.Ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(top, 3)
	s.Equal("alice", top[0].Username)
	s.Equal("bob", top[1].Username)
	s.Equal("carol", top[2].Username)
}

func (s *StoreSuite) TestGetTopLimit() {
	s.Require().NoError(s.Store.UpsertScoreAndLevel(s.Ctx, alice, 100, 1, s.Now))
	s.Require().NoError(s.Store.UpsertScoreAndLevel(s.Ctx, bob, 200, 1, s.Now))
	s.Require().NoError(s.Store.UpsertScoreAndLevel(s.Ctx, carol, 300, 1, s.Now))

	top, err := s.Store.GetTop(s.Ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(top, 2)
	s.Equal("carol", top[0].Username)
	s.Equal(300, top[0].Score)
}

func (s *StoreSuite) TestGetTopEmpty() {
	top, err := s.Store.GetTop(s.Ctx, 10)
	s.Require().NoError(err)
	s.Empty(top)
}

// Energy tests

func (s *StoreSuite) TestResourceStateRoundTrip() {
	state := model.ResourceState{Amount: 42, LastUpdate: s.Now}
	s.Require().NoError(s.Store.SetResourceState(s.Ctx, "alice", state))

	got, err := s.Store.GetResourceState(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(42, got.Amount)
	s.True(state.LastUpdate.Equal(got.LastUpdate))
}

func (s *StoreSuite) TestResourceStateNotFound() {
	_, err := s.Store.GetResourceState(s.Ctx, "nobody")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *StoreSuite) TestUpdateResourceStateCreatesAndSkips() {
	var seen *model.ResourceState
	s.Require().NoError(s.Store.UpdateResourceState(s.Ctx, "alice", func(current *model.ResourceState) (model.ResourceState, bool) {
		seen = current
		return model.ResourceState{Amount: 100, LastUpdate: s.Now}, true
	}))
	s.Nil(seen)

	s.Require().NoError(s.Store.UpdateResourceState(s.Ctx, "alice", func(current *model.ResourceState) (model.ResourceState, bool) {
		return model.ResourceState{Amount: 1, LastUpdate: s.Now}, false
	}))

	got, err := s.Store.GetResourceState(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(100, got.Amount)
}

func (s *StoreSuite) TestUpdateResourceStateSerializesWriters() {
	s.Require().NoError(s.Store.SetResourceState(s.Ctx, "alice", model.ResourceState{Amount: 50, LastUpdate: s.Now}))

	var once sync.Once
	read := make(chan struct{})
	release := make(chan struct{})

	// The first writer parks after its read; the second writer must not be lost
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.Store.UpdateResourceState(s.Ctx, "alice", func(current *model.ResourceState) (model.ResourceState, bool) {
			first := false
			once.Do(func() { first = true })
			if first {
				close(read)
				<-release
			}
			return model.ResourceState{Amount: current.Amount + 1, LastUpdate: current.LastUpdate}, true
		})
	}()
	<-read

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- s.Store.UpdateResourceState(s.Ctx, "alice", func(current *model.ResourceState) (model.ResourceState, bool) {
			return model.ResourceState{Amount: current.Amount - 10, LastUpdate: current.LastUpdate}, true
		})
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	s.Require().NoError(<-firstDone)
	s.Require().NoError(<-secondDone)

	got, err := s.Store.GetResourceState(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(41, got.Amount)
}

// Achievement tests

func (s *StoreSuite) TestUnlockAchievementIsIdempotent() {
	s.Require().NoError(s.Store.UpdateGameStats(s.Ctx, alice, 10, true))

	added, err := s.Store.UnlockAchievement(s.Ctx, "alice", "first_game")
	s.Require().NoError(err)
	s.True(added)

	added, err = s.Store.UnlockAchievement(s.Ctx, "alice", "first_game")
	s.Require().NoError(err)
	s.False(added)

	ids, err := s.Store.ListAchievements(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal([]model.AchievementID{"first_game"}, ids)
}

func (s *StoreSuite) TestEnsurePlayerStaysOffLeaderboard() {
	s.Require().NoError(s.Store.EnsurePlayer(s.Ctx, alice))
	s.Require().NoError(s.Store.EnsurePlayer(s.Ctx, model.Identity{Username: "alice", DisplayName: "Renamed"}))

	player, err := s.Store.FindPlayer(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal("Alice", player.DisplayName)

	added, err := s.Store.UnlockAchievement(s.Ctx, "alice", "welcome")
	s.Require().NoError(err)
	s.True(added)

	ids, err := s.Store.ListAchievements(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal([]model.AchievementID{"welcome"}, ids)

	_, err = s.Store.GetStats(s.Ctx, "alice")
	s.ErrorIs(err, model.ErrPlayerNotFound)

	top, err := s.Store.GetTop(s.Ctx, 10)
	s.Require().NoError(err)
	s.Empty(top)
}

func (s *StoreSuite) TestAchievementsBeforeFirstGameSurviveIt() {
	s.Require().NoError(s.Store.EnsurePlayer(s.Ctx, alice))
	_, err := s.Store.UnlockAchievement(s.Ctx, "alice", "welcome")
	s.Require().NoError(err)

	s.Require().NoError(s.Store.UpdateGameStats(s.Ctx, alice, 40, true))

	stats, err := s.Store.GetStats(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(1, stats.TotalGames)
	s.Equal([]model.AchievementID{"welcome"}, stats.Achievements)
}

func (s *StoreSuite) TestListAchievementsEmpty() {
	ids, err := s.Store.ListAchievements(s.Ctx, "nobody")
	s.Require().NoError(err)
	s.Empty(ids)
}

// Commit tests

func (s *StoreSuite) TestCommitGameAppliesResultAndUnlocks() {
	committer, ok := s.Store.(storage.AtomicCommitter)
	if !ok {
		s.T().Skip("store does not commit atomically")
	}

	evaluate := func(stats model.PlayerStats) []model.AchievementID {
		if stats.TotalGames >= 1 {
			return []model.AchievementID{"first_game"}
		}
		return nil
	}

	result := model.GameResult{Score: 800, Level: 4, ElapsedTime: 50, Won: true}
	stats, unlocked, err := committer.CommitGame(s.Ctx, alice, result, s.Now, evaluate)
	s.Require().NoError(err)
	s.Equal(800, stats.BestScore)
	s.Equal(1, stats.TotalGames)
	s.Equal([]model.AchievementID{"first_game"}, unlocked)

	// Second commit re-evaluates but must not report the unlock again
	stats, unlocked, err = committer.CommitGame(s.Ctx, alice, result, s.Now.Add(time.Minute), evaluate)
	s.Require().NoError(err)
	s.Equal(2, stats.TotalGames)
	s.Empty(unlocked)

	persisted, err := s.Store.GetStats(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(2, persisted.MaxStreak)
	s.ElementsMatch([]model.AchievementID{"first_game"}, persisted.Achievements)
}

func (s *StoreSuite) TestPing() {
	s.NoError(s.Store.Ping(s.Ctx))
}
