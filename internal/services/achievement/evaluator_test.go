package achievement

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/tilerush/internal/model"
)

type EvaluatorSuite struct {
	suite.Suite
	veteran []model.AchievementDefinition
}

func TestEvaluatorSuite(t *testing.T) {
	suite.Run(t, new(EvaluatorSuite))
}

func (s *EvaluatorSuite) SetupTest() {
	s.veteran = []model.AchievementDefinition{
		{ID: "veteran", Condition: model.ConditionTotalGames, Threshold: 10},
	}
}

func intPtr(v int) *int { return &v }

// Evaluate tests

func (s *EvaluatorSuite) TestVeteranUnlocksAtThreshold() {
	got := Evaluate(s.veteran, model.PlayerStats{TotalGames: 10}, nil)
	s.Equal([]model.AchievementID{"veteran"}, got)
}

func (s *EvaluatorSuite) TestAlreadyUnlockedIsSkipped() {
	got := Evaluate(s.veteran, model.PlayerStats{TotalGames: 10}, []model.AchievementID{"veteran"})
	s.Empty(got)
}

func (s *EvaluatorSuite) TestBelowThreshold() {
	got := Evaluate(s.veteran, model.PlayerStats{TotalGames: 9}, nil)
	s.Empty(got)
}

func (s *EvaluatorSuite) TestEvaluateIsIdempotent() {
	stats := model.PlayerStats{TotalGames: 12, BestScore: 1500, BestTime: intPtr(45)}
	catalog := DefaultCatalog()

	first := Evaluate(catalog, stats, nil)
	second := Evaluate(catalog, stats, first)

	s.NotEmpty(first)
	s.Empty(second)
}

func (s *EvaluatorSuite) TestDuplicateCatalogEntriesReportedOnce() {
	catalog := append(s.veteran, s.veteran...)
	got := Evaluate(catalog, model.PlayerStats{TotalGames: 10}, nil)
	s.Equal([]model.AchievementID{"veteran"}, got)
}

func (s *EvaluatorSuite) TestDefaultCatalogForFreshPlayer() {
	got := Evaluate(DefaultCatalog(), model.PlayerStats{}, nil)
	s.Equal([]model.AchievementID{"welcome"}, got)
}

func (s *EvaluatorSuite) TestDefaultCatalogForSeasonedPlayer() {
	stats := model.PlayerStats{
		TotalGames:    10,
		BestScore:     1200,
		CurrentStreak: 5,
		TotalPlayTime: 3600,
		BestTime:      intPtr(25),
	}

	got := Evaluate(DefaultCatalog(), stats, []model.AchievementID{"welcome"})

	s.ElementsMatch([]model.AchievementID{
		"first_game", "veteran", "high_scorer", "speed_demon", "lightning", "on_fire", "marathon",
	}, got)
}

// Satisfied tests

func (s *EvaluatorSuite) TestBestTimeIsLowerOrEqual() {
	def := model.AchievementDefinition{ID: "speed_demon", Condition: model.ConditionBestTime, Threshold: 60}

	s.True(Satisfied(def, model.PlayerStats{BestTime: intPtr(60)}))
	s.True(Satisfied(def, model.PlayerStats{BestTime: intPtr(10)}))
	s.False(Satisfied(def, model.PlayerStats{BestTime: intPtr(61)}))
	s.False(Satisfied(def, model.PlayerStats{}), "no win yet")
}

func (s *EvaluatorSuite) TestCreatedAlwaysSatisfied() {
	def := model.AchievementDefinition{ID: "welcome", Condition: model.ConditionCreated}
	s.True(Satisfied(def, model.PlayerStats{}))
}

func (s *EvaluatorSuite) TestUnknownConditionNeverSatisfied() {
	def := model.AchievementDefinition{ID: "mystery", Condition: "mystery", Threshold: 0}
	s.False(Satisfied(def, model.PlayerStats{TotalGames: 100}))
}

// Progress tests

func (s *EvaluatorSuite) TestProgressForCounters() {
	def := model.AchievementDefinition{Condition: model.ConditionTotalGames, Threshold: 10}

	s.InDelta(0.0, Progress(def, model.PlayerStats{}), 1e-9)
	s.InDelta(0.3, Progress(def, model.PlayerStats{TotalGames: 3}), 1e-9)
	s.InDelta(1.0, Progress(def, model.PlayerStats{TotalGames: 25}), 1e-9)
}

func (s *EvaluatorSuite) TestProgressForBestTime() {
	def := model.AchievementDefinition{Condition: model.ConditionBestTime, Threshold: 30}

	s.InDelta(0.0, Progress(def, model.PlayerStats{}), 1e-9)
	s.InDelta(0.5, Progress(def, model.PlayerStats{BestTime: intPtr(60)}), 1e-9)
	s.InDelta(1.0, Progress(def, model.PlayerStats{BestTime: intPtr(30)}), 1e-9)
}

// Catalog tests

func (s *EvaluatorSuite) TestDefaultCatalogIsACopy() {
	catalog := DefaultCatalog()
	catalog[0].Name = "changed"
	s.NotEqual("changed", DefaultCatalog()[0].Name)
}

func (s *EvaluatorSuite) TestDefinitionsSkipsUnknown() {
	defs := Definitions(DefaultCatalog(), []model.AchievementID{"veteran", "nope"})
	s.Require().Len(defs, 1)
	s.Equal("Veteran", defs[0].Name)
}
