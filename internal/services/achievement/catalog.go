package achievement

import "github.com/mcoot/tilerush/internal/model"

var defaultCatalog = []model.AchievementDefinition{
	{ID: "welcome", Name: "Welcome", Description: "Join the game", Condition: model.ConditionCreated},
	{ID: "first_game", Name: "First Steps", Description: "Finish your first game", Condition: model.ConditionTotalGames, Threshold: 1},
	{ID: "veteran", Name: "Veteran", Description: "Finish 10 games", Condition: model.ConditionTotalGames, Threshold: 10},
	{ID: "centurion", Name: "Centurion", Description: "Finish 100 games", Condition: model.ConditionTotalGames, Threshold: 100},
	{ID: "high_scorer", Name: "High Scorer", Description: "Score 1,000 points in one game", Condition: model.ConditionScore, Threshold: 1000},
	{ID: "score_master", Name: "Score Master", Description: "Score 10,000 points in one game", Condition: model.ConditionScore, Threshold: 10000},
	{ID: "speed_demon", Name: "Speed Demon", Description: "Win a game in 60 seconds or less", Condition: model.ConditionBestTime, Threshold: 60},
	{ID: "lightning", Name: "Lightning", Description: "Win a game in 30 seconds or less", Condition: model.ConditionBestTime, Threshold: 30},
	{ID: "on_fire", Name: "On Fire", Description: "Win 5 games in a row", Condition: model.ConditionCurrentStreak, Threshold: 5},
	{ID: "unstoppable", Name: "Unstoppable", Description: "Win 10 games in a row", Condition: model.ConditionCurrentStreak, Threshold: 10},
	{ID: "marathon", Name: "Marathon", Description: "Play for an hour in total", Condition: model.ConditionTotalPlayTime, Threshold: 3600},
}

// DefaultCatalog returns a copy of the built-in achievement catalog
func DefaultCatalog() []model.AchievementDefinition {
	return append([]model.AchievementDefinition(nil), defaultCatalog...)
}

// Lookup finds a definition by id
func Lookup(catalog []model.AchievementDefinition, id model.AchievementID) (model.AchievementDefinition, bool) {
	for _, def := range catalog {
		if def.ID == id {
			return def, true
		}
	}
	return model.AchievementDefinition{}, false
}

// Definitions resolves ids against the catalog, skipping unknown ids
func Definitions(catalog []model.AchievementDefinition, ids []model.AchievementID) []model.AchievementDefinition {
	defs := make([]model.AchievementDefinition, 0, len(ids))
	for _, id := range ids {
		if def, ok := Lookup(catalog, id); ok {
			defs = append(defs, def)
		}
	}
	return defs
}
