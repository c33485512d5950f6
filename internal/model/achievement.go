package model

// AchievementID identifies an entry in the achievement catalog
type AchievementID string

// ConditionType selects which stat an achievement is measured against
type ConditionType string

const (
	ConditionTotalGames    ConditionType = "total_games"
	ConditionBestTime      ConditionType = "best_time"
	ConditionScore         ConditionType = "score"
	ConditionCurrentStreak ConditionType = "current_streak"
	ConditionTotalPlayTime ConditionType = "total_play_time"
	ConditionCreated       ConditionType = "created"
)

// AchievementDefinition is a static catalog entry; never mutated at runtime
type AchievementDefinition struct {
	ID          AchievementID `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Condition   ConditionType `json:"condition"`
	Threshold   int           `json:"threshold"`
}
