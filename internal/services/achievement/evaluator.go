// Package achievement evaluates the fixed achievement catalog against stat snapshots.
// Everything here is pure; persistence belongs to the ledger.
package achievement

import "github.com/mcoot/tilerush/internal/model"

// Evaluate returns every catalog entry satisfied by stats and not in unlocked
func Evaluate(catalog []model.AchievementDefinition, stats model.PlayerStats, unlocked []model.AchievementID) []model.AchievementID {
	have := make(map[model.AchievementID]struct{}, len(unlocked))
	for _, id := range unlocked {
		have[id] = struct{}{}
	}

	var satisfied []model.AchievementID
	for _, def := range catalog {
		if _, ok := have[def.ID]; ok {
			continue
		}
		if Satisfied(def, stats) {
			satisfied = append(satisfied, def.ID)
			// Guard against duplicate ids in the catalog
			have[def.ID] = struct{}{}
		}
	}
	return satisfied
}

// Satisfied reports whether stats meet a single definition
func Satisfied(def model.AchievementDefinition, stats model.PlayerStats) bool {
	switch def.Condition {
	case model.ConditionCreated:
		return true
	case model.ConditionBestTime:
		return stats.BestTime != nil && *stats.BestTime <= def.Threshold
	default:
		value, ok := measure(def.Condition, stats)
		return ok && value >= def.Threshold
	}
}

// Progress returns how close stats are to def, in [0, 1]
func Progress(def model.AchievementDefinition, stats model.PlayerStats) float64 {
	if Satisfied(def, stats) {
		return 1
	}
	switch def.Condition {
	case model.ConditionBestTime:
		// Lower is better: no win yet means no progress
		if stats.BestTime == nil || *stats.BestTime <= 0 {
			return 0
		}
		return clampUnit(float64(def.Threshold) / float64(*stats.BestTime))
	default:
		value, ok := measure(def.Condition, stats)
		if !ok || def.Threshold <= 0 {
			return 0
		}
		return clampUnit(float64(value) / float64(def.Threshold))
	}
}

func measure(cond model.ConditionType, stats model.PlayerStats) (int, bool) {
	switch cond {
	case model.ConditionTotalGames:
		return stats.TotalGames, true
	case model.ConditionScore:
		return stats.BestScore, true
	case model.ConditionCurrentStreak:
		return stats.CurrentStreak, true
	case model.ConditionTotalPlayTime:
		return stats.TotalPlayTime, true
	default:
		return 0, false
	}
}

func clampUnit(v float64) float64 {
	return max(0, min(1, v))
}
