package model

// LeaderboardEntry is one row of the derived top-N projection
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
	Level       int    `json:"level"`
}
