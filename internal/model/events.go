package model

import "time"

// EventType names an inbound or outbound session event
type EventType string

const (
	// Inbound events
	EventJoin        EventType = "join"
	EventSubmitScore EventType = "submit_score"
	EventSpendEnergy EventType = "spend_energy"
	EventChat        EventType = "chat"
	EventHeartbeat   EventType = "heartbeat"

	// Outbound events, sent to one session
	EventSync        EventType = "sync"
	EventEnergy      EventType = "energy"
	EventScoreResult EventType = "score_result"
	EventRejected    EventType = "rejected"

	// Outbound events, broadcast to every session
	EventLeaderboard EventType = "leaderboard"
	EventScorePosted EventType = "score_posted"
	EventChatMessage EventType = "chat"
)

// IsMutating reports whether an inbound event changes state and must pass the auth gate
func (t EventType) IsMutating() bool {
	switch t {
	case EventSubmitScore, EventSpendEnergy, EventChat:
		return true
	default:
		return false
	}
}

// JoinPayload authenticates a connection
type JoinPayload struct {
	Token string `json:"token"`
}

// SubmitScorePayload reports a finished game. Pointers distinguish missing fields.
type SubmitScorePayload struct {
	Score       *int  `json:"score"`
	Level       *int  `json:"level"`
	ElapsedTime *int  `json:"elapsed_time"`
	Won         *bool `json:"won"`
}

// SpendEnergyPayload requests energy to start a game
type SpendEnergyPayload struct {
	Cost int `json:"cost"`
}

// ChatPayload is a chat message from a client
type ChatPayload struct {
	Message string `json:"message"`
}

// HeartbeatPayload carries the client's send time in unix millis
type HeartbeatPayload struct {
	SentAt int64 `json:"sent_at"`
}

// EnergyView is the energy status pushed to a client
type EnergyView struct {
	Amount               int  `json:"amount"`
	Cap                  int  `json:"cap"`
	UnitsAdded           int  `json:"units_added"`
	SecondsUntilNextUnit int  `json:"seconds_until_next_unit"`
	Spent                int  `json:"spent,omitempty"`
	OK                   bool `json:"ok"`
}

// SyncPayload is the initial state pushed after a successful join
type SyncPayload struct {
	Username    string             `json:"username"`
	DisplayName string             `json:"display_name"`
	Energy      EnergyView         `json:"energy"`
	Stats       PlayerStats        `json:"stats"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	// Unlocked lists achievements awarded by this join
	Unlocked []AchievementDefinition `json:"unlocked,omitempty"`
}

// ScoreResultPayload is sent to the submitter after a commit
type ScoreResultPayload struct {
	Stats    PlayerStats             `json:"stats"`
	Unlocked []AchievementDefinition `json:"unlocked"`
}

// ScorePostedPayload is broadcast after a commit
type ScorePostedPayload struct {
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name"`
	Score       int             `json:"score"`
	Level       int             `json:"level"`
	Unlocked    []AchievementID `json:"unlocked,omitempty"`
}

// LeaderboardPayload is the broadcast leaderboard view
type LeaderboardPayload struct {
	Entries  []LeaderboardEntry `json:"entries"`
	CachedAt time.Time          `json:"cached_at"`
	Stale    bool               `json:"stale,omitempty"`
}

// ChatMessagePayload is a broadcast chat line
type ChatMessagePayload struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Message     string    `json:"message"`
	SentAt      time.Time `json:"sent_at"`
}

// RejectedPayload tells a client why an event was refused
type RejectedPayload struct {
	Event        EventType `json:"event"`
	Reason       string    `json:"reason"`
	RetryAfterMS int64     `json:"retry_after_ms,omitempty"`
}

// HeartbeatAckPayload answers a heartbeat
type HeartbeatAckPayload struct {
	ServerTime int64 `json:"server_time"`
	ClientTime int64 `json:"client_time"`
}
