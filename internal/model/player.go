package model

import "time"

// HandleID identifies a single live connection
type HandleID string

// Identity is a registered player as presented by a verified credential.
// It is immutable for the lifetime of a session.
type Identity struct {
	Username    string
	DisplayName string
}

// Player is the durable player record, keyed by username
type Player struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}
