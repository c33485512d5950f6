package model

import "time"

// ResourceState is the durable energy record for one player.
// Amount is always within [0, cap]; regeneration is computed lazily from LastUpdate.
type ResourceState struct {
	Amount     int       `json:"amount"`
	LastUpdate time.Time `json:"last_update"`
}
