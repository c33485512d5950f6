package dispatch

import "github.com/mcoot/tilerush/internal/model"

// Sink delivers outbound events. Implementations must not block the caller on
// a slow connection and must ignore handles they do not know.
type Sink interface {
	EmitToAll(event model.EventType, payload any)
	EmitToOne(id model.HandleID, event model.EventType, payload any)
	// Close tears down the connection behind id
	Close(id model.HandleID)
}
