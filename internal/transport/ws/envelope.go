package ws

import (
	"encoding/json"

	"github.com/mcoot/tilerush/internal/model"
)

// inboundEnvelope is a client frame; the payload is decoded by the dispatcher
type inboundEnvelope struct {
	Type    model.EventType `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outboundEnvelope is a server frame
type outboundEnvelope struct {
	Type    model.EventType `json:"type"`
	Payload any             `json:"payload"`
}

func encode(event model.EventType, payload any) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Type: event, Payload: payload})
}
