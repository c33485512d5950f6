package transport

import (
	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/services/dispatch"
)

// Publisher receives broadcast events only
type Publisher interface {
	Publish(event model.EventType, payload any)
}

// Fanout delivers to player sessions and mirrors broadcasts to spectators
type Fanout struct {
	sessions   dispatch.Sink
	spectators []Publisher
}

var _ dispatch.Sink = (*Fanout)(nil)

// NewFanout creates a sink over the session transport and any spectator feeds
func NewFanout(sessions dispatch.Sink, spectators ...Publisher) *Fanout {
	return &Fanout{sessions: sessions, spectators: spectators}
}

func (f *Fanout) EmitToAll(event model.EventType, payload any) {
	f.sessions.EmitToAll(event, payload)
	for _, p := range f.spectators {
		p.Publish(event, payload)
	}
}

func (f *Fanout) EmitToOne(id model.HandleID, event model.EventType, payload any) {
	f.sessions.EmitToOne(id, event, payload)
}

func (f *Fanout) Close(id model.HandleID) {
	f.sessions.Close(id)
}
