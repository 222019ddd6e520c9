package realtime

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// Envelope is the wire frame for every server-to-client event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Publisher is what domain code needs from the router.
type Publisher interface {
	Publish(room RoomKey, event string, payload any)
}

// Router fans events out to room members. It holds no membership state of
// its own; the registry is consulted on every publish.
type Router struct {
	registry *Registry
	log      zerolog.Logger
}

func NewRouter(registry *Registry, log zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		log:      log.With().Str("component", "router").Logger(),
	}
}

func (r *Router) Registry() *Registry {
	return r.registry
}

// Publish encodes the event once and enqueues it on every connection in the
// room at the time of the call. Delivery is best effort: full or closed
// queues drop the frame and nothing is reported back.
func (r *Router) Publish(room RoomKey, event string, payload any) {
	if !room.Valid() {
		r.log.Warn().Str("room", string(room)).Str("event", event).Msg("publish to malformed room ignored")
		return
	}
	members := r.registry.Members(room)
	if len(members) == 0 {
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		r.log.Error().Err(err).Str("room", string(room)).Str("event", event).Msg("encode event")
		return
	}
	for _, conn := range members {
		if !conn.Enqueue(frame) {
			r.log.Debug().
				Err(ErrTransportGone).
				Str("room", string(room)).
				Str("event", event).
				Str("connection", conn.ID).
				Msg("frame dropped")
		}
	}
}

// JoinRoom validates the key shape before touching the registry. Malformed
// keys are ignored without error.
func (r *Router) JoinRoom(connectionID string, room RoomKey) error {
	if !room.Valid() {
		r.log.Debug().Str("room", string(room)).Str("connection", connectionID).Msg("join of malformed room ignored")
		return nil
	}
	return r.registry.Join(connectionID, room)
}

func (r *Router) LeaveRoom(connectionID string, room RoomKey) error {
	if !room.Valid() {
		r.log.Debug().Str("room", string(room)).Str("connection", connectionID).Msg("leave of malformed room ignored")
		return nil
	}
	return r.registry.Leave(connectionID, room)
}
