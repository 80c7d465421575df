package room

import (
	"encoding/json"

	"github.com/a-essam23/go-canvas/pkg/auth"
	"github.com/a-essam23/go-canvas/pkg/canvas"
)

// ServerMessage is the outbound wire envelope. It mirrors the inbound
// client envelope so both directions share one shape.
type ServerMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Outbound event names. Broadcast events originate under the room lock;
// the rest are per-connection.
const (
	EvSnapshot        = "snapshot"
	EvObjectCreated   = "object-created"
	EvObjectUpdated   = "object-updated"
	EvObjectRemoved   = "object-removed"
	EvPresenceSet     = "presence-set"
	EvPresenceRemoved = "presence-removed"
	EvGrantExpiring   = "grant-expiring"
	EvError           = "error"
)

type ObjectCreatedPayload struct {
	Object *canvas.Object `json:"object"`
}

type ObjectUpdatedPayload struct {
	ID      string         `json:"id"`
	Fields  map[string]any `json:"fields"`
	Version uint64         `json:"version"`
}

type ObjectRemovedPayload struct {
	ID string `json:"id"`
}

type PresenceSetPayload struct {
	ConnectionID string         `json:"connectionId"`
	Identity     auth.Identity  `json:"identity"`
	State        map[string]any `json:"state"`
}

type PresenceRemovedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// EncodeEvent marshals an event into its wire form. Marshaling happens
// once per broadcast so every observer receives identical bytes.
func EncodeEvent(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ServerMessage{Event: event, Payload: raw})
}
