package session

import "encoding/json"

// ClientMessage is the inbound wire envelope, mirrored by the outbound
// room.ServerMessage.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound event names. Attach must be the first message on a fresh
// connection; everything else requires the session to be attached.
const (
	EvAttach      = "attach"
	EvRenew       = "renew"
	EvCreate      = "create"
	EvUpdate      = "update"
	EvRemove      = "remove"
	EvPresenceSet = "presence-set"
	EvLeave       = "leave"
)

// EvGrantRenewed acknowledges a successful mid-connection renewal to the
// origin only.
const EvGrantRenewed = "grant-renewed"

type AttachPayload struct {
	RoomID string `json:"roomId"`
	Token  string `json:"token"`
}

type RenewPayload struct {
	Token string `json:"token"`
}

type CreatePayload struct {
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields"`
}

type UpdatePayload struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type RemovePayload struct {
	ID string `json:"id"`
}

type PresenceSetPayload struct {
	State map[string]any `json:"state"`
}

type GrantExpiryPayload struct {
	ExpiresAt int64 `json:"expiresAt"`
}

// ErrorPayload is returned to the originating connection only; structural
// errors never desynchronize the room for anyone else. Event names the
// inbound event that failed.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
