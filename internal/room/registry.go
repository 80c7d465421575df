package room

import (
	"log/slog"

	"github.com/a-essam23/go-canvas/pkg/auth"
	"github.com/a-essam23/go-canvas/pkg/config"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry is the process-wide table of active rooms. Rooms come into
// existence on first attach and are discarded when the last participant
// leaves; they have no life outside this table.
//
// Attach and detach for a given roomID run inside xsync's per-key
// Compute, so racing first-attaches resolve to exactly one Room instance
// and a detach that empties a room deletes it atomically with respect to
// any concurrent attach. This bookkeeping never takes a room's
// serialization lock together with the map bucket lock on another key,
// so registry work never stalls in-flight mutations in other rooms.
type Registry struct {
	rooms           *xsync.MapOf[string, *Room]
	verifier        *auth.Verifier
	maxParticipants int
	logger          *slog.Logger
}

func NewRegistry(logger *slog.Logger, verifier *auth.Verifier, cfg config.RoomConfig) *Registry {
	return &Registry{
		rooms:           xsync.NewMapOf[string, *Room](),
		verifier:        verifier,
		maxParticipants: cfg.MaxParticipants,
		logger:          logger.With(slog.String("component", "room_registry")),
	}
}

// Attach validates a presented grant token and subscribes the connection
// to the room the grant names, creating the room if this is its first
// participant. Failures (invalid or expired grant, full room) abort
// before any room state is touched: a room created speculatively for a
// failed first attach is not kept.
func (reg *Registry) Attach(token, roomID string, connID uuid.UUID, out Outbound) (*Attachment, *Snapshot, *auth.Grant, error) {
	grant, err := reg.verifier.Verify(token, roomID)
	if err != nil {
		AttachCount.WithLabelValues("invalid_grant").Inc()
		return nil, nil, nil, err
	}

	var (
		att  *Attachment
		snap *Snapshot
	)
	reg.rooms.Compute(roomID, func(r *Room, loaded bool) (*Room, bool) {
		if !loaded {
			r = newRoom(roomID, reg.logger)
		}
		att, snap, err = r.attach(grant, connID, out, reg.maxParticipants)
		if err != nil && !loaded {
			// first attach failed; leave no empty room behind
			return nil, true
		}
		if !loaded && err == nil {
			RoomsActive.Inc()
			reg.logger.Info("Room created", slog.String("roomID", roomID))
		}
		return r, false
	})
	if err != nil {
		AttachCount.WithLabelValues("rejected").Inc()
		return nil, nil, nil, err
	}
	AttachCount.WithLabelValues("ok").Inc()
	return att, snap, grant, nil
}

// VerifyGrant re-validates a token for mid-connection renewal. The same
// rules as attach apply: signature, expiry, and exact room match.
func (reg *Registry) VerifyGrant(token, roomID string) (*auth.Grant, error) {
	return reg.verifier.Verify(token, roomID)
}

// Detach unsubscribes the connection and discards the room when its last
// participant leaves. Safe to call more than once for the same
// attachment.
func (reg *Registry) Detach(att *Attachment) {
	if att == nil {
		return
	}
	reg.rooms.Compute(att.RoomID(), func(r *Room, loaded bool) (*Room, bool) {
		if !loaded {
			return nil, true
		}
		if remaining := r.detach(att); remaining == 0 {
			RoomsActive.Dec()
			reg.logger.Info("Room discarded", slog.String("roomID", att.RoomID()))
			return nil, true
		}
		return r, false
	})
}

// Lookup reports whether a room currently exists. Primarily for tests
// and introspection; sessions hold Attachments instead.
func (reg *Registry) Lookup(roomID string) (*Room, bool) {
	return reg.rooms.Load(roomID)
}

// Len reports the number of active rooms.
func (reg *Registry) Len() int {
	return reg.rooms.Size()
}
