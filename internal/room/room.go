package room

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/a-essam23/go-canvas/pkg/auth"
	"github.com/a-essam23/go-canvas/pkg/canvas"
	"github.com/google/uuid"
)

// Outbound is the delivery side of an attached connection. Send must not
// block: broadcasts run with the room lock held, so a consumer that
// cannot keep up has to be dropped by the implementation, never waited
// on. The transport Connection satisfies it; tests substitute a capture.
type Outbound interface {
	Send(msg []byte)
}

// Room is one isolated collaboration session: a DocumentStore, a
// PresenceTable, and the set of attached connections. One mutex
// serializes every mutation and its broadcast, which is what makes the
// per-room delivery order identical for all observers: events are
// encoded once and enqueued to every subscriber before the lock is
// released, and each connection's send channel preserves enqueue order.
// Rooms are fully independent of each other.
type Room struct {
	id     string
	logger *slog.Logger

	mu       sync.Mutex
	doc      *DocumentStore
	presence *PresenceTable
	subs     map[uuid.UUID]*Attachment
}

func newRoom(id string, logger *slog.Logger) *Room {
	return &Room{
		id:       id,
		logger:   logger.With(slog.String("component", "room"), slog.String("roomID", id)),
		doc:      newDocumentStore(),
		presence: newPresenceTable(),
		subs:     make(map[uuid.UUID]*Attachment),
	}
}

func (r *Room) ID() string { return r.id }

// Snapshot is the initial state handed to a newly attached connection,
// taken atomically with the subscription itself.
type Snapshot struct {
	ConnectionID string           `json:"connectionId"`
	Objects      []*canvas.Object `json:"objects"`
	Presence     []*PresenceEntry `json:"presence"`
}

// attach registers a connection. Called with no locks held; the capacity
// check, subscription, presence announcement and snapshot all happen in
// one critical section so the newcomer observes a consistent cut: every
// event broadcast after this point is also absent from its snapshot.
func (r *Room) attach(grant *auth.Grant, connID uuid.UUID, out Outbound, maxParticipants int) (*Attachment, *Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if maxParticipants > 0 && len(r.subs) >= maxParticipants {
		return nil, nil, canvas.ErrRoomFull
	}

	att := &Attachment{
		connID:   connID,
		identity: grant.Identity(),
		perm:     grant.Permission,
		out:      out,
		room:     r,
	}
	r.subs[connID] = att
	entry := r.presence.set(connID, att.identity, nil)
	r.broadcastLocked(att, EvPresenceSet, PresenceSetPayload{
		ConnectionID: entry.ConnectionID,
		Identity:     entry.Identity,
		State:        entry.State,
	})

	snap := &Snapshot{
		ConnectionID: connID.String(),
		Objects:      r.doc.snapshot(),
		Presence:     r.presence.snapshot(),
	}
	r.logger.Debug("Connection attached",
		slog.String("connID", connID.String()),
		slog.String("userID", att.identity.UserID),
		slog.Int("participants", len(r.subs)),
	)
	return att, snap, nil
}

// detach removes a connection. The presence entry is dropped and its
// removal broadcast inside the same critical section, so no snapshot
// taken afterwards can still contain the departed connection. Returns
// the number of remaining participants.
func (r *Room) detach(att *Attachment) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if att.detached {
		return len(r.subs)
	}
	att.detached = true
	delete(r.subs, att.connID)
	if r.presence.remove(att.connID) {
		r.broadcastLocked(att, EvPresenceRemoved, PresenceRemovedPayload{
			ConnectionID: att.connID.String(),
		})
	}
	r.logger.Debug("Connection detached",
		slog.String("connID", att.connID.String()),
		slog.Int("participants", len(r.subs)),
	)
	return len(r.subs)
}

// broadcastLocked fans an event out to every subscriber except origin.
// Callers must hold r.mu. Outbound.Send is required to be non-blocking,
// so the serialization point never waits on a slow consumer's network
// I/O; the transport drops connections whose buffers overflow.
func (r *Room) broadcastLocked(origin *Attachment, event string, payload any) {
	msg, err := EncodeEvent(event, payload)
	if err != nil {
		r.logger.Error("Failed to encode broadcast event", slog.String("event", event), slog.Any("error", err))
		return
	}
	n := 0
	for id, sub := range r.subs {
		if origin != nil && id == origin.connID {
			continue
		}
		sub.out.Send(msg)
		n++
	}
	BroadcastFanout.Observe(float64(n))
}

// Attachment binds one connection to one room with the permission its
// grant carried. All document and presence operations flow through it.
type Attachment struct {
	connID   uuid.UUID
	identity auth.Identity
	out      Outbound
	room     *Room

	// guarded by room.mu
	perm     auth.Permission
	detached bool
}

func (a *Attachment) ConnID() uuid.UUID       { return a.connID }
func (a *Attachment) RoomID() string          { return a.room.id }
func (a *Attachment) Identity() auth.Identity { return a.identity }

// Permission reports the current permission level, which may have been
// raised or lowered by a grant renewal.
func (a *Attachment) Permission() auth.Permission {
	a.room.mu.Lock()
	defer a.room.mu.Unlock()
	return a.perm
}

// Renew swaps in the permission from a freshly verified grant for the
// same room, without touching the subscription.
func (a *Attachment) Renew(grant *auth.Grant) {
	a.room.mu.Lock()
	defer a.room.mu.Unlock()
	a.perm = grant.Permission
}

// CreateObject allocates a new canvas object owned (for attribution) by
// this connection and broadcasts it to the other participants. Requires
// WRITE.
func (a *Attachment) CreateObject(kind canvas.Kind, fields map[string]any) (*canvas.Object, error) {
	a.room.mu.Lock()
	defer a.room.mu.Unlock()

	if err := a.writableLocked(); err != nil {
		OpCount.WithLabelValues("create", canvas.Code(err)).Inc()
		return nil, err
	}
	obj := a.room.doc.create(kind, a.connID.String(), fields)
	a.room.broadcastLocked(a, EvObjectCreated, ObjectCreatedPayload{Object: obj})
	OpCount.WithLabelValues("create", "ok").Inc()
	return obj.Clone(), nil
}

// UpdateObject applies field deltas to an object. Any writer may edit
// any object; Forbidden is only ever about permission level. Returns the
// new version so the origin can reconcile its optimistic local state.
func (a *Attachment) UpdateObject(id string, deltas map[string]any) (uint64, error) {
	a.room.mu.Lock()
	defer a.room.mu.Unlock()

	if err := a.writableLocked(); err != nil {
		OpCount.WithLabelValues("update", canvas.Code(err)).Inc()
		return 0, err
	}
	version, err := a.room.doc.update(id, deltas)
	if err != nil {
		OpCount.WithLabelValues("update", canvas.Code(err)).Inc()
		return 0, err
	}
	a.room.broadcastLocked(a, EvObjectUpdated, ObjectUpdatedPayload{
		ID:      id,
		Fields:  deltas,
		Version: version,
	})
	OpCount.WithLabelValues("update", "ok").Inc()
	return version, nil
}

// RemoveObject deletes an object. A second removal of the same id fails
// with ErrNotFound. Requires WRITE.
func (a *Attachment) RemoveObject(id string) error {
	a.room.mu.Lock()
	defer a.room.mu.Unlock()

	if err := a.writableLocked(); err != nil {
		OpCount.WithLabelValues("remove", canvas.Code(err)).Inc()
		return err
	}
	if err := a.room.doc.remove(id); err != nil {
		OpCount.WithLabelValues("remove", canvas.Code(err)).Inc()
		return err
	}
	a.room.broadcastLocked(a, EvObjectRemoved, ObjectRemovedPayload{ID: id})
	OpCount.WithLabelValues("remove", "ok").Inc()
	return nil
}

// SetPresence replaces this connection's presence entry wholesale and
// broadcasts the delta to the other participants. No permission gate:
// even READ connections show a cursor.
func (a *Attachment) SetPresence(state map[string]any) {
	a.room.mu.Lock()
	defer a.room.mu.Unlock()

	if a.detached {
		return
	}
	entry := a.room.presence.set(a.connID, a.identity, state)
	a.room.broadcastLocked(a, EvPresenceSet, PresenceSetPayload{
		ConnectionID: entry.ConnectionID,
		Identity:     entry.Identity,
		State:        entry.State,
	})
	OpCount.WithLabelValues("presence", "ok").Inc()
}

// errDetached guards against operations racing a detach. The session is
// the sole conduit for a connection, so this is unreachable in normal
// operation.
var errDetached = errors.New("room: attachment already detached")

func (a *Attachment) writableLocked() error {
	if a.detached {
		return errDetached
	}
	if !a.perm.Has(auth.PermWrite) {
		return canvas.ErrForbidden
	}
	return nil
}
