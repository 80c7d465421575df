package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-canvas/internal/room"
	"github.com/a-essam23/go-canvas/pkg/auth"
	"github.com/a-essam23/go-canvas/pkg/canvas"
	"github.com/google/uuid"
)

// State is the lifecycle of one connection's session.
type State int32

const (
	StateConnecting State = iota
	StateAttached
	StateDetached // terminal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAttached:
		return "ATTACHED"
	case StateDetached:
		return "DETACHED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Transport is the slice of the websocket connection the session needs.
// transport.Connection satisfies it; tests substitute a capture.
type Transport interface {
	room.Outbound
	ID() uuid.UUID
	Close(err error)
}

// ErrGrantExpired is the close reason when a grant lapses without a
// timely renewal.
var ErrGrantExpired = errors.New("session: grant expired without renewal")

// Session is the per-connection coordinator. While ATTACHED it is the
// sole conduit between the transport and the room: it deserializes
// inbound operations, tags them with its connection id and current
// permission, and relays results and broadcasts back out. Broadcast
// relaying itself happens through the room's fan-out into the transport
// send channel; the session never reorders it.
type Session struct {
	logger   *slog.Logger
	registry *room.Registry
	conn     Transport

	mu          sync.Mutex
	state       State
	att         *room.Attachment
	expiresAt   time.Time
	warnTimer   *time.Timer
	expireTimer *time.Timer
}

func New(logger *slog.Logger, registry *room.Registry, conn Transport) *Session {
	return &Session{
		logger: logger.With(
			slog.String("component", "session"),
			slog.String("connID", conn.ID().String()),
		),
		registry: registry,
		conn:     conn,
		state:    StateConnecting,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleMessage is the transport's inbound callback. A panic while
// handling one connection's message is contained here so it can never
// take down another connection or room.
func (s *Session) HandleMessage(_ context.Context, _ uuid.UUID, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while handling message", slog.Any("panic", r))
			s.sendError(canvas.ErrInternal, "")
		}
	}()

	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("Failed to unmarshal client message", slog.Any("error", err))
		s.sendErrorCode("bad_message", "malformed message envelope", "")
		return
	}

	switch s.State() {
	case StateConnecting:
		if msg.Event != EvAttach {
			s.logger.Warn("First message was not attach", slog.String("event", msg.Event))
			s.sendErrorCode("bad_message", "expected attach handshake", msg.Event)
			s.conn.Close(errors.New("protocol violation: expected attach"))
			return
		}
		s.handleAttach(msg.Payload)
	case StateAttached:
		s.dispatch(msg)
	case StateDetached:
		// late message after detach; drop
	}
}

// HandleClose is the transport's close callback. Transport disconnection
// is immediate cancellation: the presence entry and subscription are
// released synchronously, no background cleanup.
func (s *Session) HandleClose(_ uuid.UUID, err error) {
	s.detach(err)
}

func (s *Session) handleAttach(payload json.RawMessage) {
	var p AttachPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.RoomID == "" || p.Token == "" {
		s.sendErrorCode("bad_message", "attach requires roomId and token", EvAttach)
		s.conn.Close(errors.New("malformed attach"))
		return
	}

	att, snap, grant, err := s.registry.Attach(p.Token, p.RoomID, s.conn.ID(), s.conn)
	if err != nil {
		s.logger.Warn("Attach rejected",
			slog.String("roomID", p.RoomID),
			slog.Any("error", err),
		)
		s.sendError(err, EvAttach)
		s.conn.Close(err)
		return
	}

	s.mu.Lock()
	s.state = StateAttached
	s.att = att
	s.armExpiryLocked(grant.ExpiresAt, grant.TTL())
	s.mu.Unlock()

	s.sendEvent(room.EvSnapshot, snap)
	s.logger.Info("Session attached",
		slog.String("roomID", p.RoomID),
		slog.String("userID", att.Identity().UserID),
		slog.String("level", auth.LevelName(grant.Permission)),
	)
}

func (s *Session) dispatch(msg ClientMessage) {
	switch msg.Event {
	case EvCreate:
		s.handleCreate(msg.Payload)
	case EvUpdate:
		s.handleUpdate(msg.Payload)
	case EvRemove:
		s.handleRemove(msg.Payload)
	case EvPresenceSet:
		s.handlePresenceSet(msg.Payload)
	case EvRenew:
		s.handleRenew(msg.Payload)
	case EvLeave:
		s.detach(nil)
		s.conn.Close(nil)
	case EvAttach:
		s.sendErrorCode("bad_message", "already attached", EvAttach)
	default:
		s.logger.Warn("Received unknown event", slog.String("event", msg.Event))
		s.sendErrorCode("bad_message", "unknown event", msg.Event)
	}
}

func (s *Session) handleCreate(payload json.RawMessage) {
	var p CreatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.sendErrorCode("bad_message", "malformed create payload", EvCreate)
		return
	}
	kind, err := canvas.ParseKind(p.Kind)
	if err != nil {
		s.sendErrorCode("bad_message", err.Error(), EvCreate)
		return
	}
	att := s.attachment()
	if att == nil {
		return
	}
	obj, err := att.CreateObject(kind, p.Fields)
	if err != nil {
		s.sendError(err, EvCreate)
		return
	}
	// the op result: the origin learns the server-assigned id and version
	s.sendEvent(room.EvObjectCreated, room.ObjectCreatedPayload{Object: obj})
}

func (s *Session) handleUpdate(payload json.RawMessage) {
	var p UpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ID == "" {
		s.sendErrorCode("bad_message", "malformed update payload", EvUpdate)
		return
	}
	att := s.attachment()
	if att == nil {
		return
	}
	version, err := att.UpdateObject(p.ID, p.Fields)
	if err != nil {
		s.sendError(err, EvUpdate)
		return
	}
	// echo the applied version so the origin can discard stale optimistic
	// local state
	s.sendEvent(room.EvObjectUpdated, room.ObjectUpdatedPayload{
		ID:      p.ID,
		Fields:  p.Fields,
		Version: version,
	})
}

func (s *Session) handleRemove(payload json.RawMessage) {
	var p RemovePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ID == "" {
		s.sendErrorCode("bad_message", "malformed remove payload", EvRemove)
		return
	}
	att := s.attachment()
	if att == nil {
		return
	}
	if err := att.RemoveObject(p.ID); err != nil {
		s.sendError(err, EvRemove)
		return
	}
	s.sendEvent(room.EvObjectRemoved, room.ObjectRemovedPayload{ID: p.ID})
}

func (s *Session) handlePresenceSet(payload json.RawMessage) {
	var p PresenceSetPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.sendErrorCode("bad_message", "malformed presence payload", EvPresenceSet)
		return
	}
	att := s.attachment()
	if att == nil {
		return
	}
	// no echo: the origin already knows its own presence
	att.SetPresence(p.State)
}

// handleRenew swaps in a fresh grant mid-connection without dropping the
// transport. The new grant must cover the same room; its permission
// level, higher or lower, replaces the old one.
func (s *Session) handleRenew(payload json.RawMessage) {
	var p RenewPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Token == "" {
		s.sendErrorCode("bad_message", "malformed renew payload", EvRenew)
		return
	}
	att := s.attachment()
	if att == nil {
		return
	}
	grant, err := s.registry.VerifyGrant(p.Token, att.RoomID())
	if err != nil {
		s.sendError(err, EvRenew)
		return
	}
	att.Renew(grant)

	s.mu.Lock()
	s.armExpiryLocked(grant.ExpiresAt, grant.TTL())
	s.mu.Unlock()

	s.sendEvent(EvGrantRenewed, GrantExpiryPayload{ExpiresAt: grant.ExpiresAt.Unix()})
	s.logger.Debug("Grant renewed", slog.Time("expiresAt", grant.ExpiresAt))
}

// armExpiryLocked schedules the pre-expiry warning and the hard expiry.
// Callers hold s.mu. The warning leads expiry by a fifth of the grant's
// TTL so clients have time to fetch a fresh grant.
func (s *Session) armExpiryLocked(expiresAt time.Time, ttl time.Duration) {
	s.stopTimersLocked()
	s.expiresAt = expiresAt

	lead := ttl / 5
	if lead < time.Second {
		lead = time.Second
	}
	untilWarn := time.Until(expiresAt) - lead
	if untilWarn > 0 {
		s.warnTimer = time.AfterFunc(untilWarn, s.warnExpiry)
	}
	s.expireTimer = time.AfterFunc(time.Until(expiresAt), s.expire)
}

func (s *Session) stopTimersLocked() {
	if s.warnTimer != nil {
		s.warnTimer.Stop()
		s.warnTimer = nil
	}
	if s.expireTimer != nil {
		s.expireTimer.Stop()
		s.expireTimer = nil
	}
}

func (s *Session) warnExpiry() {
	s.mu.Lock()
	expiresAt := s.expiresAt
	attached := s.state == StateAttached
	s.mu.Unlock()
	if !attached {
		return
	}
	s.sendEvent(room.EvGrantExpiring, GrantExpiryPayload{ExpiresAt: expiresAt.Unix()})
}

// expire fires when the grant lapses. A renewal rearms the timer, so
// reaching here with a stale deadline means no fresh grant arrived:
// force DETACHED and drop the transport.
func (s *Session) expire() {
	s.mu.Lock()
	if s.state != StateAttached || time.Now().Before(s.expiresAt) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Info("Grant expired without renewal, detaching")
	s.detach(ErrGrantExpired)
	s.conn.Close(ErrGrantExpired)
}

// detach transitions to the terminal state and releases the room-side
// resources. Idempotent: the transport close callback and an explicit
// leave may both land here.
func (s *Session) detach(err error) {
	s.mu.Lock()
	if s.state == StateDetached {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = StateDetached
	att := s.att
	s.att = nil
	s.stopTimersLocked()
	s.mu.Unlock()

	if att != nil {
		s.registry.Detach(att)
	}
	if prev == StateAttached {
		s.logger.Info("Session detached", slog.Any("reason", err))
	}
}

func (s *Session) attachment() *room.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.att
}

func (s *Session) sendEvent(event string, payload any) {
	msg, err := room.EncodeEvent(event, payload)
	if err != nil {
		s.logger.Error("Failed to encode event", slog.String("event", event), slog.Any("error", err))
		return
	}
	s.conn.Send(msg)
}

func (s *Session) sendError(err error, event string) {
	s.sendErrorCode(canvas.Code(err), err.Error(), event)
}

func (s *Session) sendErrorCode(code, message, event string) {
	s.sendEvent(room.EvError, ErrorPayload{Code: code, Message: message, Event: event})
}
