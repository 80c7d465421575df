package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/a-essam23/go-canvas/internal/room"
	"github.com/a-essam23/go-canvas/pkg/auth"
	"github.com/a-essam23/go-canvas/pkg/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "session-test-secret"

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestRegistry() *room.Registry {
	return room.NewRegistry(newTestLogger(), auth.NewVerifier(testSecret), config.RoomConfig{})
}

func issueToken(t *testing.T, userID, roomID string, level auth.Permission, ttl time.Duration) string {
	t.Helper()
	issuer := auth.NewTokenIssuer(newTestLogger(), testSecret, ttl, nil)
	token, _, err := issuer.Issue(
		auth.Identity{UserID: userID, Display: auth.DisplayInfo{Name: "Test " + userID}},
		roomID, level,
	)
	require.NoError(t, err)
	return token
}

// fakeTransport records outbound messages and close calls in place of a
// websocket connection.
type fakeTransport struct {
	id uuid.UUID

	mu       sync.Mutex
	msgs     [][]byte
	closed   bool
	closeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{id: uuid.New()}
}

func (f *fakeTransport) ID() uuid.UUID { return f.id }

func (f *fakeTransport) Send(msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeTransport) Close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.closeErr = err
	}
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) events(t *testing.T) []room.ServerMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []room.ServerMessage
	for _, raw := range f.msgs {
		var msg room.ServerMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		out = append(out, msg)
	}
	return out
}

func (f *fakeTransport) lastEvent(t *testing.T, name string) (room.ServerMessage, bool) {
	t.Helper()
	events := f.events(t)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Event == name {
			return events[i], true
		}
	}
	return room.ServerMessage{}, false
}

func send(t *testing.T, s *Session, conn *fakeTransport, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	msg, err := json.Marshal(ClientMessage{Event: event, Payload: raw})
	require.NoError(t, err)
	s.HandleMessage(context.Background(), conn.ID(), msg)
}

func attachSession(t *testing.T, reg *room.Registry, roomID, userID string, level auth.Permission, ttl time.Duration) (*Session, *fakeTransport) {
	t.Helper()
	conn := newFakeTransport()
	s := New(newTestLogger(), reg, conn)
	send(t, s, conn, EvAttach, AttachPayload{
		RoomID: roomID,
		Token:  issueToken(t, userID, roomID, level, ttl),
	})
	require.Equal(t, StateAttached, s.State())
	return s, conn
}

func TestAttachHandshake(t *testing.T) {
	reg := newTestRegistry()
	s, conn := attachSession(t, reg, "r1", "user-a", auth.LevelFull, time.Minute)

	snap, ok := conn.lastEvent(t, room.EvSnapshot)
	require.True(t, ok, "attach must answer with a snapshot")

	var payload room.Snapshot
	require.NoError(t, json.Unmarshal(snap.Payload, &payload))
	assert.Equal(t, conn.ID().String(), payload.ConnectionID)
	assert.Empty(t, payload.Objects)
	assert.Len(t, payload.Presence, 1)

	assert.False(t, conn.isClosed())
	assert.Equal(t, StateAttached, s.State())
}

func TestAttachExpiredGrantFails(t *testing.T) {
	reg := newTestRegistry()
	conn := newFakeTransport()
	s := New(newTestLogger(), reg, conn)

	send(t, s, conn, EvAttach, AttachPayload{
		RoomID: "r1",
		Token:  issueToken(t, "user-a", "r1", auth.LevelWrite, -time.Minute),
	})

	assert.NotEqual(t, StateAttached, s.State())
	assert.True(t, conn.isClosed())

	errEvent, ok := conn.lastEvent(t, room.EvError)
	require.True(t, ok)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(errEvent.Payload, &payload))
	assert.Equal(t, "invalid_grant", payload.Code)

	assert.Equal(t, 0, reg.Len(), "failed attach must not create a room")
}

func TestFirstMessageMustBeAttach(t *testing.T) {
	reg := newTestRegistry()
	conn := newFakeTransport()
	s := New(newTestLogger(), reg, conn)

	send(t, s, conn, EvCreate, CreatePayload{Kind: "rect"})

	assert.True(t, conn.isClosed())
	assert.Equal(t, StateConnecting, s.State())
}

func TestObjectLifecycleThroughSession(t *testing.T) {
	reg := newTestRegistry()
	s, conn := attachSession(t, reg, "r1", "user-a", auth.LevelWrite, time.Minute)

	send(t, s, conn, EvCreate, CreatePayload{
		Kind:   "rect",
		Fields: map[string]any{"x": 0.0, "y": 0.0},
	})
	created, ok := conn.lastEvent(t, room.EvObjectCreated)
	require.True(t, ok, "origin must learn the server-assigned id")
	var createdPayload room.ObjectCreatedPayload
	require.NoError(t, json.Unmarshal(created.Payload, &createdPayload))
	objID := createdPayload.Object.ID
	require.NotEmpty(t, objID)
	assert.Equal(t, uint64(0), createdPayload.Object.Version)
	assert.Equal(t, conn.ID().String(), createdPayload.Object.Owner)

	send(t, s, conn, EvUpdate, UpdatePayload{ID: objID, Fields: map[string]any{"x": 50.0}})
	updated, ok := conn.lastEvent(t, room.EvObjectUpdated)
	require.True(t, ok)
	var updatedPayload room.ObjectUpdatedPayload
	require.NoError(t, json.Unmarshal(updated.Payload, &updatedPayload))
	assert.Equal(t, uint64(1), updatedPayload.Version)

	send(t, s, conn, EvRemove, RemovePayload{ID: objID})
	_, ok = conn.lastEvent(t, room.EvObjectRemoved)
	require.True(t, ok)

	// removing again is a structural error returned only to the origin
	send(t, s, conn, EvRemove, RemovePayload{ID: objID})
	errEvent, ok := conn.lastEvent(t, room.EvError)
	require.True(t, ok)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(errEvent.Payload, &errPayload))
	assert.Equal(t, "not_found", errPayload.Code)
	assert.Equal(t, EvRemove, errPayload.Event)

	assert.Equal(t, StateAttached, s.State(), "structural errors are non-fatal")
}

func TestStructuralErrorsStayWithOrigin(t *testing.T) {
	reg := newTestRegistry()
	_, observerConn := attachSession(t, reg, "r1", "user-o", auth.LevelWrite, time.Minute)
	reader, readerConn := attachSession(t, reg, "r1", "user-r", auth.LevelRead, time.Minute)

	send(t, reader, readerConn, EvCreate, CreatePayload{Kind: "rect"})

	errEvent, ok := readerConn.lastEvent(t, room.EvError)
	require.True(t, ok)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(errEvent.Payload, &payload))
	assert.Equal(t, "forbidden", payload.Code)

	for _, msg := range observerConn.events(t) {
		assert.NotEqual(t, room.EvError, msg.Event, "errors must never be broadcast")
		assert.NotEqual(t, room.EvObjectCreated, msg.Event)
	}
}

func TestPresenceSetHasNoEcho(t *testing.T) {
	reg := newTestRegistry()
	_, observerConn := attachSession(t, reg, "r1", "user-o", auth.LevelWrite, time.Minute)
	s, conn := attachSession(t, reg, "r1", "user-a", auth.LevelWrite, time.Minute)

	before := len(conn.events(t))
	send(t, s, conn, EvPresenceSet, PresenceSetPayload{State: map[string]any{"tool": "pen"}})

	assert.Len(t, conn.events(t), before, "origin receives no presence echo")

	delta, ok := observerConn.lastEvent(t, room.EvPresenceSet)
	require.True(t, ok)
	var payload room.PresenceSetPayload
	require.NoError(t, json.Unmarshal(delta.Payload, &payload))
	assert.Equal(t, conn.ID().String(), payload.ConnectionID)
	assert.Equal(t, "pen", payload.State["tool"])
}

func TestLeaveDetachesAndDiscardsEmptyRoom(t *testing.T) {
	reg := newTestRegistry()
	s, conn := attachSession(t, reg, "r1", "user-a", auth.LevelFull, time.Minute)

	send(t, s, conn, EvLeave, struct{}{})

	assert.Equal(t, StateDetached, s.State())
	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, reg.Len())
}

func TestTransportCloseDetaches(t *testing.T) {
	reg := newTestRegistry()
	s, conn := attachSession(t, reg, "r1", "user-a", auth.LevelFull, time.Minute)

	s.HandleClose(conn.ID(), context.Canceled)

	assert.Equal(t, StateDetached, s.State())
	assert.Equal(t, 0, reg.Len(), "resources are released synchronously with detach")
}

func TestUnknownEventIsNonFatal(t *testing.T) {
	reg := newTestRegistry()
	s, conn := attachSession(t, reg, "r1", "user-a", auth.LevelFull, time.Minute)

	send(t, s, conn, "no-such-event", struct{}{})

	errEvent, ok := conn.lastEvent(t, room.EvError)
	require.True(t, ok)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(errEvent.Payload, &payload))
	assert.Equal(t, "bad_message", payload.Code)
	assert.Equal(t, StateAttached, s.State())
}

func TestGrantExpiryForcesDetach(t *testing.T) {
	reg := newTestRegistry()
	s, conn := attachSession(t, reg, "r1", "user-a", auth.LevelFull, 150*time.Millisecond)

	require.Eventually(t, func() bool {
		return s.State() == StateDetached
	}, 2*time.Second, 20*time.Millisecond, "grant expiry without renewal must force DETACHED")

	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, reg.Len())
}

func TestGrantExpiryWarningPrecedesDetach(t *testing.T) {
	reg := newTestRegistry()
	// 3s TTL puts the clamped 1s warning lead at roughly t+2s
	s, conn := attachSession(t, reg, "r1", "user-a", auth.LevelFull, 3*time.Second)

	require.Eventually(t, func() bool {
		for _, msg := range conn.events(t) {
			if msg.Event == room.EvGrantExpiring {
				return true
			}
		}
		return false
	}, 2900*time.Millisecond, 25*time.Millisecond, "warning must arrive before expiry")

	require.Equal(t, StateAttached, s.State(), "the warning itself must not detach")
	warn, ok := conn.lastEvent(t, room.EvGrantExpiring)
	require.True(t, ok)
	var payload GrantExpiryPayload
	require.NoError(t, json.Unmarshal(warn.Payload, &payload))
	assert.Positive(t, payload.ExpiresAt)

	// renewing after the warning cancels the forced detach
	send(t, s, conn, EvRenew, RenewPayload{
		Token: issueToken(t, "user-a", "r1", auth.LevelFull, time.Minute),
	})

	time.Sleep(1500 * time.Millisecond) // past the original expiry
	assert.Equal(t, StateAttached, s.State())
	assert.False(t, conn.isClosed())
}

func TestRenewKeepsSessionAlive(t *testing.T) {
	reg := newTestRegistry()
	s, conn := attachSession(t, reg, "r1", "user-a", auth.LevelWrite, 500*time.Millisecond)

	send(t, s, conn, EvRenew, RenewPayload{
		Token: issueToken(t, "user-a", "r1", auth.LevelWrite, time.Minute),
	})
	_, ok := conn.lastEvent(t, EvGrantRenewed)
	require.True(t, ok)

	// well past the original expiry; the renewed grant keeps us attached
	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, StateAttached, s.State())
	assert.False(t, conn.isClosed())
}

func TestRenewWrongRoomRejected(t *testing.T) {
	reg := newTestRegistry()
	s, conn := attachSession(t, reg, "r1", "user-a", auth.LevelWrite, time.Minute)

	send(t, s, conn, EvRenew, RenewPayload{
		Token: issueToken(t, "user-a", "other-room", auth.LevelWrite, time.Minute),
	})

	errEvent, ok := conn.lastEvent(t, room.EvError)
	require.True(t, ok)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(errEvent.Payload, &payload))
	assert.Equal(t, "invalid_grant", payload.Code)
	assert.Equal(t, StateAttached, s.State(), "failed renewal does not drop the session")
}

func TestMalformedEnvelopeIsNonFatal(t *testing.T) {
	reg := newTestRegistry()
	s, conn := attachSession(t, reg, "r1", "user-a", auth.LevelFull, time.Minute)

	s.HandleMessage(context.Background(), conn.ID(), []byte("{not json"))

	errEvent, ok := conn.lastEvent(t, room.EvError)
	require.True(t, ok)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(errEvent.Payload, &payload))
	assert.Equal(t, "bad_message", payload.Code)
	assert.Equal(t, StateAttached, s.State())
}
