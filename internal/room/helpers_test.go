package room

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/a-essam23/go-canvas/pkg/auth"
	"github.com/a-essam23/go-canvas/pkg/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testSecret = "room-test-secret"

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestRegistry(maxParticipants int) *Registry {
	return NewRegistry(newTestLogger(), auth.NewVerifier(testSecret), config.RoomConfig{MaxParticipants: maxParticipants})
}

func newTestUUID(_ *testing.T) uuid.UUID {
	return uuid.New()
}

func testPresenceIdentity() auth.Identity {
	return auth.Identity{UserID: "user-p", Display: auth.DisplayInfo{Name: "Presence"}}
}

// issueToken signs a grant the test registry's verifier will accept.
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

// capture is an Outbound that records every message it is handed, in
// order.
type capture struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (c *capture) Send(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *capture) raw() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *capture) events(t *testing.T) []ServerMessage {
	t.Helper()
	var out []ServerMessage
	for _, raw := range c.raw() {
		var msg ServerMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		out = append(out, msg)
	}
	return out
}

// eventsNamed filters the captured stream down to the given event names,
// preserving order.
func (c *capture) eventsNamed(t *testing.T, names ...string) []ServerMessage {
	t.Helper()
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	var out []ServerMessage
	for _, msg := range c.events(t) {
		if keep[msg.Event] {
			out = append(out, msg)
		}
	}
	return out
}
