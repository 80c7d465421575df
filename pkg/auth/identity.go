package auth

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"

	"github.com/a-essam23/go-canvas/pkg/canvas"
)

// DisplayInfo is the presentation metadata attached to an identity. The
// core never interprets it; it travels inside grants and presence entries
// so clients can render avatars and cursors.
type DisplayInfo struct {
	Name      string `json:"name"`
	AvatarRef string `json:"avatarRef,omitempty"`
	Color     string `json:"color,omitempty"`
}

// Identity is who a connection belongs to. UserID is an opaque comparison
// key, stable across reconnects for the same logical user. Immutable for
// the lifetime of a connection.
type Identity struct {
	UserID  string      `json:"userId"`
	Display DisplayInfo `json:"display"`
}

// IdentitySource resolves the caller of an incoming token request. It is
// the seam for a real identity provider; a rejection surfaces as
// ErrUnauthorized at the issuer.
type IdentitySource interface {
	Identify(ctx context.Context, r *http.Request) (Identity, error)
}

const guestIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GuestDirectory mints a throwaway guest identity per request. Guests get
// a pseudo-unique id, a generated avatar and a random hue, so presence UI
// has something to show without a real identity provider.
type GuestDirectory struct{}

var _ IdentitySource = GuestDirectory{}

func (GuestDirectory) Identify(_ context.Context, _ *http.Request) (Identity, error) {
	suffix := make([]byte, 7)
	for i := range suffix {
		suffix[i] = guestIDAlphabet[rand.Intn(len(guestIDAlphabet))]
	}
	id := "user_" + string(suffix)
	return Identity{
		UserID: id,
		Display: DisplayInfo{
			Name:      "Guest " + string(suffix),
			AvatarRef: fmt.Sprintf("https://avatar.vercel.sh/%s.png", id),
			Color:     fmt.Sprintf("hsl(%d, 90%%, 60%%)", rand.Intn(360)),
		},
	}, nil
}

// DenyAll is an IdentitySource that rejects every request. Useful as a
// placeholder while wiring a real provider.
type DenyAll struct{}

var _ IdentitySource = DenyAll{}

func (DenyAll) Identify(_ context.Context, _ *http.Request) (Identity, error) {
	return Identity{}, canvas.ErrUnauthorized
}
