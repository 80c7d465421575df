package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GrantClaims is the JWT claim structure a grant serializes to. Subject
// carries the user id; the remaining registered claims carry issuance and
// expiry times.
type GrantClaims struct {
	Room   string `json:"room"`
	Perms  string `json:"perms"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Color  string `json:"color,omitempty"`
	jwt.RegisteredClaims
}

// Grant is the decoded view of a verified token: a time-bounded proof
// that one user holds one permission level on one room. Immutable once
// issued; valid only while now < ExpiresAt and only for the room it names.
type Grant struct {
	UserID     string
	RoomID     string
	Permission Permission
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Display    DisplayInfo
}

// Identity reconstructs the identity embedded in the grant, used to seed
// the presence entry at attach time.
func (g *Grant) Identity() Identity {
	return Identity{UserID: g.UserID, Display: g.Display}
}

// TTL reports the grant's total lifetime.
func (g *Grant) TTL() time.Duration {
	return g.ExpiresAt.Sub(g.IssuedAt)
}
