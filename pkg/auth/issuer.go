package auth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/a-essam23/go-canvas/pkg/canvas"
	"github.com/golang-jwt/jwt/v5"
)

// Policy decides whether an identified user may take a permission level
// on a room.
type Policy interface {
	Allow(identity Identity, roomID string, level Permission) bool
}

// OpenPolicy lets any identified user request FULL on any room, matching
// an open collaborative-editing product.
type OpenPolicy struct{}

var _ Policy = OpenPolicy{}

func (OpenPolicy) Allow(Identity, string, Permission) bool { return true }

// TokenIssuer produces signed, time-bounded grants. Issuance is
// stateless: no record of issued grants is kept, so verification at
// attach time re-derives trust from the signature and expiry alone. The
// flip side is that revocation before expiry is impossible; short TTLs
// plus client-driven renewal bound the exposure.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	policy Policy
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewTokenIssuer(logger *slog.Logger, secret string, ttl time.Duration, policy Policy) *TokenIssuer {
	if policy == nil {
		policy = OpenPolicy{}
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		policy: policy,
		logger: logger.With(slog.String("component", "token_issuer")),
		now:    time.Now,
	}
}

// Issue signs a grant for identity on roomID at the requested level.
// Fails with ErrUnauthorized when the identity is empty or policy denies
// the request, ErrInternal when signing fails.
func (i *TokenIssuer) Issue(identity Identity, roomID string, level Permission) (string, *Grant, error) {
	if identity.UserID == "" || roomID == "" {
		return "", nil, canvas.ErrUnauthorized
	}
	if !i.policy.Allow(identity, roomID, level) {
		i.logger.Warn("Policy denied grant request",
			slog.String("userID", identity.UserID),
			slog.String("roomID", roomID),
			slog.String("level", LevelName(level)),
		)
		return "", nil, canvas.ErrUnauthorized
	}

	issuedAt := i.now()
	expiresAt := issuedAt.Add(i.ttl)
	claims := GrantClaims{
		Room:   roomID,
		Perms:  LevelName(level),
		Name:   identity.Display.Name,
		Avatar: identity.Display.AvatarRef,
		Color:  identity.Display.Color,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("%w: signing grant: %v", canvas.ErrInternal, err)
	}

	grant := &Grant{
		UserID:     identity.UserID,
		RoomID:     roomID,
		Permission: level,
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
		Display:    identity.Display,
	}
	i.logger.Debug("Grant issued",
		slog.String("userID", identity.UserID),
		slog.String("roomID", roomID),
		slog.String("level", LevelName(level)),
	)
	return signed, grant, nil
}

// Verifier checks presented grant tokens. It shares the issuer's secret
// but is a separate type so the attach path carries no issuing ability.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify parses and validates a token against the room the caller is
// trying to enter. Expired, forged, malformed, and wrong-room tokens all
// fail with ErrInvalidGrant.
func (v *Verifier) Verify(tokenString, roomID string) (*Grant, error) {
	claims := &GrantClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", canvas.ErrInvalidGrant, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", canvas.ErrInvalidGrant)
	}
	if claims.Room != roomID {
		return nil, fmt.Errorf("%w: grant is for room %q", canvas.ErrInvalidGrant, claims.Room)
	}
	level, err := ParseLevel(claims.Perms)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", canvas.ErrInvalidGrant, err)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing time bounds", canvas.ErrInvalidGrant)
	}

	return &Grant{
		UserID:     claims.Subject,
		RoomID:     claims.Room,
		Permission: level,
		IssuedAt:   claims.IssuedAt.Time,
		ExpiresAt:  claims.ExpiresAt.Time,
		Display: DisplayInfo{
			Name:      claims.Name,
			AvatarRef: claims.Avatar,
			Color:     claims.Color,
		},
	}, nil
}
