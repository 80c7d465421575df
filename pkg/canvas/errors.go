// Provides common canvas error definitions.
package canvas

import "errors"

var (
	// ErrUnauthorized means the caller could not be identified, or policy
	// denied the requested permission level.
	ErrUnauthorized = errors.New("canvas: unauthorized")

	// ErrInvalidGrant means a grant failed verification: bad signature,
	// expired, or presented for a different room than it names.
	ErrInvalidGrant = errors.New("canvas: invalid grant")

	// ErrForbidden means the connection's permission level does not cover
	// the attempted operation. It is never raised for ownership reasons.
	ErrForbidden = errors.New("canvas: forbidden")

	// ErrNotFound means the operation targeted an object that does not
	// exist or was already removed.
	ErrNotFound = errors.New("canvas: object not found")

	// ErrRoomFull means the room's configured participant capacity is
	// exhausted.
	ErrRoomFull = errors.New("canvas: room full")

	// ErrInternal covers unexpected failures such as token signing errors.
	ErrInternal = errors.New("canvas: internal error")
)

// Code maps a taxonomy error to its stable wire identifier. Unrecognized
// errors report as "internal".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidGrant):
		return "invalid_grant"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	default:
		return "internal"
	}
}
