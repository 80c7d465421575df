package auth

import "fmt"

// Permission is a bitmap representing a set of capabilities on a room.
type Permission uint64

const (
	PermRead   Permission = 1 << iota
	PermWrite             // 2
	PermManage            // 4
)

// The three grantable levels. WRITE implies READ; FULL implies both.
const (
	LevelRead  = PermRead
	LevelWrite = PermRead | PermWrite
	LevelFull  = PermRead | PermWrite | PermManage
)

func (p Permission) Has(flag Permission) bool {
	return p&flag == flag
}

// ParseLevel maps a requested level name to its permission bitmap.
func ParseLevel(name string) (Permission, error) {
	switch name {
	case "READ":
		return LevelRead, nil
	case "WRITE":
		return LevelWrite, nil
	case "FULL":
		return LevelFull, nil
	default:
		return 0, fmt.Errorf("unknown permission level %q", name)
	}
}

// LevelName reports the canonical name for a bitmap, used in grant claims
// and the token endpoint response.
func LevelName(p Permission) string {
	switch {
	case p.Has(LevelFull):
		return "FULL"
	case p.Has(LevelWrite):
		return "WRITE"
	case p.Has(LevelRead):
		return "READ"
	default:
		return "NONE"
	}
}
