package canvas

import "fmt"

// Kind identifies the shape class of a canvas object.
type Kind string

const (
	KindPath   Kind = "path"
	KindRect   Kind = "rect"
	KindCircle Kind = "circle"
	KindText   Kind = "text"
)

// ParseKind validates a kind received off the wire.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindPath, KindRect, KindCircle, KindText:
		return k, nil
	default:
		return "", fmt.Errorf("unknown object kind %q", s)
	}
}

// Object is one element of the shared drawing. The ID is generated at
// creation and never reused; it is the merge key, never recomputed from
// content. Owner records the creating connection for attribution only and
// plays no part in access control.
type Object struct {
	ID      string         `json:"id"`
	Kind    Kind           `json:"kind"`
	Owner   string         `json:"ownerConnectionId"`
	Fields  map[string]any `json:"fields"`
	Version uint64         `json:"version"`
}

// Clone returns a deep copy so snapshots never alias live state.
func (o *Object) Clone() *Object {
	fields := make(map[string]any, len(o.Fields))
	for k, v := range o.Fields {
		fields[k] = v
	}
	return &Object{
		ID:      o.ID,
		Kind:    o.Kind,
		Owner:   o.Owner,
		Fields:  fields,
		Version: o.Version,
	}
}
