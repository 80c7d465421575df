package room

import (
	"github.com/a-essam23/go-canvas/pkg/canvas"
	"github.com/google/uuid"
)

// DocumentStore holds a room's canvas objects. It is not safe for
// concurrent use on its own: every call happens under the owning Room's
// lock, which is the single serialization point that makes per-field
// last-write-wins deterministic.
type DocumentStore struct {
	objects map[string]*canvas.Object
	order   []string // insertion order, for stable snapshots
}

func newDocumentStore() *DocumentStore {
	return &DocumentStore{objects: make(map[string]*canvas.Object)}
}

// create allocates a fresh object at version 0. The id is generated here
// and never reused, even after the object is removed.
func (d *DocumentStore) create(kind canvas.Kind, owner string, fields map[string]any) *canvas.Object {
	obj := &canvas.Object{
		ID:     uuid.NewString(),
		Kind:   kind,
		Owner:  owner,
		Fields: make(map[string]any, len(fields)),
	}
	for k, v := range fields {
		obj.Fields[k] = v
	}
	d.objects[obj.ID] = obj
	d.order = append(d.order, obj.ID)
	return obj
}

// update applies deltas field-by-field. Because callers are serialized,
// plain map assignment is last-write-wins by arrival order: concurrent
// updates to different fields both survive, and the later arrival wins a
// same-field race. Version increments once per applied update regardless
// of how many fields changed.
func (d *DocumentStore) update(id string, deltas map[string]any) (uint64, error) {
	obj, ok := d.objects[id]
	if !ok {
		return 0, canvas.ErrNotFound
	}
	for k, v := range deltas {
		obj.Fields[k] = v
	}
	obj.Version++
	return obj.Version, nil
}

// remove deletes an object. Removing an already-removed id fails with
// ErrNotFound rather than succeeding silently, so callers can tell
// "someone already deleted this" apart from a first removal.
func (d *DocumentStore) remove(id string) error {
	if _, ok := d.objects[id]; !ok {
		return canvas.ErrNotFound
	}
	delete(d.objects, id)
	for i, oid := range d.order {
		if oid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return nil
}

// snapshot returns deep copies of every object in insertion order. Taken
// under the room lock, so no copy can interleave fields from two versions.
func (d *DocumentStore) snapshot() []*canvas.Object {
	out := make([]*canvas.Object, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.objects[id].Clone())
	}
	return out
}
