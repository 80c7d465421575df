package room

import (
	"testing"

	"github.com/a-essam23/go-canvas/pkg/canvas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentCreateAssignsFreshIDs(t *testing.T) {
	d := newDocumentStore()

	a := d.create(canvas.KindRect, "conn-1", map[string]any{"x": 0.0})
	b := d.create(canvas.KindRect, "conn-1", nil)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, uint64(0), a.Version)
	assert.Equal(t, "conn-1", a.Owner)
	assert.NotNil(t, b.Fields)
}

func TestDocumentUpdateLastWriteWinsPerField(t *testing.T) {
	d := newDocumentStore()
	obj := d.create(canvas.KindRect, "conn-1", map[string]any{"x": 0.0, "y": 0.0})

	// two "concurrent" updates to different fields, serialized by arrival
	v1, err := d.update(obj.ID, map[string]any{"x": 50.0})
	require.NoError(t, err)
	v2, err := d.update(obj.ID, map[string]any{"y": 50.0})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), v1)
	assert.Equal(t, uint64(2), v2)
	assert.Equal(t, 50.0, obj.Fields["x"], "earlier field write must survive")
	assert.Equal(t, 50.0, obj.Fields["y"])

	// same-field race: the later arrival wins
	_, err = d.update(obj.ID, map[string]any{"x": 10.0})
	require.NoError(t, err)
	_, err = d.update(obj.ID, map[string]any{"x": 20.0})
	require.NoError(t, err)
	assert.Equal(t, 20.0, obj.Fields["x"])
}

func TestDocumentUpdateVersionPerUpdateNotPerField(t *testing.T) {
	d := newDocumentStore()
	obj := d.create(canvas.KindCircle, "conn-1", nil)

	v, err := d.update(obj.ID, map[string]any{"cx": 1.0, "cy": 2.0, "r": 3.0})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v, "one update, one version step, regardless of field count")
}

func TestDocumentUpdateUnknownID(t *testing.T) {
	d := newDocumentStore()
	_, err := d.update("no-such-id", map[string]any{"x": 1.0})
	assert.ErrorIs(t, err, canvas.ErrNotFound)
}

func TestDocumentRemoveIdempotenceFailsNotFound(t *testing.T) {
	d := newDocumentStore()
	obj := d.create(canvas.KindPath, "conn-1", nil)

	require.NoError(t, d.remove(obj.ID))
	assert.ErrorIs(t, d.remove(obj.ID), canvas.ErrNotFound, "second remove must be distinguishable")

	// the id is never reused
	again := d.create(canvas.KindPath, "conn-1", nil)
	assert.NotEqual(t, obj.ID, again.ID)
}

func TestDocumentSnapshotIsDeepCopy(t *testing.T) {
	d := newDocumentStore()
	first := d.create(canvas.KindText, "conn-1", map[string]any{"text": "hi"})
	d.create(canvas.KindRect, "conn-2", nil)

	snap := d.snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, first.ID, snap[0].ID, "snapshot preserves insertion order")

	// mutating the snapshot must not leak into live state
	snap[0].Fields["text"] = "tampered"
	assert.Equal(t, "hi", first.Fields["text"])

	// and mutating live state must not change an already-taken snapshot
	_, err := d.update(first.ID, map[string]any{"text": "later"})
	require.NoError(t, err)
	assert.Equal(t, "hi", snap[0].Fields["text"])
}

func TestPresenceSetReplacesWholesale(t *testing.T) {
	p := newPresenceTable()
	connID := newTestUUID(t)

	p.set(connID, testPresenceIdentity(), map[string]any{"cursor": []any{1.0, 2.0}, "tool": "pen"})
	entry := p.set(connID, testPresenceIdentity(), map[string]any{"tool": "eraser"})

	assert.NotContains(t, entry.State, "cursor", "set replaces the prior entry wholesale")
	assert.Equal(t, "eraser", entry.State["tool"])

	snap := p.snapshot()
	require.Len(t, snap, 1)

	assert.True(t, p.remove(connID))
	assert.False(t, p.remove(connID))
	assert.Empty(t, p.snapshot())
}
