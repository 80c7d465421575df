package room

import (
	"github.com/a-essam23/go-canvas/pkg/auth"
	"github.com/google/uuid"
)

// PresenceEntry is one connection's self-reported ephemeral state:
// cursor position, active tool, whatever the client puts in it. It lives
// only while the connection is attached and is never persisted.
type PresenceEntry struct {
	ConnectionID string         `json:"connectionId"`
	Identity     auth.Identity  `json:"identity"`
	State        map[string]any `json:"state"`
}

func (e *PresenceEntry) clone() *PresenceEntry {
	state := make(map[string]any, len(e.State))
	for k, v := range e.State {
		state[k] = v
	}
	return &PresenceEntry{ConnectionID: e.ConnectionID, Identity: e.Identity, State: state}
}

// PresenceTable maps attached connections to their presence snapshots.
// Like DocumentStore it is only ever touched under the owning Room's
// lock. Each set replaces the prior entry wholesale: a single
// connection's own updates are strictly ordered, so last write wins.
type PresenceTable struct {
	entries map[uuid.UUID]*PresenceEntry
	order   []uuid.UUID
}

func newPresenceTable() *PresenceTable {
	return &PresenceTable{entries: make(map[uuid.UUID]*PresenceEntry)}
}

func (p *PresenceTable) set(connID uuid.UUID, identity auth.Identity, state map[string]any) *PresenceEntry {
	if state == nil {
		state = map[string]any{}
	}
	entry := &PresenceEntry{
		ConnectionID: connID.String(),
		Identity:     identity,
		State:        state,
	}
	if _, exists := p.entries[connID]; !exists {
		p.order = append(p.order, connID)
	}
	p.entries[connID] = entry
	return entry
}

func (p *PresenceTable) remove(connID uuid.UUID) bool {
	if _, ok := p.entries[connID]; !ok {
		return false
	}
	delete(p.entries, connID)
	for i, id := range p.order {
		if id == connID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

func (p *PresenceTable) snapshot() []*PresenceEntry {
	out := make([]*PresenceEntry, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.entries[id].clone())
	}
	return out
}
