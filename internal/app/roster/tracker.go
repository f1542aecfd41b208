// Package roster keeps a consistent view of who is present in a room.
package roster

import (
	"sync"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Tracker de-duplicates transport presence events. An id is added at most once
// until it is removed, and removals of unknown ids are ignored.
type Tracker struct {
	mu      sync.RWMutex
	members map[domain.ParticipantID]struct{}

	onAdded   func(domain.PresenceEvent)
	onRemoved func(domain.PresenceEvent)
}

func NewTracker() *Tracker {
	return &Tracker{members: make(map[domain.ParticipantID]struct{})}
}

func (t *Tracker) OnAdded(fn func(domain.PresenceEvent))   { t.onAdded = fn }
func (t *Tracker) OnRemoved(fn func(domain.PresenceEvent)) { t.onRemoved = fn }

// Add records ev.ID as present and reports whether this was a transition.
func (t *Tracker) Add(ev domain.PresenceEvent) bool {
	t.mu.Lock()
	if _, ok := t.members[ev.ID]; ok {
		t.mu.Unlock()
		log.Debug().Str("module", "roster").Str("pid", string(ev.ID)).Msg("duplicate added ignored")
		return false
	}
	t.members[ev.ID] = struct{}{}
	t.mu.Unlock()

	if t.onAdded != nil {
		t.onAdded(ev)
	}
	return true
}

// Remove drops ev.ID and reports whether it was present.
func (t *Tracker) Remove(ev domain.PresenceEvent) bool {
	t.mu.Lock()
	if _, ok := t.members[ev.ID]; !ok {
		t.mu.Unlock()
		log.Debug().Str("module", "roster").Str("pid", string(ev.ID)).Msg("removed without added ignored")
		return false
	}
	delete(t.members, ev.ID)
	t.mu.Unlock()

	if t.onRemoved != nil {
		t.onRemoved(ev)
	}
	return true
}

func (t *Tracker) Contains(id domain.ParticipantID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.members[id]
	return ok
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// Snapshot returns a copy of the current roster.
func (t *Tracker) Snapshot() []domain.ParticipantID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(t.members))
	for id := range t.members {
		out = append(out, id)
	}
	return out
}

// Reset forgets everyone without raising notifications.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members = make(map[domain.ParticipantID]struct{})
}
