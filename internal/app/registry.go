package app

import (
	"context"
	"sync"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Room   domain.RoomID
	Conn   core.SignalConnection
	Token  string
	Cancel context.CancelFunc
}

// Registry maps live connections to the room they are in.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ParticipantID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ParticipantID]*connEntry),
	}
}

func (r *Registry) Bind(pid domain.ParticipantID, token string, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[pid] = &connEntry{Conn: conn, Token: token, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Str("token", token).Msg("bound connection")
}

func (r *Registry) Conn(pid domain.ParticipantID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[pid]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Unbind(pid domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, pid)
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Msg("unbind connection")
}

func (r *Registry) RoomOf(pid domain.ParticipantID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[pid]
	if !ok || entry.Room == "" {
		return "", false
	}
	return entry.Room, true
}

func (r *Registry) UpdateRoom(pid domain.ParticipantID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[pid]
	if !ok {
		return false
	}
	entry.Room = room
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Str("room", string(room)).Msg("updated room")
	return true
}

// Count returns the number of bound connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Cancel(pid domain.ParticipantID) bool {
	r.mu.RLock()
	e, ok := r.conns[pid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Msg("canceled connection")
	return true
}
