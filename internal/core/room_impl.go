package core

import (
	"errors"
	"sync"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	id      domain.RoomID
	mu      sync.RWMutex
	byID    map[domain.ParticipantID]SignalConnection
	stopped bool
}

func NewRoomService(id domain.RoomID) RoomService {
	return &roomImpl{
		id:   id,
		byID: make(map[domain.ParticipantID]SignalConnection),
	}
}

func (r *roomImpl) ID() domain.RoomID { return r.id }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *roomImpl) AddMember(
	pid domain.ParticipantID,
	conn SignalConnection,
	joinFrame Frame,
	welcome func(existing []domain.ParticipantID) Frame,
) ([]domain.ParticipantID, PublishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, PublishResult{}, false
	}
	existing := make([]domain.ParticipantID, 0, len(r.byID))
	for id := range r.byID {
		if id != pid {
			existing = append(existing, id)
		}
	}
	_, rejoin := r.byID[pid]
	r.byID[pid] = conn

	if welcome != nil {
		if err := conn.TrySend(welcome(existing)); err != nil {
			log.Warn().Err(err).Str("module", "core.room").Str("pid", string(pid)).Msg("welcome not queued")
		}
	}

	var res PublishResult
	if !rejoin {
		res = r.broadcastLocked(pid, joinFrame)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("pid", string(pid)).Int("existing", len(existing)).Msg("member added")
	return existing, res, true
}

func (r *roomImpl) RemoveMember(pid domain.ParticipantID, leaveFrame Frame) (PublishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[pid]; !ok {
		return PublishResult{}, false
	}
	delete(r.byID, pid)
	res := r.broadcastLocked(pid, leaveFrame)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("pid", string(pid)).Msg("member removed")
	return res, true
}

var ErrNotMember = errors.New("not a room member")

func (r *roomImpl) SendTo(target domain.ParticipantID, f Frame) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[target]
	if !ok {
		return ErrNotMember
	}
	return conn.TrySend(f)
}

func (r *roomImpl) Broadcast(from domain.ParticipantID, f Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.broadcastLocked(from, f)
}

func (r *roomImpl) broadcastLocked(from domain.ParticipantID, f Frame) PublishResult {
	res := PublishResult{}
	if f == nil {
		return res
	}
	for pid, conn := range r.byID {
		if pid == from {
			continue
		}
		if err := conn.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, pid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(r.byID))
	for pid := range r.byID {
		out = append(out, pid)
	}
	return out
}

// stopIfEmpty marks the room stopped when no members remain. Later AddMember calls fail.
func (r *roomImpl) stopIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byID) > 0 {
		return false
	}
	r.stopped = true
	return true
}

// emptyStopper is implemented by rooms that can be retired by a RoomManager.
type emptyStopper interface {
	stopIfEmpty() bool
}

// TryStop stops room if it is empty.
func TryStop(room RoomService) bool {
	s, ok := room.(emptyStopper)
	if !ok {
		return room.MemberCount() == 0
	}
	return s.stopIfEmpty()
}
