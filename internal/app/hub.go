package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/dkeye/MeshCall/internal/metrics"
	"github.com/dkeye/MeshCall/internal/protocol"
	"github.com/rs/zerolog/log"
)

const bindingRelay = "relay"

var (
	ErrNotConnected = errors.New("connection not registered")
	ErrNotInRoom    = errors.New("not in a room")
)

// Hub is the relay side of the signaling transport: it owns the room table and
// rebroadcasts presence and directed negotiation frames between room members.
type Hub struct {
	Registry *Registry
	Rooms    core.RoomManager
	Policy   Policy
}

func NewHub(policy Policy) *Hub {
	return &Hub{
		Registry: NewRegistry(),
		Rooms:    NewRoomManager(),
		Policy:   policy,
	}
}

// Connect registers a new connection and tells it the id it was assigned.
func (h *Hub) Connect(pid domain.ParticipantID, token string, conn core.SignalConnection, cancel func()) {
	h.Registry.Bind(pid, token, conn, cancel)
	metrics.ActiveSignalConnections.WithLabelValues(bindingRelay).Inc()
	if err := conn.TrySend(protocol.MustEncode(protocol.Envelope{Type: protocol.TypeHello, Target: pid})); err != nil {
		log.Warn().Err(err).Str("module", "app.hub").Str("pid", string(pid)).Msg("hello not queued")
	}
}

// Join puts pid into room. Joining the room pid is already in only repeats the welcome.
func (h *Hub) Join(pid domain.ParticipantID, id domain.RoomID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	conn, ok := h.Registry.Conn(pid)
	if !ok {
		return ErrNotConnected
	}
	if cur, ok := h.Registry.RoomOf(pid); ok {
		if cur == id {
			if room, ok := h.Rooms.Get(id); ok {
				_ = conn.TrySend(welcomeFrame(id, pid, othersOf(room.MembersSnapshot(), pid)))
				return nil
			}
		}
		h.Leave(pid)
	}

	joinFrame := protocol.MustEncode(protocol.Envelope{Type: string(domain.MsgJoin), Room: id, Sender: pid})
	welcome := func(existing []domain.ParticipantID) core.Frame {
		return welcomeFrame(id, pid, existing)
	}
	var (
		existing []domain.ParticipantID
		res      core.PublishResult
	)
	for {
		room := h.Rooms.GetOrCreate(id)
		var added bool
		existing, res, added = room.AddMember(pid, conn, joinFrame, welcome)
		if added {
			break
		}
		// The room was retired between lookup and insert; the next GetOrCreate makes a fresh one.
	}
	h.Registry.UpdateRoom(pid, id)
	metrics.RoomJoinsTotal.WithLabelValues(bindingRelay).Inc()
	h.refreshRoomGauge()
	log.Info().Str("module", "app.hub").Str("pid", string(pid)).Str("room", string(id)).Int("existing", len(existing)).Msg("joined")

	h.applyPolicy(id, res)
	return nil
}

// Leave removes pid from its room. It reports false when pid was not in a room.
func (h *Hub) Leave(pid domain.ParticipantID) bool {
	id, ok := h.Registry.RoomOf(pid)
	if !ok {
		return false
	}
	h.Registry.UpdateRoom(pid, "")
	room, ok := h.Rooms.Get(id)
	if !ok {
		return false
	}
	leaveFrame := protocol.MustEncode(protocol.Envelope{Type: string(domain.MsgLeave), Room: id, Sender: pid})
	res, removed := room.RemoveMember(pid, leaveFrame)
	if !removed {
		return false
	}
	if h.Rooms.StopIfEmpty(id) {
		log.Info().Str("module", "app.hub").Str("room", string(id)).Msg("room stopped")
	}
	metrics.RoomLeavesTotal.WithLabelValues(bindingRelay).Inc()
	h.refreshRoomGauge()
	log.Info().Str("module", "app.hub").Str("pid", string(pid)).Str("room", string(id)).Msg("left")

	h.applyPolicy(id, res)
	return true
}

// Relay forwards a directed negotiation frame from pid to env.Target.
// An absent target is reported back to the sender as undeliverable.
func (h *Hub) Relay(pid domain.ParticipantID, env protocol.Envelope) error {
	if !domain.MessageType(env.Type).Directed() {
		return fmt.Errorf("relay %q: not a directed message", env.Type)
	}
	id, ok := h.Registry.RoomOf(pid)
	if !ok {
		return ErrNotInRoom
	}
	room, ok := h.Rooms.Get(id)
	if !ok {
		return ErrNotInRoom
	}

	// Sender is always the connection's own id.
	out := protocol.Envelope{Type: env.Type, Room: id, Sender: pid, Target: env.Target, Payload: env.Payload}
	err := room.SendTo(env.Target, protocol.MustEncode(out))
	switch {
	case err == nil:
		metrics.SignalsRelayedTotal.WithLabelValues(env.Type).Inc()
		return nil
	case errors.Is(err, core.ErrNotMember):
		metrics.DeliveryFailuresTotal.WithLabelValues(bindingRelay).Inc()
		log.Debug().Str("module", "app.hub").Str("from", string(pid)).Str("target", string(env.Target)).Msg("target absent, dropped")
		if conn, ok := h.Registry.Conn(pid); ok {
			_ = conn.TrySend(protocol.MustEncode(protocol.Envelope{
				Type:   protocol.TypeUndeliverable,
				Room:   id,
				Target: env.Target,
			}))
		}
		return domain.ErrDeliveryFailed
	default:
		h.applyPolicy(id, core.PublishResult{Dropped: []domain.ParticipantID{env.Target}})
		return err
	}
}

// Disconnect is called once the connection is gone.
func (h *Hub) Disconnect(pid domain.ParticipantID) {
	h.Leave(pid)
	h.Registry.Unbind(pid)
	metrics.ActiveSignalConnections.WithLabelValues(bindingRelay).Dec()
}

// Kick drops a member's connection; its readPump then runs Disconnect.
func (h *Hub) Kick(pid domain.ParticipantID) {
	h.Registry.Cancel(pid)
}

// EvictRoom kicks every member of room.
func (h *Hub) EvictRoom(id domain.RoomID) {
	room, ok := h.Rooms.Get(id)
	if !ok {
		return
	}
	for _, pid := range room.MembersSnapshot() {
		h.Kick(pid)
	}
}

func (h *Hub) applyPolicy(id domain.RoomID, res core.PublishResult) {
	if h.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		action := h.Policy.OnBackPressure(id, slow)
		metrics.BackpressureTotal.WithLabelValues(action.String()).Inc()
		switch action {
		case KickMember:
			log.Warn().Str("module", "app.hub").Str("pid", string(slow)).Str("room", string(id)).Msg("kicking slow member")
			h.Kick(slow)
		case DropFrame, NoAction:
		}
	}
}

func (h *Hub) refreshRoomGauge() {
	metrics.ActiveRooms.WithLabelValues(bindingRelay).Set(float64(len(h.Rooms.List())))
}

func welcomeFrame(id domain.RoomID, pid domain.ParticipantID, existing []domain.ParticipantID) core.Frame {
	if existing == nil {
		existing = []domain.ParticipantID{}
	}
	return protocol.MustEncode(protocol.Envelope{Type: protocol.TypeJoined, Room: id, Target: pid, Members: existing})
}

func othersOf(ids []domain.ParticipantID, self domain.ParticipantID) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(ids))
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}
