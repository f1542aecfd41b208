// Package channels is a hosted pub/sub service with presence channels: every channel
// tracks its subscribers natively and announces member_added / member_removed.
package channels

import (
	"errors"
	"strings"
	"sync"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/metrics"
	"github.com/dkeye/MeshCall/internal/protocol"
	"github.com/rs/zerolog/log"
)

const binding = "presence"

var (
	ErrUnknownSocket  = errors.New("unknown socket")
	ErrBadChannel     = errors.New("not a presence channel")
	ErrNotSubscribed  = errors.New("not subscribed to channel")
	ErrBadClientEvent = errors.New("client event names must start with client-")
)

type socket struct {
	conn     core.SignalConnection
	cancel   func()
	channels map[string]struct{}
}

type channel struct {
	members map[string]struct{}
}

type Service struct {
	mu       sync.Mutex
	sockets  map[string]*socket
	channels map[string]*channel
}

func NewService() *Service {
	return &Service{
		sockets:  make(map[string]*socket),
		channels: make(map[string]*channel),
	}
}

func (s *Service) Connect(socketID string, conn core.SignalConnection, cancel func()) {
	s.mu.Lock()
	s.sockets[socketID] = &socket{conn: conn, cancel: cancel, channels: make(map[string]struct{})}
	s.mu.Unlock()
	metrics.ActiveSignalConnections.WithLabelValues(binding).Inc()
	s.send(conn, protocol.PresenceFrame{Event: protocol.EventConnectionEstablished, SocketID: socketID})
	log.Info().Str("module", "app.channels").Str("socket", socketID).Msg("connected")
}

// Subscribe adds socketID to the channel, replies with the full member list and
// announces the new member to everyone else. Subscribing twice only repeats the reply.
func (s *Service) Subscribe(socketID, name string) error {
	if _, ok := protocol.RoomOfChannel(name); !ok {
		return ErrBadChannel
	}
	var slow []string

	s.mu.Lock()
	sock, ok := s.sockets[socketID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownSocket
	}
	ch, ok := s.channels[name]
	if !ok {
		ch = &channel{members: make(map[string]struct{})}
		s.channels[name] = ch
		metrics.ActiveRooms.WithLabelValues(binding).Set(float64(len(s.channels)))
	}
	_, already := ch.members[socketID]
	ch.members[socketID] = struct{}{}
	sock.channels[name] = struct{}{}

	members := make([]string, 0, len(ch.members))
	for id := range ch.members {
		members = append(members, id)
	}
	if !s.send(sock.conn, protocol.PresenceFrame{
		Event:   protocol.EventSubscriptionSucceeded,
		Channel: name,
		Member:  socketID,
		Members: members,
	}) {
		slow = append(slow, socketID)
	}
	if !already {
		slow = append(slow, s.broadcastLocked(name, socketID, protocol.PresenceFrame{
			Event:   protocol.EventMemberAdded,
			Channel: name,
			Member:  socketID,
		})...)
		metrics.RoomJoinsTotal.WithLabelValues(binding).Inc()
	}
	s.mu.Unlock()

	log.Info().Str("module", "app.channels").Str("socket", socketID).Str("channel", name).Int("members", len(members)).Msg("subscribed")
	s.kick(slow)
	return nil
}

// Unsubscribe removes socketID from the channel. It reports whether it was a member.
func (s *Service) Unsubscribe(socketID, name string) bool {
	s.mu.Lock()
	ok, slow := s.unsubscribeLocked(socketID, name)
	s.mu.Unlock()
	s.kick(slow)
	return ok
}

func (s *Service) unsubscribeLocked(socketID, name string) (bool, []string) {
	ch, ok := s.channels[name]
	if !ok {
		return false, nil
	}
	if _, ok := ch.members[socketID]; !ok {
		return false, nil
	}
	delete(ch.members, socketID)
	if sock, ok := s.sockets[socketID]; ok {
		delete(sock.channels, name)
	}
	slow := s.broadcastLocked(name, socketID, protocol.PresenceFrame{
		Event:   protocol.EventMemberRemoved,
		Channel: name,
		Member:  socketID,
	})
	if len(ch.members) == 0 {
		delete(s.channels, name)
		metrics.ActiveRooms.WithLabelValues(binding).Set(float64(len(s.channels)))
	}
	metrics.RoomLeavesTotal.WithLabelValues(binding).Inc()
	log.Info().Str("module", "app.channels").Str("socket", socketID).Str("channel", name).Msg("unsubscribed")
	return true, slow
}

// Trigger broadcasts a client event to every other member of the channel.
func (s *Service) Trigger(socketID, name, event string, data []byte) error {
	if !strings.HasPrefix(event, "client-") {
		return ErrBadClientEvent
	}
	s.mu.Lock()
	ch, ok := s.channels[name]
	if !ok {
		s.mu.Unlock()
		return ErrNotSubscribed
	}
	if _, ok := ch.members[socketID]; !ok {
		s.mu.Unlock()
		return ErrNotSubscribed
	}
	slow := s.broadcastLocked(name, socketID, protocol.PresenceFrame{
		Event:   protocol.EventClient,
		Channel: name,
		Name:    event,
		Member:  socketID,
		Data:    data,
	})
	s.mu.Unlock()
	s.kick(slow)
	return nil
}

// Disconnect drops the socket from every channel it was subscribed to.
func (s *Service) Disconnect(socketID string) {
	var slow []string
	s.mu.Lock()
	sock, ok := s.sockets[socketID]
	if ok {
		for name := range sock.channels {
			_, kicked := s.unsubscribeLocked(socketID, name)
			slow = append(slow, kicked...)
		}
		delete(s.sockets, socketID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	metrics.ActiveSignalConnections.WithLabelValues(binding).Dec()
	log.Info().Str("module", "app.channels").Str("socket", socketID).Msg("disconnected")
	s.kick(slow)
}

// Members returns a copy of the channel's member list.
func (s *Service) Members(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ch.members))
	for id := range ch.members {
		out = append(out, id)
	}
	return out
}

func (s *Service) broadcastLocked(name, from string, f protocol.PresenceFrame) []string {
	ch, ok := s.channels[name]
	if !ok {
		return nil
	}
	data, err := f.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.channels").Msg("encode frame")
		return nil
	}
	var slow []string
	for id := range ch.members {
		if id == from {
			continue
		}
		sock, ok := s.sockets[id]
		if !ok {
			continue
		}
		if err := sock.conn.TrySend(data); err != nil {
			slow = append(slow, id)
		}
	}
	return slow
}

func (s *Service) send(conn core.SignalConnection, f protocol.PresenceFrame) bool {
	data, err := f.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.channels").Msg("encode frame")
		return false
	}
	return conn.TrySend(data) == nil
}

// Kick drops the socket's connection; its read loop then runs Disconnect.
func (s *Service) Kick(socketID string) bool {
	s.mu.Lock()
	sock, ok := s.sockets[socketID]
	s.mu.Unlock()
	if !ok || sock.cancel == nil {
		return false
	}
	sock.cancel()
	return true
}

// kick cancels slow sockets outside the service lock.
func (s *Service) kick(ids []string) {
	for _, id := range ids {
		log.Warn().Str("module", "app.channels").Str("socket", id).Msg("kicking slow socket")
		if s.Kick(id) {
			metrics.BackpressureTotal.WithLabelValues("kick").Inc()
		}
	}
}
