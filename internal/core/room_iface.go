package core

import (
	"github.com/dkeye/MeshCall/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the relay hub.
type PublishResult struct {
	SendTo  int
	Dropped []domain.ParticipantID
}

// RoomService is the relay-side membership set of one room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	ID() domain.RoomID
	MemberCount() int
	MembersSnapshot() []domain.ParticipantID

	// AddMember atomically snapshots the current members, adds pid, queues welcome(existing)
	// on conn and announces pid to the others with joinFrame. ok is false if the room was already stopped.
	AddMember(pid domain.ParticipantID, conn SignalConnection, joinFrame Frame, welcome func(existing []domain.ParticipantID) Frame) (existing []domain.ParticipantID, res PublishResult, ok bool)
	// RemoveMember removes pid and announces leaveFrame to the rest. It reports whether pid was a member.
	RemoveMember(pid domain.ParticipantID, leaveFrame Frame) (PublishResult, bool)
	SendTo(target domain.ParticipantID, f Frame) error
	Broadcast(from domain.ParticipantID, f Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"client_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	// StopIfEmpty removes the room when it has no members left.
	StopIfEmpty(id domain.RoomID) bool
}
