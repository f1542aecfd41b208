package domain

import "github.com/google/uuid"

// ParticipantID is assigned by the transport per connection. It is not stable across reconnects.
type ParticipantID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

// PresenceEvent is a join/leave transition of a remote participant.
// Existing is set for the synthetic "added" events a late joiner receives for the roster it finds.
type PresenceEvent struct {
	Room     RoomID
	ID       ParticipantID
	Existing bool
}
