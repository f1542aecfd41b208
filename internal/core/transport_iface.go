package core

import (
	"context"

	"github.com/dkeye/MeshCall/internal/domain"
)

// SignalTransport is the client-side signaling channel of one participant.
// Every binding exposes the same event contract; orchestrators never know which one is active.
type SignalTransport interface {
	// Join registers presence in room and returns the transport-assigned id.
	// A second call while joined is a no-op returning the same id.
	Join(ctx context.Context, room domain.RoomID) (domain.ParticipantID, error)
	// Leave deregisters. A second call is a no-op.
	Leave(ctx context.Context) error
	// Send delivers a directed message. It returns domain.ErrDeliveryFailed when
	// target is not present; the message is dropped.
	Send(ctx context.Context, target domain.ParticipantID, msg domain.SignalMessage) error

	OnParticipantAdded(func(domain.PresenceEvent))
	OnParticipantRemoved(func(domain.PresenceEvent))
	OnMessage(func(domain.SignalMessage))

	// Close releases the underlying channel without a leave handshake.
	Close() error
}
