package core

//go:generate mockgen -source=media_iface.go -destination=mocks/media_mock.go -package=mocks

import (
	"context"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// MediaSource is the local capture stream. It is shared read-only by every link
// and released once by its owner.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	Release()
}

type MediaProvider interface {
	Acquire(ctx context.Context) (MediaSource, error)
}

// NegotiationEngine is the per-link connection negotiation backend.
// Descriptions are complete: all local candidates are gathered before they are returned.
type NegotiationEngine interface {
	CreateOffer(ctx context.Context) ([]byte, error)
	AcceptOffer(ctx context.Context, offer []byte) ([]byte, error)
	AcceptAnswer(answer []byte) error
	AddCandidate(candidate []byte) error

	// OnConnected fires once the underlying link reports connectivity.
	OnConnected(func())
	// OnFailed fires when the underlying link fails after negotiation.
	OnFailed(func(error))
	// OnTrack fires for every remote media track.
	OnTrack(func(*webrtc.TrackRemote))

	Close() error
}

type EngineFactory interface {
	NewEngine(remote domain.ParticipantID, src MediaSource) (NegotiationEngine, error)
}
