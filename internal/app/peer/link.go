// Package peer implements the per-pair negotiation state machine:
// Idle -> Negotiating -> Connected, with Closed reachable from every state.
package peer

import (
	"context"
	"fmt"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Observer receives the link's outcomes. All calls happen on the owner's event loop.
type Observer interface {
	// LocalDescription hands over a complete description to be sent as typ (offer or answer).
	LocalDescription(l *Link, typ domain.MessageType, payload []byte)
	Connected(l *Link)
	RemoteTrack(l *Link, track *webrtc.TrackRemote)
	// Closed fires once. err wraps domain.ErrNegotiationFailed when negotiation broke the link.
	Closed(l *Link, err error)
}

// Link is one PeerLink. It is not safe for concurrent use: every method must run on
// the owner's event loop, and asynchronous engine results come back through post.
type Link struct {
	remote domain.ParticipantID
	role   domain.Role
	state  domain.LinkState

	engine core.NegotiationEngine
	post   func(func())
	obs    Observer

	ctx      context.Context
	cancel   context.CancelFunc
	gotOffer bool
	logger   zerolog.Logger
}

// New creates an Idle link. post must schedule fn on the owner's event loop.
func New(remote domain.ParticipantID, role domain.Role, engine core.NegotiationEngine, post func(func()), obs Observer) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		remote: remote,
		role:   role,
		state:  domain.LinkIdle,
		engine: engine,
		post:   post,
		obs:    obs,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With().Str("module", "peer").Str("remote", string(remote)).Str("role", role.String()).Logger(),
	}
}

func (l *Link) Remote() domain.ParticipantID { return l.remote }
func (l *Link) Role() domain.Role            { return l.role }
func (l *Link) State() domain.LinkState      { return l.state }

func (l *Link) Info() domain.LinkInfo {
	return domain.LinkInfo{Remote: l.remote, Role: l.role, State: l.state}
}

// Start moves Idle -> Negotiating. An initiator begins generating its offer right away;
// a responder waits for HandleOffer.
func (l *Link) Start() {
	if l.state != domain.LinkIdle {
		return
	}
	l.state = domain.LinkNegotiating

	l.engine.OnConnected(func() {
		l.post(l.markConnected)
	})
	l.engine.OnFailed(func(err error) {
		l.post(func() { l.fail(err) })
	})
	l.engine.OnTrack(func(track *webrtc.TrackRemote) {
		l.post(func() {
			if l.state != domain.LinkClosed {
				l.obs.RemoteTrack(l, track)
			}
		})
	})

	l.logger.Info().Msg("negotiating")
	if l.role == domain.RoleInitiator {
		go l.generate(domain.MsgOffer, func(ctx context.Context) ([]byte, error) {
			return l.engine.CreateOffer(ctx)
		})
	}
}

// HandleOffer applies a remote offer on a responder link and starts generating the answer.
func (l *Link) HandleOffer(payload []byte) {
	if l.state != domain.LinkNegotiating {
		l.logger.Debug().Str("state", l.state.String()).Msg("offer ignored")
		return
	}
	if l.role != domain.RoleResponder || l.gotOffer {
		l.logger.Warn().Msg("unexpected offer ignored")
		return
	}
	l.gotOffer = true
	go l.generate(domain.MsgAnswer, func(ctx context.Context) ([]byte, error) {
		return l.engine.AcceptOffer(ctx, payload)
	})
}

// HandleAnswer applies the remote answer on an initiator link.
func (l *Link) HandleAnswer(payload []byte) {
	if l.state != domain.LinkNegotiating || l.role != domain.RoleInitiator {
		l.logger.Debug().Str("state", l.state.String()).Msg("answer ignored")
		return
	}
	if err := l.engine.AcceptAnswer(payload); err != nil {
		l.fail(err)
	}
}

// HandleCandidate applies a trickled candidate from a peer that negotiates incrementally.
func (l *Link) HandleCandidate(payload []byte) {
	if l.state == domain.LinkClosed {
		return
	}
	if err := l.engine.AddCandidate(payload); err != nil {
		l.logger.Warn().Err(err).Msg("candidate rejected")
	}
}

// Close tears the link down and releases the engine. Closing twice is a no-op.
func (l *Link) Close() {
	l.closeWith(nil)
}

func (l *Link) generate(typ domain.MessageType, fn func(ctx context.Context) ([]byte, error)) {
	desc, err := fn(l.ctx)
	l.post(func() {
		if l.state == domain.LinkClosed {
			l.logger.Debug().Str("type", string(typ)).Msg("description for closed link discarded")
			return
		}
		if err != nil {
			l.fail(err)
			return
		}
		l.logger.Info().Str("type", string(typ)).Int("bytes", len(desc)).Msg("local description ready")
		l.obs.LocalDescription(l, typ, desc)
	})
}

func (l *Link) markConnected() {
	if l.state != domain.LinkNegotiating {
		return
	}
	l.state = domain.LinkConnected
	l.logger.Info().Msg("connected")
	l.obs.Connected(l)
}

func (l *Link) fail(err error) {
	if l.state == domain.LinkClosed {
		return
	}
	l.logger.Warn().Err(err).Msg("negotiation failed")
	l.closeWith(fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err))
}

func (l *Link) closeWith(reason error) {
	if l.state == domain.LinkClosed {
		return
	}
	l.state = domain.LinkClosed
	l.cancel()
	if err := l.engine.Close(); err != nil {
		l.logger.Error().Err(err).Msg("engine close")
	}
	l.logger.Info().Msg("closed")
	l.obs.Closed(l, reason)
}
