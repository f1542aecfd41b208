package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/MeshCall/internal/app/peer"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/dkeye/MeshCall/internal/metrics"
	"github.com/pion/webrtc/v4"
)

const sendTimeout = 5 * time.Second

// handleMessage dispatches an inbound negotiation message to its link.
func (o *Orchestrator) handleMessage(msg domain.SignalMessage) {
	if o.leaving {
		return
	}
	l, ok := o.links[msg.Sender]
	if !ok {
		o.logger.Debug().Str("from", string(msg.Sender)).Str("type", string(msg.Type)).Msg("message for unknown link ignored")
		return
	}
	switch msg.Type {
	case domain.MsgOffer:
		l.HandleOffer(msg.Payload)
	case domain.MsgAnswer:
		l.HandleAnswer(msg.Payload)
	case domain.MsgCandidate:
		l.HandleCandidate(msg.Payload)
	default:
		o.logger.Warn().Str("type", string(msg.Type)).Msg("unexpected message type")
	}
}

// linkObserver routes peer.Link outcomes back into the orchestrator.
type linkObserver struct {
	o *Orchestrator
}

func (lo linkObserver) LocalDescription(l *peer.Link, typ domain.MessageType, payload []byte) {
	o := lo.o
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	err := o.Transport.Send(ctx, l.Remote(), domain.SignalMessage{
		Type:    typ,
		Target:  l.Remote(),
		Payload: payload,
	})
	switch {
	case err == nil:
		o.logger.Info().Str("remote", string(l.Remote())).Str("type", string(typ)).Msg("description sent")
	case errors.Is(err, domain.ErrDeliveryFailed):
		// The peer is gone; its removal will close the link.
		o.logger.Info().Str("remote", string(l.Remote())).Str("type", string(typ)).Msg("peer absent, description dropped")
	default:
		o.logger.Error().Err(err).Str("remote", string(l.Remote())).Str("type", string(typ)).Msg("send description")
	}
}

func (lo linkObserver) Connected(l *peer.Link) {
	if lo.o.Observer != nil {
		lo.o.Observer.LinkConnected(l.Remote())
	}
}

func (lo linkObserver) RemoteTrack(l *peer.Link, track *webrtc.TrackRemote) {
	if lo.o.Observer != nil {
		lo.o.Observer.RemoteTrack(l.Remote(), track)
	}
}

func (lo linkObserver) Closed(l *peer.Link, err error) {
	o := lo.o
	if cur, ok := o.links[l.Remote()]; ok && cur == l {
		delete(o.links, l.Remote())
	}
	metrics.ActivePeerLinks.WithLabelValues(l.Role().String()).Dec()
	if err != nil {
		metrics.NegotiationFailuresTotal.Inc()
		o.logger.Warn().Err(err).Str("remote", string(l.Remote())).Msg("link failed")
	}
	if o.Observer != nil {
		o.Observer.LinkClosed(l.Remote(), err)
	}
}
