package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/MeshCall/internal/app/peer"
	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/dkeye/MeshCall/internal/metrics"
)

// Join acquires local media, registers presence and starts negotiating with everyone
// already in room. Media and transport failures abort the join with no state left behind,
// so the caller may retry. Joining again while joined is a no-op.
func (o *Orchestrator) Join(ctx context.Context, room domain.RoomID) error {
	if err := room.Validate(); err != nil {
		return err
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()
	switch o.currentPhase() {
	case phaseJoined:
		return nil
	case phaseLeft:
		return ErrLeft
	}

	src, err := o.Media.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrMediaUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrMediaUnavailable, err)
		}
		o.logger.Error().Err(err).Str("room", string(room)).Msg("join aborted")
		return err
	}

	q := newTaskQueue()
	o.source = src
	o.leaving = false
	o.queue.Store(q)
	go q.run()

	o.Transport.OnParticipantAdded(func(ev domain.PresenceEvent) {
		o.post(func() { o.roster.Add(ev) })
	})
	o.Transport.OnParticipantRemoved(func(ev domain.PresenceEvent) {
		o.post(func() { o.roster.Remove(ev) })
	})
	o.Transport.OnMessage(func(msg domain.SignalMessage) {
		o.post(func() { o.handleMessage(msg) })
	})

	self, err := o.Transport.Join(ctx, room)
	if err != nil {
		o.abortJoin(q)
		if !errors.Is(err, domain.ErrTransportUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
		}
		o.logger.Error().Err(err).Str("room", string(room)).Msg("join aborted")
		return err
	}

	o.mu.Lock()
	o.room = room
	o.self = self
	o.phase = phaseJoined
	o.mu.Unlock()
	o.logger.Info().Str("self", string(self)).Str("room", string(room)).Msg("joined room")
	return nil
}

// abortJoin tears down a failed attempt: its loop is drained and stopped, its links and
// roster dropped and its media released. The orchestrator stays idle.
func (o *Orchestrator) abortJoin(q *taskQueue) {
	src := o.shutdownLoop(q)
	q.stop()
	<-q.done
	o.queue.CompareAndSwap(q, nil)
	// Events queued behind the shutdown may have re-added members.
	o.roster.Reset()
	if src != nil {
		src.Release()
	}
}

// Leave closes every link, releases the local media source and deregisters from the room.
// Calling it again, or before Join, is a no-op.
func (o *Orchestrator) Leave(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if o.phase != phaseJoined {
		o.mu.Unlock()
		return nil
	}
	o.phase = phaseLeft
	self, room := o.self, o.room
	o.mu.Unlock()

	q := o.queue.Load()
	if src := o.shutdownLoop(q); src != nil {
		src.Release()
	}

	err := o.Transport.Leave(ctx)
	q.stop()
	if err != nil {
		o.logger.Error().Err(err).Msg("transport leave")
		if !errors.Is(err, domain.ErrTransportUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
		}
		return err
	}
	o.logger.Info().Str("self", string(self)).Str("room", string(room)).Msg("left room")
	return nil
}

// shutdownLoop closes every link on the loop and hands back the media source for release.
func (o *Orchestrator) shutdownLoop(q *taskQueue) core.MediaSource {
	var src core.MediaSource
	q.call(func() {
		o.leaving = true
		for _, l := range o.links {
			l.Close()
		}
		o.roster.Reset()
		src, o.source = o.source, nil
	})
	return src
}

func (o *Orchestrator) currentPhase() phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// onAdded runs on the loop via the roster, which only forwards ids it did not hold. A
// removal closes and forgets the link, so a later "added" always starts a fresh one.
// Participants found at join time get an initiator link; later joiners get a responder
// link and initiate themselves.
func (o *Orchestrator) onAdded(ev domain.PresenceEvent) {
	if o.leaving {
		return
	}

	role := domain.RoleResponder
	if ev.Existing {
		role = domain.RoleInitiator
	}
	engine, err := o.Engines.NewEngine(ev.ID, o.source)
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err)
		o.logger.Error().Err(err).Str("remote", string(ev.ID)).Msg("engine create")
		metrics.NegotiationFailuresTotal.Inc()
		if o.Observer != nil {
			o.Observer.LinkClosed(ev.ID, err)
		}
		return
	}

	l := peer.New(ev.ID, role, engine, o.post, linkObserver{o})
	o.links[ev.ID] = l
	metrics.PeerLinksCreatedTotal.WithLabelValues(role.String()).Inc()
	metrics.ActivePeerLinks.WithLabelValues(role.String()).Inc()
	o.logger.Info().Str("remote", string(ev.ID)).Str("role", role.String()).Msg("link created")
	l.Start()
}

// onRemoved closes the link to a departed participant. No link means nothing to do.
func (o *Orchestrator) onRemoved(ev domain.PresenceEvent) {
	l, ok := o.links[ev.ID]
	if !ok {
		return
	}
	l.Close()
}
