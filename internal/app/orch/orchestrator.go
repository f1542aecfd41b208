// Package orch is the client-side room orchestrator. It owns the local media source and
// one peer.Link per remote participant, and runs every handler on a single event loop.
package orch

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/MeshCall/internal/app/peer"
	"github.com/dkeye/MeshCall/internal/app/roster"
	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrLeft = errors.New("orchestrator already left its room")

// Observer receives per-link outcomes. Calls run on the event loop and must not block.
// Self, Room and Roster are safe to call from an Observer; Links and Link are not.
type Observer interface {
	LinkConnected(remote domain.ParticipantID)
	LinkClosed(remote domain.ParticipantID, err error)
	RemoteTrack(remote domain.ParticipantID, track *webrtc.TrackRemote)
}

type phase int

const (
	phaseIdle phase = iota
	phaseJoined
	phaseLeft
)

type Orchestrator struct {
	Transport core.SignalTransport
	Media     core.MediaProvider
	Engines   core.EngineFactory
	Observer  Observer

	roster *roster.Tracker
	// One loop per join attempt; nil between attempts.
	queue atomic.Pointer[taskQueue]

	// opMu serializes Join and Leave. It is never taken on the loop.
	opMu sync.Mutex

	mu    sync.Mutex
	phase phase
	room  domain.RoomID
	self  domain.ParticipantID

	// Owned by the event loop.
	links   map[domain.ParticipantID]*peer.Link
	source  core.MediaSource
	leaving bool

	logger zerolog.Logger
}

func New(transport core.SignalTransport, media core.MediaProvider, engines core.EngineFactory, obs Observer) *Orchestrator {
	o := &Orchestrator{
		Transport: transport,
		Media:     media,
		Engines:   engines,
		Observer:  obs,
		roster:    roster.NewTracker(),
		links:     make(map[domain.ParticipantID]*peer.Link),
		logger:    log.With().Str("module", "orch").Logger(),
	}
	o.roster.OnAdded(o.onAdded)
	o.roster.OnRemoved(o.onRemoved)
	return o
}

// Self returns the transport-assigned id, empty before Join.
func (o *Orchestrator) Self() domain.ParticipantID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.self
}

func (o *Orchestrator) Room() domain.RoomID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.room
}

// Roster is a snapshot of the remote participants currently present.
func (o *Orchestrator) Roster() []domain.ParticipantID {
	return o.roster.Snapshot()
}

// Links is a snapshot of every live PeerLink, taken on the event loop.
func (o *Orchestrator) Links() []domain.LinkInfo {
	q := o.queue.Load()
	if q == nil || !o.joined() {
		return nil
	}
	var out []domain.LinkInfo
	q.call(func() {
		out = make([]domain.LinkInfo, 0, len(o.links))
		for _, l := range o.links {
			out = append(out, l.Info())
		}
	})
	return out
}

// Link returns the state of the link to remote, if there is one.
func (o *Orchestrator) Link(remote domain.ParticipantID) (domain.LinkInfo, bool) {
	var (
		info domain.LinkInfo
		ok   bool
	)
	q := o.queue.Load()
	if q == nil || !o.joined() {
		return info, false
	}
	q.call(func() {
		var l *peer.Link
		if l, ok = o.links[remote]; ok {
			info = l.Info()
		}
	})
	return info, ok
}

func (o *Orchestrator) joined() bool { return o.currentPhase() == phaseJoined }

// post is handed to every link so asynchronous engine results come back to the loop.
func (o *Orchestrator) post(fn func()) {
	q := o.queue.Load()
	if q == nil || !q.post(fn) {
		o.logger.Debug().Msg("event after shutdown dropped")
	}
}
