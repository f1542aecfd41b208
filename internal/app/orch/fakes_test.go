package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// network is an in-memory relay: one room table, synchronous fan-out under one lock.
type network struct {
	mu      sync.Mutex
	nextID  int
	rooms   map[domain.RoomID]map[domain.ParticipantID]*fakeTransport
	engines map[[2]domain.ParticipantID]*fakeEngine
}

func newNetwork() *network {
	return &network{
		rooms:   make(map[domain.RoomID]map[domain.ParticipantID]*fakeTransport),
		engines: make(map[[2]domain.ParticipantID]*fakeEngine),
	}
}

type fakeTransport struct {
	net     *network
	joinErr error

	// Guarded by net.mu.
	id        domain.ParticipantID
	room      domain.RoomID
	joined    bool
	onAdded   func(domain.PresenceEvent)
	onRemoved func(domain.PresenceEvent)
	onMessage func(domain.SignalMessage)
}

var _ core.SignalTransport = (*fakeTransport)(nil)

func (n *network) transport() *fakeTransport { return &fakeTransport{net: n} }

func (t *fakeTransport) OnParticipantAdded(fn func(domain.PresenceEvent)) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.onAdded = fn
}

func (t *fakeTransport) OnParticipantRemoved(fn func(domain.PresenceEvent)) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.onRemoved = fn
}

func (t *fakeTransport) OnMessage(fn func(domain.SignalMessage)) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.onMessage = fn
}

func (t *fakeTransport) Join(_ context.Context, room domain.RoomID) (domain.ParticipantID, error) {
	if t.joinErr != nil {
		return "", t.joinErr
	}
	n := t.net
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	t.id = domain.ParticipantID(fmt.Sprintf("p%d", n.nextID))
	t.room = room
	t.joined = true

	members := n.rooms[room]
	if members == nil {
		members = make(map[domain.ParticipantID]*fakeTransport)
		n.rooms[room] = members
	}
	for id, other := range members {
		t.onAdded(domain.PresenceEvent{Room: room, ID: id, Existing: true})
		other.onAdded(domain.PresenceEvent{Room: room, ID: t.id})
	}
	members[t.id] = t
	return t.id, nil
}

func (t *fakeTransport) Leave(context.Context) error {
	n := t.net
	n.mu.Lock()
	defer n.mu.Unlock()
	t.leaveLocked()
	return nil
}

func (t *fakeTransport) leaveLocked() {
	if !t.joined {
		return
	}
	t.joined = false
	members := t.net.rooms[t.room]
	delete(members, t.id)
	for _, other := range members {
		other.onRemoved(domain.PresenceEvent{Room: t.room, ID: t.id})
	}
}

// drop simulates a lost connection: the peer sees everyone leave at once.
func (t *fakeTransport) drop() {
	n := t.net
	n.mu.Lock()
	defer n.mu.Unlock()
	members := n.rooms[t.room]
	for id := range members {
		if id != t.id {
			t.onRemoved(domain.PresenceEvent{Room: t.room, ID: id})
		}
	}
	t.leaveLocked()
}

func (t *fakeTransport) Send(_ context.Context, target domain.ParticipantID, msg domain.SignalMessage) error {
	n := t.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if !t.joined {
		return domain.ErrNotJoined
	}
	peer, ok := n.rooms[t.room][target]
	if !ok {
		return domain.ErrDeliveryFailed
	}
	msg.Sender = t.id
	msg.Target = target
	peer.onMessage(msg)
	return nil
}

// inject delivers msg to t as if it came from sender.
func (t *fakeTransport) inject(msg domain.SignalMessage) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.onMessage(msg)
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) ID() domain.ParticipantID {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	return t.id
}

// fakeEngine connects as soon as the initiator applies the answer.
type fakeEngine struct {
	net          *network
	self, remote domain.ParticipantID

	mu          sync.Mutex
	onConnected func()
	onFailed    func(error)
	gotOffer    string
	gotAnswer   string
	closed      bool
}

type engineFactory struct {
	net       *network
	transport *fakeTransport
	fail      error
}

func (f *engineFactory) NewEngine(remote domain.ParticipantID, _ core.MediaSource) (core.NegotiationEngine, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	self := f.transport.ID()
	e := &fakeEngine{net: f.net, self: self, remote: remote}
	f.net.mu.Lock()
	f.net.engines[[2]domain.ParticipantID{self, remote}] = e
	f.net.mu.Unlock()
	return e, nil
}

func (e *fakeEngine) CreateOffer(context.Context) ([]byte, error) {
	return []byte(fmt.Sprintf(`"offer %s->%s"`, e.self, e.remote)), nil
}

func (e *fakeEngine) AcceptOffer(_ context.Context, offer []byte) ([]byte, error) {
	e.mu.Lock()
	e.gotOffer = string(offer)
	e.mu.Unlock()
	return []byte(fmt.Sprintf(`"answer %s->%s"`, e.self, e.remote)), nil
}

func (e *fakeEngine) AcceptAnswer(answer []byte) error {
	e.mu.Lock()
	e.gotAnswer = string(answer)
	e.mu.Unlock()

	e.net.mu.Lock()
	peer := e.net.engines[[2]domain.ParticipantID{e.remote, e.self}]
	e.net.mu.Unlock()

	e.connect()
	if peer != nil {
		peer.connect()
	}
	return nil
}

func (e *fakeEngine) connect() {
	e.mu.Lock()
	fn, closed := e.onConnected, e.closed
	e.mu.Unlock()
	if fn != nil && !closed {
		fn()
	}
}

func (e *fakeEngine) AddCandidate([]byte) error { return nil }

func (e *fakeEngine) OnConnected(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConnected = fn
}

func (e *fakeEngine) OnFailed(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFailed = fn
}

func (e *fakeEngine) OnTrack(func(*webrtc.TrackRemote)) {}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) received() (offer, answer string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gotOffer, e.gotAnswer
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type fakeMedia struct {
	mu       sync.Mutex
	acquired int
	released int
	err      error
}

func (m *fakeMedia) Acquire(context.Context) (core.MediaSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.acquired++
	return fakeSource{m}, nil
}

func (m *fakeMedia) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired, m.released
}

type fakeSource struct{ m *fakeMedia }

func (s fakeSource) Tracks() []webrtc.TrackLocal { return nil }

func (s fakeSource) Release() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.released++
}

type recorder struct {
	mu        sync.Mutex
	connected map[domain.ParticipantID]int
	closed    map[domain.ParticipantID][]error
}

func newRecorder() *recorder {
	return &recorder{
		connected: make(map[domain.ParticipantID]int),
		closed:    make(map[domain.ParticipantID][]error),
	}
}

func (r *recorder) LinkConnected(remote domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[remote]++
}

func (r *recorder) LinkClosed(remote domain.ParticipantID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed[remote] = append(r.closed[remote], err)
}

func (r *recorder) RemoteTrack(domain.ParticipantID, *webrtc.TrackRemote) {}

func (r *recorder) connectedTo(remote domain.ParticipantID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected[remote]
}

func (r *recorder) closedWith(remote domain.ParticipantID) []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.closed[remote]...)
}

// participant bundles one orchestrator with its fakes.
type participant struct {
	o         *Orchestrator
	transport *fakeTransport
	media     *fakeMedia
	rec       *recorder
}

func newParticipant(n *network) *participant {
	tr := n.transport()
	p := &participant{transport: tr, media: &fakeMedia{}, rec: newRecorder()}
	p.o = New(tr, p.media, &engineFactory{net: n, transport: tr}, p.rec)
	return p
}

func (p *participant) join(t *testing.T, room domain.RoomID) {
	t.Helper()
	if err := p.o.Join(context.Background(), room); err != nil {
		t.Fatalf("join %s: %v", room, err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func linkRole(p *participant, remote domain.ParticipantID) (domain.Role, bool) {
	info, ok := p.o.Link(remote)
	return info.Role, ok
}

func allConnected(p *participant, n int) func() bool {
	return func() bool {
		links := p.o.Links()
		if len(links) != n {
			return false
		}
		for _, l := range links {
			if l.State != domain.LinkConnected {
				return false
			}
		}
		return true
	}
}

var errBoom = errors.New("boom")
