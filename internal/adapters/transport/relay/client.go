// Package relay is the client binding of the relay signaling server: the server keeps
// the room table and rebroadcasts presence and negotiation frames.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/MeshCall/internal/adapters/wsconn"
	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/dkeye/MeshCall/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	URL         string
	Header      http.Header
	JoinTimeout time.Duration
	Conn        wsconn.Options
}

type Transport struct {
	opts Options

	mu     sync.Mutex
	conn   *wsconn.Conn
	cancel context.CancelFunc
	self   domain.ParticipantID
	room   domain.RoomID
	joined bool
	roster map[domain.ParticipantID]struct{}

	hello   chan domain.ParticipantID
	welcome chan protocol.Envelope
	left    chan struct{}
	failed  chan string

	onAdded   func(domain.PresenceEvent)
	onRemoved func(domain.PresenceEvent)
	onMessage func(domain.SignalMessage)

	logger zerolog.Logger
}

var _ core.SignalTransport = (*Transport)(nil)

func New(opts Options) *Transport {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 10 * time.Second
	}
	opts.Conn.MessageType = websocket.TextMessage
	return &Transport{
		opts:   opts,
		roster: make(map[domain.ParticipantID]struct{}),
		logger: log.With().Str("module", "transport.relay").Logger(),
	}
}

func (t *Transport) OnParticipantAdded(fn func(domain.PresenceEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAdded = fn
}

func (t *Transport) OnParticipantRemoved(fn func(domain.PresenceEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRemoved = fn
}

func (t *Transport) OnMessage(fn func(domain.SignalMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

func (t *Transport) Join(ctx context.Context, room domain.RoomID) (domain.ParticipantID, error) {
	t.mu.Lock()
	if t.joined {
		self, cur := t.self, t.room
		t.mu.Unlock()
		if cur != room {
			return "", fmt.Errorf("join %s: already in room %s", room, cur)
		}
		return self, nil
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.opts.JoinTimeout)
	defer cancel()

	self, err := t.connect(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
	}

	t.mu.Lock()
	t.room = room
	conn, welcome, failed := t.conn, t.welcome, t.failed
	t.mu.Unlock()

	frame := protocol.MustEncode(protocol.Envelope{Type: string(domain.MsgJoin), Room: room})
	if err := conn.TrySend(frame); err != nil {
		t.drop()
		return "", fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
	}

	select {
	case <-welcome:
		t.logger.Info().Str("self", string(self)).Str("room", string(room)).Msg("joined")
		return self, nil
	case reason := <-failed:
		t.drop()
		return "", fmt.Errorf("%w: join rejected: %s", domain.ErrTransportUnavailable, reason)
	case <-conn.Done():
		t.drop()
		return "", fmt.Errorf("%w: connection lost during join", domain.ErrTransportUnavailable)
	case <-ctx.Done():
		t.drop()
		return "", fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, ctx.Err())
	}
}

// connect dials once per connection and waits for the server to assign an id.
func (t *Transport) connect(ctx context.Context) (domain.ParticipantID, error) {
	t.mu.Lock()
	if t.conn != nil && t.self != "" {
		self := t.self
		t.mu.Unlock()
		return self, nil
	}
	t.mu.Unlock()

	conn, err := wsconn.Dial(ctx, t.opts.URL, t.opts.Header, t.opts.Conn)
	if err != nil {
		return "", err
	}
	runCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.hello = make(chan domain.ParticipantID, 1)
	t.welcome = make(chan protocol.Envelope, 1)
	t.left = make(chan struct{}, 1)
	t.failed = make(chan string, 1)
	hello := t.hello
	t.mu.Unlock()

	conn.Run(runCtx,
		func(data []byte) {
			if t.current(conn) {
				t.handleFrame(data)
			}
		},
		func(err error) {
			if t.current(conn) {
				t.handleClose(err)
			}
		},
	)

	select {
	case self := <-hello:
		return self, nil
	case <-conn.Done():
		t.drop()
		return "", errors.New("connection closed before hello")
	case <-ctx.Done():
		t.drop()
		return "", ctx.Err()
	}
}

func (t *Transport) Send(ctx context.Context, target domain.ParticipantID, msg domain.SignalMessage) error {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return domain.ErrNotJoined
	}
	if _, ok := t.roster[target]; !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s not present", domain.ErrDeliveryFailed, target)
	}
	conn, self := t.conn, t.self
	t.mu.Unlock()

	msg.Sender = self
	msg.Target = target
	data, err := protocol.FromSignal(msg).Encode()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return conn.TrySend(data)
}

// Leave asks the server to drop us from the room, waits for the confirmation and closes
// the connection. The next Join gets a new id.
func (t *Transport) Leave(ctx context.Context) error {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return nil
	}
	t.joined = false
	t.roster = make(map[domain.ParticipantID]struct{})
	conn, left := t.conn, t.left
	t.mu.Unlock()

	defer t.drop()
	if err := conn.TrySend(protocol.MustEncode(protocol.Envelope{Type: string(domain.MsgLeave)})); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
	}
	ctx, cancel := context.WithTimeout(ctx, t.opts.JoinTimeout)
	defer cancel()
	select {
	case <-left:
	case <-conn.Done():
		return fmt.Errorf("%w: connection lost during leave", domain.ErrTransportUnavailable)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, ctx.Err())
	}
	_ = conn.Shutdown(ctx)
	t.logger.Info().Msg("left")
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.joined = false
	t.mu.Unlock()
	t.drop()
	return nil
}

func (t *Transport) drop() {
	t.mu.Lock()
	conn, cancel := t.conn, t.cancel
	t.conn, t.cancel, t.self = nil, nil, ""
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// current reports whether conn is still the live connection; frames of a dropped one are ignored.
func (t *Transport) current(conn *wsconn.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn == conn
}

func (t *Transport) handleFrame(data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		t.logger.Warn().Err(err).Msg("bad frame")
		return
	}
	switch env.Type {
	case protocol.TypeHello:
		t.mu.Lock()
		t.self = env.Target
		hello := t.hello
		t.mu.Unlock()
		notify(hello, env.Target)
	case protocol.TypeJoined:
		t.handleJoined(env)
	case string(domain.MsgJoin):
		t.handlePresence(env, true)
	case string(domain.MsgLeave):
		t.handlePresence(env, false)
	case string(domain.MsgOffer), string(domain.MsgAnswer), string(domain.MsgCandidate):
		t.mu.Lock()
		fn, self := t.onMessage, t.self
		t.mu.Unlock()
		if env.Target != self || fn == nil {
			return
		}
		fn(env.Signal())
	case protocol.TypeLeft:
		t.mu.Lock()
		left := t.left
		t.mu.Unlock()
		notify(left, struct{}{})
	case protocol.TypeUndeliverable:
		t.logger.Debug().Str("target", string(env.Target)).Msg("server dropped message for absent target")
	case protocol.TypeError:
		t.logger.Warn().Str("error", env.Error).Msg("server error")
		t.mu.Lock()
		failed, joined := t.failed, t.joined
		t.mu.Unlock()
		if !joined {
			notify(failed, env.Error)
		}
	case protocol.TypePong:
	default:
		t.logger.Warn().Str("type", env.Type).Msg("unknown frame")
	}
}

// handleJoined runs on the read goroutine so the synthetic "added" events for the
// existing roster are raised before any later presence frame.
func (t *Transport) handleJoined(env protocol.Envelope) {
	t.mu.Lock()
	if env.Target != t.self || env.Room != t.room {
		t.mu.Unlock()
		return
	}
	if t.joined {
		t.mu.Unlock()
		return
	}
	t.joined = true
	var added []domain.ParticipantID
	for _, id := range env.Members {
		if id == t.self {
			continue
		}
		if _, ok := t.roster[id]; ok {
			continue
		}
		t.roster[id] = struct{}{}
		added = append(added, id)
	}
	fn, welcome, room := t.onAdded, t.welcome, t.room
	t.mu.Unlock()

	if fn != nil {
		for _, id := range added {
			fn(domain.PresenceEvent{Room: room, ID: id, Existing: true})
		}
	}
	notify(welcome, env)
}

func (t *Transport) handlePresence(env protocol.Envelope, joined bool) {
	t.mu.Lock()
	if !t.joined || env.Sender == t.self || env.Room != t.room {
		t.mu.Unlock()
		return
	}
	_, present := t.roster[env.Sender]
	var fn func(domain.PresenceEvent)
	switch {
	case joined && !present:
		t.roster[env.Sender] = struct{}{}
		fn = t.onAdded
	case !joined && present:
		delete(t.roster, env.Sender)
		fn = t.onRemoved
	}
	room := t.room
	t.mu.Unlock()

	if fn != nil {
		fn(domain.PresenceEvent{Room: room, ID: env.Sender})
	}
}

// handleClose reports everyone as removed when the connection drops while joined;
// nothing can be negotiated over a dead channel.
func (t *Transport) handleClose(err error) {
	t.mu.Lock()
	wasJoined := t.joined
	t.joined = false
	gone := make([]domain.ParticipantID, 0, len(t.roster))
	for id := range t.roster {
		gone = append(gone, id)
	}
	t.roster = make(map[domain.ParticipantID]struct{})
	fn, room := t.onRemoved, t.room
	t.mu.Unlock()

	if !wasJoined {
		return
	}
	t.logger.Warn().Err(err).Int("peers", len(gone)).Msg("connection lost")
	if fn != nil {
		for _, id := range gone {
			fn(domain.PresenceEvent{Room: room, ID: id})
		}
	}
}

func notify[T any](ch chan T, v T) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}
