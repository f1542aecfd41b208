// Package presence binds the signaling contract to a hosted presence channel. Membership
// comes from the channel's native member events; directed messages are client events
// broadcast on the channel that every member but the target ignores.
package presence

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

	mu       sync.Mutex
	conn     *wsconn.Conn
	cancel   context.CancelFunc
	socketID string
	channel  string
	room     domain.RoomID
	joined   bool
	roster   map[domain.ParticipantID]struct{}

	established chan string
	subscribed  chan struct{}
	failed      chan string

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
	opts.Conn.MessageType = websocket.BinaryMessage
	return &Transport{
		opts:   opts,
		roster: make(map[domain.ParticipantID]struct{}),
		logger: log.With().Str("module", "transport.presence").Logger(),
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

// Join subscribes to the room's presence channel. The socket id the service assigns is
// the participant id.
func (t *Transport) Join(ctx context.Context, room domain.RoomID) (domain.ParticipantID, error) {
	t.mu.Lock()
	if t.joined {
		self, cur := t.socketID, t.room
		t.mu.Unlock()
		if cur != room {
			return "", fmt.Errorf("join %s: already in room %s", room, cur)
		}
		return domain.ParticipantID(self), nil
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.opts.JoinTimeout)
	defer cancel()

	socketID, err := t.connect(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
	}

	channel := protocol.ChannelName(room)
	t.mu.Lock()
	t.room = room
	t.channel = channel
	conn, subscribed, failed := t.conn, t.subscribed, t.failed
	t.mu.Unlock()

	if err := t.sendFrame(conn, protocol.PresenceFrame{Event: protocol.EventSubscribe, Channel: channel}); err != nil {
		t.drop()
		return "", fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
	}

	select {
	case <-subscribed:
		t.logger.Info().Str("self", socketID).Str("channel", channel).Msg("subscribed")
		return domain.ParticipantID(socketID), nil
	case reason := <-failed:
		t.drop()
		return "", fmt.Errorf("%w: subscription rejected: %s", domain.ErrTransportUnavailable, reason)
	case <-conn.Done():
		t.drop()
		return "", fmt.Errorf("%w: connection lost during subscribe", domain.ErrTransportUnavailable)
	case <-ctx.Done():
		t.drop()
		return "", fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, ctx.Err())
	}
}

func (t *Transport) connect(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.conn != nil && t.socketID != "" {
		id := t.socketID
		t.mu.Unlock()
		return id, nil
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
	t.established = make(chan string, 1)
	t.subscribed = make(chan struct{}, 1)
	t.failed = make(chan string, 1)
	established := t.established
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
	case id := <-established:
		return id, nil
	case <-conn.Done():
		t.drop()
		return "", errors.New("connection closed before it was established")
	case <-ctx.Done():
		t.drop()
		return "", ctx.Err()
	}
}

// Send triggers a client event addressed to target. The channel delivers it to every
// member; only target acts on it.
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
	conn, self, channel := t.conn, t.socketID, t.channel
	t.mu.Unlock()

	msg.Sender = domain.ParticipantID(self)
	msg.Target = target
	data, err := protocol.EncodeSignal(msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.sendFrame(conn, protocol.PresenceFrame{
		Event:   protocol.EventClient,
		Channel: channel,
		Name:    protocol.ClientSignal,
		Data:    data,
	})
}

// Leave unsubscribes and closes the connection once the unsubscribe is flushed.
func (t *Transport) Leave(ctx context.Context) error {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return nil
	}
	t.joined = false
	t.roster = make(map[domain.ParticipantID]struct{})
	conn, channel := t.conn, t.channel
	t.mu.Unlock()

	defer t.drop()
	if err := t.sendFrame(conn, protocol.PresenceFrame{Event: protocol.EventUnsubscribe, Channel: channel}); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
	}
	ctx, cancel := context.WithTimeout(ctx, t.opts.JoinTimeout)
	defer cancel()
	if err := conn.Shutdown(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
	}
	t.logger.Info().Str("channel", channel).Msg("unsubscribed")
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
	t.conn, t.cancel, t.socketID = nil, nil, ""
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
}

func (t *Transport) current(conn *wsconn.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn == conn
}

func (t *Transport) sendFrame(conn *wsconn.Conn, f protocol.PresenceFrame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	return conn.TrySend(data)
}

func (t *Transport) handleFrame(data []byte) {
	f, err := protocol.DecodePresenceFrame(data)
	if err != nil {
		t.logger.Warn().Err(err).Msg("bad frame")
		return
	}
	switch f.Event {
	case protocol.EventConnectionEstablished:
		t.mu.Lock()
		t.socketID = f.SocketID
		established := t.established
		t.mu.Unlock()
		notify(established, f.SocketID)
	case protocol.EventSubscriptionSucceeded:
		t.handleSubscribed(f)
	case protocol.EventMemberAdded:
		t.handleMember(f, true)
	case protocol.EventMemberRemoved:
		t.handleMember(f, false)
	case protocol.EventClient:
		t.handleClientEvent(f)
	case protocol.EventError:
		t.logger.Warn().Str("error", f.Error).Msg("service error")
		t.mu.Lock()
		failed, joined := t.failed, t.joined
		t.mu.Unlock()
		if !joined {
			notify(failed, f.Error)
		}
	default:
		t.logger.Warn().Str("event", f.Event).Msg("unknown event")
	}
}

// handleSubscribed translates the initial member list into synthetic "added" events.
func (t *Transport) handleSubscribed(f protocol.PresenceFrame) {
	t.mu.Lock()
	if f.Channel != t.channel || t.joined {
		t.mu.Unlock()
		return
	}
	t.joined = true
	var added []domain.ParticipantID
	for _, m := range f.Members {
		id := domain.ParticipantID(m)
		if m == t.socketID {
			continue
		}
		if _, ok := t.roster[id]; ok {
			continue
		}
		t.roster[id] = struct{}{}
		added = append(added, id)
	}
	fn, subscribed, room := t.onAdded, t.subscribed, t.room
	t.mu.Unlock()

	if fn != nil {
		for _, id := range added {
			fn(domain.PresenceEvent{Room: room, ID: id, Existing: true})
		}
	}
	notify(subscribed, struct{}{})
}

func (t *Transport) handleMember(f protocol.PresenceFrame, added bool) {
	id := domain.ParticipantID(f.Member)
	t.mu.Lock()
	if !t.joined || f.Channel != t.channel || f.Member == t.socketID {
		t.mu.Unlock()
		return
	}
	_, present := t.roster[id]
	var fn func(domain.PresenceEvent)
	switch {
	case added && !present:
		t.roster[id] = struct{}{}
		fn = t.onAdded
	case !added && present:
		delete(t.roster, id)
		fn = t.onRemoved
	}
	room := t.room
	t.mu.Unlock()

	if fn != nil {
		fn(domain.PresenceEvent{Room: room, ID: id})
	}
}

func (t *Transport) handleClientEvent(f protocol.PresenceFrame) {
	if f.Name != protocol.ClientSignal {
		return
	}
	msg, err := protocol.DecodeSignal(f.Data)
	if err != nil {
		t.logger.Warn().Err(err).Msg("bad client event")
		return
	}
	t.mu.Lock()
	fn, self, joined := t.onMessage, t.socketID, t.joined
	t.mu.Unlock()
	if !joined || fn == nil || string(msg.Target) != self {
		return
	}
	// The service stamps the real sender; the payload's claim is not trusted.
	msg.Sender = domain.ParticipantID(f.Member)
	fn(msg)
}

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
