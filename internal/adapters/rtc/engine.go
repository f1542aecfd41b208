package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrPeerConnectionFailed = errors.New("peer connection failed")

// Engine negotiates one pion peer connection without trickle: descriptions are
// returned only after gathering completes, so candidates travel inside the SDP.
type Engine struct {
	pc     *webrtc.PeerConnection
	remote domain.ParticipantID

	mu          sync.Mutex
	onConnected func()
	onFailed    func(error)
	onTrack     func(*webrtc.TrackRemote)
	connected   bool
	closed      bool

	logger zerolog.Logger
}

func newEngine(pc *webrtc.PeerConnection, remote domain.ParticipantID) *Engine {
	e := &Engine{
		pc:     pc,
		remote: remote,
		logger: log.With().Str("module", "webrtc").Str("remote", string(remote)).Logger(),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		e.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			e.mu.Lock()
			fn := e.onConnected
			first := !e.connected
			e.connected = true
			e.mu.Unlock()
			if first && fn != nil {
				fn()
			}
		case webrtc.PeerConnectionStateFailed:
			e.mu.Lock()
			fn, closed := e.onFailed, e.closed
			e.mu.Unlock()
			if !closed && fn != nil {
				fn(ErrPeerConnectionFailed)
			}
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		e.mu.Lock()
		fn := e.onTrack
		e.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})
	return e
}

func (e *Engine) addTrack(track webrtc.TrackLocal) error {
	sender, err := e.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}
	// Read and discard RTCP so the interceptors keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (e *Engine) CreateOffer(ctx context.Context) ([]byte, error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return e.setLocalAndGather(ctx, offer)
}

func (e *Engine) AcceptOffer(ctx context.Context, payload []byte) ([]byte, error) {
	offer, err := decodeDescription(payload, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	if err := e.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	return e.setLocalAndGather(ctx, answer)
}

func (e *Engine) AcceptAnswer(payload []byte) error {
	answer, err := decodeDescription(payload, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	return e.pc.SetRemoteDescription(answer)
}

func (e *Engine) AddCandidate(payload []byte) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &ci); err != nil {
		return fmt.Errorf("bad candidate: %w", err)
	}
	return e.pc.AddICECandidate(ci)
}

func (e *Engine) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) ([]byte, error) {
	gatherComplete := webrtc.GatheringCompletePromise(e.pc)
	if err := e.pc.SetLocalDescription(desc); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return json.Marshal(e.pc.LocalDescription())
}

func decodeDescription(payload []byte, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return desc, fmt.Errorf("bad session description: %w", err)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("expected %s, got %s", want, desc.Type)
	}
	return desc, nil
}

func (e *Engine) OnConnected(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConnected = fn
}

func (e *Engine) OnFailed(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFailed = fn
}

// OnTrack sets application-level callback for remote tracks.
func (e *Engine) OnTrack(fn func(*webrtc.TrackRemote)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTrack = fn
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	if err := e.pc.Close(); err != nil {
		e.logger.Error().Err(err).Msg("close error")
		return err
	}
	e.logger.Info().Msg("closed")
	return nil
}
