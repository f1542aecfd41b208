// Package media provides the local capture stream. The synthetic source emits Opus
// silence frames at capture pace so links carry real RTP without a device.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	frameDuration   = 20 * time.Millisecond
	samplesPerFrame = 960 // 20ms at 48kHz
	opusPayloadType = 111
)

// Opus TOC byte and two zero frames: a valid silent packet.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

type SyntheticProvider struct {
	// Label prefixes track and stream ids.
	Label string
}

var _ core.MediaProvider = (*SyntheticProvider)(nil)

func (p *SyntheticProvider) Acquire(ctx context.Context) (core.MediaSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMediaUnavailable, err)
	}
	label := p.Label
	if label == "" {
		label = "meshcall"
	}
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		fmt.Sprintf("audio-%s", label),
		fmt.Sprintf("stream-%s", label),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMediaUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	src := &SyntheticSource{audio: track, cancel: cancel, done: make(chan struct{})}
	go src.pump(runCtx)
	log.Info().Str("module", "media").Str("track", track.ID()).Msg("synthetic source acquired")
	return src, nil
}

type SyntheticSource struct {
	audio  *webrtc.TrackLocalStaticRTP
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *SyntheticSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio}
}

// Release stops the frame pump. Safe to call more than once.
func (s *SyntheticSource) Release() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		log.Info().Str("module", "media").Str("track", s.audio.ID()).Msg("synthetic source released")
	})
}

// Done is closed once the pump has stopped.
func (s *SyntheticSource) Done() <-chan struct{} { return s.done }

func (s *SyntheticSource) pump(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		packet := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    opusPayloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
			},
			Payload: opusSilence,
		}
		seq++
		ts += samplesPerFrame
		// No bound sender yet is not an error; the track just drops the packet.
		if err := s.audio.WriteRTP(packet); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug().Err(err).Str("module", "media").Msg("write rtp")
		}
	}
}
