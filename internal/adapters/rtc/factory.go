package rtc

import (
	"fmt"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

type Options struct {
	ICEServers []string
	// IncludeLoopback gathers 127.0.0.1 candidates, for peers on the same host.
	IncludeLoopback bool
}

// Factory builds one peer connection per link from a shared pion API.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

var _ core.EngineFactory = (*Factory)(nil)

func NewFactory(opts Options) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api, cfg: WebRTCConfig(opts.ICEServers)}, nil
}

func WebRTCConfig(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

// NewEngine opens a peer connection to remote and attaches every local track of src.
func (f *Factory) NewEngine(remote domain.ParticipantID, src core.MediaSource) (core.NegotiationEngine, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	e := newEngine(pc, remote)
	if src != nil {
		for _, track := range src.Tracks() {
			if err := e.addTrack(track); err != nil {
				_ = pc.Close()
				return nil, err
			}
		}
	}
	return e, nil
}
