// Package transport selects the signaling binding from configuration.
package transport

import (
	"fmt"

	"github.com/dkeye/MeshCall/internal/adapters/transport/presence"
	"github.com/dkeye/MeshCall/internal/adapters/transport/relay"
	"github.com/dkeye/MeshCall/internal/adapters/wsconn"
	"github.com/dkeye/MeshCall/internal/config"
	"github.com/dkeye/MeshCall/internal/core"
)

func NewFromConfig(cfg *config.Config) (core.SignalTransport, error) {
	connOpts := wsconn.Options{
		ReadLimit:  cfg.ReadLimit,
		SendBuffer: cfg.SendBuffer,
		WriteWait:  cfg.WriteWait,
		PingPeriod: cfg.PingPeriod,
	}
	switch cfg.Transport {
	case config.TransportRelay:
		return relay.New(relay.Options{
			URL:         cfg.SignalURL(),
			JoinTimeout: cfg.JoinTimeout,
			Conn:        connOpts,
		}), nil
	case config.TransportPresence:
		return presence.New(presence.Options{
			URL:         cfg.SignalURL(),
			JoinTimeout: cfg.JoinTimeout,
			Conn:        connOpts,
		}), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}
