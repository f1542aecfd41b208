package signal

import (
	"errors"

	"github.com/dkeye/MeshCall/internal/app"
	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/dkeye/MeshCall/internal/metrics"
	"github.com/dkeye/MeshCall/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	pid domain.ParticipantID,
	token string,
	conn core.SignalConnection,
	env protocol.Envelope,
) {
	key := token
	if key == "" {
		key = string(pid)
	}
	if !ctl.Limiter.Allow(key) {
		metrics.JoinsRateLimitedTotal.Inc()
		log.Warn().Str("module", "signal").Str("pid", string(pid)).Msg("join rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}

	log.Info().Str("module", "signal").Str("pid", string(pid)).Str("room", string(env.Room)).Msg("join")
	if err := ctl.Hub.Join(pid, env.Room); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("join failed")
		reason := "join_failed"
		if errors.Is(err, domain.ErrRoomIDEmpty) || errors.Is(err, domain.ErrRoomIDTooLong) {
			reason = "bad_room"
		}
		ctl.sendError(conn, reason)
	}
}

// handleLeave leaves the current room; the connection itself stays open.
func (ctl *SignalWSController) handleLeave(pid domain.ParticipantID, conn core.SignalConnection) {
	log.Info().Str("module", "signal").Str("pid", string(pid)).Msg("leave")
	ctl.Hub.Leave(pid)
	ctl.sendJSON(conn, protocol.Envelope{Type: protocol.TypeLeft})
}

func (ctl *SignalWSController) handleRelay(pid domain.ParticipantID, conn core.SignalConnection, env protocol.Envelope) {
	err := ctl.Hub.Relay(pid, env)
	switch {
	case err == nil, errors.Is(err, domain.ErrDeliveryFailed):
	case errors.Is(err, app.ErrNotInRoom):
		ctl.sendError(conn, "not_in_room")
	default:
		log.Warn().Err(err).Str("module", "signal").Str("pid", string(pid)).Str("type", env.Type).Msg("relay failed")
	}
}
