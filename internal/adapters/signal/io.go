package signal

import (
	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/dkeye/MeshCall/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleSignal(pid domain.ParticipantID, token string, c core.SignalConnection, data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch env.Type {
	case string(domain.MsgJoin):
		ctl.handleJoin(pid, token, c, env)
	case string(domain.MsgLeave):
		ctl.handleLeave(pid, c)
	case protocol.TypePing:
		ctl.handlePing(c)
	case string(domain.MsgOffer), string(domain.MsgAnswer), string(domain.MsgCandidate):
		ctl.handleRelay(pid, c, env)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, env protocol.Envelope) {
	b, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, reason string) {
	ctl.sendJSON(c, protocol.Envelope{Type: protocol.TypeError, Error: reason})
}
