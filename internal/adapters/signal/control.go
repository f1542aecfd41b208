package signal

import (
	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/protocol"
)

func (ctl *SignalWSController) handlePing(conn core.SignalConnection) {
	ctl.sendJSON(conn, protocol.Envelope{Type: protocol.TypePong})
}
