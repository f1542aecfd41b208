package signal

import (
	"context"
	"net/http"

	"github.com/dkeye/MeshCall/internal/adapters/wsconn"
	"github.com/dkeye/MeshCall/internal/app"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SignalWSController serves the relay binding: one websocket per participant,
// JSON envelopes in both directions.
type SignalWSController struct {
	Hub     *app.Hub
	Limiter *RoomRateLimiter
	Conn    wsconn.Options
}

func NewSignalWSController(hub *app.Hub, limiter *RoomRateLimiter, opts wsconn.Options) *SignalWSController {
	opts.MessageType = websocket.TextMessage
	return &SignalWSController{
		Hub:     hub,
		Limiter: limiter,
		Conn:    opts,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	pid := domain.NewParticipantID()
	token := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("pid", string(pid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := wsconn.New(ws, ctl.Conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Connect(pid, token, conn, func() {
		cancel()
		conn.Close()
	})

	conn.Run(ctx,
		func(data []byte) { ctl.handleSignal(pid, token, conn, data) },
		func(err error) {
			log.Info().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("readPump closing")
			ctl.Hub.Disconnect(pid)
			cancel()
		},
	)
}
