// Package presencews exposes the channels service over websocket with msgpack frames.
package presencews

import (
	"context"
	"net/http"

	"github.com/dkeye/MeshCall/internal/adapters/wsconn"
	"github.com/dkeye/MeshCall/internal/app/channels"
	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Controller struct {
	Service *channels.Service
	Conn    wsconn.Options
}

func NewController(svc *channels.Service, opts wsconn.Options) *Controller {
	opts.MessageType = websocket.BinaryMessage
	return &Controller{Service: svc, Conn: opts}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "presencews").Msg("ws upgrade")
		return
	}
	socketID := uuid.NewString()
	conn := wsconn.New(ws, ctl.Conn)
	ctx, cancel := context.WithCancel(ctx)

	ctl.Service.Connect(socketID, conn, func() {
		cancel()
		conn.Close()
	})
	conn.Run(ctx,
		func(data []byte) { ctl.handleFrame(socketID, conn, data) },
		func(err error) {
			log.Debug().Err(err).Str("module", "presencews").Str("socket", socketID).Msg("read closed")
			ctl.Service.Disconnect(socketID)
			cancel()
		},
	)
}

func (ctl *Controller) handleFrame(socketID string, conn core.SignalConnection, data []byte) {
	f, err := protocol.DecodePresenceFrame(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "presencews").Str("socket", socketID).Msg("bad frame")
		ctl.sendError(conn, f.Channel, "bad_payload")
		return
	}
	switch f.Event {
	case protocol.EventSubscribe:
		if err := ctl.Service.Subscribe(socketID, f.Channel); err != nil {
			ctl.sendError(conn, f.Channel, err.Error())
		}
	case protocol.EventUnsubscribe:
		ctl.Service.Unsubscribe(socketID, f.Channel)
	case protocol.EventClient:
		if err := ctl.Service.Trigger(socketID, f.Channel, f.Name, f.Data); err != nil {
			ctl.sendError(conn, f.Channel, err.Error())
		}
	default:
		log.Warn().Str("module", "presencews").Str("event", f.Event).Msg("unknown event")
	}
}

func (ctl *Controller) sendError(conn core.SignalConnection, channel, reason string) {
	data, err := protocol.PresenceFrame{Event: protocol.EventError, Channel: channel, Error: reason}.Encode()
	if err != nil {
		return
	}
	_ = conn.TrySend(data)
}
