package http

import (
	"context"
	"net/http"

	"github.com/dkeye/MeshCall/internal/adapters/presencews"
	"github.com/dkeye/MeshCall/internal/adapters/signal"
	"github.com/dkeye/MeshCall/internal/app"
	"github.com/dkeye/MeshCall/internal/config"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/dkeye/MeshCall/internal/protocol"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "ct"

// ClientTokenMiddleware keeps a per-browser token in the session. The relay uses it
// to rate limit joins across reconnects.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type Deps struct {
	Hub      *app.Hub
	Channels *presencews.Controller
	Signal   *signal.SignalWSController
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("MeshCallSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Hub.Rooms.List())
	})

	// A room exists once somebody joins it; creating one only hands out a fresh id.
	api.POST("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"id": domain.NewRoomID()})
	})

	api.GET("/rooms/:id/members", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		if err := id.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		members := []domain.ParticipantID{}
		if room, ok := deps.Hub.Rooms.Get(id); ok {
			members = room.MembersSnapshot()
		}
		c.JSON(http.StatusOK, gin.H{"room": id, "members": members})
	})

	api.GET("/channels/:room/members", func(c *gin.Context) {
		members := deps.Channels.Service.Members(protocol.ChannelName(domain.RoomID(c.Param("room"))))
		if members == nil {
			members = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"members": members})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws signal endpoint hit")
		deps.Signal.HandleSignal(ctx, c)
	})
	api.GET("/ws/presence", func(c *gin.Context) {
		deps.Channels.Handle(ctx, c)
	})

	return r
}
