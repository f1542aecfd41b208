package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/MeshCall/internal/adapters/http"
	"github.com/dkeye/MeshCall/internal/adapters/presencews"
	sigws "github.com/dkeye/MeshCall/internal/adapters/signal"
	"github.com/dkeye/MeshCall/internal/adapters/wsconn"
	"github.com/dkeye/MeshCall/internal/app"
	"github.com/dkeye/MeshCall/internal/app/channels"
	"github.com/dkeye/MeshCall/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	connOpts := wsconn.Options{
		ReadLimit:  cfg.ReadLimit,
		SendBuffer: cfg.SendBuffer,
		WriteWait:  cfg.WriteWait,
		PingPeriod: cfg.PingPeriod,
	}
	hub := app.NewHub(app.PolicyFromConfig(cfg.Backpressure))
	limiter := sigws.NewRoomRateLimiter(cfg.JoinRateLimit, cfg.JoinRateInterval)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Hub:      hub,
		Signal:   sigws.NewSignalWSController(hub, limiter, connOpts),
		Channels: presencews.NewController(channels.NewService(), connOpts),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("MeshCall signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
