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

	router "camrelay/internal/adapters/http"
	"camrelay/internal/adapters/identity"
	wsignal "camrelay/internal/adapters/signal"
	"camrelay/internal/app"
	"camrelay/internal/config"
	"camrelay/internal/core"
	"camrelay/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.DeviceSecret == "" {
		log.Warn().Msg("DEVICE_SECRET is not set; device authentication will fail closed")
	}

	clock := core.SystemClock()
	m := metrics.New()

	var verifier core.IdentityVerifier
	if cfg.IdentityURL != "" {
		verifier = identity.NewHTTPVerifier(cfg.IdentityURL)
	}

	auth := app.NewAuthGateway(clock, cfg.DeviceSecret, cfg.TokenTTL, verifier)
	registry := app.NewRegistry(clock)
	hub := app.NewHub()
	relay := app.NewRelay(clock, registry, hub, m)

	sweeper := app.NewSweeper(clock, registry, auth, cfg.SweepInterval, cfg.SessionTimeout)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	ws := &wsignal.Controller{
		Auth:          auth,
		Registry:      registry,
		Relay:         relay,
		Hub:           hub,
		Metrics:       m,
		Clock:         clock,
		ReadLimit:     cfg.ReadLimit,
		SendBuffer:    cfg.SendBuffer,
		FrameInterval: cfg.FrameInterval,
	}
	handlers := router.NewHandlers(auth, registry, hub, m, clock, cfg)

	r := router.SetupRouter(ctx, cfg, handlers, ws, m, clock)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("camera relay server started")
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
