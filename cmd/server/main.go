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

	"github.com/drazan/huddle/internal/adapters/chat"
	router "github.com/drazan/huddle/internal/adapters/http"
	signaladapter "github.com/drazan/huddle/internal/adapters/signal"
	"github.com/drazan/huddle/internal/app"
	"github.com/drazan/huddle/internal/app/datachan"
	"github.com/drazan/huddle/internal/app/orch"
	"github.com/drazan/huddle/internal/app/sfu"
	"github.com/drazan/huddle/internal/config"
	"github.com/drazan/huddle/internal/media/voice"
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
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	reg := app.NewRegistry()
	pubs := sfu.NewPublications()
	voices := voice.NewEngine()
	channels := datachan.NewRouter()

	orchestrator := &orch.Orchestrator{
		Registry:      reg,
		Pubs:          pubs,
		DataChannels:  channels,
		Voices:        voices,
		RecordingsDir: cfg.RecordingsDir,
		SegmentLength: cfg.SegmentLength,
	}

	reneg := signaladapter.NewRenegotiator(reg, nil, cfg.AnswerTimeout)
	chatGW := chat.NewGateway(reneg, cfg.ReadLimit)
	reneg.SetDirectory(chatGW)
	orchestrator.Reneg = reneg

	offers := signaladapter.NewOfferController(orchestrator)

	r := router.SetupRouter(ctx, cfg, offers, chatGW)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	orchestrator.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
