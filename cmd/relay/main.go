package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/DuelRelay/internal/adapters/http"
	"github.com/dkeye/DuelRelay/internal/app"
	"github.com/dkeye/DuelRelay/internal/app/orch"
	"github.com/dkeye/DuelRelay/internal/bridge"
	"github.com/dkeye/DuelRelay/internal/config"
	"github.com/dkeye/DuelRelay/internal/settlement"
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
	setupLogger(cfg.Log)

	instanceID := uuid.NewString()
	reg := app.NewRegistry()
	rooms := app.NewRoomManager(cfg.Relay.MaxDuelMembers)

	o := orch.New(reg, rooms)
	o.Echo = app.NewEchoPolicy(cfg.Relay.EchoAll, cfg.Relay.EchoTypes)
	o.SettlementTimeout = cfg.Settlement.Timeout
	o.BaseCtx = ctx
	o.Bridge = bridge.Disabled{ID: instanceID}

	if cfg.Redis.Enabled() {
		b, client, err := bridge.NewFromConfig(cfg.Redis, instanceID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up redis bridge")
		}
		defer client.Close()
		b.OnEvent(o.DeliverRemote)
		o.Bridge = b
		go b.Run(ctx)
	} else {
		log.Info().Str("module", "main").Msg("redis not configured, running single-instance")
	}

	if cfg.Settlement.Enabled() {
		o.Settler = settlement.New(cfg.Settlement)
	}

	go app.NewSweeper(reg, o, cfg.SweepInterval).Run(ctx)

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("instance", instanceID).Msg("Duel relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Wait()
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
