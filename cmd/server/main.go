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

	router "github.com/teleconsulta/coordinator/internal/adapters/http"
	"github.com/teleconsulta/coordinator/internal/adapters/store"
	"github.com/teleconsulta/coordinator/internal/app"
	"github.com/teleconsulta/coordinator/internal/config"
	"github.com/teleconsulta/coordinator/internal/core"
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

	roomStore, err := store.OpenFileStore(cfg.StatePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open room store")
	}

	registry, err := core.NewRoomRegistry(ctx, roomStore)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build room registry")
	}

	billing := store.NewMemoryBilling(store.FeeSplit{
		Fee:            cfg.Billing.DefaultFee,
		DoctorSharePct: cfg.Billing.DoctorSharePct,
	})

	coord := app.NewCoordinator(ctx, registry, billing, app.NewRoomBoundAuthorizer(registry), app.Tunables{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		SweepInterval:    cfg.SweepInterval,
		AbandonGrace:     cfg.AbandonGrace,
		BillingRetry:     cfg.BillingRetry,
		CreatedTTL:       cfg.CreatedTTL,
	})
	go coord.RunSweeper(ctx)
	go coord.RunReconciler(ctx)

	r := router.SetupRouter(ctx, cfg, coord)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("consultation coordinator started")
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
