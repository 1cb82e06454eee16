// searchgate — search backend arbitration and budget governance.
//
// This is the main entry point for the searchgate server. It provides:
//   - Backend Registry (capability-tagged search backends)
//   - Quota Tracker (per-backend rolling windows)
//   - Budget Ledger (per-phase token accounting)
//   - Phase Gate (plan / build / review capability control)
//   - Fallback Orchestrator (classify, rank, dispatch, fall back)
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

	"github.com/searchgate/searchgate/pkg/models"
	"github.com/searchgate/searchgate/pkg/server"
)

const healthSweepInterval = 30 * time.Second

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("searchgate starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}
	defer srv.ShutdownFunc(ctx)

	// Periodic backend health sweep
	go func() {
		ticker := time.NewTicker(healthSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.Registry.HealthSweep(ctx, func(ctx context.Context, b *models.Backend) error {
					driver, err := srv.Drivers.For(b)
					if err != nil {
						return err
					}
					return driver.HealthCheck(ctx, b)
				})
			case <-ctx.Done():
				return
			}
		}
	}()

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down gracefully...")
		cancel()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Int("port", srv.Port).
		Msg("searchgate is listening")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
